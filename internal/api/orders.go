package api

import (
	"net/http"
	"strings"

	"github.com/jnst/traceable-outbox/internal/model"
)

// CreateOrder handles POST /api/v1/orders.
func (s *APIServer) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var params model.CreateOrderParams
	if err := decodeBody(w, r, &params); err != nil {
		s.writeError(w, r, err)
		return
	}

	order, err := s.orders.CreateOrder(r.Context(), &params)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeSuccess(w, r, http.StatusCreated, "order created", order)
}

// GetOrder handles GET /api/v1/orders/{id}.
func (s *APIServer) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	order, err := s.orders.GetOrder(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeSuccess(w, r, http.StatusOK, successMessage, order)
}

// GetOrderByNumber handles GET /api/v1/orders/number/{orderNumber}.
func (s *APIServer) GetOrderByNumber(w http.ResponseWriter, r *http.Request) {
	order, err := s.orders.GetOrderByNumber(r.Context(), r.PathValue("orderNumber"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeSuccess(w, r, http.StatusOK, successMessage, order)
}

// ListCustomerOrders handles GET /api/v1/orders/customer/{customerId}.
func (s *APIServer) ListCustomerOrders(w http.ResponseWriter, r *http.Request) {
	customerID, err := pathID(r, "customerId")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	orders, err := s.orders.ListCustomerOrders(r.Context(), customerID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if orders == nil {
		orders = []*model.Order{}
	}

	s.writeSuccess(w, r, http.StatusOK, successMessage, orders)
}

// UpdateOrderStatus handles PUT /api/v1/orders/{id}/status?status=CONFIRMED.
func (s *APIServer) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	raw := r.URL.Query().Get("status")
	if strings.TrimSpace(raw) == "" {
		s.writeError(w, r, invalidParam("status", "status is required"))
		return
	}

	next, err := model.ParseOrderStatus(raw)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	order, err := s.orders.TransitionStatus(r.Context(), id, next)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeSuccess(w, r, http.StatusOK, "order status updated", order)
}
