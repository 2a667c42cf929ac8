package api

import (
	"net/http"

	"github.com/jnst/traceable-outbox/internal/model"
)

// CreateUser handles POST /api/v1/users.
func (s *APIServer) CreateUser(w http.ResponseWriter, r *http.Request) {
	var params model.CreateUserParams
	if err := decodeBody(w, r, &params); err != nil {
		s.writeError(w, r, err)
		return
	}

	user, err := s.users.CreateUser(r.Context(), &params)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeSuccess(w, r, http.StatusCreated, "user created", user)
}

// GetUser handles GET /api/v1/users/{id}.
func (s *APIServer) GetUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	user, err := s.users.GetUser(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeSuccess(w, r, http.StatusOK, successMessage, user)
}

// ListUsers handles GET /api/v1/users.
func (s *APIServer) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.users.ListUsers(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if users == nil {
		users = []*model.User{}
	}

	s.writeSuccess(w, r, http.StatusOK, successMessage, users)
}
