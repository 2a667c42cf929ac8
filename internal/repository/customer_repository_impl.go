package repository

import (
	"context"

	"github.com/jnst/traceable-outbox/internal/db"
	"github.com/jnst/traceable-outbox/internal/model"
)

// CustomerRepositoryImpl implements CustomerRepository.
type CustomerRepositoryImpl struct {
	db *db.Queries
}

// NewCustomerRepositoryImpl creates a new CustomerRepository implementation.
func NewCustomerRepositoryImpl(pool db.DBTX) CustomerRepository {
	return &CustomerRepositoryImpl{db: db.New(pool)}
}

// Upsert inserts the customer or refreshes its username, email and sync time.
func (r *CustomerRepositoryImpl) Upsert(ctx context.Context, customer *model.Customer) error {
	return r.db.Conn(ctx).UpsertCustomer(ctx, &db.UpsertCustomerParams{
		ID:        customer.ID,
		Username:  customer.Username,
		Email:     customer.Email,
		CreatedAt: customer.CreatedAt,
		SyncedAt:  customer.SyncedAt,
	})
}

// GetByID retrieves a customer by the originating user id.
func (r *CustomerRepositoryImpl) GetByID(ctx context.Context, id int64) (*model.Customer, error) {
	c, err := r.db.Conn(ctx).GetCustomer(ctx, id)
	if err != nil {
		return nil, notFound(err, model.ErrCustomerNotFound)
	}

	return &model.Customer{
		ID:        c.ID,
		Username:  c.Username,
		Email:     c.Email,
		CreatedAt: c.CreatedAt.UTC(),
		SyncedAt:  c.SyncedAt.UTC(),
	}, nil
}
