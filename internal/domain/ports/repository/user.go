package repository

import (
	"context"

	"credit-marketplace/internal/domain/model"
)

type UserRepository interface {
	Save(ctx context.Context, tx Tx, u *model.User) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.User, error)
	// LockForBalance takes the user's row lock so concurrent ledger writers for
	// the same user serialize on balance reads.
	LockForBalance(ctx context.Context, tx Tx, id string) error
}
