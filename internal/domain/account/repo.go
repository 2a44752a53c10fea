package account

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("account not found")

type Repository interface {
	FindAccountByID(ctx context.Context, id int64) (*Identity, error)
	FindProviderProfileByID(ctx context.Context, id int64) (*ProviderProfile, error)
}
