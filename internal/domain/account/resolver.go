package account

import (
	"context"
	"errors"
	"fmt"
)

// Resolver is the only place a provider-profile id is translated into an
// account id.
type Resolver struct {
	repo Repository
}

func NewResolver(repo Repository) *Resolver {
	return &Resolver{repo: repo}
}

// ResolveTarget reads rawID first as a provider-profile id and then as an
// account id. It returns ErrNotFound when neither exists; callers must not
// fall back to using rawID.
func (r *Resolver) ResolveTarget(ctx context.Context, rawID int64) (Target, error) {
	if rawID <= 0 {
		return Target{}, ErrNotFound
	}

	profile, err := r.repo.FindProviderProfileByID(ctx, rawID)
	switch {
	case err == nil:
		return Target{AccountID: profile.AccountID, Role: RoleProvider, Name: profile.FullName, ViaProfile: true}, nil
	case !errors.Is(err, ErrNotFound):
		return Target{}, fmt.Errorf("resolve provider profile %d: %w", rawID, err)
	}

	acct, err := r.repo.FindAccountByID(ctx, rawID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Target{}, ErrNotFound
		}
		return Target{}, fmt.Errorf("resolve account %d: %w", rawID, err)
	}
	role := acct.Role
	if role != RoleProvider {
		role = RolePatient
	}
	return Target{AccountID: acct.ID, Role: role, Name: acct.FullName}, nil
}

// ProviderAccount returns the account id owning a provider profile.
func (r *Resolver) ProviderAccount(ctx context.Context, profileID int64) (*ProviderProfile, error) {
	return r.repo.FindProviderProfileByID(ctx, profileID)
}
