package account

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/telecare/telecare/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

const profileCols = `id, user_id, full_name, specialization, is_available`

func scanProfile(row pgx.Row) (*ProviderProfile, error) {
	var p ProviderProfile
	err := row.Scan(&p.ID, &p.AccountID, &p.FullName, &p.Specialization, &p.IsAvailable)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan provider profile: %w", err)
	}
	return &p, nil
}

func (r *repoPG) FindAccountByID(ctx context.Context, id int64) (*Identity, error) {
	var a Identity
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, full_name, email, role, is_active, created_at
		FROM users WHERE id = $1`, id).
		Scan(&a.ID, &a.FullName, &a.Email, &a.Role, &a.IsActive, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find account %d: %w", id, err)
	}
	return &a, nil
}

func (r *repoPG) FindProviderProfileByID(ctx context.Context, id int64) (*ProviderProfile, error) {
	return scanProfile(r.conn(ctx).QueryRow(ctx, `SELECT `+profileCols+` FROM doctors WHERE id = $1`, id))
}
