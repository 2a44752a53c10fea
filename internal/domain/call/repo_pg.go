package call

import (
	"context"
	"errors"
	"fmt"
	"time"

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

// callCols is selected from a relation aliased cl joined with users cu
// (caller) and ru (receiver).
const callCols = `cl.id, cl.conversation_id, cl.caller_user_id, cl.receiver_user_id, cl.call_type, cl.status,
	COALESCE(cl.channel_name, ''), cl.duration, cl.started_at, cl.ended_at, cl.seen_at, cl.created_at, cl.updated_at,
	cu.full_name, cu.role, ru.full_name, ru.role`

const callJoins = `JOIN users cu ON cu.id = cl.caller_user_id
	JOIN users ru ON ru.id = cl.receiver_user_id`

func scanCall(row pgx.Row) (*CallLog, error) {
	var c CallLog
	err := row.Scan(&c.ID, &c.ConversationID, &c.CallerID, &c.ReceiverID, &c.CallType, &c.Status,
		&c.ChannelName, &c.Duration, &c.StartedAt, &c.EndedAt, &c.SeenAt, &c.CreatedAt, &c.UpdatedAt,
		&c.CallerName, &c.CallerRole, &c.ReceiverName, &c.ReceiverRole)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func collect(rows pgx.Rows) ([]*CallLog, error) {
	defer rows.Close()
	var items []*CallLog
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	return items, rows.Err()
}

func (r *repoPG) Create(ctx context.Context, c *CallLog) error {
	var channel *string
	if c.ChannelName != "" {
		channel = &c.ChannelName
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO call_logs (conversation_id, caller_user_id, receiver_user_id, call_type, status,
			channel_name, duration, started_at, ended_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
		RETURNING id`,
		c.ConversationID, c.CallerID, c.ReceiverID, c.CallType, c.Status,
		channel, c.Duration, c.StartedAt, c.EndedAt, c.CreatedAt,
	).Scan(&c.ID)
	if err != nil {
		return fmt.Errorf("insert call log: %w", err)
	}
	c.UpdatedAt = c.CreatedAt
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id int64) (*CallLog, error) {
	return scanCall(r.conn(ctx).QueryRow(ctx,
		`SELECT `+callCols+` FROM call_logs cl `+callJoins+` WHERE cl.id = $1`, id))
}

func (r *repoPG) UpdateStatus(ctx context.Context, id int64, u Update) (*CallLog, error) {
	var from *string
	if u.From != "" {
		s := string(u.From)
		from = &s
	}
	row := r.conn(ctx).QueryRow(ctx, `
		WITH updated AS (
			UPDATE call_logs SET
				status = $2,
				started_at = COALESCE($3, started_at),
				ended_at = COALESCE($4, ended_at),
				duration = COALESCE($5, duration),
				updated_at = $6
			WHERE id = $1 AND ($7::text IS NULL OR status = $7::text)
			RETURNING *
		)
		SELECT `+callCols+` FROM updated cl `+callJoins,
		id, u.Status, u.StartedAt, u.EndedAt, u.Duration, u.At, from)
	c, err := scanCall(row)
	if errors.Is(err, ErrNotFound) && from != nil {
		if _, getErr := r.GetByID(ctx, id); getErr == nil {
			return nil, ErrInvalidTransition
		}
	}
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("update call %d: %w", id, err)
	}
	return c, err
}

func (r *repoPG) ListMissed(ctx context.Context, receiverID int64, limit int) ([]*CallLog, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+callCols+` FROM call_logs cl `+callJoins+`
		WHERE cl.receiver_user_id = $1 AND cl.status = 'missed'
		ORDER BY cl.created_at DESC LIMIT $2`, receiverID, limit)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

func (r *repoPG) CountMissedUnseen(ctx context.Context, receiverID int64) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM call_logs
		WHERE receiver_user_id = $1 AND status = 'missed' AND seen_at IS NULL`, receiverID).Scan(&n)
	return n, err
}

func (r *repoPG) ListHistory(ctx context.Context, identityID int64, limit, offset int) ([]*CallLog, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM call_logs WHERE caller_user_id = $1 OR receiver_user_id = $1`,
		identityID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+callCols+` FROM call_logs cl `+callJoins+`
		WHERE cl.caller_user_id = $1 OR cl.receiver_user_id = $1
		ORDER BY cl.created_at DESC LIMIT $2 OFFSET $3`, identityID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	items, err := collect(rows)
	return items, total, err
}

func (r *repoPG) MarkSeen(ctx context.Context, receiverID int64, ids []int64, at time.Time) (int64, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE call_logs SET seen_at = $3
		WHERE receiver_user_id = $1 AND id = ANY($2) AND status = 'missed' AND seen_at IS NULL`,
		receiverID, ids, at)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *repoPG) MarkStaleRinging(ctx context.Context, cutoff, at time.Time) ([]*CallLog, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		WITH swept AS (
			UPDATE call_logs SET status = 'missed', ended_at = $2, updated_at = $2
			WHERE status = 'ringing' AND created_at < $1
			RETURNING *
		)
		SELECT `+callCols+` FROM swept cl `+callJoins+`
		ORDER BY cl.created_at`, cutoff, at)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}
