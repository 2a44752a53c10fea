package conversation

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/telecare/telecare/internal/platform/db"
)

// =========== Conversation Repository ===========

type convRepoPG struct{ pool *pgxpool.Pool }

func NewConversationRepoPG(pool *pgxpool.Pool) ConversationRepository {
	return &convRepoPG{pool: pool}
}

func (r *convRepoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

const convCols = `c.id, c.user_id, c.doctor_id, c.doctor_user_id, c.type, c.status,
	u.full_name, d.full_name, c.created_at, c.updated_at`

const convFrom = `FROM conversations c
	JOIN users u ON u.id = c.user_id
	JOIN doctors d ON d.id = c.doctor_id`

func scanConversation(row pgx.Row) (*Conversation, error) {
	var c Conversation
	err := row.Scan(&c.ID, &c.PatientID, &c.ProviderProfileID, &c.ProviderAccountID, &c.Type, &c.Status,
		&c.PatientName, &c.ProviderName, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// participantColumn picks the column that holds identityID for role. The
// result is always one of two constants.
func participantColumn(role string) string {
	if role == RoleProvider {
		return "doctor_user_id"
	}
	return "user_id"
}

// FindOrCreate inserts the pair's active conversation or, when one already
// exists, loads it. Both steps share one transaction.
func (r *convRepoPG) FindOrCreate(ctx context.Context, c *Conversation) (*Conversation, bool, error) {
	var conv *Conversation
	created := true
	err := db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		var id int64
		err := r.conn(ctx).QueryRow(ctx, `
			INSERT INTO conversations (user_id, doctor_id, doctor_user_id, type)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (user_id, doctor_id) WHERE status = 'active' DO NOTHING
			RETURNING id`,
			c.PatientID, c.ProviderProfileID, c.ProviderAccountID, c.Type).Scan(&id)
		if errors.Is(err, pgx.ErrNoRows) {
			created = false
			err = r.conn(ctx).QueryRow(ctx, `
				SELECT id FROM conversations
				WHERE user_id = $1 AND doctor_id = $2 AND status = 'active'`,
				c.PatientID, c.ProviderProfileID).Scan(&id)
		}
		if err != nil {
			return fmt.Errorf("find or create conversation: %w", err)
		}
		conv, err = r.GetByID(ctx, id)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return conv, created, nil
}

func (r *convRepoPG) GetByID(ctx context.Context, id int64) (*Conversation, error) {
	return scanConversation(r.conn(ctx).QueryRow(ctx, `SELECT `+convCols+` `+convFrom+` WHERE c.id = $1`, id))
}

func (r *convRepoPG) ListForIdentity(ctx context.Context, identityID int64, role string, limit, offset int) ([]*Summary, int, error) {
	col := participantColumn(role)

	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM conversations WHERE `+col+` = $1`, identityID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+convCols+`, lm.content, lm.message_type, lm.created_at,
			(SELECT COUNT(*) FROM messages m
			 WHERE m.conversation_id = c.id AND m.sender_type <> $2 AND m.is_read = FALSE)
		`+convFrom+`
		LEFT JOIN LATERAL (
			SELECT content, message_type, created_at FROM messages
			WHERE conversation_id = c.id
			ORDER BY created_at DESC, id DESC LIMIT 1
		) lm ON TRUE
		WHERE c.`+col+` = $1
		ORDER BY c.updated_at DESC
		LIMIT $3 OFFSET $4`, identityID, role, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Summary
	for rows.Next() {
		var s Summary
		c := &s.Conversation
		if err := rows.Scan(&c.ID, &c.PatientID, &c.ProviderProfileID, &c.ProviderAccountID, &c.Type, &c.Status,
			&c.PatientName, &c.ProviderName, &c.CreatedAt, &c.UpdatedAt,
			&s.LastMessage, &s.LastMessageKind, &s.LastMessageAt, &s.UnreadCount); err != nil {
			return nil, 0, err
		}
		items = append(items, &s)
	}
	return items, total, rows.Err()
}

func (r *convRepoPG) Touch(ctx context.Context, id int64) error {
	_, err := r.conn(ctx).Exec(ctx, `UPDATE conversations SET updated_at = NOW() WHERE id = $1`, id)
	return err
}

func (r *convRepoPG) Close(ctx context.Context, id int64) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE conversations SET status = 'closed', updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *convRepoPG) UnreadCount(ctx context.Context, identityID int64, role string) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM messages m
		JOIN conversations c ON c.id = m.conversation_id
		WHERE c.`+participantColumn(role)+` = $1 AND m.sender_type <> $2 AND m.is_read = FALSE`,
		identityID, role).Scan(&n)
	return n, err
}

// =========== Message Repository ===========

type msgRepoPG struct{ pool *pgxpool.Pool }

func NewMessageRepoPG(pool *pgxpool.Pool) MessageRepository {
	return &msgRepoPG{pool: pool}
}

func (r *msgRepoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

const msgCols = `id, conversation_id, sender_id, sender_type, message_type, content, file_url, is_read, created_at`

func (r *msgRepoPG) scanRow(row pgx.Row) (*Message, error) {
	var m Message
	err := row.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.SenderRole, &m.Kind, &m.Content,
		&m.FileURL, &m.Read, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *msgRepoPG) InsertMessage(ctx context.Context, m *Message) error {
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO messages (conversation_id, sender_id, sender_type, message_type, content, file_url)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, is_read, created_at`,
		m.ConversationID, m.SenderID, m.SenderRole, m.Kind, m.Content, m.FileURL,
	).Scan(&m.ID, &m.Read, &m.CreatedAt)
}

func (r *msgRepoPG) ListMessages(ctx context.Context, conversationID int64, limit, offset int) ([]*Message, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM messages WHERE conversation_id = $1`, conversationID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+msgCols+` FROM messages
		WHERE conversation_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3`,
		conversationID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Message
	for rows.Next() {
		m, err := r.scanRow(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, m)
	}
	return items, total, rows.Err()
}

func (r *msgRepoPG) MarkRead(ctx context.Context, conversationID int64, readerRole string) (int64, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE messages SET is_read = TRUE
		WHERE conversation_id = $1 AND sender_type <> $2 AND is_read = FALSE`,
		conversationID, readerRole)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
