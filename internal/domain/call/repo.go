package call

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound          = errors.New("call not found")
	ErrInvalidTransition = errors.New("invalid call transition")
	ErrUnresolvable      = errors.New("call target cannot be resolved")
	ErrInvalidRequest    = errors.New("invalid call request")
	ErrNotParticipant    = errors.New("not a participant of this call")
)

type Repository interface {
	Create(ctx context.Context, c *CallLog) error
	GetByID(ctx context.Context, id int64) (*CallLog, error)
	// UpdateStatus applies u and returns the stored record. A conditional
	// update whose From no longer matches yields ErrInvalidTransition.
	UpdateStatus(ctx context.Context, id int64, u Update) (*CallLog, error)
	ListMissed(ctx context.Context, receiverID int64, limit int) ([]*CallLog, error)
	CountMissedUnseen(ctx context.Context, receiverID int64) (int, error)
	ListHistory(ctx context.Context, identityID int64, limit, offset int) ([]*CallLog, int, error)
	// MarkSeen stamps seen_at on the listed missed calls received by
	// receiverID and returns how many changed.
	MarkSeen(ctx context.Context, receiverID int64, ids []int64, at time.Time) (int64, error)
	// MarkStaleRinging moves every ringing record created before cutoff to
	// missed and returns them.
	MarkStaleRinging(ctx context.Context, cutoff, at time.Time) ([]*CallLog, error)
}
