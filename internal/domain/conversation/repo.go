package conversation

import (
	"context"
	"errors"

	"github.com/telecare/telecare/internal/domain/account"
)

// Participant roles.
const (
	RolePatient  = account.RolePatient
	RoleProvider = account.RoleProvider
)

var (
	ErrNotFound       = errors.New("conversation not found")
	ErrNotParticipant = errors.New("not a participant of this conversation")
	ErrClosed         = errors.New("conversation is closed")
	ErrInvalidMessage = errors.New("invalid message")
	ErrInvalidRequest = errors.New("invalid conversation request")
)

type ConversationRepository interface {
	// FindOrCreate returns the active conversation for the pair, creating it
	// when none exists. created reports which happened.
	FindOrCreate(ctx context.Context, c *Conversation) (conv *Conversation, created bool, err error)
	GetByID(ctx context.Context, id int64) (*Conversation, error)
	ListForIdentity(ctx context.Context, identityID int64, role string, limit, offset int) ([]*Summary, int, error)
	Touch(ctx context.Context, id int64) error
	Close(ctx context.Context, id int64) error
	UnreadCount(ctx context.Context, identityID int64, role string) (int, error)
}

type MessageRepository interface {
	InsertMessage(ctx context.Context, m *Message) error
	ListMessages(ctx context.Context, conversationID int64, limit, offset int) ([]*Message, int, error)
	// MarkRead flips is_read on every message in the conversation not sent
	// by readerRole and returns the number changed.
	MarkRead(ctx context.Context, conversationID int64, readerRole string) (int64, error)
}

// ProfileLookup resolves a provider profile to its owning account.
type ProfileLookup interface {
	ProviderAccount(ctx context.Context, profileID int64) (*account.ProviderProfile, error)
}
