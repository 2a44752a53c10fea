package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/telecare/telecare/internal/domain/account"
	"github.com/telecare/telecare/internal/platform/metrics"
	"github.com/telecare/telecare/internal/platform/realtime"
)

const defaultType = "general"

type Service struct {
	convs    ConversationRepository
	msgs     MessageRepository
	profiles ProfileLookup
	notifier realtime.Notifier
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

func NewService(
	convs ConversationRepository,
	msgs MessageRepository,
	profiles ProfileLookup,
	notifier realtime.Notifier,
	m *metrics.Metrics,
	logger zerolog.Logger,
) *Service {
	return &Service{
		convs:    convs,
		msgs:     msgs,
		profiles: profiles,
		notifier: notifier,
		metrics:  m,
		logger:   logger.With().Str("component", "conversation").Logger(),
	}
}

// Start returns the active conversation between the patient and the provider
// profile, creating it on first contact.
func (s *Service) Start(ctx context.Context, in StartInput) (*Conversation, bool, error) {
	if in.PatientID <= 0 {
		return nil, false, fmt.Errorf("%w: patient id is required", ErrInvalidRequest)
	}
	if in.ProviderProfileID <= 0 {
		return nil, false, fmt.Errorf("%w: doctorId is required", ErrInvalidRequest)
	}
	if in.Type == "" {
		in.Type = defaultType
	}

	profile, err := s.profiles.ProviderAccount(ctx, in.ProviderProfileID)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return nil, false, fmt.Errorf("provider %d: %w", in.ProviderProfileID, ErrNotFound)
		}
		return nil, false, err
	}
	if profile.AccountID == in.PatientID {
		return nil, false, fmt.Errorf("%w: cannot start a conversation with yourself", ErrInvalidRequest)
	}

	return s.convs.FindOrCreate(ctx, &Conversation{
		PatientID:         in.PatientID,
		ProviderProfileID: profile.ID,
		ProviderAccountID: profile.AccountID,
		Type:              in.Type,
		Status:            StatusActive,
	})
}

// Get returns a conversation the requester participates in.
func (s *Service) Get(ctx context.Context, id, requesterID int64) (*Conversation, error) {
	conv, err := s.convs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !conv.IsParticipant(requesterID) {
		return nil, ErrNotParticipant
	}
	return conv, nil
}

// IsParticipant reports whether identityID belongs to the conversation. A
// missing conversation yields ErrNotFound.
func (s *Service) IsParticipant(ctx context.Context, conversationID, identityID int64) (bool, error) {
	conv, err := s.convs.GetByID(ctx, conversationID)
	if err != nil {
		return false, err
	}
	return conv.IsParticipant(identityID), nil
}

func (s *Service) List(ctx context.Context, identityID int64, role string, limit, offset int) ([]*Summary, int, error) {
	return s.convs.ListForIdentity(ctx, identityID, role, limit, offset)
}

func (s *Service) UnreadCount(ctx context.Context, identityID int64, role string) (int, error) {
	return s.convs.UnreadCount(ctx, identityID, role)
}

// Close ends the conversation for new messages. Either participant may close.
func (s *Service) Close(ctx context.Context, id, requesterID int64) (*Conversation, error) {
	conv, err := s.Get(ctx, id, requesterID)
	if err != nil {
		return nil, err
	}
	if conv.Status == StatusClosed {
		return conv, nil
	}
	if err := s.convs.Close(ctx, id); err != nil {
		return nil, err
	}
	conv.Status = StatusClosed
	return conv, nil
}

func validateMessage(in *SendMessageInput) error {
	if in.ConversationID <= 0 {
		return fmt.Errorf("%w: conversationId is required", ErrInvalidMessage)
	}
	if in.Kind == "" {
		in.Kind = KindText
	}
	if !validKinds[in.Kind] {
		return fmt.Errorf("%w: unsupported messageType %q", ErrInvalidMessage, in.Kind)
	}
	if in.FileURL != nil && strings.TrimSpace(*in.FileURL) == "" {
		in.FileURL = nil
	}
	if strings.TrimSpace(in.Content) == "" && in.FileURL == nil {
		return fmt.Errorf("%w: content or fileUrl is required", ErrInvalidMessage)
	}
	if in.Kind != KindText && in.FileURL == nil {
		return fmt.Errorf("%w: fileUrl is required for %s messages", ErrInvalidMessage, in.Kind)
	}
	return nil
}

// SendMessage persists a message and fans it out to the conversation channel
// and both participants' identity channels. The message counts as sent once
// persisted; emission failures are logged and never undo the insert.
func (s *Service) SendMessage(ctx context.Context, in SendMessageInput) (*Message, error) {
	if err := validateMessage(&in); err != nil {
		return nil, err
	}

	conv, err := s.convs.GetByID(ctx, in.ConversationID)
	if err != nil {
		return nil, err
	}
	if !conv.IsParticipant(in.SenderID) {
		return nil, ErrNotParticipant
	}
	if conv.Status != StatusActive {
		return nil, ErrClosed
	}

	msg := &Message{
		ConversationID: conv.ID,
		SenderID:       in.SenderID,
		SenderRole:     conv.RoleOf(in.SenderID),
		Kind:           in.Kind,
		Content:        in.Content,
		FileURL:        in.FileURL,
	}
	if err := s.msgs.InsertMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	s.metrics.MessagePersisted()

	if err := s.convs.Touch(ctx, conv.ID); err != nil {
		s.logger.Error().Err(err).Int64("conversation_id", conv.ID).Msg("touch conversation failed")
	}

	targets := []realtime.Target{
		realtime.ToChannel(realtime.ConversationChannel(conv.ID)),
		realtime.ToChannel(realtime.IdentityChannel(RolePatient, conv.PatientID)),
		realtime.ToChannel(realtime.IdentityChannel(RoleProvider, conv.ProviderAccountID)),
	}
	for _, to := range targets {
		if err := s.notifier.Emit(ctx, to, realtime.EventNewMessage, msg); err != nil {
			s.logger.Warn().Err(err).
				Int64("conversation_id", conv.ID).
				Int64("message_id", msg.ID).
				Str("target", to.String()).
				Msg("new_message emission failed")
		}
	}
	return msg, nil
}

// ListMessages returns a page of messages, newest first. Fetching marks the
// other participant's messages read for the requester.
func (s *Service) ListMessages(ctx context.Context, conversationID, requesterID int64, limit, offset int) ([]*Message, int, error) {
	conv, err := s.Get(ctx, conversationID, requesterID)
	if err != nil {
		return nil, 0, err
	}
	if _, err := s.msgs.MarkRead(ctx, conv.ID, conv.RoleOf(requesterID)); err != nil {
		return nil, 0, fmt.Errorf("mark messages read: %w", err)
	}
	return s.msgs.ListMessages(ctx, conv.ID, limit, offset)
}
