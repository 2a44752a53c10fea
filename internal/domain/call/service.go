package call

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/telecare/telecare/internal/domain/account"
	"github.com/telecare/telecare/internal/platform/metrics"
	"github.com/telecare/telecare/internal/platform/presence"
	"github.com/telecare/telecare/internal/platform/realtime"
)

// Transition policies.
const (
	PolicyPermissive = "permissive"
	PolicyStrict     = "strict"
)

// Channel-name policies.
const (
	ChannelValidate = "validate"
	ChannelGenerate = "generate"
)

const missedListLimit = 50

var channelNamePattern = regexp.MustCompile(`^[A-Za-z0-9_.:-]{1,64}$`)

type Config struct {
	TransitionPolicy string
	ChannelPolicy    string
}

// TargetResolver maps a raw call target to an account.
type TargetResolver interface {
	ResolveTarget(ctx context.Context, rawID int64) (account.Target, error)
}

// Presence is the read side of the presence registry.
type Presence interface {
	Lookup(identityID int64) (presence.Entry, bool)
}

type Service struct {
	repo     Repository
	resolver TargetResolver
	presence Presence
	notifier realtime.Notifier
	metrics  *metrics.Metrics
	clock    clock.Clock
	cfg      Config
	logger   zerolog.Logger
}

func NewService(
	repo Repository,
	resolver TargetResolver,
	pres Presence,
	notifier realtime.Notifier,
	m *metrics.Metrics,
	clk clock.Clock,
	cfg Config,
	logger zerolog.Logger,
) *Service {
	if clk == nil {
		clk = clock.New()
	}
	if cfg.TransitionPolicy == "" {
		cfg.TransitionPolicy = PolicyPermissive
	}
	if cfg.ChannelPolicy == "" {
		cfg.ChannelPolicy = ChannelValidate
	}
	return &Service{
		repo:     repo,
		resolver: resolver,
		presence: pres,
		notifier: notifier,
		metrics:  m,
		clock:    clk,
		cfg:      cfg,
		logger:   logger.With().Str("component", "call").Logger(),
	}
}

func (s *Service) channelName(requested string) string {
	if s.cfg.ChannelPolicy == ChannelValidate && channelNamePattern.MatchString(requested) {
		return requested
	}
	return "call_" + uuid.NewString()
}

func (s *Service) emit(ctx context.Context, to realtime.Target, event string, payload interface{}, callID int64) {
	if err := s.notifier.Emit(ctx, to, event, payload); err != nil {
		s.logger.Warn().Err(err).Int64("call_id", callID).Str("event", event).Str("target", to.String()).
			Msg("call emission failed")
	}
}

// checkTransition applies the transition policy. It returns the conditional
// From to use for the update, or ErrInvalidTransition under the strict policy.
func (s *Service) checkTransition(rec *CallLog, to Status) (Status, error) {
	allowed := CanTransition(rec.Status, to)
	s.metrics.CallTransition(string(to), allowed)
	if allowed {
		if s.cfg.TransitionPolicy == PolicyStrict {
			return rec.Status, nil
		}
		return "", nil
	}
	if s.cfg.TransitionPolicy == PolicyStrict {
		if rec.Status.Terminal() {
			return "", fmt.Errorf("%w: call is already %s", ErrInvalidTransition, rec.Status)
		}
		return "", fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, rec.Status, to)
	}
	s.logger.Warn().Int64("call_id", rec.ID).Str("from", string(rec.Status)).Str("to", string(to)).
		Bool("terminal", rec.Status.Terminal()).Msg("applying off-table call transition")
	return "", nil
}

// Request creates a ringing record for the resolved target and rings it if
// it is online. An offline target turns the record into a missed call
// immediately. Persistence failures are logged and do not stop signaling.
func (s *Service) Request(ctx context.Context, req Request) (*CallLog, error) {
	if req.CallerID <= 0 {
		return nil, fmt.Errorf("%w: caller is required", ErrInvalidRequest)
	}
	if req.TargetRef <= 0 {
		return nil, fmt.Errorf("%w: targetUserId is required", ErrInvalidRequest)
	}
	if req.CallType != TypeAudio && req.CallType != TypeVideo {
		return nil, fmt.Errorf("%w: callType must be audio or video", ErrInvalidRequest)
	}

	target, err := s.resolver.ResolveTarget(ctx, req.TargetRef)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return nil, fmt.Errorf("%w: %d", ErrUnresolvable, req.TargetRef)
		}
		return nil, fmt.Errorf("resolve call target: %w", err)
	}
	if target.AccountID == req.CallerID {
		return nil, fmt.Errorf("%w: cannot call yourself", ErrInvalidRequest)
	}

	now := s.clock.Now()
	rec := &CallLog{
		ConversationID: req.ConversationID,
		CallerID:       req.CallerID,
		ReceiverID:     target.AccountID,
		CallType:       req.CallType,
		Status:         StatusRinging,
		ChannelName:    s.channelName(req.ChannelName),
		CreatedAt:      now,
		UpdatedAt:      now,
		CallerName:     req.CallerName,
		CallerRole:     req.CallerRole,
		ReceiverName:   target.Name,
		ReceiverRole:   target.Role,
	}
	if err := s.repo.Create(ctx, rec); err != nil {
		s.logger.Error().Err(err).Int64("caller_id", rec.CallerID).Int64("receiver_id", rec.ReceiverID).
			Msg("persist call request failed")
	}
	s.metrics.CallTransition(string(StatusRinging), true)

	// Presence is read after the insert round trip, never before it.
	entry, online := s.presence.Lookup(target.AccountID)
	if online {
		incoming := IncomingCallPayload{
			CallLogID:      rec.ID,
			CallerID:       rec.CallerID,
			ConversationID: rec.ConversationID,
			CallerName:     req.CallerName,
			CallType:       rec.CallType,
			RoomID:         rec.ChannelName,
		}
		s.emit(ctx, realtime.ToConn(entry.ConnID), realtime.EventIncomingCall, incoming, rec.ID)
		s.emit(ctx, realtime.ToChannel(realtime.IdentityChannel(entry.Role, target.AccountID)),
			realtime.EventIncomingCall, incoming, rec.ID)
	} else {
		ended := s.clock.Now()
		rec.Status = StatusMissed
		rec.EndedAt = &ended
		rec.UpdatedAt = ended
		s.metrics.CallTransition(string(StatusMissed), true)
		if rec.ID != 0 {
			if _, err := s.repo.UpdateStatus(ctx, rec.ID, Update{Status: StatusMissed, EndedAt: &ended, At: ended}); err != nil {
				s.logger.Error().Err(err).Int64("call_id", rec.ID).Msg("persist missed call failed")
			}
		}
	}

	initiated := CallInitiatedPayload{
		CallLogID:  rec.ID,
		ReceiverID: rec.ReceiverID,
		Status:     rec.Status,
		CallType:   rec.CallType,
		RoomID:     rec.ChannelName,
	}
	if req.CallerConnID != "" {
		s.emit(ctx, realtime.ToConn(req.CallerConnID), realtime.EventCallInitiated, initiated, rec.ID)
	} else if req.CallerRole != "" {
		s.emit(ctx, realtime.ToChannel(realtime.IdentityChannel(req.CallerRole, req.CallerID)),
			realtime.EventCallInitiated, initiated, rec.ID)
	}
	return rec, nil
}

// Respond records the receiver's answer and relays it to the caller's
// direct connection only.
func (s *Service) Respond(ctx context.Context, resp Response) (*CallLog, error) {
	if resp.CallLogID < 0 || (resp.CallLogID == 0 && resp.CallerHint <= 0) {
		return nil, fmt.Errorf("%w: callLogId or callerId is required", ErrInvalidRequest)
	}

	to := StatusRejected
	if resp.Accepted {
		to = StatusAnswered
	}
	payload := CallResponsePayload{Accepted: resp.Accepted, ResponderID: resp.ResponderID, CallLogID: resp.CallLogID}

	if resp.CallLogID == 0 {
		// The request was never persisted; there is nothing to update.
		s.relayToConn(ctx, resp.CallerHint, realtime.EventCallResponse, payload, 0)
		return unpersisted(resp.CallerHint, resp.ResponderID, to, s.clock.Now()), nil
	}

	rec, err := s.repo.GetByID(ctx, resp.CallLogID)
	switch {
	case errors.Is(err, ErrNotFound):
		return nil, err
	case err != nil:
		// The record is unreadable; relay on the caller hint and skip bookkeeping.
		s.logger.Error().Err(err).Int64("call_id", resp.CallLogID).Msg("load call for response failed")
		if resp.CallerHint > 0 {
			s.relayToConn(ctx, resp.CallerHint, realtime.EventCallResponse, payload, resp.CallLogID)
		}
		return nil, fmt.Errorf("load call %d: %w", resp.CallLogID, err)
	}
	if resp.ResponderID != rec.ReceiverID {
		return nil, ErrNotParticipant
	}

	from, err := s.checkTransition(rec, to)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	u := Update{Status: to, From: from, At: now}
	if resp.Accepted {
		u.StartedAt = &now
		rec.StartedAt = &now
	} else {
		u.EndedAt = &now
		rec.EndedAt = &now
	}
	rec.Status = to
	rec.UpdatedAt = now

	if stored, err := s.repo.UpdateStatus(ctx, rec.ID, u); err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			return nil, err
		}
		s.logger.Error().Err(err).Int64("call_id", rec.ID).Str("status", string(to)).Msg("persist call response failed")
	} else if stored != nil {
		rec = stored
	}

	payload.RoomID = rec.ChannelName
	s.relayToConn(ctx, rec.CallerID, realtime.EventCallResponse, payload, rec.ID)
	return rec, nil
}

// relayToConn emits to the identity's direct connection when it is online.
func (s *Service) relayToConn(ctx context.Context, identityID int64, event string, payload interface{}, callID int64) {
	entry, ok := s.presence.Lookup(identityID)
	if !ok {
		s.logger.Debug().Int64("call_id", callID).Int64("identity_id", identityID).Str("event", event).
			Msg("relay target offline")
		return
	}
	s.emit(ctx, realtime.ToConn(entry.ConnID), event, payload, callID)
}

// End hangs up a call from either side and tells the counterpart.
func (s *Service) End(ctx context.Context, req EndRequest) (*CallLog, error) {
	if req.CallLogID < 0 || (req.CallLogID == 0 && req.CounterpartHint <= 0) {
		return nil, fmt.Errorf("%w: callLogId or counterpartId is required", ErrInvalidRequest)
	}
	duration := req.Duration
	if duration < 0 {
		duration = 0
	}
	payload := CallEndedPayload{CallLogID: req.CallLogID, EndedBy: req.EnderID, Duration: duration}

	if req.CallLogID == 0 {
		s.relayToConn(ctx, req.CounterpartHint, realtime.EventCallEnded, payload, 0)
		rec := unpersisted(req.EnderID, req.CounterpartHint, StatusEnded, s.clock.Now())
		rec.Duration = duration
		return rec, nil
	}

	rec, err := s.repo.GetByID(ctx, req.CallLogID)
	switch {
	case errors.Is(err, ErrNotFound):
		return nil, err
	case err != nil:
		s.logger.Error().Err(err).Int64("call_id", req.CallLogID).Msg("load call for end failed")
		if req.CounterpartHint > 0 {
			s.relayToConn(ctx, req.CounterpartHint, realtime.EventCallEnded, payload, req.CallLogID)
		}
		return nil, fmt.Errorf("load call %d: %w", req.CallLogID, err)
	}
	if !rec.IsParticipant(req.EnderID) {
		return nil, ErrNotParticipant
	}

	from, err := s.checkTransition(rec, StatusEnded)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	rec.Status = StatusEnded
	rec.Duration = duration
	rec.EndedAt = &now
	rec.UpdatedAt = now

	stored, err := s.repo.UpdateStatus(ctx, rec.ID, Update{Status: StatusEnded, From: from, EndedAt: &now, Duration: &duration, At: now})
	if err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			return nil, err
		}
		s.logger.Error().Err(err).Int64("call_id", rec.ID).Msg("persist call end failed")
	} else if stored != nil {
		rec = stored
	}

	s.relayToConn(ctx, rec.Counterpart(req.EnderID), realtime.EventCallEnded, payload, rec.ID)
	return rec, nil
}

// unpersisted describes a call whose record was never written. Its ID is 0.
func unpersisted(callerID, receiverID int64, status Status, at time.Time) *CallLog {
	rec := &CallLog{CallerID: callerID, ReceiverID: receiverID, Status: status, CreatedAt: at, UpdatedAt: at}
	switch status {
	case StatusAnswered:
		rec.StartedAt = &at
	case StatusRejected, StatusEnded:
		rec.EndedAt = &at
	}
	return rec
}

// -- Queries --

func withDirection(items []*CallLog, identityID int64) []*CallLog {
	for _, c := range items {
		if c.CallerID == identityID {
			c.Direction = DirectionOutgoing
		} else {
			c.Direction = DirectionIncoming
		}
	}
	return items
}

func (s *Service) Get(ctx context.Context, id, requesterID int64) (*CallLog, error) {
	rec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !rec.IsParticipant(requesterID) {
		return nil, ErrNotParticipant
	}
	withDirection([]*CallLog{rec}, requesterID)
	return rec, nil
}

func (s *Service) Missed(ctx context.Context, receiverID int64) ([]*CallLog, error) {
	items, err := s.repo.ListMissed(ctx, receiverID, missedListLimit)
	if err != nil {
		return nil, err
	}
	return withDirection(items, receiverID), nil
}

func (s *Service) MissedCount(ctx context.Context, receiverID int64) (int, error) {
	return s.repo.CountMissedUnseen(ctx, receiverID)
}

func (s *Service) History(ctx context.Context, identityID int64, limit, offset int) ([]*CallLog, int, error) {
	items, total, err := s.repo.ListHistory(ctx, identityID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return withDirection(items, identityID), total, nil
}

// MarkSeen stamps the receiver's own missed calls as seen. Ids belonging to
// someone else are ignored.
func (s *Service) MarkSeen(ctx context.Context, receiverID int64, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, fmt.Errorf("%w: callIds must not be empty", ErrInvalidRequest)
	}
	return s.repo.MarkSeen(ctx, receiverID, ids, s.clock.Now())
}
