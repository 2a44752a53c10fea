package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/telecare/telecare/internal/domain/call"
	"github.com/telecare/telecare/internal/domain/conversation"
	"github.com/telecare/telecare/internal/platform/auth"
	"github.com/telecare/telecare/internal/platform/metrics"
	"github.com/telecare/telecare/internal/platform/presence"
	"github.com/telecare/telecare/internal/platform/realtime"
)

// ConversationService is the chat side the gateway drives.
type ConversationService interface {
	SendMessage(ctx context.Context, in conversation.SendMessageInput) (*conversation.Message, error)
	IsParticipant(ctx context.Context, conversationID, identityID int64) (bool, error)
}

// CallService is the call signaling side the gateway drives.
type CallService interface {
	Request(ctx context.Context, req call.Request) (*call.CallLog, error)
	Respond(ctx context.Context, resp call.Response) (*call.CallLog, error)
	End(ctx context.Context, req call.EndRequest) (*call.CallLog, error)
}

// PresenceRegistry is the write side of the presence registry.
type PresenceRegistry interface {
	Register(identityID int64, connID, role string)
	Unregister(connID string) (presence.Entry, bool)
}

type GatewayConfig struct {
	EventsPerSecond float64
	EventBurst      int
	SendBuffer      int
	// TrustEvents accepts authenticate events on connections that were not
	// authenticated during the upgrade. Development only.
	TrustEvents bool
}

// eventError is a failure detected at the gateway boundary.
type eventError struct {
	code    string
	message string
}

func (e *eventError) Error() string { return e.message }

func badRequest(format string, args ...interface{}) error {
	return &eventError{code: realtime.CodeBadRequest, message: fmt.Sprintf(format, args...)}
}

var errUnauthenticated = &eventError{code: realtime.CodeUnauthenticated, message: "authenticate first"}

type eventHandler func(ctx context.Context, c *Client, data json.RawMessage) error

// Gateway turns inbound frames into presence, channel and domain operations.
// Failures go back to the originating connection as error events.
type Gateway struct {
	hub           *Hub
	presence      PresenceRegistry
	notifier      realtime.Notifier
	conversations ConversationService
	calls         CallService
	metrics       *metrics.Metrics
	cfg           GatewayConfig
	logger        zerolog.Logger
	handlers      map[string]eventHandler
}

// NewGateway wires the gateway. notifier carries typing relays and may be
// the hub itself or a cross-instance relay wrapping it.
func NewGateway(
	hub *Hub,
	pres PresenceRegistry,
	notifier realtime.Notifier,
	conversations ConversationService,
	calls CallService,
	m *metrics.Metrics,
	cfg GatewayConfig,
	logger zerolog.Logger,
) *Gateway {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 256
	}
	g := &Gateway{
		hub:           hub,
		presence:      pres,
		notifier:      notifier,
		conversations: conversations,
		calls:         calls,
		metrics:       m,
		cfg:           cfg,
		logger:        logger.With().Str("component", "gateway").Logger(),
	}
	g.handlers = map[string]eventHandler{
		EventAuthenticate:      g.handleAuthenticate,
		EventJoinConversation:  g.handleJoin,
		EventLeaveConversation: g.handleLeave,
		EventSendMessage:       g.handleSendMessage,
		EventTypingStart:       g.handleTypingStart,
		EventTypingStop:        g.handleTypingStop,
		EventCallRequest:       g.handleCallRequest,
		EventCallResponse:      g.handleCallResponse,
		EventCallEnded:         g.handleCallEnded,
	}
	return g
}

// NewClient builds a client with the configured buffer and event limiter.
func (g *Gateway) NewClient(id string, conn Conn) *Client {
	var limiter *rate.Limiter
	if g.cfg.EventsPerSecond > 0 {
		burst := g.cfg.EventBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(g.cfg.EventsPerSecond), burst)
	}
	return NewClient(id, conn, g.cfg.SendBuffer, limiter)
}

// Connect attaches a new connection.
func (g *Gateway) Connect(c *Client) {
	g.hub.Register(c)
	g.metrics.ConnectionOpened()
	g.logger.Debug().Str("conn_id", c.ID).Msg("connection opened")
}

// Disconnect is the only place a presence entry is removed. In-flight calls
// are left as they are.
func (g *Gateway) Disconnect(c *Client) {
	if entry, ok := g.presence.Unregister(c.ID); ok {
		g.logger.Debug().Str("conn_id", c.ID).Int64("identity_id", entry.IdentityID).Msg("presence removed")
	}
	if g.hub.HasConn(c.ID) {
		g.hub.Unregister(c)
		g.metrics.ConnectionClosed()
	}
}

// Shutdown closes every attached connection; their read pumps then run
// Disconnect.
func (g *Gateway) Shutdown() {
	for _, c := range g.hub.snapshot() {
		if c.conn != nil {
			c.conn.Close()
		}
	}
}

// Dispatch handles one inbound frame.
func (g *Gateway) Dispatch(ctx context.Context, c *Client, frame []byte) {
	if c.limiter != nil && !c.limiter.Allow() {
		g.metrics.InboundEvent("throttled", realtime.CodeRateLimited)
		g.reply(c, realtime.EventError, realtime.ErrorPayload{Code: realtime.CodeRateLimited, Message: "too many events"})
		return
	}

	var env realtime.Envelope
	if err := json.Unmarshal(frame, &env); err != nil || env.Event == "" {
		g.metrics.InboundEvent("malformed", realtime.CodeBadRequest)
		g.reply(c, realtime.EventError, realtime.ErrorPayload{Code: realtime.CodeBadRequest, Message: "malformed envelope"})
		return
	}

	handle, ok := g.handlers[env.Event]
	if !ok {
		g.metrics.InboundEvent("unknown", realtime.CodeBadRequest)
		g.reply(c, realtime.EventError, realtime.ErrorPayload{
			Event: env.Event, Code: realtime.CodeBadRequest, Message: "unknown event",
		})
		return
	}

	if err := handle(ctx, c, env.Data); err != nil {
		code, msg := g.classify(env.Event, c, err)
		g.metrics.InboundEvent(env.Event, code)
		g.reply(c, realtime.EventError, realtime.ErrorPayload{Event: env.Event, Code: code, Message: msg})
		return
	}
	g.metrics.InboundEvent(env.Event, "ok")
}

func (g *Gateway) classify(event string, c *Client, err error) (code, message string) {
	var ee *eventError
	switch {
	case errors.As(err, &ee):
		return ee.code, ee.message
	case errors.Is(err, conversation.ErrNotFound), errors.Is(err, call.ErrNotFound):
		return realtime.CodeNotFound, err.Error()
	case errors.Is(err, conversation.ErrNotParticipant), errors.Is(err, call.ErrNotParticipant):
		return realtime.CodeForbidden, err.Error()
	case errors.Is(err, conversation.ErrClosed):
		return realtime.CodeConversationClosed, err.Error()
	case errors.Is(err, conversation.ErrInvalidMessage), errors.Is(err, conversation.ErrInvalidRequest),
		errors.Is(err, call.ErrInvalidRequest):
		return realtime.CodeBadRequest, err.Error()
	case errors.Is(err, call.ErrInvalidTransition):
		return realtime.CodeInvalidTransition, err.Error()
	case errors.Is(err, call.ErrUnresolvable):
		return realtime.CodeUnresolvableTarget, err.Error()
	}
	id, _ := c.Identity()
	g.logger.Error().Err(err).Str("event", event).Str("conn_id", c.ID).Int64("identity_id", id).Msg("event failed")
	return realtime.CodeInternal, "internal error"
}

// reply writes to the originating connection, which is always local.
func (g *Gateway) reply(c *Client, event string, payload interface{}) {
	frame, err := realtime.Encode(event, payload)
	if err != nil {
		g.logger.Error().Err(err).Str("event", event).Msg("encode reply failed")
		return
	}
	if _, err := g.hub.Deliver(realtime.ToConn(c.ID), frame); err != nil {
		g.logger.Debug().Err(err).Str("event", event).Str("conn_id", c.ID).Msg("reply not delivered")
	}
}

func decode(data json.RawMessage, v interface{}) error {
	if len(data) == 0 {
		return badRequest("missing data")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return badRequest("invalid data: %v", err)
	}
	return nil
}

func requireAuth(c *Client) error {
	if !c.Authenticated() {
		return errUnauthenticated
	}
	return nil
}

// -- Handlers --

func (g *Gateway) handleAuthenticate(_ context.Context, c *Client, data json.RawMessage) error {
	var in authenticateData
	if err := decode(data, &in); err != nil {
		return err
	}
	id := int64(in.UserID)
	if id <= 0 {
		return badRequest("userId is required")
	}
	role := in.UserType
	if role == "" {
		role = auth.RolePatient
	}
	if !auth.ValidRole(role) {
		return badRequest("userType must be %q or %q", auth.RolePatient, auth.RoleProvider)
	}

	switch {
	case c.verifiedID != 0:
		if id != c.verifiedID || role != c.verifiedRole {
			return &eventError{code: realtime.CodeForbidden, message: "identity does not match token"}
		}
	case !g.cfg.TrustEvents:
		return errUnauthenticated
	}

	if c.identityID != 0 && (c.identityID != id || c.role != role) {
		g.hub.Leave(c, realtime.IdentityChannel(c.role, c.identityID))
	}
	c.identityID = id
	c.role = role

	g.presence.Register(id, c.ID, role)
	g.hub.Join(c, realtime.IdentityChannel(role, id))
	g.reply(c, realtime.EventAuthenticated, authenticatedPayload{UserID: id, UserType: role, ConnID: c.ID})
	return nil
}

func (g *Gateway) handleJoin(ctx context.Context, c *Client, data json.RawMessage) error {
	if err := requireAuth(c); err != nil {
		return err
	}
	convID, err := decodeConversationRef(data)
	if err != nil || convID <= 0 {
		return badRequest("conversationId is required")
	}
	ok, err := g.conversations.IsParticipant(ctx, convID, c.identityID)
	if err != nil {
		return err
	}
	if !ok {
		return conversation.ErrNotParticipant
	}
	g.hub.Join(c, realtime.ConversationChannel(convID))
	return nil
}

func (g *Gateway) handleLeave(_ context.Context, c *Client, data json.RawMessage) error {
	convID, err := decodeConversationRef(data)
	if err != nil || convID <= 0 {
		return badRequest("conversationId is required")
	}
	g.hub.Leave(c, realtime.ConversationChannel(convID))
	return nil
}

func (g *Gateway) handleSendMessage(ctx context.Context, c *Client, data json.RawMessage) error {
	if err := requireAuth(c); err != nil {
		return err
	}
	var in sendMessageData
	if err := decode(data, &in); err != nil {
		return err
	}
	_, err := g.conversations.SendMessage(ctx, conversation.SendMessageInput{
		ConversationID: int64(in.ConversationID),
		SenderID:       c.identityID,
		Content:        in.Content,
		Kind:           in.MessageType,
		FileURL:        in.FileURL,
	})
	return err
}

func (g *Gateway) typing(ctx context.Context, c *Client, data json.RawMessage, event string) error {
	if err := requireAuth(c); err != nil {
		return err
	}
	var in typingData
	if err := decode(data, &in); err != nil {
		return err
	}
	convID := int64(in.ConversationID)
	if convID <= 0 {
		return badRequest("conversationId is required")
	}
	channel := realtime.ConversationChannel(convID)
	if !g.hub.IsMember(c, channel) {
		return &eventError{code: realtime.CodeForbidden, message: "join the conversation first"}
	}

	payload := typingPayload{ConversationID: convID, UserID: c.identityID}
	if event == realtime.EventUserTyping {
		payload.UserName = in.UserName
		if payload.UserName == "" {
			payload.UserName = "User"
		}
	}
	if err := g.notifier.Emit(ctx, realtime.ToChannelExcept(channel, c.ID), event, payload); err != nil {
		g.logger.Debug().Err(err).Str("event", event).Int64("conversation_id", convID).Msg("typing relay failed")
	}
	return nil
}

func (g *Gateway) handleTypingStart(ctx context.Context, c *Client, data json.RawMessage) error {
	return g.typing(ctx, c, data, realtime.EventUserTyping)
}

func (g *Gateway) handleTypingStop(ctx context.Context, c *Client, data json.RawMessage) error {
	return g.typing(ctx, c, data, realtime.EventUserStopTyping)
}

func (g *Gateway) handleCallRequest(ctx context.Context, c *Client, data json.RawMessage) error {
	if err := requireAuth(c); err != nil {
		return err
	}
	var in callRequestData
	if err := decode(data, &in); err != nil {
		return err
	}
	req := call.Request{
		CallerID:     c.identityID,
		CallerRole:   c.role,
		CallerConnID: c.ID,
		CallerName:   in.CallerName,
		TargetRef:    int64(in.TargetUserID),
		CallType:     in.CallType,
		ChannelName:  in.RoomID,
	}
	if req.ChannelName == "" {
		req.ChannelName = in.ChannelName
	}
	if convID := int64(in.ConversationID); convID > 0 {
		req.ConversationID = &convID
	}
	_, err := g.calls.Request(ctx, req)
	return err
}

func (g *Gateway) handleCallResponse(ctx context.Context, c *Client, data json.RawMessage) error {
	if err := requireAuth(c); err != nil {
		return err
	}
	var in callResponseData
	if err := decode(data, &in); err != nil {
		return err
	}
	_, err := g.calls.Respond(ctx, call.Response{
		ResponderID: c.identityID,
		CallLogID:   int64(in.CallLogID),
		Accepted:    in.Accepted,
		CallerHint:  int64(in.CallerID),
	})
	return err
}

func (g *Gateway) handleCallEnded(ctx context.Context, c *Client, data json.RawMessage) error {
	if err := requireAuth(c); err != nil {
		return err
	}
	var in callEndedData
	if err := decode(data, &in); err != nil {
		return err
	}
	_, err := g.calls.End(ctx, call.EndRequest{
		EnderID:         c.identityID,
		CallLogID:       int64(in.CallLogID),
		Duration:        int(in.Duration),
		CounterpartHint: int64(in.CounterpartID),
	})
	return err
}
