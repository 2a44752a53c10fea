// Package realtime defines the event envelope, channel naming and the
// Notifier used by domain services to reach live connections.
//
// Delivery is best-effort and may duplicate: a connection subscribed to more
// than one addressed channel receives the event once per channel. Clients
// deduplicate by payload id.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
)

// Outbound events.
const (
	EventAuthenticated  = "authenticated"
	EventNewMessage     = "new_message"
	EventIncomingCall   = "incoming_call"
	EventCallInitiated  = "call_initiated"
	EventCallResponse   = "call_response"
	EventCallEnded      = "call_ended"
	EventCallMissed     = "call_missed"
	EventUserTyping     = "user_typing"
	EventUserStopTyping = "user_stop_typing"
	EventError          = "error"
)

// Envelope is the frame format in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Encode marshals payload into an envelope frame.
func Encode(event string, payload interface{}) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", event, err)
	}
	return json.Marshal(Envelope{Event: event, Data: data})
}

// ConversationChannel names the broadcast group for one conversation.
func ConversationChannel(conversationID int64) string {
	return fmt.Sprintf("conversation_%d", conversationID)
}

// IdentityChannel names the per-account group every authenticated connection
// joins, e.g. "doctor_42".
func IdentityChannel(role string, identityID int64) string {
	return fmt.Sprintf("%s_%d", role, identityID)
}

// Target addresses an emission: every member of Channel except the
// connection Except, or the single connection ConnID.
type Target struct {
	Channel string `json:"channel,omitempty"`
	Except  string `json:"except,omitempty"`
	ConnID  string `json:"connId,omitempty"`
}

func ToChannel(name string) Target { return Target{Channel: name} }

func ToChannelExcept(name, connID string) Target { return Target{Channel: name, Except: connID} }

func ToConn(connID string) Target { return Target{ConnID: connID} }

func (t Target) String() string {
	if t.ConnID != "" {
		return "conn:" + t.ConnID
	}
	return "channel:" + t.Channel
}

// Notifier emits an event to a target. Errors are reported so callers can log
// them; they never imply the event was withheld from other targets.
type Notifier interface {
	Emit(ctx context.Context, to Target, event string, payload interface{}) error
}

// ErrorPayload is the data of an "error" event.
type ErrorPayload struct {
	Event   string `json:"event,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes carried in ErrorPayload.
const (
	CodeBadRequest         = "bad_request"
	CodeUnauthenticated    = "unauthenticated"
	CodeForbidden          = "forbidden"
	CodeNotFound           = "not_found"
	CodeConversationClosed = "conversation_closed"
	CodeInvalidTransition  = "invalid_transition"
	CodeUnresolvableTarget = "unresolvable_target"
	CodeRateLimited        = "rate_limited"
	CodeInternal           = "internal_error"
)
