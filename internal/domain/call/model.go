package call

import "time"

// Status is a call record's lifecycle state.
type Status string

const (
	StatusInitiated Status = "initiated"
	StatusRinging   Status = "ringing"
	StatusAnswered  Status = "answered"
	StatusRejected  Status = "rejected"
	StatusMissed    Status = "missed"
	StatusFailed    Status = "failed"
	StatusEnded     Status = "ended"
)

// transitions lists the allowed next states. initiated and ringing behave
// alike because records are created already ringing.
var transitions = map[Status][]Status{
	StatusInitiated: {StatusRinging, StatusAnswered, StatusRejected, StatusMissed, StatusFailed},
	StatusRinging:   {StatusAnswered, StatusRejected, StatusMissed, StatusFailed},
	StatusAnswered:  {StatusEnded, StatusFailed},
}

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusRejected, StatusMissed, StatusFailed, StatusEnded:
		return true
	}
	return false
}

// CanTransition reports whether from -> to is in the transition table.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Media kinds.
const (
	TypeAudio = "audio"
	TypeVideo = "video"
)

// Directions relative to the identity reading its history.
const (
	DirectionOutgoing = "outgoing"
	DirectionIncoming = "incoming"
)

// CallLog is one call attempt. ReceiverID is always a canonical account id.
type CallLog struct {
	ID             int64      `db:"id" json:"id"`
	ConversationID *int64     `db:"conversation_id" json:"conversationId,omitempty"`
	CallerID       int64      `db:"caller_user_id" json:"callerId"`
	ReceiverID     int64      `db:"receiver_user_id" json:"receiverId"`
	CallType       string     `db:"call_type" json:"callType"`
	Status         Status     `db:"status" json:"status"`
	ChannelName    string     `db:"channel_name" json:"channelName"`
	Duration       int        `db:"duration" json:"duration"`
	StartedAt      *time.Time `db:"started_at" json:"startedAt,omitempty"`
	EndedAt        *time.Time `db:"ended_at" json:"endedAt,omitempty"`
	SeenAt         *time.Time `db:"seen_at" json:"seenAt,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updatedAt"`

	CallerName   string `db:"caller_name" json:"callerName,omitempty"`
	CallerRole   string `db:"caller_role" json:"callerRole,omitempty"`
	ReceiverName string `db:"receiver_name" json:"receiverName,omitempty"`
	ReceiverRole string `db:"receiver_role" json:"receiverRole,omitempty"`
	Direction    string `json:"direction,omitempty"`
}

// IsParticipant reports whether identityID is the caller or the receiver.
func (c *CallLog) IsParticipant(identityID int64) bool {
	return identityID == c.CallerID || identityID == c.ReceiverID
}

// Counterpart returns the other participant's id.
func (c *CallLog) Counterpart(identityID int64) int64 {
	if identityID == c.CallerID {
		return c.ReceiverID
	}
	return c.CallerID
}

// Update is applied by Repository.UpdateStatus. When From is set the update
// only succeeds if the stored status still equals From.
type Update struct {
	Status    Status
	From      Status
	StartedAt *time.Time
	EndedAt   *time.Time
	Duration  *int
	At        time.Time
}

// Request asks to ring TargetRef, which may be a provider-profile id or an
// account id.
type Request struct {
	CallerID       int64
	CallerRole     string
	CallerConnID   string
	CallerName     string
	TargetRef      int64
	ConversationID *int64
	CallType       string
	ChannelName    string
}

// Response is the receiver's accept or reject. CallerHint is the caller id
// the client believes it is answering; it is used only when the record
// cannot be read.
type Response struct {
	ResponderID int64
	CallLogID   int64
	Accepted    bool
	CallerHint  int64
}

// EndRequest is either party hanging up with the observed duration in seconds.
// CounterpartHint names the other party for calls whose record is missing.
type EndRequest struct {
	EnderID         int64
	CallLogID       int64
	Duration        int
	CounterpartHint int64
}

// Outbound event payloads.

type IncomingCallPayload struct {
	CallLogID      int64  `json:"callLogId"`
	CallerID       int64  `json:"callerId"`
	ConversationID *int64 `json:"conversationId,omitempty"`
	CallerName     string `json:"callerName"`
	CallType       string `json:"callType"`
	RoomID         string `json:"roomId"`
}

type CallInitiatedPayload struct {
	CallLogID  int64  `json:"callLogId"`
	ReceiverID int64  `json:"receiverId"`
	Status     Status `json:"status"`
	CallType   string `json:"callType"`
	RoomID     string `json:"roomId"`
}

type CallResponsePayload struct {
	Accepted    bool   `json:"accepted"`
	ResponderID int64  `json:"responderId"`
	CallLogID   int64  `json:"callLogId"`
	RoomID      string `json:"roomId,omitempty"`
}

type CallEndedPayload struct {
	CallLogID int64 `json:"callLogId"`
	EndedBy   int64 `json:"endedBy"`
	Duration  int   `json:"duration"`
}

type CallMissedPayload struct {
	CallLogID  int64  `json:"callLogId"`
	CallerID   int64  `json:"callerId"`
	ReceiverID int64  `json:"receiverId"`
	CallType   string `json:"callType"`
}
