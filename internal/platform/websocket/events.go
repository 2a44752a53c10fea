package websocket

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Inbound events.
const (
	EventAuthenticate      = "authenticate"
	EventJoinConversation  = "join_conversation"
	EventLeaveConversation = "leave_conversation"
	EventSendMessage       = "send_message"
	EventTypingStart       = "typing_start"
	EventTypingStop        = "typing_stop"
	EventCallRequest       = "call_request"
	EventCallResponse      = "call_response"
	EventCallEnded         = "call_ended"
)

// flexID accepts an id sent as a JSON number or a numeric string.
type flexID int64

func (f *flexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = 0
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if s == "" {
			*f = 0
			return nil
		}
		b = []byte(s)
	}
	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid id %q", b)
	}
	*f = flexID(n)
	return nil
}

// seconds accepts a duration sent as an integer or a float and rounds it.
type seconds int

func (s *seconds) UnmarshalJSON(b []byte) error {
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return fmt.Errorf("invalid duration %q", b)
	}
	*s = seconds(math.Round(f))
	return nil
}

type authenticateData struct {
	UserID   flexID `json:"userId"`
	UserType string `json:"userType"`
}

type conversationRef struct {
	ConversationID flexID `json:"conversationId"`
}

// decodeConversationRef reads either {"conversationId": 7} or a bare 7.
func decodeConversationRef(data json.RawMessage) (int64, error) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '{' {
		var ref conversationRef
		if err := json.Unmarshal(data, &ref); err != nil {
			return 0, err
		}
		return int64(ref.ConversationID), nil
	}
	var id flexID
	if err := json.Unmarshal(data, &id); err != nil {
		return 0, err
	}
	return int64(id), nil
}

type sendMessageData struct {
	ConversationID flexID  `json:"conversationId"`
	Content        string  `json:"content"`
	MessageType    string  `json:"messageType"`
	FileURL        *string `json:"fileUrl"`
}

type typingData struct {
	ConversationID flexID `json:"conversationId"`
	UserName       string `json:"userName"`
}

type callRequestData struct {
	TargetUserID   flexID `json:"targetUserId"`
	ConversationID flexID `json:"conversationId"`
	CallType       string `json:"callType"`
	CallerName     string `json:"callerName"`
	RoomID         string `json:"roomId"`
	ChannelName    string `json:"channelName"`
}

type callResponseData struct {
	CallLogID flexID `json:"callLogId"`
	Accepted  bool   `json:"accepted"`
	CallerID  flexID `json:"callerId"`
}

type callEndedData struct {
	CallLogID     flexID  `json:"callLogId"`
	Duration      seconds `json:"duration"`
	CounterpartID flexID  `json:"counterpartId"`
}

// Outbound payloads owned by the gateway.

type authenticatedPayload struct {
	UserID   int64  `json:"userId"`
	UserType string `json:"userType"`
	ConnID   string `json:"connId"`
}

type typingPayload struct {
	ConversationID int64  `json:"conversationId"`
	UserID         int64  `json:"userId"`
	UserName       string `json:"userName,omitempty"`
}
