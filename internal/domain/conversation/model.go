package conversation

import "time"

// Conversation statuses.
const (
	StatusActive = "active"
	StatusClosed = "closed"
)

// Message kinds.
const (
	KindText     = "text"
	KindImage    = "image"
	KindAudio    = "audio"
	KindDocument = "document"
)

var validKinds = map[string]bool{
	KindText: true, KindImage: true, KindAudio: true, KindDocument: true,
}

// Conversation pairs one patient with one provider. ProviderAccountID is the
// resolved account of the provider profile and is what sender roles are
// derived from.
type Conversation struct {
	ID                int64     `db:"id" json:"id"`
	PatientID         int64     `db:"user_id" json:"userId"`
	ProviderProfileID int64     `db:"doctor_id" json:"doctorId"`
	ProviderAccountID int64     `db:"doctor_user_id" json:"doctorUserId"`
	Type              string    `db:"type" json:"type"`
	Status            string    `db:"status" json:"status"`
	PatientName       string    `db:"patient_name" json:"patientName,omitempty"`
	ProviderName      string    `db:"doctor_name" json:"doctorName,omitempty"`
	CreatedAt         time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt         time.Time `db:"updated_at" json:"updatedAt"`
}

// IsParticipant reports whether identityID is one of the two participants.
func (c *Conversation) IsParticipant(identityID int64) bool {
	return identityID == c.PatientID || identityID == c.ProviderAccountID
}

// RoleOf returns the role identityID holds in the conversation.
func (c *Conversation) RoleOf(identityID int64) string {
	if identityID == c.ProviderAccountID {
		return RoleProvider
	}
	return RolePatient
}

// Summary is a conversation as shown in a participant's list.
type Summary struct {
	Conversation
	LastMessage     *string    `db:"last_message" json:"lastMessage,omitempty"`
	LastMessageKind *string    `db:"last_message_type" json:"lastMessageType,omitempty"`
	LastMessageAt   *time.Time `db:"last_message_at" json:"lastMessageAt,omitempty"`
	UnreadCount     int        `db:"unread_count" json:"unreadCount"`
}

// Message is append-only; only Read changes, and only from false to true.
type Message struct {
	ID             int64     `db:"id" json:"id"`
	ConversationID int64     `db:"conversation_id" json:"conversationId"`
	SenderID       int64     `db:"sender_id" json:"senderId"`
	SenderRole     string    `db:"sender_type" json:"senderType"`
	Kind           string    `db:"message_type" json:"messageType"`
	Content        string    `db:"content" json:"content"`
	FileURL        *string   `db:"file_url" json:"fileUrl,omitempty"`
	Read           bool      `db:"is_read" json:"isRead"`
	CreatedAt      time.Time `db:"created_at" json:"createdAt"`
}

// StartInput opens (or reuses) the active conversation between a patient
// and a provider profile.
type StartInput struct {
	PatientID         int64  `json:"-"`
	ProviderProfileID int64  `json:"doctorId"`
	Type              string `json:"type"`
}

// SendMessageInput is shared by the HTTP and real-time entry points.
type SendMessageInput struct {
	ConversationID int64   `json:"conversationId"`
	SenderID       int64   `json:"-"`
	Content        string  `json:"content"`
	Kind           string  `json:"messageType"`
	FileURL        *string `json:"fileUrl,omitempty"`
}
