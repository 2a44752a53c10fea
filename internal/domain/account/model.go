package account

import "time"

// Participant roles as they appear on the wire and in channel names.
const (
	RolePatient  = "user"
	RoleProvider = "doctor"
)

// Identity is a canonical account. Every participant, patient or provider,
// has exactly one and its role never changes.
type Identity struct {
	ID        int64     `db:"id" json:"id"`
	FullName  string    `db:"full_name" json:"fullName"`
	Email     string    `db:"email" json:"email"`
	Role      string    `db:"role" json:"role"`
	IsActive  bool      `db:"is_active" json:"isActive"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// ProviderProfile is the provider-facing record other features address
// providers by. AccountID is the owning Identity.
type ProviderProfile struct {
	ID             int64   `db:"id" json:"id"`
	AccountID      int64   `db:"user_id" json:"userId"`
	FullName       string  `db:"full_name" json:"fullName"`
	Specialization *string `db:"specialization" json:"specialization,omitempty"`
	IsAvailable    bool    `db:"is_available" json:"isAvailable"`
}

// Target is the result of resolving a role-ambiguous reference.
type Target struct {
	AccountID int64  `json:"accountId"`
	Role      string `json:"role"`
	Name      string `json:"name"`
	// ViaProfile is true when the reference matched a provider profile id.
	ViaProfile bool `json:"viaProfile"`
}
