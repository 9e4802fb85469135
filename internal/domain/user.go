package domain

import (
	"context"
	"time"
)

// AccountStatus is the lifecycle state of a user account.
type AccountStatus string

const (
	AccountActive    AccountStatus = "ACTIVE"
	AccountSuspended AccountStatus = "SUSPENDED"
	AccountBlocked   AccountStatus = "BLOCKED"
)

// Valid reports whether s is a known status.
func (s AccountStatus) Valid() bool {
	switch s {
	case AccountActive, AccountSuspended, AccountBlocked:
		return true
	}
	return false
}

// User holds the fields of the durable user record that the session engine reads or writes.
type User struct {
	ID              string        `json:"id"`
	Email           string        `json:"email"`
	Name            string        `json:"name,omitempty"`
	PasswordHash    string        `json:"-"` // Never expose the password hash in JSON
	Role            string        `json:"role"`
	AccountStatus   AccountStatus `json:"accountStatus"`
	StatusNote      string        `json:"statusNote,omitempty"`
	IsEmailVerified bool          `json:"isEmailVerified"`
	MFAEnabled      bool          `json:"is2FaEnabled"`
	MFASecret       string        `json:"-"` // sealed TOTP key
	SocialProvider  string        `json:"socialProvider,omitempty"`
	CreatedAt       time.Time     `json:"createdAt"`
	UpdatedAt       time.Time     `json:"updatedAt"`
}

const DefaultRole = "user"

// UserRepository defines the contract for user data persistence.
// Lookups by email are case-insensitive; GetBy* return ErrUserNotFound when absent
// and Create returns ErrUserExists on a duplicate email.
type UserRepository interface {
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByID(ctx context.Context, id string) (*User, error)
	Create(ctx context.Context, user *User) error
	Update(ctx context.Context, user *User) error

	// LogSecurityEvent is used for the audit trail.
	LogSecurityEvent(ctx context.Context, userID, eventType, ip string, metadata map[string]interface{}) error
}

// Security event types written to the audit trail.
const (
	EventUserRegistered = "USER_REGISTERED"
	EventEmailVerified  = "EMAIL_VERIFIED"
	EventLoginSuccess   = "LOGIN_SUCCESS"
	EventLoginFailed    = "LOGIN_FAILED"
	EventLoginBlocked   = "LOGIN_BLOCKED"
	EventMFAChallenge   = "MFA_CHALLENGE"
	EventMFAFailed      = "MFA_FAILED"
	EventMFAEnabled     = "MFA_ENABLED"
	EventMFADisabled    = "MFA_DISABLED"
	EventPasswordReset  = "PASSWORD_RESET"
	EventStatusChanged  = "ACCOUNT_STATUS_CHANGED"
	EventSocialLogin    = "SOCIAL_LOGIN"
	EventLogout         = "LOGOUT"
	EventSessionExpired = "SESSION_EXPIRED"
)

// Notification templates understood by the mail collaborator.
const (
	TemplateAccountVerification = "account-verification"
	TemplateEmailVerification   = "email-verification"
	TemplateForgetPassword      = "forget-password"
)

// Notifier hands a message to the external mail collaborator.
type Notifier interface {
	Send(ctx context.Context, template, address string, data map[string]string) error
}

// PasswordHasher is the opaque hashing capability.
type PasswordHasher interface {
	Hash(secret string) (string, error)
	Compare(secret, digest string) (bool, error)
}
