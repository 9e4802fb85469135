package domain

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// SessionKind partitions the expiring store's key space.
// The literal value is used as the key prefix.
type SessionKind string

const (
	KindAccountVerification SessionKind = "ACCOUNT_VERIFICATION"
	KindEmailVerification   SessionKind = "EMAIL_VERIFICATION"
	KindForgetPassword      SessionKind = "FORGET_PASSWORD"
	KindResetPassword       SessionKind = "RESET_PASSWORD"
	KindLogin               SessionKind = "LOGIN"
	KindLogin2FA            SessionKind = "LOGIN_2FA"
	KindTwoFactorSetup      SessionKind = "TWO_FACTOR_AUTHENTICATION_SETUP"
)

// AllSessionKinds lists every registered kind.
var AllSessionKinds = []SessionKind{
	KindAccountVerification,
	KindEmailVerification,
	KindForgetPassword,
	KindResetPassword,
	KindLogin,
	KindLogin2FA,
	KindTwoFactorSetup,
}

// AttemptScopeDisable2FA namespaces the lockout record for failed codes on the
// 2FA disable step. It names no session and is not accepted by ParseSessionKind.
const AttemptScopeDisable2FA SessionKind = "TWO_FACTOR_AUTHENTICATION_DISABLE"

// ParseSessionKind validates caller-supplied kind names.
func ParseSessionKind(s string) (SessionKind, error) {
	k := SessionKind(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range AllSessionKinds {
		if k == known {
			return k, nil
		}
	}
	return "", BadRequest(fmt.Sprintf("unknown session type %q", s), nil)
}

// Key builds the composite store key "{kind}:{id}".
func (k SessionKind) Key(id string) string {
	return string(k) + ":" + id
}

// ExhaustedBehavior decides what happens to a session whose attempts reach zero.
type ExhaustedBehavior int

const (
	// ExhaustedCoolDown keeps the session inert for the cool-down period so later
	// calls see "too many attempts" instead of "not found".
	ExhaustedCoolDown ExhaustedBehavior = iota
	// ExhaustedDelete removes the session immediately.
	ExhaustedDelete
)

// KindPolicy holds the TTL and attempt rules of one session kind.
type KindPolicy struct {
	TTL        time.Duration
	Resendable bool
	Exhausted  ExhaustedBehavior
}

const (
	DefaultMaxAttempts    = 5
	DefaultResendCoolDown = 24 * time.Hour
)

// Registry resolves per-kind policies. Zero value is not usable; use NewRegistry.
type Registry struct {
	policies       map[SessionKind]KindPolicy
	MaxAttempts    int
	ResendCoolDown time.Duration
}

// NewRegistry returns the default policy table with optional TTL overrides.
func NewRegistry(ttlOverrides map[SessionKind]time.Duration) *Registry {
	policies := map[SessionKind]KindPolicy{
		KindAccountVerification: {TTL: 10 * time.Minute, Resendable: true, Exhausted: ExhaustedCoolDown},
		KindEmailVerification:   {TTL: 10 * time.Minute, Resendable: true, Exhausted: ExhaustedCoolDown},
		KindForgetPassword:      {TTL: 10 * time.Minute, Resendable: true, Exhausted: ExhaustedCoolDown},
		KindResetPassword:       {TTL: 5 * time.Minute, Exhausted: ExhaustedDelete},
		KindLogin:               {TTL: 7 * 24 * time.Hour, Exhausted: ExhaustedDelete},
		KindLogin2FA:            {TTL: 2 * time.Minute, Exhausted: ExhaustedDelete},
		KindTwoFactorSetup:      {TTL: 10 * time.Minute, Exhausted: ExhaustedDelete},
	}
	for kind, ttl := range ttlOverrides {
		if p, ok := policies[kind]; ok && ttl > 0 {
			p.TTL = ttl
			policies[kind] = p
		}
	}
	return &Registry{
		policies:       policies,
		MaxAttempts:    DefaultMaxAttempts,
		ResendCoolDown: DefaultResendCoolDown,
	}
}

// Policy returns the policy for kind.
func (r *Registry) Policy(kind SessionKind) KindPolicy {
	return r.policies[kind]
}

// TTL is shorthand for Policy(kind).TTL.
func (r *Registry) TTL(kind SessionKind) time.Duration {
	return r.policies[kind].TTL
}

// SessionMetadata carries the identity claims needed to mint the next
// session without a second user lookup.
type SessionMetadata struct {
	UserID    string    `json:"userId"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
}

// Session is one record of the expiring store. Expiry is store-level and
// never stored as a field.
type Session struct {
	ID                string
	Kind              SessionKind
	Email             string
	OTP               string
	Secret            string // sealed 2FA key, never plaintext
	RedirectURL       string
	RemainingAttempts int
	Metadata          *SessionMetadata
}

// SessionUpdate is a partial update; nil fields are left untouched.
type SessionUpdate struct {
	OTP               *string
	RedirectURL       *string
	RemainingAttempts *int
}

// SessionStore is the typed contract over the expiring key-value store.
type SessionStore interface {
	// Create writes a fresh session, overwriting any session at the same key.
	Create(ctx context.Context, s *Session, ttl time.Duration) error
	// Get returns ErrSessionNotFound when the key is absent or expired.
	Get(ctx context.Context, kind SessionKind, id string) (*Session, error)
	// Update merges the supplied fields; ttl <= 0 keeps the current expiry.
	Update(ctx context.Context, kind SessionKind, id string, u SessionUpdate, ttl time.Duration) error
	// Delete is idempotent and reports whether a key was removed.
	Delete(ctx context.Context, kind SessionKind, id string) (bool, error)
	Exists(ctx context.Context, kind SessionKind, id string) (bool, error)
	// DecrementAttempts lowers remainingAttempts by one, never below zero.
	DecrementAttempts(ctx context.Context, kind SessionKind, id string) (int, error)
	// TTL reports the remaining lifetime of a session.
	TTL(ctx context.Context, kind SessionKind, id string) (time.Duration, error)
}

// FailedAttemptRecord tracks login-failure lockout for one identity.
type FailedAttemptRecord struct {
	Kind              SessionKind `json:"sessionType"`
	Email             string      `json:"email"`
	AttemptsCount     int         `json:"attemptsCount"`
	AttemptsRemaining int         `json:"attemptsRemaining"`
	BlockStatus       bool        `json:"blockStatus"`
	BlockReason       string      `json:"blockReason,omitempty"`
	BlockTime         time.Time   `json:"blockTime,omitempty"`
	AttemptsResetTime time.Time   `json:"attemptsResetTime"`
}

// AttemptTracker records failed attempts per identity, independent of sessions.
type AttemptTracker interface {
	RecordFailedAttempt(ctx context.Context, kind SessionKind, identity string) (*FailedAttemptRecord, error)
	// GetFailedAttempts returns nil when no record exists.
	GetFailedAttempts(ctx context.Context, kind SessionKind, identity string) (*FailedAttemptRecord, error)
	Reset(ctx context.Context, kind SessionKind, identity string) error
}

// NormalizeEmail lowercases and trims an email so it can serve as a session id.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
