package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/FilipeAphrody/sentinel-session/internal/domain"
)

// ChangeAccountStatus moves a user to another lifecycle state.
func (u *AuthUsecase) ChangeAccountStatus(ctx context.Context, userID string, status domain.AccountStatus, note string) error {
	if !status.Valid() {
		return domain.BadRequest(fmt.Sprintf("unknown account status %q", status), nil)
	}

	user, err := u.users.GetByID(ctx, userID)
	if err != nil {
		return domain.Internal(err)
	}
	if user.AccountStatus == status {
		return domain.ErrStatusUnchanged
	}

	previous := user.AccountStatus
	user.AccountStatus = status
	user.StatusNote = note
	if err := u.users.Update(ctx, user); err != nil {
		return domain.Internal(err)
	}

	u.audit(ctx, user.ID, domain.EventStatusChanged, map[string]interface{}{
		"from": string(previous),
		"to":   string(status),
	})
	return nil
}

// GetFailedAttempts exposes the login lockout record of an identity.
func (u *AuthUsecase) GetFailedAttempts(ctx context.Context, email string) (*domain.FailedAttemptRecord, error) {
	record, err := u.attempts.GetFailedAttempts(ctx, domain.KindLogin, domain.NormalizeEmail(email))
	if err != nil {
		return nil, domain.Internal(err)
	}
	if record == nil {
		return nil, domain.ErrNoFailedAttempts
	}
	return record, nil
}

// SessionView is a session with its secrets removed.
type SessionView struct {
	SessionID         string                  `json:"sessionId"`
	SessionType       domain.SessionKind      `json:"sessionType"`
	Email             string                  `json:"email"`
	RedirectURL       string                  `json:"redirectUrl,omitempty"`
	RemainingAttempts int                     `json:"remainingAttempts"`
	ExpiresIn         int64                   `json:"expiresIn"`
	Metadata          *domain.SessionMetadata `json:"metadata,omitempty"`
}

// InspectSession returns a redacted view of one session.
func (u *AuthUsecase) InspectSession(ctx context.Context, kind domain.SessionKind, id string) (*SessionView, error) {
	sess, err := u.loadSession(ctx, kind, id, domain.ErrSessionNotFound)
	if err != nil {
		return nil, err
	}
	ttl, err := u.sessions.TTL(ctx, kind, id)
	if err != nil {
		return nil, domain.Internal(err)
	}
	return &SessionView{
		SessionID:         sess.ID,
		SessionType:       sess.Kind,
		Email:             sess.Email,
		RedirectURL:       sess.RedirectURL,
		RemainingAttempts: sess.RemainingAttempts,
		ExpiresIn:         int64(ttl / time.Second),
		Metadata:          sess.Metadata,
	}, nil
}

// RevokeSession deletes a session of any kind and reports whether it existed.
func (u *AuthUsecase) RevokeSession(ctx context.Context, kind domain.SessionKind, id string) (bool, error) {
	removed, err := u.sessions.Delete(ctx, kind, id)
	if err != nil {
		return false, domain.Internal(err)
	}
	return removed, nil
}

// HandleExpiredKey records the expiry of a session. Expiry itself is enforced
// by the store; this hook only feeds the audit trail.
func (u *AuthUsecase) HandleExpiredKey(ctx context.Context, kind domain.SessionKind, id string) {
	u.logger.Debug("Session expired", zap.String("sessionType", string(kind)))

	metadata := map[string]interface{}{"sessionType": string(kind)}
	// identity-bound kinds are keyed by email; opaque ids are not recorded
	if strings.Contains(id, "@") {
		metadata["email"] = id
	}
	u.audit(ctx, "", domain.EventSessionExpired, metadata)
}

// GetUser returns the account behind an authenticated session.
func (u *AuthUsecase) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	user, err := u.users.GetByID(ctx, userID)
	if err != nil {
		return nil, domain.Internal(err)
	}
	return user, nil
}
