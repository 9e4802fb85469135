package usecase

import (
	"context"
	"errors"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/FilipeAphrody/sentinel-session/internal/domain"
	"github.com/FilipeAphrody/sentinel-session/internal/metrics"
	"github.com/FilipeAphrody/sentinel-session/pkg/security"
)

// Next actions reported to callers after a successful step.
const (
	NextActionLogin         = "login"
	NextActionLogin2FA      = "login-2fa"
	NextActionResetPassword = "reset-password"
)

const defaultNotifyTimeout = 10 * time.Second

// Options holds the tunables of the engine.
type Options struct {
	OTPLength     int
	VerifyPageURL string
	ResetPageURL  string
	// NotifyTimeout bounds a single fire-and-forget notification.
	NotifyTimeout time.Duration
}

// Dependencies are the collaborators injected into the engine.
type Dependencies struct {
	Users    domain.UserRepository
	Sessions domain.SessionStore
	Attempts domain.AttemptTracker
	Hasher   domain.PasswordHasher
	Notifier domain.Notifier
	TOTP     *security.TOTP
	Sealer   *security.Sealer
	Registry *domain.Registry
	Logger   *zap.Logger
	// Metrics may be nil.
	Metrics *metrics.Metrics
}

// AuthUsecase is the session lifecycle engine. It holds no per-request state;
// all coordination goes through the session store.
type AuthUsecase struct {
	users    domain.UserRepository
	sessions domain.SessionStore
	attempts domain.AttemptTracker
	hasher   domain.PasswordHasher
	notifier domain.Notifier
	totp     *security.TOTP
	sealer   *security.Sealer
	registry *domain.Registry
	logger   *zap.Logger
	metrics  *metrics.Metrics
	opts     Options
	now      func() time.Time
}

func NewAuthUsecase(deps Dependencies, opts Options) *AuthUsecase {
	if opts.OTPLength <= 0 {
		opts.OTPLength = security.DefaultOTPLength
	}
	if opts.NotifyTimeout <= 0 {
		opts.NotifyTimeout = defaultNotifyTimeout
	}
	if deps.Registry == nil {
		deps.Registry = domain.NewRegistry(nil)
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &AuthUsecase{
		users:    deps.Users,
		sessions: deps.Sessions,
		attempts: deps.Attempts,
		hasher:   deps.Hasher,
		notifier: deps.Notifier,
		totp:     deps.TOTP,
		sealer:   deps.Sealer,
		registry: deps.Registry,
		logger:   deps.Logger.With(zap.String("component", "auth_usecase")),
		metrics:  deps.Metrics,
		opts:     opts,
		now:      time.Now,
	}
}

// SessionResult identifies a session created by an operation. Kind and
// ExpiresIn let the outward adapter pick cookie semantics.
type SessionResult struct {
	SessionID string             `json:"sessionId"`
	Kind      domain.SessionKind `json:"-"`
	ExpiresIn time.Duration      `json:"-"`
}

// LoginResult is returned by password and social login.
type LoginResult struct {
	SessionID    string                  `json:"sessionId"`
	Is2FAEnabled bool                    `json:"is2FaEnabled"`
	NextAction   string                  `json:"nextAction,omitempty"`
	Kind         domain.SessionKind      `json:"-"`
	ExpiresIn    time.Duration           `json:"-"`
	Identity     *domain.SessionMetadata `json:"-"`
}

// ValidationResult is returned by ValidateSession. SessionID and NextAction
// are set only when validation hands off to a new session.
type ValidationResult struct {
	Validated  bool                    `json:"validated"`
	SessionID  string                  `json:"sessionId,omitempty"`
	NextAction string                  `json:"nextAction,omitempty"`
	Kind       domain.SessionKind      `json:"-"`
	ExpiresIn  time.Duration           `json:"-"`
	Identity   *domain.SessionMetadata `json:"-"`
}

// TwoFactorSetup carries the one-time view of a freshly generated 2FA key.
type TwoFactorSetup struct {
	QRCode    string        `json:"qrCode"`
	Key       string        `json:"key"`
	SessionID string        `json:"sessionId"`
	ExpiresIn time.Duration `json:"-"`
}

type clientIPKey struct{}

// WithClientIP attaches the caller's address for the audit trail.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey{}, ip)
}

func clientIP(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey{}).(string)
	return ip
}

// audit writes a security event. Failures are logged, never returned.
func (u *AuthUsecase) audit(ctx context.Context, userID, event string, metadata map[string]interface{}) {
	if err := u.users.LogSecurityEvent(ctx, userID, event, clientIP(ctx), metadata); err != nil {
		u.logger.Warn("Failed to write security event", zap.String("event", event), zap.Error(err))
	}
}

// notify dispatches a message without blocking the caller. It must only be
// called after the store writes of the operation have been acknowledged.
func (u *AuthUsecase) notify(template, address string, data map[string]string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), u.opts.NotifyTimeout)
		defer cancel()
		if err := u.notifier.Send(ctx, template, address, data); err != nil {
			u.logger.Warn("Failed to send notification", zap.String("template", template), zap.Error(err))
		}
	}()
}

// identityOf builds the claims carried from one session to the next.
func (u *AuthUsecase) identityOf(user *domain.User) *domain.SessionMetadata {
	return &domain.SessionMetadata{
		UserID:    user.ID,
		Email:     user.Email,
		Role:      user.Role,
		CreatedAt: u.now().UTC(),
	}
}

// createLoginSession mints a LOGIN session under a fresh random id.
func (u *AuthUsecase) createLoginSession(ctx context.Context, identity *domain.SessionMetadata) (*SessionResult, error) {
	ttl := u.registry.TTL(domain.KindLogin)
	sess := &domain.Session{
		ID:       security.GenerateSessionID(),
		Kind:     domain.KindLogin,
		Email:    identity.Email,
		Metadata: identity,
	}
	if err := u.sessions.Create(ctx, sess, ttl); err != nil {
		return nil, domain.Internal(err)
	}
	return &SessionResult{SessionID: sess.ID, Kind: domain.KindLogin, ExpiresIn: ttl}, nil
}

// loadSession maps a missing key to missing and store faults to InternalError.
func (u *AuthUsecase) loadSession(ctx context.Context, kind domain.SessionKind, id string, missing error) (*domain.Session, error) {
	if id == "" {
		return nil, missing
	}
	sess, err := u.sessions.Get(ctx, kind, id)
	if errors.Is(err, domain.ErrSessionNotFound) {
		return nil, missing
	}
	if err != nil {
		return nil, domain.Internal(err)
	}
	return sess, nil
}

// consumeAttempt records a failed validation on sess. When the last attempt
// is spent the kind's exhausted policy applies and TooManyAttempts is returned;
// otherwise mismatch is returned.
func (u *AuthUsecase) consumeAttempt(ctx context.Context, sess *domain.Session, mismatch error) error {
	u.metrics.OTPFailed(sess.Kind)
	remaining, err := u.sessions.DecrementAttempts(ctx, sess.Kind, sess.ID)
	if errors.Is(err, domain.ErrSessionNotFound) {
		return mismatch
	}
	if err != nil {
		return domain.Internal(err)
	}
	if remaining > 0 {
		return mismatch
	}
	u.metrics.SessionExhausted(sess.Kind)

	switch u.registry.Policy(sess.Kind).Exhausted {
	case domain.ExhaustedCoolDown:
		err = u.sessions.Update(ctx, sess.Kind, sess.ID, domain.SessionUpdate{}, u.registry.ResendCoolDown)
		if errors.Is(err, domain.ErrSessionNotFound) {
			err = nil
		}
	default:
		_, err = u.sessions.Delete(ctx, sess.Kind, sess.ID)
	}
	if err != nil {
		return domain.Internal(err)
	}
	return domain.ErrTooManyAttempts
}

// continuationURL builds "{page}?session={id}", the link carried through resends.
func continuationURL(page, sessionID string) string {
	if page == "" {
		return ""
	}
	target, err := url.Parse(page)
	if err != nil {
		return ""
	}
	q := target.Query()
	q.Set("session", sessionID)
	target.RawQuery = q.Encode()
	return target.String()
}

// withOTP appends the code to a continuation link for the outgoing message.
func withOTP(link, otp string) string {
	if link == "" {
		return ""
	}
	target, err := url.Parse(link)
	if err != nil {
		return link
	}
	q := target.Query()
	q.Set("otp", otp)
	target.RawQuery = q.Encode()
	return target.String()
}
