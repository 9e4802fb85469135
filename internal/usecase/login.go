package usecase

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/FilipeAphrody/sentinel-session/internal/domain"
	"github.com/FilipeAphrody/sentinel-session/internal/metrics"
	"github.com/FilipeAphrody/sentinel-session/pkg/security"
)

// Login handles the first step of authentication: validating credentials.
// A blocked identity is rejected before the password is compared.
func (u *AuthUsecase) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	email = domain.NormalizeEmail(email)

	record, err := u.attempts.GetFailedAttempts(ctx, domain.KindLogin, email)
	if err != nil {
		return nil, domain.Internal(err)
	}
	if record != nil && record.BlockStatus {
		u.audit(ctx, "", domain.EventLoginBlocked, map[string]interface{}{"email": email})
		u.metrics.Login(metrics.LoginLocked)
		return nil, domain.ErrAccountLocked
	}

	user, err := u.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, domain.Internal(err)
	}
	if user.AccountStatus != domain.AccountActive {
		return nil, domain.ErrAccountInactive
	}

	// 1. Verify Password using Argon2id
	match, err := u.hasher.Compare(password, user.PasswordHash)
	if err != nil || !match {
		if err != nil {
			u.logger.Warn("Stored password hash is unreadable", zap.String("user_id", user.ID), zap.Error(err))
		}
		record, err := u.attempts.RecordFailedAttempt(ctx, domain.KindLogin, email)
		if err != nil {
			return nil, domain.Internal(err)
		}
		u.audit(ctx, user.ID, domain.EventLoginFailed, map[string]interface{}{
			"attemptsRemaining": record.AttemptsRemaining,
			"blocked":           record.BlockStatus,
		})
		u.metrics.Login(metrics.LoginFailure)
		if record.BlockStatus {
			u.metrics.LockedOut(domain.KindLogin)
		}
		return nil, domain.ErrInvalidCredentials
	}

	if err := u.attempts.Reset(ctx, domain.KindLogin, email); err != nil {
		return nil, domain.Internal(err)
	}
	u.metrics.Login(metrics.LoginSuccess)

	// 2. Challenge for the second factor or open the session directly
	return u.startSession(ctx, user)
}

// startSession opens either a LOGIN_2FA challenge or a LOGIN session for user.
func (u *AuthUsecase) startSession(ctx context.Context, user *domain.User) (*LoginResult, error) {
	identity := u.identityOf(user)

	if user.MFAEnabled && user.MFASecret != "" {
		ttl := u.registry.TTL(domain.KindLogin2FA)
		challenge := &domain.Session{
			ID:                security.GenerateSessionID(),
			Kind:              domain.KindLogin2FA,
			Email:             user.Email,
			Secret:            user.MFASecret,
			RemainingAttempts: u.registry.MaxAttempts,
			Metadata:          identity,
		}
		if err := u.sessions.Create(ctx, challenge, ttl); err != nil {
			return nil, domain.Internal(err)
		}
		u.audit(ctx, user.ID, domain.EventMFAChallenge, nil)
		return &LoginResult{
			SessionID:    challenge.ID,
			Is2FAEnabled: true,
			NextAction:   NextActionLogin2FA,
			Kind:         domain.KindLogin2FA,
			ExpiresIn:    ttl,
		}, nil
	}

	sess, err := u.createLoginSession(ctx, identity)
	if err != nil {
		return nil, err
	}
	u.audit(ctx, user.ID, domain.EventLoginSuccess, nil)
	return &LoginResult{
		SessionID:  sess.SessionID,
		NextAction: NextActionLogin,
		Kind:       domain.KindLogin,
		ExpiresIn:  sess.ExpiresIn,
		Identity:   identity,
	}, nil
}

// validateLogin2FA verifies the time-based code of a LOGIN_2FA challenge and
// exchanges it for a LOGIN session.
func (u *AuthUsecase) validateLogin2FA(ctx context.Context, id, code string) (*ValidationResult, error) {
	challenge, err := u.loadSession(ctx, domain.KindLogin2FA, id, domain.ErrSessionNotFound)
	if err != nil {
		return nil, err
	}
	if challenge.RemainingAttempts <= 0 {
		return nil, domain.ErrTooManyAttempts
	}

	key, err := u.sealer.Open(challenge.Secret)
	if err != nil {
		return nil, domain.Internal(err)
	}
	if !u.totp.Validate(code, key, u.now()) {
		userID := ""
		if challenge.Metadata != nil {
			userID = challenge.Metadata.UserID
		}
		u.audit(ctx, userID, domain.EventMFAFailed, nil)
		return nil, u.consumeAttempt(ctx, challenge, domain.ErrInvalidOTP)
	}

	identity := challenge.Metadata
	if identity == nil {
		user, err := u.users.GetByEmail(ctx, challenge.Email)
		if err != nil {
			return nil, domain.Internal(err)
		}
		identity = u.identityOf(user)
	}
	identity.CreatedAt = u.now().UTC()

	sess, err := u.createLoginSession(ctx, identity)
	if err != nil {
		return nil, err
	}
	if _, err := u.sessions.Delete(ctx, domain.KindLogin2FA, id); err != nil {
		return nil, domain.Internal(err)
	}

	u.audit(ctx, identity.UserID, domain.EventLoginSuccess, map[string]interface{}{"mfa": true})
	return &ValidationResult{
		Validated:  true,
		SessionID:  sess.SessionID,
		NextAction: NextActionLogin,
		Kind:       domain.KindLogin,
		ExpiresIn:  sess.ExpiresIn,
		Identity:   identity,
	}, nil
}

// Logout deletes the LOGIN session. Deleting an absent session is not an error;
// presenting no session id at all is.
func (u *AuthUsecase) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return domain.ErrAlreadyLoggedOut
	}

	sess, err := u.sessions.Get(ctx, domain.KindLogin, sessionID)
	if err != nil && !errors.Is(err, domain.ErrSessionNotFound) {
		return domain.Internal(err)
	}
	if _, err := u.sessions.Delete(ctx, domain.KindLogin, sessionID); err != nil {
		return domain.Internal(err)
	}
	if sess != nil && sess.Metadata != nil {
		u.audit(ctx, sess.Metadata.UserID, domain.EventLogout, nil)
	}
	return nil
}

// Authenticate resolves a LOGIN session id to the identity it carries.
func (u *AuthUsecase) Authenticate(ctx context.Context, sessionID string) (*domain.SessionMetadata, error) {
	sess, err := u.loadSession(ctx, domain.KindLogin, sessionID, domain.ErrInvalidSession)
	if err != nil {
		return nil, err
	}
	if sess.Metadata == nil || sess.Metadata.UserID == "" {
		return nil, domain.ErrInvalidSession
	}

	// status changes apply to sessions opened before them
	user, err := u.users.GetByID(ctx, sess.Metadata.UserID)
	if errors.Is(err, domain.ErrUserNotFound) {
		return nil, domain.ErrInvalidSession
	}
	if err != nil {
		return nil, domain.Internal(err)
	}
	if user.AccountStatus != domain.AccountActive {
		if _, err := u.sessions.Delete(ctx, domain.KindLogin, sessionID); err != nil {
			return nil, domain.Internal(err)
		}
		return nil, domain.ErrAccountInactive
	}
	return sess.Metadata, nil
}

// SocialLoginInput carries an email already verified by an external provider.
type SocialLoginInput struct {
	Email    string
	Name     string
	Provider string
}

// SocialLogin signs in (creating the account when needed) a federated identity.
// Any failure other than an inactive account surfaces as an opaque InternalError.
func (u *AuthUsecase) SocialLogin(ctx context.Context, in SocialLoginInput) (*LoginResult, error) {
	res, err := u.socialLogin(ctx, in)
	if err == nil {
		return res, nil
	}
	if errors.Is(err, domain.ErrAccountInactive) {
		return nil, err
	}
	u.logger.Error("Social login failed", zap.String("provider", in.Provider), zap.Error(err))
	return nil, domain.NewError(domain.KindInternal, "something went wrong")
}

func (u *AuthUsecase) socialLogin(ctx context.Context, in SocialLoginInput) (*LoginResult, error) {
	email := domain.NormalizeEmail(in.Email)
	if email == "" {
		return nil, errors.New("provider returned no email")
	}

	user, err := u.users.GetByEmail(ctx, email)
	if err == nil {
		if user.AccountStatus != domain.AccountActive {
			return nil, domain.ErrAccountInactive
		}
		u.audit(ctx, user.ID, domain.EventSocialLogin, map[string]interface{}{"provider": in.Provider})
		return u.startSession(ctx, user)
	}
	if !errors.Is(err, domain.ErrUserNotFound) {
		return nil, err
	}

	// the local password is random and never disclosed
	hash, err := u.hasher.Hash(uuid.NewString())
	if err != nil {
		return nil, err
	}
	user = &domain.User{
		Email:           email,
		Name:            in.Name,
		PasswordHash:    hash,
		Role:            domain.DefaultRole,
		AccountStatus:   domain.AccountActive,
		IsEmailVerified: true,
		SocialProvider:  in.Provider,
	}
	if err := u.users.Create(ctx, user); err != nil {
		return nil, err
	}
	u.audit(ctx, user.ID, domain.EventUserRegistered, map[string]interface{}{"provider": in.Provider})

	return u.startSession(ctx, user)
}
