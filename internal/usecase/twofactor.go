package usecase

import (
	"context"

	"github.com/FilipeAphrody/sentinel-session/internal/domain"
)

// Generate2FASession creates a new TOTP key and holds it, sealed, in a
// TWO_FACTOR_AUTHENTICATION_SETUP session until the user confirms a code.
// The plaintext key is returned exactly once.
func (u *AuthUsecase) Generate2FASession(ctx context.Context, userID string) (*TwoFactorSetup, error) {
	user, err := u.users.GetByID(ctx, userID)
	if err != nil {
		return nil, domain.Internal(err)
	}
	if user.MFAEnabled {
		return nil, domain.ErrMFAAlreadyEnabled
	}

	secret, err := u.totp.Generate(user.Email)
	if err != nil {
		return nil, domain.Internal(err)
	}
	sealed, err := u.sealer.Seal(secret.Key)
	if err != nil {
		return nil, domain.Internal(err)
	}

	ttl := u.registry.TTL(domain.KindTwoFactorSetup)
	sess := &domain.Session{
		ID:                domain.NormalizeEmail(user.Email),
		Kind:              domain.KindTwoFactorSetup,
		Email:             user.Email,
		Secret:            sealed,
		RemainingAttempts: u.registry.MaxAttempts,
	}
	if err := u.sessions.Create(ctx, sess, ttl); err != nil {
		return nil, domain.Internal(err)
	}

	return &TwoFactorSetup{
		QRCode:    secret.QRCode,
		Key:       secret.Key,
		SessionID: sess.ID,
		ExpiresIn: ttl,
	}, nil
}

// Enable2FA confirms the pending key with a code and stores it on the user.
func (u *AuthUsecase) Enable2FA(ctx context.Context, userID, code, sessionID string) error {
	user, err := u.users.GetByID(ctx, userID)
	if err != nil {
		return domain.Internal(err)
	}
	if user.MFAEnabled {
		return domain.ErrMFAAlreadyEnabled
	}

	sess, err := u.loadSession(ctx, domain.KindTwoFactorSetup, sessionID, domain.ErrInvalidSession)
	if err != nil {
		return err
	}
	// the setup session must belong to the caller
	if domain.NormalizeEmail(sess.Email) != domain.NormalizeEmail(user.Email) {
		return domain.ErrInvalidSession
	}
	if sess.RemainingAttempts <= 0 {
		return domain.ErrTooManyAttempts
	}

	key, err := u.sealer.Open(sess.Secret)
	if err != nil {
		return domain.Internal(err)
	}
	if !u.totp.Validate(code, key, u.now()) {
		return u.consumeAttempt(ctx, sess, domain.ErrInvalidOTP)
	}

	user.MFAEnabled = true
	user.MFASecret = sess.Secret
	if err := u.users.Update(ctx, user); err != nil {
		return domain.Internal(err)
	}
	if _, err := u.sessions.Delete(ctx, domain.KindTwoFactorSetup, sessionID); err != nil {
		return domain.Internal(err)
	}

	u.audit(ctx, user.ID, domain.EventMFAEnabled, nil)
	return nil
}

// Disable2FA verifies a code against the stored key and removes it. Failed
// codes count against a per-user lockout record; a blocked user is refused
// before the code is checked.
func (u *AuthUsecase) Disable2FA(ctx context.Context, userID, code string) error {
	user, err := u.users.GetByID(ctx, userID)
	if err != nil {
		return domain.Internal(err)
	}
	if !user.MFAEnabled || user.MFASecret == "" {
		return domain.ErrMFANotEnabled
	}

	record, err := u.attempts.GetFailedAttempts(ctx, domain.AttemptScopeDisable2FA, user.Email)
	if err != nil {
		return domain.Internal(err)
	}
	if record != nil && record.BlockStatus {
		return domain.ErrTooManyAttempts
	}

	key, err := u.sealer.Open(user.MFASecret)
	if err != nil {
		return domain.Internal(err)
	}
	if !u.totp.Validate(code, key, u.now()) {
		record, err := u.attempts.RecordFailedAttempt(ctx, domain.AttemptScopeDisable2FA, user.Email)
		if err != nil {
			return domain.Internal(err)
		}
		u.metrics.OTPFailed(domain.AttemptScopeDisable2FA)
		u.audit(ctx, user.ID, domain.EventMFAFailed, map[string]interface{}{
			"action":            "disable",
			"attemptsRemaining": record.AttemptsRemaining,
			"blocked":           record.BlockStatus,
		})
		if record.BlockStatus {
			u.metrics.LockedOut(domain.AttemptScopeDisable2FA)
			return domain.ErrTooManyAttempts
		}
		return domain.ErrInvalidOTP
	}

	user.MFAEnabled = false
	user.MFASecret = ""
	if err := u.users.Update(ctx, user); err != nil {
		return domain.Internal(err)
	}
	if err := u.attempts.Reset(ctx, domain.AttemptScopeDisable2FA, user.Email); err != nil {
		return domain.Internal(err)
	}

	u.audit(ctx, user.ID, domain.EventMFADisabled, nil)
	return nil
}
