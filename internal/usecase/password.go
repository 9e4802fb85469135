package usecase

import (
	"context"

	"github.com/FilipeAphrody/sentinel-session/internal/domain"
	"github.com/FilipeAphrody/sentinel-session/pkg/security"
)

// ForgetPassword opens a FORGET_PASSWORD session keyed by the normalized email.
// A request made while that session is live counts as a resend.
func (u *AuthUsecase) ForgetPassword(ctx context.Context, email string) (*SessionResult, error) {
	email = domain.NormalizeEmail(email)

	if _, err := u.users.GetByEmail(ctx, email); err != nil {
		return nil, domain.Internal(err)
	}
	if res, reissued, err := u.reissueOTPSession(ctx, domain.KindForgetPassword, email); reissued || err != nil {
		return res, err
	}
	return u.issueOTPSession(ctx, domain.KindForgetPassword, email, u.opts.ResetPageURL)
}

// validateForgetPassword exchanges a verified FORGET_PASSWORD session for a
// fresh RESET_PASSWORD session under a new random id.
func (u *AuthUsecase) validateForgetPassword(ctx context.Context, id, otp string) (*ValidationResult, error) {
	sess, err := u.checkOTP(ctx, domain.KindForgetPassword, id, otp)
	if err != nil {
		return nil, err
	}

	ttl := u.registry.TTL(domain.KindResetPassword)
	reset := &domain.Session{
		ID:    security.GenerateSessionID(),
		Kind:  domain.KindResetPassword,
		Email: sess.Email,
	}
	if err := u.sessions.Create(ctx, reset, ttl); err != nil {
		return nil, domain.Internal(err)
	}
	if _, err := u.sessions.Delete(ctx, domain.KindForgetPassword, id); err != nil {
		return nil, domain.Internal(err)
	}

	return &ValidationResult{
		Validated:  true,
		SessionID:  reset.ID,
		NextAction: NextActionResetPassword,
		Kind:       domain.KindResetPassword,
		ExpiresIn:  ttl,
	}, nil
}

// ResetPassword sets a new password for the owner of a RESET_PASSWORD session
// and consumes the session. A successful reset also lifts any login lockout.
func (u *AuthUsecase) ResetPassword(ctx context.Context, sessionID, newPassword string) error {
	sess, err := u.loadSession(ctx, domain.KindResetPassword, sessionID, domain.ErrSessionNotFound)
	if err != nil {
		return err
	}

	user, err := u.users.GetByEmail(ctx, sess.Email)
	if err != nil {
		return domain.Internal(err)
	}
	hash, err := u.hasher.Hash(newPassword)
	if err != nil {
		return domain.Internal(err)
	}
	user.PasswordHash = hash
	if err := u.users.Update(ctx, user); err != nil {
		return domain.Internal(err)
	}
	if _, err := u.sessions.Delete(ctx, domain.KindResetPassword, sessionID); err != nil {
		return domain.Internal(err)
	}
	if err := u.attempts.Reset(ctx, domain.KindLogin, user.Email); err != nil {
		return domain.Internal(err)
	}

	u.audit(ctx, user.ID, domain.EventPasswordReset, nil)
	return nil
}
