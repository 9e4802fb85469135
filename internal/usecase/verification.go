package usecase

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/FilipeAphrody/sentinel-session/internal/domain"
	"github.com/FilipeAphrody/sentinel-session/pkg/security"
)

// RegisterInput is the payload of CreateUser.
type RegisterInput struct {
	Email    string
	Password string
	Name     string
}

// CreateUser persists a new account and opens its ACCOUNT_VERIFICATION session.
// The returned session id is the normalized email.
func (u *AuthUsecase) CreateUser(ctx context.Context, in RegisterInput) (*SessionResult, error) {
	email := domain.NormalizeEmail(in.Email)

	_, err := u.users.GetByEmail(ctx, email)
	switch {
	case err == nil:
		return nil, domain.ErrUserExists
	case !errors.Is(err, domain.ErrUserNotFound):
		return nil, domain.Internal(err)
	}

	hash, err := u.hasher.Hash(in.Password)
	if err != nil {
		return nil, domain.Internal(err)
	}

	user := &domain.User{
		Email:         email,
		Name:          in.Name,
		PasswordHash:  hash,
		Role:          domain.DefaultRole,
		AccountStatus: domain.AccountActive,
	}
	if err := u.users.Create(ctx, user); err != nil {
		return nil, domain.Internal(err)
	}
	u.audit(ctx, user.ID, domain.EventUserRegistered, nil)

	return u.issueOTPSession(ctx, domain.KindAccountVerification, email, u.opts.VerifyPageURL)
}

// RequestEmailVerification opens an EMAIL_VERIFICATION session for a signed-in
// user whose address is not yet verified. Asking again while the session is
// live spends one resend.
func (u *AuthUsecase) RequestEmailVerification(ctx context.Context, userID string) (*SessionResult, error) {
	user, err := u.users.GetByID(ctx, userID)
	if err != nil {
		return nil, domain.Internal(err)
	}
	if user.IsEmailVerified {
		return nil, domain.ErrEmailVerified
	}

	email := domain.NormalizeEmail(user.Email)
	if res, reissued, err := u.reissueOTPSession(ctx, domain.KindEmailVerification, email); reissued || err != nil {
		return res, err
	}
	return u.issueOTPSession(ctx, domain.KindEmailVerification, email, u.opts.VerifyPageURL)
}

// issueOTPSession creates an identity-bound OTP session keyed by email and
// sends the code once the session is stored.
func (u *AuthUsecase) issueOTPSession(ctx context.Context, kind domain.SessionKind, email, page string) (*SessionResult, error) {
	otp, err := security.GenerateOTP(u.opts.OTPLength)
	if err != nil {
		return nil, domain.Internal(err)
	}

	ttl := u.registry.TTL(kind)
	sess := &domain.Session{
		ID:                email,
		Kind:              kind,
		Email:             email,
		OTP:               otp,
		RedirectURL:       continuationURL(page, email),
		RemainingAttempts: u.registry.MaxAttempts,
	}
	if err := u.sessions.Create(ctx, sess, ttl); err != nil {
		return nil, domain.Internal(err)
	}

	u.sendOTP(sess, otp)
	return &SessionResult{SessionID: sess.ID, Kind: kind, ExpiresIn: ttl}, nil
}

// reissueOTPSession routes a repeated request for an identity-bound session
// through the resend budget, so restarting a flow never refills its attempts.
// It reports false when no session of that kind is live.
func (u *AuthUsecase) reissueOTPSession(ctx context.Context, kind domain.SessionKind, id string) (*SessionResult, bool, error) {
	live, err := u.sessions.Exists(ctx, kind, id)
	if err != nil {
		return nil, false, domain.Internal(err)
	}
	if !live {
		return nil, false, nil
	}

	res, err := u.ResendOTP(ctx, kind, id)
	if errors.Is(err, domain.ErrInvalidSession) {
		// expired since the check
		return nil, false, nil
	}
	if err != nil {
		return nil, true, err
	}
	return res, true, nil
}

func templateFor(kind domain.SessionKind) string {
	switch kind {
	case domain.KindAccountVerification:
		return domain.TemplateAccountVerification
	case domain.KindEmailVerification:
		return domain.TemplateEmailVerification
	case domain.KindForgetPassword:
		return domain.TemplateForgetPassword
	}
	return ""
}

func (u *AuthUsecase) sendOTP(sess *domain.Session, otp string) {
	u.notify(templateFor(sess.Kind), sess.Email, map[string]string{
		"otp":       otp,
		"url":       withOTP(sess.RedirectURL, otp),
		"sessionId": sess.ID,
	})
}

// ResendOTP issues a fresh code for a resendable session. Every resend spends
// one attempt; the resend that spends the last one issues no code and parks the
// session for the cool-down period instead.
func (u *AuthUsecase) ResendOTP(ctx context.Context, kind domain.SessionKind, id string) (*SessionResult, error) {
	policy := u.registry.Policy(kind)
	if !policy.Resendable {
		return nil, domain.ErrKindNotResendable
	}

	sess, err := u.loadSession(ctx, kind, id, domain.ErrInvalidSession)
	if err != nil {
		return nil, err
	}
	if sess.RemainingAttempts <= 0 {
		return nil, domain.ErrTooManyAttempts
	}

	remaining, err := u.sessions.DecrementAttempts(ctx, kind, id)
	if errors.Is(err, domain.ErrSessionNotFound) {
		return nil, domain.ErrInvalidSession
	}
	if err != nil {
		return nil, domain.Internal(err)
	}

	if remaining == 0 {
		u.metrics.SessionExhausted(kind)
		ttl := u.registry.ResendCoolDown
		if err := u.sessions.Update(ctx, kind, id, domain.SessionUpdate{}, ttl); err != nil {
			return nil, domain.Internal(err)
		}
		u.logger.Info("OTP session exhausted", zap.String("sessionType", string(kind)))
		return &SessionResult{SessionID: id, Kind: kind, ExpiresIn: ttl}, nil
	}

	otp, err := security.GenerateOTP(u.opts.OTPLength)
	if err != nil {
		return nil, domain.Internal(err)
	}
	if err := u.sessions.Update(ctx, kind, id, domain.SessionUpdate{OTP: &otp}, policy.TTL); err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return nil, domain.ErrInvalidSession
		}
		return nil, domain.Internal(err)
	}

	u.sendOTP(sess, otp)
	return &SessionResult{SessionID: id, Kind: kind, ExpiresIn: policy.TTL}, nil
}

// ValidateSession checks an OTP against the session of the given kind and
// performs the transition that kind leads to.
func (u *AuthUsecase) ValidateSession(ctx context.Context, kind domain.SessionKind, id, otp string) (*ValidationResult, error) {
	switch kind {
	case domain.KindAccountVerification, domain.KindEmailVerification:
		return u.validateVerification(ctx, kind, id, otp)
	case domain.KindForgetPassword:
		return u.validateForgetPassword(ctx, id, otp)
	case domain.KindLogin2FA:
		return u.validateLogin2FA(ctx, id, otp)
	}
	return nil, domain.ErrKindNotValidatable
}

// checkOTP loads an OTP session and compares the code exactly.
func (u *AuthUsecase) checkOTP(ctx context.Context, kind domain.SessionKind, id, otp string) (*domain.Session, error) {
	sess, err := u.loadSession(ctx, kind, id, domain.ErrInvalidSession)
	if err != nil {
		return nil, err
	}
	if sess.RemainingAttempts <= 0 {
		return nil, domain.ErrTooManyAttempts
	}
	if sess.OTP == "" || sess.OTP != otp {
		return nil, u.consumeAttempt(ctx, sess, domain.ErrInvalidSession)
	}
	return sess, nil
}

func (u *AuthUsecase) validateVerification(ctx context.Context, kind domain.SessionKind, id, otp string) (*ValidationResult, error) {
	sess, err := u.checkOTP(ctx, kind, id, otp)
	if err != nil {
		return nil, err
	}

	user, err := u.users.GetByEmail(ctx, sess.Email)
	if err != nil {
		return nil, domain.Internal(err)
	}
	user.IsEmailVerified = true
	if err := u.users.Update(ctx, user); err != nil {
		return nil, domain.Internal(err)
	}
	if _, err := u.sessions.Delete(ctx, kind, id); err != nil {
		return nil, domain.Internal(err)
	}

	u.audit(ctx, user.ID, domain.EventEmailVerified, map[string]interface{}{"sessionType": string(kind)})
	return &ValidationResult{Validated: true}, nil
}
