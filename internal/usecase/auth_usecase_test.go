package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/FilipeAphrody/sentinel-session/internal/domain"
	"github.com/FilipeAphrody/sentinel-session/internal/metrics"
	"github.com/FilipeAphrody/sentinel-session/internal/repository"
	"github.com/FilipeAphrody/sentinel-session/pkg/security"
)

const (
	testEmail    = "a@b.com"
	testPassword = "Secret123!"
	sealingKey   = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"
)

type sentMessage struct {
	Template string
	Address  string
	Data     map[string]string
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (n *recordingNotifier) Send(_ context.Context, template, address string, data map[string]string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentMessage{Template: template, Address: address, Data: data})
	return nil
}

func (n *recordingNotifier) messages() []sentMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]sentMessage(nil), n.sent...)
}

type fixture struct {
	uc       *AuthUsecase
	mr       *miniredis.Miniredis
	rdb      *redis.Client
	users    *repository.MemoryUserRepo
	notifier *recordingNotifier
	totp     *security.TOTP
	metrics  *metrics.Metrics
	now      time.Time
}

func newFixture(t *testing.T, registry *domain.Registry) *fixture {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		rdb.Close()
		mr.Close()
	})

	sealer, err := security.NewSealer(sealingKey)
	require.NoError(t, err)

	f := &fixture{
		mr:       mr,
		rdb:      rdb,
		users:    repository.NewMemoryUserRepo(),
		notifier: &recordingNotifier{},
		totp:     security.NewTOTP("Sentinel"),
		metrics:  metrics.New(prometheus.NewRegistry()),
		now:      time.Unix(1_700_000_015, 0).UTC(),
	}
	f.uc = NewAuthUsecase(Dependencies{
		Users:    f.users,
		Sessions: repository.NewRedisSessionStore(rdb, zap.NewNop()),
		Attempts: repository.NewRedisAttemptRepo(rdb, repository.LockoutPolicy{MaxAttempts: 3, Window: time.Hour}, zap.NewNop()),
		Hasher:   &security.Argon2Hasher{Params: security.HashParams{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}},
		Notifier: f.notifier,
		TOTP:     f.totp,
		Sealer:   sealer,
		Registry: registry,
		Logger:   zap.NewNop(),
		Metrics:  f.metrics,
	}, Options{
		VerifyPageURL: "http://localhost:3000/verify",
		ResetPageURL:  "http://localhost:3000/reset-password",
	})
	f.uc.now = func() time.Time { return f.now }
	return f
}

func (f *fixture) register(t *testing.T, email string) *domain.User {
	t.Helper()
	_, err := f.uc.CreateUser(context.Background(), RegisterInput{Email: email, Password: testPassword})
	require.NoError(t, err)
	user, err := f.users.GetByEmail(context.Background(), email)
	require.NoError(t, err)
	return user
}

func (f *fixture) sessionOTP(t *testing.T, kind domain.SessionKind, id string) string {
	t.Helper()
	otp, err := f.rdb.HGet(context.Background(), kind.Key(id), "otp").Result()
	require.NoError(t, err)
	return otp
}

func (f *fixture) remaining(t *testing.T, kind domain.SessionKind, id string) string {
	t.Helper()
	v, err := f.rdb.HGet(context.Background(), kind.Key(id), "remainingAttempts").Result()
	require.NoError(t, err)
	return v
}

func (f *fixture) code(t *testing.T, key string) string {
	t.Helper()
	code, err := f.totp.Code(key, f.now)
	require.NoError(t, err)
	return code
}

// wrongCode returns a code that no window around f.now accepts.
func (f *fixture) wrongCode(t *testing.T, key string) string {
	t.Helper()
	valid := map[string]bool{}
	for _, step := range []time.Duration{-30 * time.Second, 0, 30 * time.Second} {
		code, err := f.totp.Code(key, f.now.Add(step))
		require.NoError(t, err)
		valid[code] = true
	}
	for i := 0; ; i++ {
		candidate := fmt.Sprintf("%06d", i)
		if !valid[candidate] {
			return candidate
		}
	}
}

// enable2FA turns on 2FA for user and returns the plaintext key.
func (f *fixture) enable2FA(t *testing.T, user *domain.User) string {
	t.Helper()
	ctx := context.Background()
	setup, err := f.uc.Generate2FASession(ctx, user.ID)
	require.NoError(t, err)
	require.NoError(t, f.uc.Enable2FA(ctx, user.ID, f.code(t, setup.Key), setup.SessionID))
	return setup.Key
}

func assertKind(t *testing.T, want domain.ErrorKind, err error) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, want, domain.KindOf(err), err.Error())
}

func TestCreateUserOpensVerificationSession(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	res, err := f.uc.CreateUser(ctx, RegisterInput{Email: testEmail, Password: testPassword})
	require.NoError(t, err)
	assert.Equal(t, testEmail, res.SessionID)
	assert.Equal(t, domain.KindAccountVerification, res.Kind)

	assert.True(t, f.mr.Exists("ACCOUNT_VERIFICATION:a@b.com"))
	assert.Equal(t, "5", f.remaining(t, domain.KindAccountVerification, testEmail))
	assert.Equal(t, 10*time.Minute, f.mr.TTL("ACCOUNT_VERIFICATION:a@b.com"))

	otp := f.sessionOTP(t, domain.KindAccountVerification, testEmail)
	assert.Len(t, otp, 6)

	require.Eventually(t, func() bool { return len(f.notifier.messages()) == 1 }, time.Second, 10*time.Millisecond)
	msg := f.notifier.messages()[0]
	assert.Equal(t, domain.TemplateAccountVerification, msg.Template)
	assert.Equal(t, testEmail, msg.Address)
	assert.Equal(t, otp, msg.Data["otp"])
	assert.Contains(t, msg.Data["url"], "session=a%40b.com")

	_, err = f.uc.CreateUser(ctx, RegisterInput{Email: "A@B.com", Password: testPassword})
	assertKind(t, domain.KindConflict, err)
}

func TestValidateAccountVerification(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.register(t, testEmail)
	otp := f.sessionOTP(t, domain.KindAccountVerification, testEmail)

	_, err := f.uc.ValidateSession(ctx, domain.KindAccountVerification, testEmail, "not-it")
	assertKind(t, domain.KindInvalidSession, err)
	assert.Equal(t, "4", f.remaining(t, domain.KindAccountVerification, testEmail))

	res, err := f.uc.ValidateSession(ctx, domain.KindAccountVerification, testEmail, otp)
	require.NoError(t, err)
	assert.True(t, res.Validated)
	assert.Empty(t, res.SessionID)
	assert.False(t, f.mr.Exists("ACCOUNT_VERIFICATION:a@b.com"))

	user, err := f.users.GetByEmail(ctx, testEmail)
	require.NoError(t, err)
	assert.True(t, user.IsEmailVerified)

	_, err = f.uc.ValidateSession(ctx, domain.KindAccountVerification, testEmail, otp)
	assertKind(t, domain.KindInvalidSession, err)
}

func TestValidationExhaustionCoolsDown(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.register(t, testEmail)
	otp := f.sessionOTP(t, domain.KindAccountVerification, testEmail)

	for i := 0; i < 4; i++ {
		_, err := f.uc.ValidateSession(ctx, domain.KindAccountVerification, testEmail, "bad")
		assertKind(t, domain.KindInvalidSession, err)
	}
	_, err := f.uc.ValidateSession(ctx, domain.KindAccountVerification, testEmail, "bad")
	assertKind(t, domain.KindTooManyAttempts, err)
	assert.Equal(t, 24*time.Hour, f.mr.TTL("ACCOUNT_VERIFICATION:a@b.com"))

	_, err = f.uc.ValidateSession(ctx, domain.KindAccountVerification, testEmail, otp)
	assertKind(t, domain.KindTooManyAttempts, err)
}

func TestResendOTPAttemptBudget(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.register(t, testEmail)
	key := "ACCOUNT_VERIFICATION:a@b.com"

	previous := f.sessionOTP(t, domain.KindAccountVerification, testEmail)
	for i := 1; i <= 4; i++ {
		f.mr.FastForward(time.Minute)
		res, err := f.uc.ResendOTP(ctx, domain.KindAccountVerification, testEmail)
		require.NoError(t, err)
		assert.Equal(t, testEmail, res.SessionID)
		assert.Equal(t, fmt.Sprint(5-i), f.remaining(t, domain.KindAccountVerification, testEmail))
		assert.Equal(t, 10*time.Minute, f.mr.TTL(key))
		current := f.sessionOTP(t, domain.KindAccountVerification, testEmail)
		assert.Len(t, current, 6)
		previous = current
	}

	res, err := f.uc.ResendOTP(ctx, domain.KindAccountVerification, testEmail)
	require.NoError(t, err)
	assert.Equal(t, testEmail, res.SessionID)
	assert.Equal(t, "0", f.remaining(t, domain.KindAccountVerification, testEmail))
	assert.Equal(t, 24*time.Hour, f.mr.TTL(key))
	assert.Equal(t, previous, f.sessionOTP(t, domain.KindAccountVerification, testEmail), "exhausting resend issues no code")

	_, err = f.uc.ResendOTP(ctx, domain.KindAccountVerification, testEmail)
	assertKind(t, domain.KindTooManyAttempts, err)

	// registration mail plus four resends
	require.Eventually(t, func() bool { return len(f.notifier.messages()) == 5 }, time.Second, 10*time.Millisecond)
}

func TestResendOTPRejectsUnsupportedKinds(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.uc.ResendOTP(ctx, domain.KindLogin2FA, "x")
	assert.ErrorIs(t, err, domain.ErrKindNotResendable)

	_, err = f.uc.ResendOTP(ctx, domain.KindForgetPassword, "ghost@example.com")
	assertKind(t, domain.KindInvalidSession, err)
}

func TestValidateSessionRejectsUnsupportedKinds(t *testing.T) {
	f := newFixture(t, nil)

	for _, kind := range []domain.SessionKind{domain.KindLogin, domain.KindResetPassword, domain.KindTwoFactorSetup} {
		_, err := f.uc.ValidateSession(context.Background(), kind, "x", "123456")
		assert.ErrorIs(t, err, domain.ErrKindNotValidatable, kind)
	}
}

func TestForgetPasswordHandoff(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.register(t, testEmail)

	_, err := f.uc.ForgetPassword(ctx, "ghost@example.com")
	assertKind(t, domain.KindNotFound, err)

	res, err := f.uc.ForgetPassword(ctx, " A@B.com ")
	require.NoError(t, err)
	assert.Equal(t, testEmail, res.SessionID)
	assert.Equal(t, 10*time.Minute, f.mr.TTL("FORGET_PASSWORD:a@b.com"))
	assert.True(t, f.mr.Exists("ACCOUNT_VERIFICATION:a@b.com"), "kinds are independent namespaces")

	otp := f.sessionOTP(t, domain.KindForgetPassword, testEmail)
	validated, err := f.uc.ValidateSession(ctx, domain.KindForgetPassword, testEmail, otp)
	require.NoError(t, err)
	assert.True(t, validated.Validated)
	assert.Equal(t, NextActionResetPassword, validated.NextAction)
	assert.NotEqual(t, testEmail, validated.SessionID)
	assert.False(t, f.mr.Exists("FORGET_PASSWORD:a@b.com"))
	assert.True(t, f.mr.Exists("ACCOUNT_VERIFICATION:a@b.com"))

	resetKey := domain.KindResetPassword.Key(validated.SessionID)
	assert.True(t, f.mr.Exists(resetKey))
	assert.Equal(t, 5*time.Minute, f.mr.TTL(resetKey))

	require.NoError(t, f.uc.ResetPassword(ctx, validated.SessionID, "N3wPassword!"))
	assert.False(t, f.mr.Exists(resetKey))

	err = f.uc.ResetPassword(ctx, validated.SessionID, "again")
	assertKind(t, domain.KindNotFound, err)

	_, err = f.uc.Login(ctx, testEmail, testPassword)
	assertKind(t, domain.KindInvalidCredentials, err)
	_, err = f.uc.Login(ctx, testEmail, "N3wPassword!")
	require.NoError(t, err)
}

func TestExpiredForgetPasswordSession(t *testing.T) {
	f := newFixture(t, domain.NewRegistry(map[domain.SessionKind]time.Duration{
		domain.KindForgetPassword: time.Second,
	}))
	ctx := context.Background()
	f.register(t, testEmail)

	_, err := f.uc.ForgetPassword(ctx, testEmail)
	require.NoError(t, err)
	otp := f.sessionOTP(t, domain.KindForgetPassword, testEmail)

	f.mr.FastForward(2 * time.Second)

	_, err = f.uc.ValidateSession(ctx, domain.KindForgetPassword, testEmail, otp)
	assertKind(t, domain.KindInvalidSession, err)
}

func TestForgetPasswordRefusedWhileCoolingDown(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.register(t, testEmail)

	_, err := f.uc.ForgetPassword(ctx, testEmail)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err := f.uc.ResendOTP(ctx, domain.KindForgetPassword, testEmail)
		require.NoError(t, err)
	}

	_, err = f.uc.ForgetPassword(ctx, testEmail)
	assertKind(t, domain.KindTooManyAttempts, err)
}

func TestRepeatedRequestsShareResendBudget(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	user := f.register(t, testEmail)

	_, err := f.uc.ForgetPassword(ctx, testEmail)
	require.NoError(t, err)
	assert.Equal(t, "5", f.remaining(t, domain.KindForgetPassword, testEmail))

	// resends and fresh requests draw from the same five attempts
	for i := 4; i >= 1; i-- {
		if i%2 == 0 {
			_, err = f.uc.ResendOTP(ctx, domain.KindForgetPassword, testEmail)
		} else {
			_, err = f.uc.ForgetPassword(ctx, testEmail)
		}
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprint(i), f.remaining(t, domain.KindForgetPassword, testEmail))
	}

	res, err := f.uc.ForgetPassword(ctx, testEmail)
	require.NoError(t, err)
	assert.Equal(t, testEmail, res.SessionID)
	assert.Equal(t, "0", f.remaining(t, domain.KindForgetPassword, testEmail))
	assert.Equal(t, 24*time.Hour, f.mr.TTL("FORGET_PASSWORD:a@b.com"))

	_, err = f.uc.ForgetPassword(ctx, testEmail)
	assertKind(t, domain.KindTooManyAttempts, err)
	_, err = f.uc.ResendOTP(ctx, domain.KindForgetPassword, testEmail)
	assertKind(t, domain.KindTooManyAttempts, err)

	countResetMails := func() int {
		n := 0
		for _, m := range f.notifier.messages() {
			if m.Template == domain.TemplateForgetPassword {
				n++
			}
		}
		return n
	}
	// the opening request plus four reissues
	require.Eventually(t, func() bool { return countResetMails() == 5 }, time.Second, 10*time.Millisecond)

	_, err = f.uc.RequestEmailVerification(ctx, user.ID)
	require.NoError(t, err)
	_, err = f.uc.RequestEmailVerification(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "4", f.remaining(t, domain.KindEmailVerification, testEmail))
}

func TestForgetPasswordAfterExpiryStartsFresh(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.register(t, testEmail)

	_, err := f.uc.ForgetPassword(ctx, testEmail)
	require.NoError(t, err)
	_, err = f.uc.ResendOTP(ctx, domain.KindForgetPassword, testEmail)
	require.NoError(t, err)

	f.mr.FastForward(11 * time.Minute)

	_, err = f.uc.ForgetPassword(ctx, testEmail)
	require.NoError(t, err)
	assert.Equal(t, "5", f.remaining(t, domain.KindForgetPassword, testEmail))
}

func TestLoginWithoutTwoFactor(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	user := f.register(t, testEmail)

	_, err := f.uc.Login(ctx, "ghost@example.com", testPassword)
	assertKind(t, domain.KindNotFound, err)

	res, err := f.uc.Login(ctx, "A@b.com", testPassword)
	require.NoError(t, err)
	assert.False(t, res.Is2FAEnabled)
	assert.Equal(t, domain.KindLogin, res.Kind)
	assert.Equal(t, 7*24*time.Hour, res.ExpiresIn)
	assert.Equal(t, 7*24*time.Hour, f.mr.TTL(domain.KindLogin.Key(res.SessionID)))

	identity, err := f.uc.Authenticate(ctx, res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, user.ID, identity.UserID)
	assert.Equal(t, domain.DefaultRole, identity.Role)

	require.NoError(t, f.uc.Logout(ctx, res.SessionID))
	require.NoError(t, f.uc.Logout(ctx, res.SessionID), "logout is idempotent")
	assert.ErrorIs(t, f.uc.Logout(ctx, ""), domain.ErrAlreadyLoggedOut)

	_, err = f.uc.Authenticate(ctx, res.SessionID)
	assertKind(t, domain.KindInvalidSession, err)
	assert.Len(t, f.users.Events(domain.EventLogout), 1)
}

func TestLoginWithTwoFactor(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	user := f.register(t, testEmail)
	key := f.enable2FA(t, user)

	res, err := f.uc.Login(ctx, testEmail, testPassword)
	require.NoError(t, err)
	assert.True(t, res.Is2FAEnabled)
	assert.Equal(t, NextActionLogin2FA, res.NextAction)
	assert.Nil(t, res.Identity)

	challengeKey := domain.KindLogin2FA.Key(res.SessionID)
	assert.True(t, f.mr.Exists(challengeKey))
	assert.Equal(t, 2*time.Minute, f.mr.TTL(challengeKey))
	assert.NotContains(t, f.mr.HGet(challengeKey, "secret"), key)

	_, err = f.uc.ValidateSession(ctx, domain.KindLogin2FA, res.SessionID, f.wrongCode(t, key))
	assertKind(t, domain.KindInvalidOTP, err)
	assert.True(t, f.mr.Exists(challengeKey))
	assert.Equal(t, "4", f.mr.HGet(challengeKey, "remainingAttempts"))

	validated, err := f.uc.ValidateSession(ctx, domain.KindLogin2FA, res.SessionID, f.code(t, key))
	require.NoError(t, err)
	assert.True(t, validated.Validated)
	assert.Equal(t, NextActionLogin, validated.NextAction)
	assert.Equal(t, domain.KindLogin, validated.Kind)
	assert.False(t, f.mr.Exists(challengeKey))
	assert.True(t, f.mr.Exists(domain.KindLogin.Key(validated.SessionID)))

	identity, err := f.uc.Authenticate(ctx, validated.SessionID)
	require.NoError(t, err)
	assert.Equal(t, user.ID, identity.UserID)

	_, err = f.uc.ValidateSession(ctx, domain.KindLogin2FA, res.SessionID, f.code(t, key))
	assertKind(t, domain.KindNotFound, err)
}

func TestLoginTwoFactorExhaustionDeletesChallenge(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	user := f.register(t, testEmail)
	key := f.enable2FA(t, user)

	res, err := f.uc.Login(ctx, testEmail, testPassword)
	require.NoError(t, err)
	wrong := f.wrongCode(t, key)

	for i := 0; i < 4; i++ {
		_, err := f.uc.ValidateSession(ctx, domain.KindLogin2FA, res.SessionID, wrong)
		assertKind(t, domain.KindInvalidOTP, err)
	}
	_, err = f.uc.ValidateSession(ctx, domain.KindLogin2FA, res.SessionID, wrong)
	assertKind(t, domain.KindTooManyAttempts, err)
	assert.False(t, f.mr.Exists(domain.KindLogin2FA.Key(res.SessionID)))
	assert.Equal(t, 5.0, testutil.ToFloat64(f.metrics.OTPFailures.WithLabelValues("LOGIN_2FA")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.SessionsExhausted.WithLabelValues("LOGIN_2FA")))
}

func TestLoginLockout(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.register(t, testEmail)

	for i := 0; i < 3; i++ {
		_, err := f.uc.Login(ctx, testEmail, "wrong")
		assertKind(t, domain.KindInvalidCredentials, err)
	}

	record, err := f.uc.GetFailedAttempts(ctx, testEmail)
	require.NoError(t, err)
	assert.True(t, record.BlockStatus)
	assert.Equal(t, 3, record.AttemptsCount)

	_, err = f.uc.Login(ctx, testEmail, testPassword)
	assert.ErrorIs(t, err, domain.ErrAccountLocked)
	assertKind(t, domain.KindTooManyAttempts, err)
	assert.Equal(t, 3.0, testutil.ToFloat64(f.metrics.LoginAttempts.WithLabelValues(metrics.LoginFailure)))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.LoginAttempts.WithLabelValues(metrics.LoginLocked)))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Lockouts.WithLabelValues("LOGIN")))

	f.mr.FastForward(time.Hour + time.Second)
	_, err = f.uc.Login(ctx, testEmail, testPassword)
	require.NoError(t, err)
}

func TestSuccessfulLoginClearsFailures(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.register(t, testEmail)

	_, err := f.uc.Login(ctx, testEmail, "wrong")
	assertKind(t, domain.KindInvalidCredentials, err)
	_, err = f.uc.Login(ctx, testEmail, testPassword)
	require.NoError(t, err)

	_, err = f.uc.GetFailedAttempts(ctx, testEmail)
	assert.ErrorIs(t, err, domain.ErrNoFailedAttempts)
}

func TestChangeAccountStatus(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	user := f.register(t, testEmail)

	require.NoError(t, f.uc.ChangeAccountStatus(ctx, user.ID, domain.AccountSuspended, "chargeback"))
	_, err := f.uc.Login(ctx, testEmail, testPassword)
	assertKind(t, domain.KindInvalidState, err)

	assert.ErrorIs(t, f.uc.ChangeAccountStatus(ctx, user.ID, domain.AccountSuspended, ""), domain.ErrStatusUnchanged)
	assertKind(t, domain.KindBadRequest, f.uc.ChangeAccountStatus(ctx, user.ID, "DELETED", ""))
	assertKind(t, domain.KindNotFound, f.uc.ChangeAccountStatus(ctx, "missing", domain.AccountActive, ""))

	stored, err := f.users.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "chargeback", stored.StatusNote)
}

func TestAuthenticateRejectsInactiveAccounts(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	user := f.register(t, testEmail)

	res, err := f.uc.Login(ctx, testEmail, testPassword)
	require.NoError(t, err)
	_, err = f.uc.Authenticate(ctx, res.SessionID)
	require.NoError(t, err)

	require.NoError(t, f.uc.ChangeAccountStatus(ctx, user.ID, domain.AccountBlocked, "fraud"))

	_, err = f.uc.Authenticate(ctx, res.SessionID)
	assert.ErrorIs(t, err, domain.ErrAccountInactive)
	assert.False(t, f.mr.Exists(domain.KindLogin.Key(res.SessionID)), "the session is dropped")

	require.NoError(t, f.uc.ChangeAccountStatus(ctx, user.ID, domain.AccountActive, ""))
	_, err = f.uc.Authenticate(ctx, res.SessionID)
	assertKind(t, domain.KindInvalidSession, err)
}

func TestDisable2FALocksAfterRepeatedFailures(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	user := f.register(t, testEmail)
	key := f.enable2FA(t, user)
	wrong := f.wrongCode(t, key)
	recordKey := "attempts:TWO_FACTOR_AUTHENTICATION_DISABLE:a@b.com"

	for i := 0; i < 2; i++ {
		assertKind(t, domain.KindInvalidOTP, f.uc.Disable2FA(ctx, user.ID, wrong))
	}
	assertKind(t, domain.KindTooManyAttempts, f.uc.Disable2FA(ctx, user.ID, wrong))
	assert.Equal(t, time.Hour, f.mr.TTL(recordKey))
	assert.Equal(t, 3.0, testutil.ToFloat64(f.metrics.OTPFailures.WithLabelValues(string(domain.AttemptScopeDisable2FA))))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Lockouts.WithLabelValues(string(domain.AttemptScopeDisable2FA))))

	// the correct code is refused while the lock holds
	assertKind(t, domain.KindTooManyAttempts, f.uc.Disable2FA(ctx, user.ID, f.code(t, key)))
	stored, err := f.users.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, stored.MFAEnabled)

	// login lockout is a separate record
	_, err = f.uc.Login(ctx, testEmail, testPassword)
	require.NoError(t, err)

	f.mr.FastForward(time.Hour + time.Second)
	assertKind(t, domain.KindInvalidOTP, f.uc.Disable2FA(ctx, user.ID, wrong))
	require.NoError(t, f.uc.Disable2FA(ctx, user.ID, f.code(t, key)))
	assert.False(t, f.mr.Exists(recordKey), "success clears the record")
}

func TestTwoFactorSetupAndTeardown(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	user := f.register(t, testEmail)

	setup, err := f.uc.Generate2FASession(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, testEmail, setup.SessionID)
	assert.True(t, strings.HasPrefix(setup.QRCode, "data:image/png;base64,"))

	setupKey := "TWO_FACTOR_AUTHENTICATION_SETUP:a@b.com"
	assert.Equal(t, 10*time.Minute, f.mr.TTL(setupKey))
	assert.NotEqual(t, setup.Key, f.mr.HGet(setupKey, "secret"))

	err = f.uc.Enable2FA(ctx, user.ID, f.wrongCode(t, setup.Key), setup.SessionID)
	assertKind(t, domain.KindInvalidOTP, err)
	assert.Equal(t, "4", f.mr.HGet(setupKey, "remainingAttempts"))

	err = f.uc.Enable2FA(ctx, user.ID, f.code(t, setup.Key), "other@example.com")
	assertKind(t, domain.KindInvalidSession, err)

	require.NoError(t, f.uc.Enable2FA(ctx, user.ID, f.code(t, setup.Key), setup.SessionID))
	assert.False(t, f.mr.Exists(setupKey))

	stored, err := f.users.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, stored.MFAEnabled)
	assert.NotEmpty(t, stored.MFASecret)
	assert.NotEqual(t, setup.Key, stored.MFASecret)

	_, err = f.uc.Generate2FASession(ctx, user.ID)
	assert.ErrorIs(t, err, domain.ErrMFAAlreadyEnabled)

	err = f.uc.Disable2FA(ctx, user.ID, f.wrongCode(t, setup.Key))
	assertKind(t, domain.KindInvalidOTP, err)

	require.NoError(t, f.uc.Disable2FA(ctx, user.ID, f.code(t, setup.Key)))
	stored, err = f.users.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.False(t, stored.MFAEnabled)
	assert.Empty(t, stored.MFASecret)

	assert.ErrorIs(t, f.uc.Disable2FA(ctx, user.ID, f.code(t, setup.Key)), domain.ErrMFANotEnabled)
}

func TestEnable2FARejectsForeignSetupSession(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	alice := f.register(t, testEmail)
	mallory := f.register(t, "mallory@example.com")

	setup, err := f.uc.Generate2FASession(ctx, alice.ID)
	require.NoError(t, err)

	err = f.uc.Enable2FA(ctx, mallory.ID, f.code(t, setup.Key), setup.SessionID)
	assertKind(t, domain.KindInvalidSession, err)
}

func TestRequestEmailVerification(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	user := f.register(t, testEmail)

	res, err := f.uc.RequestEmailVerification(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.KindEmailVerification, res.Kind)

	otp := f.sessionOTP(t, domain.KindEmailVerification, testEmail)
	_, err = f.uc.ValidateSession(ctx, domain.KindEmailVerification, testEmail, otp)
	require.NoError(t, err)

	_, err = f.uc.RequestEmailVerification(ctx, user.ID)
	assert.ErrorIs(t, err, domain.ErrEmailVerified)

	require.Eventually(t, func() bool {
		for _, m := range f.notifier.messages() {
			if m.Template == domain.TemplateEmailVerification {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)
}

type failingUsers struct {
	*repository.MemoryUserRepo
}

func (failingUsers) GetByEmail(context.Context, string) (*domain.User, error) {
	return nil, errors.New("pq: connection refused")
}

func TestSocialLogin(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	res, err := f.uc.SocialLogin(ctx, SocialLoginInput{Email: "New@Example.com", Name: "New", Provider: "google"})
	require.NoError(t, err)
	assert.False(t, res.Is2FAEnabled)
	assert.Equal(t, NextActionLogin, res.NextAction)
	assert.True(t, f.mr.Exists(domain.KindLogin.Key(res.SessionID)))

	created, err := f.users.GetByEmail(ctx, "new@example.com")
	require.NoError(t, err)
	assert.True(t, created.IsEmailVerified)
	assert.Equal(t, "google", created.SocialProvider)

	user := f.register(t, testEmail)
	f.enable2FA(t, user)
	res, err = f.uc.SocialLogin(ctx, SocialLoginInput{Email: testEmail, Provider: "google"})
	require.NoError(t, err)
	assert.True(t, res.Is2FAEnabled)
	assert.True(t, f.mr.Exists(domain.KindLogin2FA.Key(res.SessionID)))
}

func TestSocialLoginHidesFailures(t *testing.T) {
	f := newFixture(t, nil)
	f.uc.users = failingUsers{f.users}

	_, err := f.uc.SocialLogin(context.Background(), SocialLoginInput{Email: testEmail, Provider: "google"})
	assertKind(t, domain.KindInternal, err)
	assert.NotContains(t, err.Error(), "pq")
}

func TestInspectAndRevokeSession(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.register(t, testEmail)

	view, err := f.uc.InspectSession(ctx, domain.KindAccountVerification, testEmail)
	require.NoError(t, err)
	assert.Equal(t, testEmail, view.Email)
	assert.Equal(t, 5, view.RemainingAttempts)
	assert.Equal(t, int64(600), view.ExpiresIn)

	removed, err := f.uc.RevokeSession(ctx, domain.KindAccountVerification, testEmail)
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = f.uc.RevokeSession(ctx, domain.KindAccountVerification, testEmail)
	require.NoError(t, err)
	assert.False(t, removed)

	_, err = f.uc.InspectSession(ctx, domain.KindAccountVerification, testEmail)
	assertKind(t, domain.KindNotFound, err)
}

func TestHandleExpiredKey(t *testing.T) {
	f := newFixture(t, nil)
	ctx := WithClientIP(context.Background(), "10.0.0.1")

	f.uc.HandleExpiredKey(ctx, domain.KindForgetPassword, testEmail)
	f.uc.HandleExpiredKey(ctx, domain.KindLogin, "7f1c0f1e-opaque")

	events := f.users.Events(domain.EventSessionExpired)
	require.Len(t, events, 2)
	assert.Equal(t, testEmail, events[0].Metadata["email"])
	assert.Equal(t, "10.0.0.1", events[0].IP)
	assert.NotContains(t, events[1].Metadata, "email")
}

func TestContinuationURL(t *testing.T) {
	link := continuationURL("http://localhost:3000/verify", testEmail)
	assert.Equal(t, "http://localhost:3000/verify?session=a%40b.com", link)
	assert.Equal(t, "http://localhost:3000/verify?otp=123456&session=a%40b.com", withOTP(link, "123456"))
	assert.Empty(t, continuationURL("", testEmail))
}
