package repository

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/FilipeAphrody/sentinel-session/internal/domain"
)

// LockoutPolicy configures the failed-attempt tracker.
type LockoutPolicy struct {
	MaxAttempts int
	Window      time.Duration
}

// RedisAttemptRepo implements domain.AttemptTracker.
// Records live at "attempts:{kind}:{identity}", outside the session namespaces,
// so a caller-chosen session id can never address a lockout record.
type RedisAttemptRepo struct {
	client redis.UniversalClient
	policy LockoutPolicy
	logger *zap.Logger
	now    func() time.Time
}

// NewRedisAttemptRepo creates a new tracker instance.
func NewRedisAttemptRepo(client redis.UniversalClient, policy LockoutPolicy, logger *zap.Logger) *RedisAttemptRepo {
	return &RedisAttemptRepo{client: client, policy: policy, logger: logger, now: time.Now}
}

// incrementAttemptScript bumps the counter and sets its expiry in one step,
// so a counter never outlives the lockout window.
// KEYS[1] = record key
// ARGV[1] = window in milliseconds
var incrementAttemptScript = redis.NewScript(`
local count = redis.call('HINCRBY', KEYS[1], 'attemptsCount', 1)
redis.call('PEXPIRE', KEYS[1], ARGV[1])
return count
`)

func (r *RedisAttemptRepo) key(kind domain.SessionKind, identity string) string {
	return "attempts:" + kind.Key(domain.NormalizeEmail(identity))
}

// RecordFailedAttempt increments the counter and blocks the identity once the
// ceiling is reached. The record expires with the lockout window.
func (r *RedisAttemptRepo) RecordFailedAttempt(ctx context.Context, kind domain.SessionKind, identity string) (*domain.FailedAttemptRecord, error) {
	key := r.key(kind, identity)

	count, err := incrementAttemptScript.Run(ctx, r.client, []string{key}, r.policy.Window.Milliseconds()).Int64()
	if err != nil {
		r.logger.Error("Failed to record failed attempt", zap.String("key", key), zap.Error(err))
		return nil, fmt.Errorf("record failed attempt %s: %w", key, err)
	}

	now := r.now().UTC()
	rec := &domain.FailedAttemptRecord{
		Kind:              kind,
		Email:             domain.NormalizeEmail(identity),
		AttemptsCount:     int(count),
		AttemptsRemaining: r.policy.MaxAttempts - int(count),
		AttemptsResetTime: now.Add(r.policy.Window),
	}
	if rec.AttemptsRemaining <= 0 {
		rec.AttemptsRemaining = 0
		rec.BlockStatus = true
		rec.BlockTime = now
		rec.BlockReason = fmt.Sprintf("max attempts reached. please try again after %s.", r.policy.Window)
	}

	fields := map[string]interface{}{
		"sessionType":       string(kind),
		"email":             rec.Email,
		"attemptsRemaining": strconv.Itoa(rec.AttemptsRemaining),
		"blockStatus":       strconv.FormatBool(rec.BlockStatus),
		"attemptsResetTime": rec.AttemptsResetTime.Format(time.RFC3339),
	}
	if rec.BlockStatus {
		fields["blockReason"] = rec.BlockReason
		fields["blockTime"] = rec.BlockTime.Format(time.RFC3339)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, fields)
		pipe.Expire(ctx, key, r.policy.Window)
		return nil
	})
	if err != nil {
		r.logger.Error("Failed to store failed attempt record", zap.String("key", key), zap.Error(err))
		return nil, fmt.Errorf("store failed attempt %s: %w", key, err)
	}

	return rec, nil
}

// GetFailedAttempts returns nil when the identity has no record.
func (r *RedisAttemptRepo) GetFailedAttempts(ctx context.Context, kind domain.SessionKind, identity string) (*domain.FailedAttemptRecord, error) {
	key := r.key(kind, identity)

	fields, err := r.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("get failed attempts %s: %w", key, err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	rec := &domain.FailedAttemptRecord{
		Kind:        kind,
		Email:       fields["email"],
		BlockReason: fields["blockReason"],
	}
	rec.AttemptsCount, _ = strconv.Atoi(fields["attemptsCount"])
	rec.AttemptsRemaining, _ = strconv.Atoi(fields["attemptsRemaining"])
	rec.BlockStatus, _ = strconv.ParseBool(fields["blockStatus"])
	if raw := fields["blockTime"]; raw != "" {
		rec.BlockTime, _ = time.Parse(time.RFC3339, raw)
	}
	if raw := fields["attemptsResetTime"]; raw != "" {
		rec.AttemptsResetTime, _ = time.Parse(time.RFC3339, raw)
	}
	return rec, nil
}

// Reset clears the record, e.g. after a successful login.
func (r *RedisAttemptRepo) Reset(ctx context.Context, kind domain.SessionKind, identity string) error {
	key := r.key(kind, identity)
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("reset failed attempts %s: %w", key, err)
	}
	return nil
}
