package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/FilipeAphrody/sentinel-session/internal/domain"
)

// Hash field names of a session record.
const (
	fieldEmail             = "email"
	fieldOTP               = "otp"
	fieldSecret            = "secret"
	fieldRedirectURL       = "redirectUrl"
	fieldRemainingAttempts = "remainingAttempts"
	fieldMetaUserID        = "metaUserId"
	fieldMetaEmail         = "metaEmail"
	fieldMetaRole          = "metaRole"
	fieldMetaCreatedAt     = "metaCreatedAt"
)

// updateSessionScript merges fields into an existing hash only.
// A partial update must never recreate an expired key without a TTL.
// KEYS[1] = session key
// ARGV[1] = ttl in milliseconds, 0 keeps the current expiry
// ARGV[2..] = field, value pairs
var updateSessionScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
if #ARGV > 1 then
  redis.call('HSET', KEYS[1], unpack(ARGV, 2))
end
local ttl = tonumber(ARGV[1])
if ttl > 0 then
  redis.call('PEXPIRE', KEYS[1], ttl)
end
return 1
`)

// decrementAttemptsScript lowers remainingAttempts, flooring at zero.
// Returns -1 when the key does not exist.
var decrementAttemptsScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
local n = tonumber(redis.call('HGET', KEYS[1], 'remainingAttempts') or '0')
if n > 0 then
  n = n - 1
  redis.call('HSET', KEYS[1], 'remainingAttempts', tostring(n))
end
return n
`)

// RedisSessionStore implements domain.SessionStore as one hash per session at "{kind}:{id}".
type RedisSessionStore struct {
	client redis.UniversalClient
	logger *zap.Logger
}

// NewRedisSessionStore creates a new store instance.
func NewRedisSessionStore(client redis.UniversalClient, logger *zap.Logger) *RedisSessionStore {
	return &RedisSessionStore{client: client, logger: logger}
}

// Create overwrites any session at the same key and sets its TTL in one transaction.
func (s *RedisSessionStore) Create(ctx context.Context, sess *domain.Session, ttl time.Duration) error {
	key := sess.Kind.Key(sess.ID)

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, encodeSession(sess))
		if ttl > 0 {
			pipe.PExpire(ctx, key, ttl)
		}
		return nil
	})
	if err != nil {
		s.logger.Error("Failed to create session", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("create session %s: %w", key, err)
	}
	return nil
}

// Get loads a session; a missing key yields domain.ErrSessionNotFound.
func (s *RedisSessionStore) Get(ctx context.Context, kind domain.SessionKind, id string) (*domain.Session, error) {
	key := kind.Key(id)

	fields, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		s.logger.Error("Failed to load session", zap.String("key", key), zap.Error(err))
		return nil, fmt.Errorf("get session %s: %w", key, err)
	}
	if len(fields) == 0 {
		return nil, domain.ErrSessionNotFound
	}

	sess, err := decodeSession(kind, id, fields)
	if err != nil {
		s.logger.Error("Corrupt session record", zap.String("key", key), zap.Error(err))
		return nil, fmt.Errorf("decode session %s: %w", key, err)
	}
	return sess, nil
}

// Update merges only the supplied fields. A ttl <= 0 leaves the current expiry untouched.
func (s *RedisSessionStore) Update(ctx context.Context, kind domain.SessionKind, id string, u domain.SessionUpdate, ttl time.Duration) error {
	key := kind.Key(id)

	args := []interface{}{ttl.Milliseconds()}
	if ttl < 0 {
		args[0] = int64(0)
	}
	if u.OTP != nil {
		args = append(args, fieldOTP, *u.OTP)
	}
	if u.RedirectURL != nil {
		args = append(args, fieldRedirectURL, *u.RedirectURL)
	}
	if u.RemainingAttempts != nil {
		remaining := *u.RemainingAttempts
		if remaining < 0 {
			remaining = 0
		}
		args = append(args, fieldRemainingAttempts, strconv.Itoa(remaining))
	}

	updated, err := updateSessionScript.Run(ctx, s.client, []string{key}, args...).Int()
	if err != nil {
		s.logger.Error("Failed to update session", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("update session %s: %w", key, err)
	}
	if updated == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

// Delete removes a session. Deleting a missing key is not an error.
func (s *RedisSessionStore) Delete(ctx context.Context, kind domain.SessionKind, id string) (bool, error) {
	key := kind.Key(id)

	n, err := s.client.Del(ctx, key).Result()
	if err != nil {
		s.logger.Error("Failed to delete session", zap.String("key", key), zap.Error(err))
		return false, fmt.Errorf("delete session %s: %w", key, err)
	}
	return n > 0, nil
}

func (s *RedisSessionStore) Exists(ctx context.Context, kind domain.SessionKind, id string) (bool, error) {
	key := kind.Key(id)

	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("exists session %s: %w", key, err)
	}
	return n == 1, nil
}

// DecrementAttempts lowers remainingAttempts atomically and returns the new value.
func (s *RedisSessionStore) DecrementAttempts(ctx context.Context, kind domain.SessionKind, id string) (int, error) {
	key := kind.Key(id)

	remaining, err := decrementAttemptsScript.Run(ctx, s.client, []string{key}).Int()
	if err != nil {
		s.logger.Error("Failed to decrement session attempts", zap.String("key", key), zap.Error(err))
		return 0, fmt.Errorf("decrement attempts %s: %w", key, err)
	}
	if remaining < 0 {
		return 0, domain.ErrSessionNotFound
	}
	return remaining, nil
}

// TTL returns the remaining lifetime, or 0 for a key without expiry.
func (s *RedisSessionStore) TTL(ctx context.Context, kind domain.SessionKind, id string) (time.Duration, error) {
	key := kind.Key(id)

	ttl, err := s.client.PTTL(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("ttl session %s: %w", key, err)
	}
	// go-redis reports -2 for a missing key and -1 for a key without expiry.
	switch {
	case ttl == -2:
		return 0, domain.ErrSessionNotFound
	case ttl < 0:
		return 0, nil
	}
	return ttl, nil
}

func encodeSession(sess *domain.Session) map[string]interface{} {
	fields := map[string]interface{}{
		fieldEmail:             sess.Email,
		fieldRemainingAttempts: strconv.Itoa(sess.RemainingAttempts),
	}
	if sess.OTP != "" {
		fields[fieldOTP] = sess.OTP
	}
	if sess.Secret != "" {
		fields[fieldSecret] = sess.Secret
	}
	if sess.RedirectURL != "" {
		fields[fieldRedirectURL] = sess.RedirectURL
	}
	if m := sess.Metadata; m != nil {
		fields[fieldMetaUserID] = m.UserID
		fields[fieldMetaEmail] = m.Email
		fields[fieldMetaRole] = m.Role
		fields[fieldMetaCreatedAt] = m.CreatedAt.UTC().Format(time.RFC3339Nano)
	}
	return fields
}

func decodeSession(kind domain.SessionKind, id string, fields map[string]string) (*domain.Session, error) {
	sess := &domain.Session{
		ID:          id,
		Kind:        kind,
		Email:       fields[fieldEmail],
		OTP:         fields[fieldOTP],
		Secret:      fields[fieldSecret],
		RedirectURL: fields[fieldRedirectURL],
	}

	if raw, ok := fields[fieldRemainingAttempts]; ok {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("remainingAttempts: %w", err)
		}
		sess.RemainingAttempts = n
	}

	if userID, ok := fields[fieldMetaUserID]; ok {
		meta := &domain.SessionMetadata{
			UserID: userID,
			Email:  fields[fieldMetaEmail],
			Role:   fields[fieldMetaRole],
		}
		if raw := fields[fieldMetaCreatedAt]; raw != "" {
			createdAt, err := time.Parse(time.RFC3339Nano, raw)
			if err != nil {
				return nil, fmt.Errorf("metadata createdAt: %w", err)
			}
			meta.CreatedAt = createdAt
		}
		sess.Metadata = meta
	}

	if sess.Email == "" {
		return nil, errors.New("session has no owning email")
	}
	return sess, nil
}
