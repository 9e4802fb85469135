package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/FilipeAphrody/sentinel-session/internal/domain"
)

// ExpiryHandler receives the kind and id of an expired session key.
type ExpiryHandler func(ctx context.Context, kind domain.SessionKind, id string)

// ExpiryListener forwards keyspace expiry events for session keys.
// Delivery is best-effort: Redis drops events while no subscriber is connected.
type ExpiryListener struct {
	client redis.UniversalClient
	db     int
	logger *zap.Logger
}

func NewExpiryListener(client redis.UniversalClient, db int, logger *zap.Logger) *ExpiryListener {
	return &ExpiryListener{client: client, db: db, logger: logger}
}

// Run enables expired-key notifications and blocks until ctx is cancelled.
func (l *ExpiryListener) Run(ctx context.Context, handle ExpiryHandler) error {
	if err := l.client.ConfigSet(ctx, "notify-keyspace-events", "Ex").Err(); err != nil {
		// managed deployments often forbid CONFIG; the events may be enabled already
		l.logger.Warn("Could not enable keyspace notifications", zap.Error(err))
	}

	channel := fmt.Sprintf("__keyevent@%d__:expired", l.db)
	pubsub := l.client.PSubscribe(ctx, channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", channel, err)
	}
	l.logger.Info("Listening for session expiry events", zap.String("channel", channel))

	msgs := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			kind, id, ok := ParseSessionKey(msg.Payload)
			if !ok {
				continue
			}
			handle(ctx, kind, id)
		}
	}
}

// ParseSessionKey splits "{kind}:{id}" and rejects keys outside the session namespaces.
func ParseSessionKey(key string) (domain.SessionKind, string, bool) {
	prefix, id, found := strings.Cut(key, ":")
	if !found || id == "" {
		return "", "", false
	}
	for _, kind := range domain.AllSessionKinds {
		if string(kind) == prefix {
			return kind, id, true
		}
	}
	return "", "", false
}
