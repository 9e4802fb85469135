package notification

import (
	"context"

	"go.uber.org/zap"
)

// NoopNotifier logs instead of sending. Used outside the production profile.
type NoopNotifier struct {
	logger *zap.Logger
}

func NewNoopNotifier(logger *zap.Logger) *NoopNotifier {
	return &NoopNotifier{logger: logger}
}

func (n *NoopNotifier) Send(_ context.Context, template, address string, _ map[string]string) error {
	n.logger.Debug("Notification suppressed", zap.String("template", template), zap.String("address", address))
	return nil
}
