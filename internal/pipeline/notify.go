// Package pipeline runs the staged-batch processor and the link-health pass.
package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/events-linkhealth/internal/events"
)

// Notification kinds.
const (
	TopicBatchCompleted = "batch.completed"
	TopicLinkTombstoned = "link.tombstoned"
)

// notify publishes best-effort; failures are logged and swallowed.
func notify(ctx context.Context, pub events.Publisher, logger *zap.Logger, topic string, payload any) {
	if pub == nil {
		return
	}
	id, err := pub.Publish(ctx, topic, payload)
	if err != nil {
		logger.Warn("publish notification failed", zap.String("topic", topic), zap.Error(err))
		return
	}
	logger.Debug("notification published", zap.String("topic", topic), zap.String("message_id", id))
}
