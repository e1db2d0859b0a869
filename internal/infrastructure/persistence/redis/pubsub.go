package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/classhub/progression-engine/internal/domain/notification"
	"github.com/classhub/progression-engine/pkg/logger"
)

// PubSubSink publishes notifications to notifications:<type> channels.
type PubSubSink struct {
	cache *Cache
}

// NewPubSubSink creates a new PubSubSink.
func NewPubSubSink(cache *Cache) *PubSubSink {
	return &PubSubSink{cache: cache}
}

// Publish implements notification.Sink.
func (s *PubSubSink) Publish(ctx context.Context, n notification.Notification) error {
	if err := s.cache.Publish(ctx, NotificationChannel(string(n.Type)), n); err != nil {
		return fmt.Errorf("publish %s notification: %w", n.Type, err)
	}
	return nil
}

// Listen subscribes to every notification channel and calls fn for each
// message until ctx is done. Malformed payloads are logged and skipped.
func Listen(ctx context.Context, cache *Cache, log *logger.Logger, fn func(notification.Notification)) error {
	if log == nil {
		log = logger.Nop()
	}
	sub := cache.PSubscribe(ctx, PrefixNotifications+"*")
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe to notifications: %w", err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var n notification.Notification
			if err := json.Unmarshal([]byte(msg.Payload), &n); err != nil {
				log.Warn("skipping malformed notification", logger.String("channel", msg.Channel), logger.Err(err))
				continue
			}
			fn(n)
		}
	}
}
