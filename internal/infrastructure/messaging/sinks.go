package messaging

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/classhub/progression-engine/internal/domain/notification"
	"github.com/classhub/progression-engine/pkg/circuitbreaker"
	"github.com/classhub/progression-engine/pkg/logger"
)

// FanOut publishes every notification to all sinks concurrently and
// returns the first error. A failing sink does not stop the others.
type FanOut []notification.Sink

// Publish implements notification.Sink.
func (f FanOut) Publish(ctx context.Context, n notification.Notification) error {
	var g errgroup.Group
	for _, s := range f {
		if s == nil {
			continue
		}
		g.Go(func() error { return s.Publish(ctx, n) })
	}
	return g.Wait()
}

// BreakerSink stops calling a sink that keeps failing.
type BreakerSink struct {
	next notification.Sink
	cb   *circuitbreaker.CircuitBreaker
}

// NewBreakerSink wraps next with cb.
func NewBreakerSink(next notification.Sink, cb *circuitbreaker.CircuitBreaker) *BreakerSink {
	return &BreakerSink{next: next, cb: cb}
}

// Publish implements notification.Sink.
func (b *BreakerSink) Publish(ctx context.Context, n notification.Notification) error {
	err := b.cb.Execute(ctx, func(ctx context.Context) error {
		return b.next.Publish(ctx, n)
	})
	if circuitbreaker.IsRejected(err) {
		return fmt.Errorf("%s sink unavailable: %w", b.cb.Name(), err)
	}
	return err
}

// LogSink writes notifications to the log.
type LogSink struct {
	log *logger.Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(log *logger.Logger) *LogSink {
	if log == nil {
		log = logger.Nop()
	}
	return &LogSink{log: log.With(logger.Component("notifications"))}
}

// Publish implements notification.Sink.
func (s *LogSink) Publish(_ context.Context, n notification.Notification) error {
	s.log.Info(n.Message,
		logger.String("type", string(n.Type)),
		logger.UserID(n.UserID),
		logger.ClassroomID(n.ClassroomID),
		logger.String("notification_id", n.ID),
	)
	return nil
}
