package engine

import (
	"context"

	"github.com/classhub/progression-engine/internal/domain/notification"
	"github.com/classhub/progression-engine/pkg/logger"
	"github.com/classhub/progression-engine/pkg/retry"
)

// Deliverer stores committed notifications and hands them to the sink.
// It runs after the record is saved; a failure here never undoes the save.
type Deliverer struct {
	repo    notification.Repository
	sink    notification.Sink
	retrier *retry.Retrier
	metrics Metrics
	log     *logger.Logger
}

// NewDeliverer creates a Deliverer. Either repo or sink may be nil.
func NewDeliverer(repo notification.Repository, sink notification.Sink, metrics Metrics, log *logger.Logger) *Deliverer {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Deliverer{
		repo:    repo,
		sink:    sink,
		retrier: retry.DeliveryRetrier(),
		metrics: metrics,
		log:     log.With(logger.Component("deliverer")),
	}
}

// Deliver processes notifications in order and returns how many reached
// the sink.
func (d *Deliverer) Deliver(ctx context.Context, ns []notification.Notification) int {
	delivered := 0
	for _, n := range ns {
		if err := n.Validate(); err != nil {
			d.log.Warn("dropping invalid notification", logger.String("type", string(n.Type)), logger.Err(err))
			continue
		}

		if d.repo != nil {
			if err := d.repo.Save(ctx, n); err != nil {
				d.log.Warn("failed to store notification",
					logger.String("notification_id", n.ID), logger.UserID(n.UserID), logger.Err(err))
			}
		}

		if d.sink == nil {
			continue
		}
		err := d.retrier.Do(ctx, func(ctx context.Context) error {
			return d.sink.Publish(ctx, n)
		})
		d.metrics.NotificationDelivered(n.Type, err)
		if err != nil {
			d.log.Warn("failed to deliver notification",
				logger.String("notification_id", n.ID),
				logger.String("type", string(n.Type)),
				logger.UserID(n.UserID),
				logger.Err(err),
			)
			continue
		}
		delivered++
	}
	return delivered
}
