// Package engine implements the progression components that run inside one
// stats session: the ledger writer, XP engine, badge evaluator, level-up
// reward distributor and change logger. Components never load or save
// records themselves; the caller owns the session and its commit.
package engine

import (
	"time"

	"github.com/google/uuid"

	"github.com/classhub/progression-engine/internal/domain/ledger"
	"github.com/classhub/progression-engine/internal/domain/notification"
	"github.com/classhub/progression-engine/internal/domain/xp"
)

// IDGenerator creates identifiers for ledger entries and notifications.
type IDGenerator func() string

// NewUUID is the default IDGenerator.
func NewUUID() string { return uuid.NewString() }

// Env carries values resolved once per trigger, before the session opens.
type Env struct {
	Settings        xp.Settings
	GroupMultiplier float64
	ActorID         string
	Reason          string
}

// Options tunes badge and level-up evaluation.
type Options struct {
	// FixedPoint re-runs badge evaluation until no new badge unlocks,
	// at most MaxPasses times. Off means a single pass per call.
	FixedPoint bool
	MaxPasses  int
}

// DefaultMaxPasses caps fixed-point evaluation.
const DefaultMaxPasses = 8

// DefaultOptions returns single-pass evaluation.
func DefaultOptions() Options {
	return Options{MaxPasses: DefaultMaxPasses}
}

func (o Options) passes() int {
	if !o.FixedPoint {
		return 1
	}
	if o.MaxPasses <= 0 {
		return DefaultMaxPasses
	}
	return o.MaxPasses
}

// Metrics receives engine measurements.
type Metrics interface {
	TransactionPosted(t ledger.Type, amount int64)
	XPAwarded(amount int64)
	BadgeEarned()
	LevelUp(levels int)
	NotificationDelivered(t notification.Type, err error)
	OperationFinished(op string, d time.Duration, err error)
}

// NopMetrics discards measurements.
type NopMetrics struct{}

func (NopMetrics) TransactionPosted(ledger.Type, int64) {}
func (NopMetrics) XPAwarded(int64) {}
func (NopMetrics) BadgeEarned() {}
func (NopMetrics) LevelUp(int) {}
func (NopMetrics) NotificationDelivered(notification.Type, error) {}
func (NopMetrics) OperationFinished(string, time.Duration, error) {}
