// Package messaging routes committed notifications to in-process
// subscribers and composes notification sinks.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/classhub/progression-engine/internal/domain/notification"
	"github.com/classhub/progression-engine/pkg/logger"
)

// ErrDispatcherClosed is returned by Publish after Close.
var ErrDispatcherClosed = errors.New("dispatcher is closed")

// Handler consumes one notification.
type Handler func(ctx context.Context, n notification.Notification) error

// Middleware wraps a Handler.
type Middleware func(name string, next Handler) Handler

type registration struct {
	name    string
	handler Handler
}

// ══════════════════════════════════════════════════════════════════════════════
// DISPATCHER
// ══════════════════════════════════════════════════════════════════════════════

// Config configures a Dispatcher.
type Config struct {
	// Async runs handlers on the worker pool and makes Publish return at once.
	Async bool

	// Workers bounds concurrently running handlers in async mode.
	Workers int

	// HandlerTimeout bounds one handler call. Zero disables it.
	HandlerTimeout time.Duration

	// DeadLetterSize is how many failed deliveries are kept.
	DeadLetterSize int

	Logger *logger.Logger
}

// DefaultConfig returns a synchronous dispatcher configuration.
func DefaultConfig() Config {
	return Config{
		Workers:        8,
		HandlerTimeout: 5 * time.Second,
		DeadLetterSize: 100,
	}
}

// Dispatcher implements notification.Sink by fanning each notification
// out to the handlers subscribed to its type.
type Dispatcher struct {
	cfg Config
	log *logger.Logger

	mu          sync.RWMutex
	handlers    map[notification.Type][]registration
	all         []registration
	middlewares []Middleware
	closed      bool

	pool    chan struct{}
	closeCh chan struct{}
	wg      sync.WaitGroup

	dlq   *DeadLetterQueue
	stats *Stats
}

// NewDispatcher creates a Dispatcher. Recovery is always the outermost
// middleware.
func NewDispatcher(cfg Config) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	if cfg.DeadLetterSize <= 0 {
		cfg.DeadLetterSize = 100
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	log := cfg.Logger.With(logger.Component("dispatcher"))

	d := &Dispatcher{
		cfg:      cfg,
		log:      log,
		handlers: make(map[notification.Type][]registration),
		pool:     make(chan struct{}, cfg.Workers),
		closeCh:  make(chan struct{}),
		dlq:      NewDeadLetterQueue(cfg.DeadLetterSize),
		stats:    &Stats{},
	}
	d.middlewares = []Middleware{RecoveryMiddleware(log)}
	if cfg.HandlerTimeout > 0 {
		d.middlewares = append(d.middlewares, TimeoutMiddleware(cfg.HandlerTimeout))
	}
	return d
}

// Use appends a middleware. Middlewares added later run closer to the handler.
func (d *Dispatcher) Use(m Middleware) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.middlewares = append(d.middlewares, m)
}

// Subscribe registers a handler for one notification type.
func (d *Dispatcher) Subscribe(t notification.Type, name string, h Handler) error {
	if h == nil {
		return errors.New("handler cannot be nil")
	}
	if !t.IsValid() {
		return fmt.Errorf("unknown notification type %q", t)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrDispatcherClosed
	}
	d.handlers[t] = append(d.handlers[t], registration{name: name, handler: h})
	d.log.Debug("subscribed handler", logger.String("type", string(t)), logger.String("handler", name))
	return nil
}

// SubscribeAll registers a handler for every notification type.
func (d *Dispatcher) SubscribeAll(name string, h Handler) error {
	if h == nil {
		return errors.New("handler cannot be nil")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrDispatcherClosed
	}
	d.all = append(d.all, registration{name: name, handler: h})
	return nil
}

// Publish implements notification.Sink. In sync mode the handler errors are
// joined and returned; in async mode failures go to the dead letter queue.
func (d *Dispatcher) Publish(ctx context.Context, n notification.Notification) error {
	d.mu.RLock()
	if d.closed {
		d.mu.RUnlock()
		return ErrDispatcherClosed
	}
	regs := make([]registration, 0, len(d.handlers[n.Type])+len(d.all))
	regs = append(regs, d.handlers[n.Type]...)
	regs = append(regs, d.all...)
	middlewares := append([]Middleware(nil), d.middlewares...)
	d.mu.RUnlock()

	d.stats.published.Add(1)
	if len(regs) == 0 {
		return nil
	}

	if d.cfg.Async {
		// Handlers outlive the publishing request.
		ctx = context.WithoutCancel(ctx)
		for _, reg := range regs {
			d.runAsync(ctx, n, reg, middlewares)
		}
		return nil
	}

	var errs []error
	for _, reg := range regs {
		if err := d.run(ctx, n, reg, middlewares); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", reg.name, err))
		}
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) runAsync(ctx context.Context, n notification.Notification, reg registration, middlewares []Middleware) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		select {
		case d.pool <- struct{}{}:
			defer func() { <-d.pool }()
		case <-d.closeCh:
			d.dlq.Add(DeadLetter{Notification: n, Handler: reg.name, Err: ErrDispatcherClosed, FailedAt: time.Now().UTC()})
			return
		}

		if err := d.run(ctx, n, reg, middlewares); err != nil {
			d.log.Warn("async handler failed",
				logger.String("type", string(n.Type)),
				logger.String("handler", reg.name),
				logger.Err(err),
			)
		}
	}()
}

func (d *Dispatcher) run(ctx context.Context, n notification.Notification, reg registration, middlewares []Middleware) error {
	h := reg.handler
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](reg.name, h)
	}

	err := h(ctx, n)
	if err != nil {
		d.stats.failed.Add(1)
		d.dlq.Add(DeadLetter{Notification: n, Handler: reg.name, Err: err, FailedAt: time.Now().UTC()})
		return err
	}
	d.stats.handled.Add(1)
	return nil
}

// Close stops accepting notifications and waits for running handlers.
// Async handlers still waiting for a worker are dead-lettered.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.closeCh)
	d.mu.Unlock()

	d.wg.Wait()
	d.log.Info("dispatcher closed", logger.Int64("published", d.stats.published.Load()))
	return nil
}

// DeadLetters returns the dead letter queue.
func (d *Dispatcher) DeadLetters() *DeadLetterQueue { return d.dlq }

// Stats returns a snapshot of the counters.
func (d *Dispatcher) Stats() StatsSnapshot { return d.stats.snapshot() }

// ─────────────────────────────────────────────────────────────────────────────
// Middlewares
// ─────────────────────────────────────────────────────────────────────────────

// RecoveryMiddleware turns a handler panic into an error.
func RecoveryMiddleware(log *logger.Logger) Middleware {
	return func(name string, next Handler) Handler {
		return func(ctx context.Context, n notification.Notification) (err error) {
			defer func() {
				if r := recover(); r != nil {
					log.Error("handler panicked", logger.String("handler", name), logger.Any("panic", r))
					err = fmt.Errorf("handler %s panicked: %v", name, r)
				}
			}()
			return next(ctx, n)
		}
	}
}

// LoggingMiddleware logs every handler call with its latency.
func LoggingMiddleware(log *logger.Logger) Middleware {
	return func(name string, next Handler) Handler {
		return func(ctx context.Context, n notification.Notification) error {
			start := time.Now()
			err := next(ctx, n)
			fields := []logger.Field{
				logger.String("handler", name),
				logger.String("type", string(n.Type)),
				logger.UserID(n.UserID),
				logger.Latency(time.Since(start)),
			}
			if err != nil {
				log.Warn("handler failed", append(fields, logger.Err(err))...)
				return err
			}
			log.Debug("handler done", fields...)
			return nil
		}
	}
}

// TimeoutMiddleware bounds each handler call with a context deadline.
func TimeoutMiddleware(timeout time.Duration) Middleware {
	return func(_ string, next Handler) Handler {
		return func(ctx context.Context, n notification.Notification) error {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			return next(ctx, n)
		}
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// DEAD LETTERS
// ══════════════════════════════════════════════════════════════════════════════

// DeadLetter is one failed handler call.
type DeadLetter struct {
	Notification notification.Notification
	Handler      string
	Err          error
	FailedAt     time.Time
}

// DeadLetterQueue keeps the most recent failures, dropping the oldest.
type DeadLetterQueue struct {
	mu      sync.Mutex
	entries []DeadLetter
	max     int
}

// NewDeadLetterQueue creates a queue holding at most max entries.
func NewDeadLetterQueue(max int) *DeadLetterQueue {
	if max <= 0 {
		max = 100
	}
	return &DeadLetterQueue{max: max}
}

func (q *DeadLetterQueue) Add(e DeadLetter) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) >= q.max {
		q.entries = q.entries[1:]
	}
	q.entries = append(q.entries, e)
}

// Entries returns a copy, oldest first.
func (q *DeadLetterQueue) Entries() []DeadLetter {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]DeadLetter(nil), q.entries...)
}

func (q *DeadLetterQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Drain removes and returns every entry.
func (q *DeadLetterQueue) Drain() []DeadLetter {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.entries
	q.entries = nil
	return out
}
