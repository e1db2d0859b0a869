package messaging

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classhub/progression-engine/internal/domain/notification"
	"github.com/classhub/progression-engine/pkg/circuitbreaker"
)

func levelUp(user string) notification.Notification {
	return notification.Notification{ID: "n-" + user, Type: notification.TypeLevelUp, UserID: user, Message: "level up"}
}

func TestDispatcher_RoutesByType(t *testing.T) {
	d := NewDispatcher(DefaultConfig())
	defer d.Close()

	var got []string
	require.NoError(t, d.Subscribe(notification.TypeLevelUp, "levels", func(_ context.Context, n notification.Notification) error {
		got = append(got, "levels:"+n.UserID)
		return nil
	}))
	require.NoError(t, d.Subscribe(notification.TypeBadgeEarned, "badges", func(_ context.Context, n notification.Notification) error {
		got = append(got, "badges:"+n.UserID)
		return nil
	}))
	require.NoError(t, d.SubscribeAll("audit", func(_ context.Context, n notification.Notification) error {
		got = append(got, "audit:"+string(n.Type))
		return nil
	}))

	require.NoError(t, d.Publish(context.Background(), levelUp("s1")))
	assert.Equal(t, []string{"levels:s1", "audit:level_up"}, got)
	assert.Equal(t, StatsSnapshot{Published: 1, Handled: 2}, d.Stats())
}

func TestDispatcher_SubscribeRejectsUnknownType(t *testing.T) {
	d := NewDispatcher(DefaultConfig())
	assert.Error(t, d.Subscribe("bonus", "x", func(context.Context, notification.Notification) error { return nil }))
	assert.Error(t, d.Subscribe(notification.TypeLevelUp, "x", nil))
}

func TestDispatcher_SyncErrorsAndPanics(t *testing.T) {
	d := NewDispatcher(DefaultConfig())
	boom := errors.New("boom")
	require.NoError(t, d.Subscribe(notification.TypeLevelUp, "failing", func(context.Context, notification.Notification) error {
		return boom
	}))
	require.NoError(t, d.Subscribe(notification.TypeLevelUp, "panicking", func(context.Context, notification.Notification) error {
		panic("bad handler")
	}))

	err := d.Publish(context.Background(), levelUp("s1"))
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "panicking")

	letters := d.DeadLetters().Entries()
	require.Len(t, letters, 2)
	assert.Equal(t, "failing", letters[0].Handler)
	assert.Equal(t, "panicking", letters[1].Handler)
}

func TestDispatcher_AsyncWaitsOnClose(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Async = true
	cfg.Workers = 2
	d := NewDispatcher(cfg)

	var handled atomic.Int32
	require.NoError(t, d.Subscribe(notification.TypeLevelUp, "slow", func(context.Context, notification.Notification) error {
		time.Sleep(5 * time.Millisecond)
		handled.Add(1)
		return nil
	}))

	for i := 0; i < 5; i++ {
		require.NoError(t, d.Publish(context.Background(), levelUp("s1")))
	}
	require.NoError(t, d.Close())
	assert.Equal(t, int32(5)-int32(d.DeadLetters().Size()), handled.Load())
	assert.ErrorIs(t, d.Publish(context.Background(), levelUp("s1")), ErrDispatcherClosed)
}

func TestDispatcher_AsyncIgnoresCallerCancel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Async = true
	d := NewDispatcher(cfg)

	var ctxErr error
	var mu sync.Mutex
	require.NoError(t, d.Subscribe(notification.TypeLevelUp, "h", func(ctx context.Context, _ notification.Notification) error {
		mu.Lock()
		defer mu.Unlock()
		ctxErr = ctx.Err()
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, d.Publish(ctx, levelUp("s1")))
	cancel()
	require.NoError(t, d.Close())

	mu.Lock()
	defer mu.Unlock()
	assert.NoError(t, ctxErr)
}

func TestDeadLetterQueue_DropsOldest(t *testing.T) {
	q := NewDeadLetterQueue(2)
	q.Add(DeadLetter{Handler: "a"})
	q.Add(DeadLetter{Handler: "b"})
	q.Add(DeadLetter{Handler: "c"})

	entries := q.Drain()
	require.Len(t, entries, 2)
	assert.Equal(t, "b", entries[0].Handler)
	assert.Equal(t, 0, q.Size())
}

func TestFanOut(t *testing.T) {
	var a, b atomic.Int32
	boom := errors.New("boom")
	sink := FanOut{
		notification.SinkFunc(func(context.Context, notification.Notification) error { a.Add(1); return nil }),
		nil,
		notification.SinkFunc(func(context.Context, notification.Notification) error { b.Add(1); return boom }),
	}

	err := sink.Publish(context.Background(), levelUp("s1"))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int32(1), a.Load())
	assert.Equal(t, int32(1), b.Load())
}

func TestBreakerSink_OpensOnFailures(t *testing.T) {
	var calls int
	failing := notification.SinkFunc(func(context.Context, notification.Notification) error {
		calls++
		return errors.New("transport down")
	})
	cb := circuitbreaker.New("push", circuitbreaker.WithFailureThreshold(2), circuitbreaker.WithCoolDown(time.Hour))
	sink := NewBreakerSink(failing, cb)

	ctx := context.Background()
	_ = sink.Publish(ctx, levelUp("s1"))
	_ = sink.Publish(ctx, levelUp("s1"))
	err := sink.Publish(ctx, levelUp("s1"))

	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
	assert.Contains(t, err.Error(), "push sink unavailable")
	assert.Equal(t, 2, calls)
}
