package redis

import (
	"context"
	"net"
	"os"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classhub/progression-engine/internal/domain/notification"
	"github.com/classhub/progression-engine/internal/domain/reward"
)

// REDIS_TEST_ADDR=localhost:6379 enables the tests below.
func testCache(t *testing.T) *Cache {
	t.Helper()
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	host, port, err := net.SplitHostPort(addr)
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.Host = host
	cfg.Port, err = strconv.Atoi(port)
	require.NoError(t, err)

	cache, err := NewCache(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close() })
	return cache
}

type countingSource struct {
	calls  atomic.Int32
	values []reward.GroupMultiplier
}

func (s *countingSource) ApprovedMultipliers(context.Context, string, string) ([]reward.GroupMultiplier, error) {
	s.calls.Add(1)
	return s.values, nil
}

func TestGroupMultiplierCache_ReadThroughAndInvalidate(t *testing.T) {
	cache := testCache(t)
	ctx := context.Background()
	classroom := "class-" + uuid.NewString()
	t.Cleanup(func() { _ = cache.Delete(ctx, GroupMultipliersKey(classroom)) })

	src := &countingSource{values: []reward.GroupMultiplier{{GroupID: "g1", Value: 2}}}
	gc := NewGroupMultiplierCache(cache, src, time.Minute, nil)

	for range 2 {
		got, err := gc.ApprovedMultipliers(ctx, classroom, "u1")
		require.NoError(t, err)
		assert.Equal(t, src.values, got)
	}
	assert.Equal(t, int32(1), src.calls.Load())

	require.NoError(t, gc.InvalidateClassroom(ctx, classroom))
	_, err := gc.ApprovedMultipliers(ctx, classroom, "u1")
	require.NoError(t, err)
	assert.Equal(t, int32(2), src.calls.Load())
}

func TestIdempotencyGuard_ClaimOnce(t *testing.T) {
	cache := testCache(t)
	ctx := context.Background()
	guard := NewIdempotencyGuard(cache)
	key := "award_bits:" + uuid.NewString()
	t.Cleanup(func() { _ = guard.Release(ctx, key) })

	ok, err := guard.Claim(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = guard.Claim(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, guard.Release(ctx, key))
	ok, err = guard.Claim(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPubSubSink_Listen(t *testing.T) {
	cache := testCache(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	received := make(chan notification.Notification, 1)
	done := make(chan error, 1)
	go func() {
		done <- Listen(ctx, cache, nil, func(n notification.Notification) {
			select {
			case received <- n:
			default:
			}
		})
	}()

	want := notification.Notification{
		ID:     uuid.NewString(),
		Type:   notification.TypeLevelUp,
		UserID: "u1",
	}
	sink := NewPubSubSink(cache)
	// the subscription is confirmed asynchronously; publish until it lands
	require.Eventually(t, func() bool {
		if !assert.NoError(t, sink.Publish(ctx, want)) {
			return false
		}
		select {
		case got := <-received:
			assert.Equal(t, want.ID, got.ID)
			assert.Equal(t, want.Type, got.Type)
			return true
		case <-time.After(100 * time.Millisecond):
			return false
		}
	}, 4*time.Second, 10*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}
