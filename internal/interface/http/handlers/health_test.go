package handlers

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func TestCompositeHealthChecker_NoChecks(t *testing.T) {
	status := NewCompositeHealthChecker("1.0.0").Check(context.Background())
	assert.True(t, status.Healthy)
	assert.Equal(t, "1.0.0", status.Version)
	assert.Empty(t, status.Checks)
}

func TestCompositeHealthChecker_AggregatesFailures(t *testing.T) {
	c := NewCompositeHealthChecker("1.0.0")
	c.AddCheck("postgres", PingCheck(pinger{}))
	c.AddCheck("redis", PingCheck(pinger{err: errors.New("connection refused")}))

	status := c.Check(context.Background())
	require.Len(t, status.Checks, 2)
	assert.False(t, status.Healthy)
	assert.True(t, status.Checks["postgres"].Healthy)
	assert.Equal(t, "connection refused", status.Checks["redis"].Message)
	assert.Equal(t, "checks failed: redis", status.Message)
}
