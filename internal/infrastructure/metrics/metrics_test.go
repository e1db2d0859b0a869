package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classhub/progression-engine/internal/application/engine"
	"github.com/classhub/progression-engine/internal/domain/ledger"
	"github.com/classhub/progression-engine/internal/domain/notification"
)

var _ engine.Metrics = (*Metrics)(nil)

func counterValues(t *testing.T, m *Metrics) map[string]float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)

	out := map[string]float64{}
	for _, mf := range families {
		for _, metric := range mf.GetMetric() {
			if c := metric.GetCounter(); c != nil {
				key := mf.GetName()
				for _, l := range metric.GetLabel() {
					key += "|" + l.GetName() + "=" + l.GetValue()
				}
				out[key] = c.GetValue()
			}
		}
	}
	return out
}

func TestMetrics_Counters(t *testing.T) {
	m := New()
	m.TransactionPosted(ledger.TypeFeedback, 250)
	m.TransactionPosted(ledger.TypeDebit, -50)
	m.XPAwarded(30)
	m.XPAwarded(0)
	m.BadgeEarned()
	m.LevelUp(3)
	m.LevelUp(0)
	m.NotificationDelivered(notification.TypeLevelUp, nil)
	m.NotificationDelivered(notification.TypeLevelUp, errors.New("down"))

	v := counterValues(t, m)
	assert.Equal(t, 1.0, v["progression_ledger_transactions_total|type=feedback_reward"])
	assert.Equal(t, 250.0, v["progression_ledger_bits_total|direction=credit"])
	assert.Equal(t, 50.0, v["progression_ledger_bits_total|direction=debit"])
	assert.Equal(t, 30.0, v["progression_xp_awarded_total"])
	assert.Equal(t, 1.0, v["progression_badges_earned_total"])
	assert.Equal(t, 1.0, v["progression_level_ups_total"])
	assert.Equal(t, 3.0, v["progression_levels_gained_total"])
	assert.Equal(t, 1.0, v["progression_notifications_delivered_total|success=true|type=level_up"])
	assert.Equal(t, 1.0, v["progression_notifications_delivered_total|success=false|type=level_up"])
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.OperationFinished("award_bits", 3*time.Millisecond, nil)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, string(body), `progression_operation_duration_seconds_count{operation="award_bits",success="true"} 1`)
}
