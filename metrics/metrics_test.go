package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ObserveCall("tools/list", "ok", 15*time.Millisecond)
	m.ObserveCall("tools/list", "ok", 5*time.Millisecond)
	m.ObserveCall("tools/call", "timeout", time.Second)
	m.SetPending(3)
	m.SetState(3)
	m.Reconnect(true)
	m.Reconnect(false)
	m.Notification("notifications/message")
	m.Timeout()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.CallsTotal.WithLabelValues("tools/list", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CallsTotal.WithLabelValues("tools/call", "timeout")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.PendingCalls))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.SessionState))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReconnectsTotal.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Notifications.WithLabelValues("notifications/message")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TimeoutsTotal))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveCall("x", "ok", time.Millisecond)
		m.SetPending(1)
		m.SetState(1)
		m.Reconnect(true)
		m.Notification("x")
		m.Timeout()
	})
}
