package service

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func Test_Metrics_Counters(t *testing.T) {
	m := New()

	m.Evaluation("opened", 150*time.Millisecond)
	m.Evaluation("none", time.Millisecond)
	m.Evaluation("none", time.Millisecond)
	m.LockContended("mutation")
	m.WatchdogCleared(3)
	m.WatchdogCleared(0)

	require.InDelta(t, 2, testutil.ToFloat64(m.evaluations.WithLabelValues("none")), 1e-9)
	require.InDelta(t, 1, testutil.ToFloat64(m.lockContention.WithLabelValues("mutation")), 1e-9)
	require.InDelta(t, 3, testutil.ToFloat64(m.watchdogCleared), 1e-9)
}

func Test_Metrics_NilSafe(t *testing.T) {
	var m *Metrics
	require.NotPanics(t, func() {
		m.Evaluation("none", time.Second)
		m.CASRetry()
		m.Halted()
		m.NotificationDropped()
	})
}
