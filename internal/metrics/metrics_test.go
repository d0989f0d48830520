package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordTransitionIncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("test", reg)

	m.RecordTransition("session", "LOBBY", "IN_PROGRESS", "accepted")
	m.RecordTransition("session", "LOBBY", "IN_PROGRESS", "accepted")

	metric := &dto.Metric{}
	require.NoError(t, m.TransitionsTotal.WithLabelValues("session", "LOBBY", "IN_PROGRESS", "accepted").Write(metric))
	assert.Equal(t, float64(2), metric.GetCounter().GetValue())
}

func TestRecordTimerExpiryLabelsByDetector(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("test", reg)

	m.RecordTimerExpiry("read_path")
	m.RecordTimerExpiry("supervisor")

	readPath := &dto.Metric{}
	require.NoError(t, m.TimerExpiryTotal.WithLabelValues("read_path").Write(readPath))
	assert.Equal(t, float64(1), readPath.GetCounter().GetValue())

	supervisor := &dto.Metric{}
	require.NoError(t, m.TimerExpiryTotal.WithLabelValues("supervisor").Write(supervisor))
	assert.Equal(t, float64(1), supervisor.GetCounter().GetValue())
}

func TestLeaderboardChecksumMismatchCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("test", reg)

	m.LeaderboardChecksumMismatchTotal.Inc()

	metric := &dto.Metric{}
	require.NoError(t, m.LeaderboardChecksumMismatchTotal.Write(metric))
	assert.Equal(t, float64(1), metric.GetCounter().GetValue())
}
