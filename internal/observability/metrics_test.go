package observability

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ChatOutcome("success")
	m.ChatOutcome("success")
	m.ChatOutcome("crisis")
	m.CrisisDetected()
	m.SessionEvicted("idle")
	m.SearchOutcome("success")
	m.FeedbackRating(5)
	m.ObserveGeneration(200*time.Millisecond, nil)
	m.ObserveGeneration(time.Second, errors.New("boom"))
	m.ObserveRetrieval("mmr", 10*time.Millisecond)
	m.ObserveHTTP("POST", "/api/chat", 200, 50*time.Millisecond)

	sessions := 3
	m.RegisterActiveSessions(func() int { return sessions })

	require.Equal(t, 2.0, testutil.ToFloat64(m.chatRequests.WithLabelValues("success")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.chatRequests.WithLabelValues("crisis")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.crisisDetections))
	require.Equal(t, 1.0, testutil.ToFloat64(m.sessionEvictions.WithLabelValues("idle")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.feedbackRatings.WithLabelValues("5")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("POST", "/api/chat", "200")))
	require.Equal(t, 2, testutil.CollectAndCount(m.generationLatency))

	families, err := reg.Gather()
	require.NoError(t, err)
	var found bool
	for _, mf := range families {
		if mf.GetName() == "mindcare_active_sessions" {
			found = true
			require.Equal(t, 3.0, mf.GetMetric()[0].GetGauge().GetValue())
		}
	}
	require.True(t, found)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	require.NotPanics(t, func() {
		m.ChatOutcome("success")
		m.CrisisDetected()
		m.ObserveGeneration(time.Second, nil)
		m.ObserveRetrieval("similarity", time.Millisecond)
		m.SessionEvicted("capacity")
		m.SearchOutcome("error")
		m.FeedbackRating(1)
		m.ObserveHTTP("GET", "/api/health", 200, time.Millisecond)
		m.RegisterActiveSessions(func() int { return 0 })
	})
}
