// Package observability owns the Prometheus collectors exported on /metrics.
package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups every collector the service exports. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	chatRequests      *prometheus.CounterVec
	crisisDetections  prometheus.Counter
	generationLatency *prometheus.HistogramVec
	retrievalLatency  *prometheus.HistogramVec
	sessionEvictions  *prometheus.CounterVec
	searchRequests    *prometheus.CounterVec
	feedbackRatings   *prometheus.CounterVec
	httpRequests      *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec

	reg prometheus.Registerer
}

// NewMetrics registers all collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		chatRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mindcare_chat_requests_total",
			Help: "Chat exchanges by outcome",
		}, []string{"outcome"}),
		crisisDetections: f.NewCounter(prometheus.CounterOpts{
			Name: "mindcare_crisis_detections_total",
			Help: "Messages intercepted by the crisis gate",
		}),
		generationLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mindcare_generation_duration_seconds",
			Help:    "Generation call latency by result",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~51s
		}, []string{"result"}),
		retrievalLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mindcare_retrieval_duration_seconds",
			Help:    "Document index query latency by search mode",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~2.5s
		}, []string{"mode"}),
		sessionEvictions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mindcare_session_evictions_total",
			Help: "Sessions evicted from memory by reason",
		}, []string{"reason"}),
		searchRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mindcare_search_requests_total",
			Help: "Direct search requests by outcome",
		}, []string{"outcome"}),
		feedbackRatings: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mindcare_feedback_ratings_total",
			Help: "Feedback submissions by rating",
		}, []string{"rating"}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mindcare_http_requests_total",
			Help: "HTTP requests by route and status code",
		}, []string{"method", "route", "status"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mindcare_http_request_duration_seconds",
			Help:    "HTTP request latency by route",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// RegisterActiveSessions exports fn as the active session gauge.
func (m *Metrics) RegisterActiveSessions(fn func() int) {
	if m == nil {
		return
	}
	promauto.With(m.reg).NewGaugeFunc(prometheus.GaugeOpts{
		Name: "mindcare_active_sessions",
		Help: "Sessions currently held in memory",
	}, func() float64 { return float64(fn()) })
}

func (m *Metrics) ChatOutcome(outcome string) {
	if m == nil {
		return
	}
	m.chatRequests.WithLabelValues(outcome).Inc()
}

func (m *Metrics) CrisisDetected() {
	if m == nil {
		return
	}
	m.crisisDetections.Inc()
}

func (m *Metrics) ObserveGeneration(d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.generationLatency.WithLabelValues(result).Observe(d.Seconds())
}

func (m *Metrics) ObserveRetrieval(mode string, d time.Duration) {
	if m == nil {
		return
	}
	m.retrievalLatency.WithLabelValues(mode).Observe(d.Seconds())
}

func (m *Metrics) SessionEvicted(reason string) {
	if m == nil {
		return
	}
	m.sessionEvictions.WithLabelValues(reason).Inc()
}

func (m *Metrics) SearchOutcome(outcome string) {
	if m == nil {
		return
	}
	m.searchRequests.WithLabelValues(outcome).Inc()
}

func (m *Metrics) FeedbackRating(rating int) {
	if m == nil {
		return
	}
	m.feedbackRatings.WithLabelValues(strconv.Itoa(rating)).Inc()
}

func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
