package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"gwi.com/mindcare-assistant/internal/observability"
)

// unmatchedRoute labels requests no route pattern matched, so that arbitrary
// paths cannot grow the metric label set.
const unmatchedRoute = "unmatched"

type RouterOptions struct {
	Logger   *zap.Logger
	Metrics  *observability.Metrics
	Gatherer prometheus.Gatherer
	// RateLimit of zero disables throttling.
	RateLimit float64
	RateBurst int
}

func NewRouter(apiHandler *APIHandler, opts RouterOptions) http.Handler {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(accessLog(opts.Logger, opts.Metrics))
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)

	if opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", apiHandler.HealthHandler)
		r.Get("/resources", apiHandler.ResourcesHandler)

		r.Group(func(r chi.Router) {
			if opts.RateLimit > 0 {
				r.Use(rateLimit(rate.NewLimiter(rate.Limit(opts.RateLimit), opts.RateBurst)))
			}
			r.Post("/chat", apiHandler.ChatHandler)
			r.Post("/clear-history", apiHandler.ClearHistoryHandler)
			r.Post("/search", apiHandler.SearchHandler)
			r.Post("/feedback", apiHandler.FeedbackHandler)
		})
	})

	return r
}

// accessLog records one line per request. Bodies are never logged.
func accessLog(logger *zap.Logger, metrics *observability.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			route := unmatchedRoute
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			elapsed := time.Since(start)
			metrics.ObserveHTTP(r.Method, route, status, elapsed)
			logger.Info("http request",
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("method", r.Method),
				zap.String("route", route),
				zap.String("path", r.URL.Path),
				zap.Int("status", status),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", elapsed))
		})
	}
}

// rateLimit applies one process-wide token bucket.
func rateLimit(limiter *rate.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				w.Header().Set("Retry-After", "1")
				respondMessage(w, http.StatusTooManyRequests, "Too many requests. Please wait a moment.")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
