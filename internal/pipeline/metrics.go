package pipeline

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Request outcomes recorded by Metrics.
const (
	outcomeSuccess      = "success"
	outcomeClientError  = "client_error"
	outcomeServerError  = "server_error"
	outcomeNetworkError = "network_error"
	outcomeReauthFailed = "reauth_failed"
	outcomeRejected     = "rejected_after_refresh"
	outcomeCanceled     = "canceled"
	outcomeError        = "error"
)

// Refresh outcomes recorded by Metrics.
const (
	refreshSucceeded = "success"
	refreshFailed    = "failure"
	refreshSkipped   = "stale_token"
)

// Metrics counts pipeline activity. A nil *Metrics records nothing.
type Metrics struct {
	requests        *prometheus.CounterVec
	refreshes       *prometheus.CounterVec
	refreshDuration prometheus.Histogram
	waiting         prometheus.Gauge
}

// NewMetrics creates the pipeline collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sessionkeeper",
			Name:      "requests_total",
			Help:      "Authenticated pipeline calls by method and outcome.",
		}, []string{"method", "outcome"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sessionkeeper",
			Name:      "token_refreshes_total",
			Help:      "Access token recoveries by outcome.",
		}, []string{"outcome"}),
		refreshDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "sessionkeeper",
			Name:      "token_refresh_duration_seconds",
			Help:      "Duration of refresh round trips.",
			Buckets:   prometheus.DefBuckets,
		}),
		waiting: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sessionkeeper",
			Name:      "refresh_waiting_calls",
			Help:      "Calls queued behind the in-flight refresh.",
		}),
	}
	reg.MustRegister(m.requests, m.refreshes, m.refreshDuration, m.waiting)
	return m
}

func (m *Metrics) observeRequest(method string, resp *Response, err error) {
	if m == nil {
		return
	}
	if method == "" {
		method = http.MethodGet
	}
	m.requests.WithLabelValues(method, classify(resp, err)).Inc()
}

func (m *Metrics) observeRefresh(outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(outcome).Inc()
	if outcome != refreshSkipped {
		m.refreshDuration.Observe(took.Seconds())
	}
}

func (m *Metrics) addWaiting(delta float64) {
	if m == nil {
		return
	}
	m.waiting.Add(delta)
}

// classify maps a call result onto a low-cardinality outcome label.
func classify(resp *Response, err error) string {
	var (
		reauthErr   *ReauthFailedError
		networkErr  *NetworkError
		upstreamErr *UpstreamError
	)
	switch {
	case errors.As(err, &reauthErr):
		return outcomeReauthFailed
	case errors.As(err, &networkErr):
		return outcomeNetworkError
	case errors.As(err, &upstreamErr):
		return outcomeRejected
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return outcomeCanceled
	case err != nil, resp == nil:
		return outcomeError
	case resp.StatusCode >= 500:
		return outcomeServerError
	case resp.StatusCode >= 400:
		return outcomeClientError
	default:
		return outcomeSuccess
	}
}
