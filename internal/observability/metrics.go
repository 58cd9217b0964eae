package observability

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects application metrics.
type Metrics interface {
	RecordRequest(ctx context.Context, labels RequestLabels)
	RecordLatency(ctx context.Context, seconds float64, labels RequestLabels)
	RecordTokens(ctx context.Context, input, output int, labels RequestLabels)
	RecordCost(ctx context.Context, cost float64, labels RequestLabels)
	RecordCacheLookup(ctx context.Context, hit bool)
	RecordSearchFailure(ctx context.Context, namespace string)
}

// RequestLabels contains metric dimensions.
type RequestLabels struct {
	Operation string // process or retrieve
	Model     string
	Outcome   string // grounded, ungrounded, cache_hit, error
}

// Outcome label values
const (
	OutcomeGrounded   = "grounded"
	OutcomeUngrounded = "ungrounded"
	OutcomeCacheHit   = "cache_hit"
	OutcomeError      = "error"
)

// PrometheusMetrics implements Metrics with Prometheus collectors.
type PrometheusMetrics struct {
	requests       *prometheus.CounterVec
	latency        *prometheus.HistogramVec
	tokens         *prometheus.CounterVec
	cost           *prometheus.CounterVec
	cacheLookups   *prometheus.CounterVec
	searchFailures *prometheus.CounterVec
}

// NewPrometheusMetrics creates the collectors and registers them with reg.
func NewPrometheusMetrics(reg prometheus.Registerer) (*PrometheusMetrics, error) {
	labels := []string{"operation", "model", "outcome"}
	m := &PrometheusMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "answer_engine",
			Name:      "requests_total",
			Help:      "Answer and retrieval requests by outcome.",
		}, labels),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "answer_engine",
			Name:      "request_duration_seconds",
			Help:      "End-to-end request latency.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, labels),
		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "answer_engine",
			Name:      "tokens_total",
			Help:      "Tokens consumed by generation.",
		}, []string{"model", "direction"}),
		cost: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "answer_engine",
			Name:      "cost_usd_total",
			Help:      "Estimated generation cost in USD.",
		}, []string{"model"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "answer_engine",
			Name:      "cache_lookups_total",
			Help:      "Answer cache lookups by result.",
		}, []string{"result"}),
		searchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "answer_engine",
			Name:      "namespace_search_failures_total",
			Help:      "Vector searches that failed and contributed no candidates.",
		}, []string{"namespace"}),
	}

	for _, c := range []prometheus.Collector{m.requests, m.latency, m.tokens, m.cost, m.cacheLookups, m.searchFailures} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (l RequestLabels) values() []string {
	return []string{l.Operation, l.Model, l.Outcome}
}

func (m *PrometheusMetrics) RecordRequest(_ context.Context, labels RequestLabels) {
	m.requests.WithLabelValues(labels.values()...).Inc()
}

func (m *PrometheusMetrics) RecordLatency(_ context.Context, seconds float64, labels RequestLabels) {
	m.latency.WithLabelValues(labels.values()...).Observe(seconds)
}

func (m *PrometheusMetrics) RecordTokens(_ context.Context, input, output int, labels RequestLabels) {
	m.tokens.WithLabelValues(labels.Model, "input").Add(float64(input))
	m.tokens.WithLabelValues(labels.Model, "output").Add(float64(output))
}

func (m *PrometheusMetrics) RecordCost(_ context.Context, cost float64, labels RequestLabels) {
	m.cost.WithLabelValues(labels.Model).Add(cost)
}

func (m *PrometheusMetrics) RecordCacheLookup(_ context.Context, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

func (m *PrometheusMetrics) RecordSearchFailure(_ context.Context, namespace string) {
	m.searchFailures.WithLabelValues(namespace).Inc()
}

// NopMetrics discards everything.
type NopMetrics struct{}

func (NopMetrics) RecordRequest(context.Context, RequestLabels) {}
func (NopMetrics) RecordLatency(context.Context, float64, RequestLabels) {}
func (NopMetrics) RecordTokens(context.Context, int, int, RequestLabels) {}
func (NopMetrics) RecordCost(context.Context, float64, RequestLabels) {}
func (NopMetrics) RecordCacheLookup(context.Context, bool) {}
func (NopMetrics) RecordSearchFailure(context.Context, string) {}
