package metrics

import "github.com/prometheus/client_golang/prometheus"

// ProviderMetrics exposes counters/histograms for routed LLM calls.
type ProviderMetrics struct {
	requestsTotal   *prometheus.CounterVec
	requestLatency  *prometheus.HistogramVec
	firstChunk      *prometheus.HistogramVec
	streamedChunks  *prometheus.CounterVec
	retrievalErrors prometheus.Counter
}

func NewProviderMetrics(reg prometheus.Registerer) *ProviderMetrics {
	m := &ProviderMetrics{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "llmrouter",
			Subsystem: "provider",
			Name:      "requests_total",
			Help:      "Total routed LLM requests",
		}, []string{"provider", "mode", "status"}),
		requestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "llmrouter",
			Subsystem: "provider",
			Name:      "request_duration_seconds",
			Help:      "Time until a batch completion returned or a stream finished",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60},
		}, []string{"provider", "mode"}),
		firstChunk: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "llmrouter",
			Subsystem: "provider",
			Name:      "first_chunk_seconds",
			Help:      "Time to the first streamed chunk",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider"}),
		streamedChunks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "llmrouter",
			Subsystem: "provider",
			Name:      "stream_chunks_total",
			Help:      "Total chunks forwarded to callers",
		}, []string{"provider"}),
		retrievalErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "llmrouter",
			Subsystem: "retrieval",
			Name:      "errors_total",
			Help:      "Retrieval calls that failed and fell back to attached contexts",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.requestsTotal, m.requestLatency, m.firstChunk, m.streamedChunks, m.retrievalErrors)
	return m
}

// ObserveRequest records the outcome of one routed call. status is "ok" or
// an error kind.
func (m *ProviderMetrics) ObserveRequest(provider, mode, status string, seconds float64) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(provider, mode, status).Inc()
	m.requestLatency.WithLabelValues(provider, mode).Observe(seconds)
}

func (m *ProviderMetrics) ObserveFirstChunk(provider string, seconds float64) {
	if m == nil {
		return
	}
	m.firstChunk.WithLabelValues(provider).Observe(seconds)
}

func (m *ProviderMetrics) AddChunks(provider string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.streamedChunks.WithLabelValues(provider).Add(float64(n))
}

func (m *ProviderMetrics) IncRetrievalError() {
	if m == nil {
		return
	}
	m.retrievalErrors.Inc()
}
