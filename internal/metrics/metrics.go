// Package metrics expõe os contadores Prometheus do pipeline de resposta
// automática. Um *Metrics nil é válido e não registra nada.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "autoreply"

type Metrics struct {
	registry *prometheus.Registry

	outcomes         *prometheus.CounterVec
	providerRequests *prometheus.CounterVec
	retries          *prometheus.CounterVec
	rateWait         *prometheus.HistogramVec
	handleDuration   prometheus.Histogram
	queueRejected    prometheus.Counter
	authState        *prometheus.GaugeVec
}

func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "outcomes_total",
			Help:      "Eventos processados por resultado",
		}, []string{"outcome"}),

		providerRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "requests_total",
			Help:      "Chamadas ao provedor por operação e resultado",
		}, []string{"operation", "result"}),

		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "retries_total",
			Help:      "Repetições de envio por instância",
		}, []string{"instance"}),

		rateWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "rate_wait_seconds",
			Help:      "Tempo de espera imposto pelo intervalo mínimo entre envios",
			Buckets:   []float64{0, 0.5, 1, 2, 4, 8, 16, 32, 64},
		}, []string{"instance"}),

		handleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "handle_duration_seconds",
			Help:      "Duração do processamento de um evento de entrada",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14),
		}),

		queueRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "queue_rejected_total",
			Help:      "Eventos recusados por fila cheia ou fechada",
		}),

		authState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "authorized",
			Help:      "1 quando a instância está autorizada, 0 caso contrário",
		}, []string{"instance"}),
	}

	registry.MustRegister(
		m.outcomes,
		m.providerRequests,
		m.retries,
		m.rateWait,
		m.handleDuration,
		m.queueRejected,
		m.authState,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveOutcome(outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(outcome).Inc()
	m.handleDuration.Observe(took.Seconds())
}

func (m *Metrics) ProviderRequest(operation, result string) {
	if m == nil {
		return
	}
	m.providerRequests.WithLabelValues(operation, result).Inc()
}

func (m *Metrics) Retry(instanceID string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(instanceID).Inc()
}

func (m *Metrics) RateWait(instanceID string, wait time.Duration) {
	if m == nil {
		return
	}
	m.rateWait.WithLabelValues(instanceID).Observe(wait.Seconds())
}

func (m *Metrics) QueueRejected() {
	if m == nil {
		return
	}
	m.queueRejected.Inc()
}

func (m *Metrics) SetAuthorized(instanceID string, authorized bool) {
	if m == nil {
		return
	}
	v := 0.0
	if authorized {
		v = 1
	}
	m.authState.WithLabelValues(instanceID).Set(v)
}
