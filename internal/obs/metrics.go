package obs

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "perpbot"

// Metrics collects counters and latency stats of the trading client.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	hubStatus     *prometheus.GaugeVec
	reconnects    prometheus.Counter
	droppedFrames *prometheus.CounterVec
	riskRejects   *prometheus.CounterVec
	taskStatus    *prometheus.GaugeVec
	orderUpdates  *prometheus.CounterVec
	riskEval      prometheus.Histogram
	orderSubmit   prometheus.Histogram

	mu            sync.Mutex
	lastHubStatus string
	lastTask      map[string]string
}

// NewMetrics allocates a metrics container with its own registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		hubStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "market_data_status",
			Help:      "Market data hub connection status (1 for the current status).",
		}, []string{"status"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "market_data_reconnects_total",
			Help:      "Reconnect attempts of the market data hub.",
		}),
		droppedFrames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "market_data_dropped_frames_total",
			Help:      "Market data frames dropped before reaching a listener.",
		}, []string{"reason"}),
		riskRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "risk_rejects_total",
			Help:      "Order intents rejected by the risk check.",
		}, []string{"reason"}),
		taskStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "task_status",
			Help:      "Task lifecycle status (1 for the current status).",
		}, []string{"task", "status"}),
		orderUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_updates_total",
			Help:      "Order updates folded into order state.",
		}, []string{"status", "applied"}),
		riskEval: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "risk_eval_seconds",
			Help:      "Risk check latency.",
			Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 8),
		}),
		orderSubmit: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "order_submit_seconds",
			Help:      "Order placement round trip latency.",
			Buckets:   prometheus.DefBuckets,
		}),
		lastTask: make(map[string]string),
	}

	m.registry.MustRegister(
		m.hubStatus,
		m.reconnects,
		m.droppedFrames,
		m.riskRejects,
		m.taskStatus,
		m.orderUpdates,
		m.riskEval,
		m.orderSubmit,
	)
	return m
}

// Handler serves the metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// SetHubStatus flips the hub status series to status.
func (m *Metrics) SetHubStatus(status string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lastHubStatus != "" && m.lastHubStatus != status {
		m.hubStatus.WithLabelValues(m.lastHubStatus).Set(0)
	}
	m.hubStatus.WithLabelValues(status).Set(1)
	m.lastHubStatus = status
}

// IncReconnect records a reconnect attempt.
func (m *Metrics) IncReconnect() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

// IncDroppedFrame records a frame that never reached its listener.
func (m *Metrics) IncDroppedFrame(reason string) {
	if m == nil {
		return
	}
	m.droppedFrames.WithLabelValues(reason).Inc()
}

// IncRiskReject increments the risk reason counter.
func (m *Metrics) IncRiskReject(reason string) {
	if m == nil {
		return
	}
	m.riskRejects.WithLabelValues(reason).Inc()
}

// SetTaskStatus flips the status series of taskID to status.
func (m *Metrics) SetTaskStatus(taskID, status string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if last, ok := m.lastTask[taskID]; ok && last != status {
		m.taskStatus.WithLabelValues(taskID, last).Set(0)
	}
	m.taskStatus.WithLabelValues(taskID, status).Set(1)
	m.lastTask[taskID] = status
}

// IncOrderUpdate counts a folded order update.
func (m *Metrics) IncOrderUpdate(status string, applied bool) {
	if m == nil {
		return
	}
	label := "false"
	if applied {
		label = "true"
	}
	m.orderUpdates.WithLabelValues(status, label).Inc()
}

// ObserveRiskEval measures risk evaluation latency.
func (m *Metrics) ObserveRiskEval(d time.Duration) {
	if m == nil || d < 0 {
		return
	}
	m.riskEval.Observe(d.Seconds())
}

// ObserveOrderSubmit measures order placement latency.
func (m *Metrics) ObserveOrderSubmit(d time.Duration) {
	if m == nil || d < 0 {
		return
	}
	m.orderSubmit.Observe(d.Seconds())
}
