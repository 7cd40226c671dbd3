package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tradestream"

// Metrics 引擎的 Prometheus 指标
type Metrics struct {
	registry *prometheus.Registry

	connections    prometheus.Gauge
	cycleDuration  prometheus.Histogram
	tradesClosed   *prometheus.CounterVec
	bridgeFrames   prometheus.Counter
	protocolErrors prometheus.Counter
	droppedClients prometheus.Counter
	feedReconnects *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		connections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "connections",
			Help:      "Number of connected WebSocket clients",
		}),
		// 每个 tick 跑一次 cycle，超过一个 tick 就有问题
		cycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "cycle_duration_ms",
			Help:      "Duration of one engine cycle in milliseconds",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		}),
		tradesClosed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "trades_closed_total",
			Help:      "Positions closed by the engine",
		}, []string{"reason"}),
		bridgeFrames: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "frames_total",
			Help:      "trade_closed frames delivered from the notification queue",
		}),
		protocolErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "protocol_errors_total",
			Help:      "Inbound messages rejected by the protocol layer",
		}),
		droppedClients: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "dropped_clients_total",
			Help:      "Clients disconnected because their send buffer was full",
		}),
		feedReconnects: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "reconnects_total",
			Help:      "Upstream feed reconnect attempts",
		}, []string{"feed"}),
	}
}

func (m *Metrics) SetConnections(n int) { m.connections.Set(float64(n)) }

func (m *Metrics) ObserveCycle(d time.Duration) {
	m.cycleDuration.Observe(float64(d) / float64(time.Millisecond))
}

func (m *Metrics) IncTradeClosed(reason string) { m.tradesClosed.WithLabelValues(reason).Inc() }

func (m *Metrics) AddBridgeFrames(n int) {
	if n > 0 {
		m.bridgeFrames.Add(float64(n))
	}
}

func (m *Metrics) IncProtocolErrors() { m.protocolErrors.Inc() }
func (m *Metrics) IncDroppedClients() { m.droppedClients.Inc() }

func (m *Metrics) IncFeedReconnect(feed string) { m.feedReconnects.WithLabelValues(feed).Inc() }

// Handler 以 Prometheus 文本格式暴露 registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
