// monitor/monitor.go
package monitor

import (
	"expvar"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	ConnectedClients  prometheus.Gauge
	OnlinePlayers     prometheus.Gauge
	MessagesReceived  *prometheus.CounterVec
	MalformedMessages prometheus.Counter
	BroadcastFailures prometheus.Counter
	Ticks             prometheus.Counter
	TickDuration      prometheus.Histogram
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ConnectedClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected_clients",
			Help:      "Number of open connections, players and viewers",
		}),
		OnlinePlayers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "online_players",
			Help:      "Number of entries in the player registry",
		}),
		MessagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Total number of well-formed envelopes received, by type",
		}, []string{"type"}),
		MalformedMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "malformed_messages_total",
			Help:      "Total number of dropped malformed messages",
		}),
		BroadcastFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_failures_total",
			Help:      "Connections evicted after a failed send",
		}),
		Ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Completed tick passes",
		}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Time spent clamping, encoding and broadcasting per tick",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 12),
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.ConnectedClients,
		m.OnlinePlayers,
		m.MessagesReceived,
		m.MalformedMessages,
		m.BroadcastFailures,
		m.Ticks,
		m.TickDuration,
	}
}

var (
	processStart = time.Now()
	publishOnce  sync.Once
	liveMonitor  atomic.Pointer[Monitor]
)

// Monitor 每个服务器实例持有独立的 prometheus registry，测试里可以并存多个
// All methods are safe to call on a nil *Monitor.
type Monitor struct {
	metrics   *Metrics
	registry  *prometheus.Registry
	received  atomic.Int64
}

func NewMonitor(namespace string) *Monitor {
	m := &Monitor{
		metrics:   NewMetrics(namespace),
		registry:  prometheus.NewRegistry(),
	}
	m.registry.MustRegister(m.metrics.collectors()...)
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	liveMonitor.Store(m)
	publishExpvars()
	return m
}

// expvar 的名字是进程级的，只能发布一次；requests 读取最近创建的 Monitor
func publishExpvars() {
	publishOnce.Do(func() {
		expvar.Publish("uptime", expvar.Func(func() interface{} {
			return time.Since(processStart).Seconds()
		}))
		expvar.Publish("requests", expvar.Func(func() interface{} {
			if m := liveMonitor.Load(); m != nil {
				return m.received.Load()
			}
			return int64(0)
		}))
	})
}

func (m *Monitor) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves this monitor's metrics in the Prometheus text format.
func (m *Monitor) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// VarsHandler serves /debug/vars.
func (m *Monitor) VarsHandler() http.Handler {
	return expvar.Handler()
}

func (m *Monitor) ConnectionOpened() {
	if m == nil {
		return
	}
	m.metrics.ConnectedClients.Inc()
}

func (m *Monitor) ConnectionClosed() {
	if m == nil {
		return
	}
	m.metrics.ConnectedClients.Dec()
}

func (m *Monitor) SetOnlinePlayers(count int) {
	if m == nil {
		return
	}
	m.metrics.OnlinePlayers.Set(float64(count))
}

func (m *Monitor) IncMessagesReceived(msgType string) {
	if m == nil {
		return
	}
	m.metrics.MessagesReceived.WithLabelValues(msgType).Inc()
	m.received.Add(1)
}

func (m *Monitor) IncMalformed() {
	if m == nil {
		return
	}
	m.metrics.MalformedMessages.Inc()
}

func (m *Monitor) IncBroadcastFailures() {
	if m == nil {
		return
	}
	m.metrics.BroadcastFailures.Inc()
}

func (m *Monitor) ObserveTick(duration time.Duration) {
	if m == nil {
		return
	}
	m.metrics.Ticks.Inc()
	m.metrics.TickDuration.Observe(duration.Seconds())
}
