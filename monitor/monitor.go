// monitor/monitor.go
package monitor

import (
	"expvar"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	LiveSessions           prometheus.Gauge
	TrackedGames           prometheus.Gauge
	ChangesRecorded        *prometheus.CounterVec
	RegistryResets         prometheus.Counter
	MalformedNotifications prometheus.Counter
	Pushes                 prometheus.Counter
	PushFailures           prometheus.Counter
	PushLatency            prometheus.Histogram
}

func NewMetrics(namespace string, registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		LiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_sessions",
			Help:      "Number of connected sync sessions",
		}),
		TrackedGames: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tracked_games",
			Help:      "Number of games in the update registry",
		}),
		ChangesRecorded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "changes_recorded_total",
			Help:      "Change notifications recorded, by channel",
		}, []string{"channel"}),
		RegistryResets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registry_resets_total",
			Help:      "Times the update registry was cleared on overflow",
		}),
		MalformedNotifications: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "malformed_notifications_total",
			Help:      "Change notifications that could not be parsed",
		}),
		Pushes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pushes_total",
			Help:      "Board and player pushes sent to clients",
		}),
		PushFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "push_failures_total",
			Help:      "Push cycles that ended a session",
		}),
		PushLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "push_latency_seconds",
			Help:      "Time from wake-up to the last message sent",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 10),
		}),
	}

	registerer.MustRegister(
		m.LiveSessions,
		m.TrackedGames,
		m.ChangesRecorded,
		m.RegistryResets,
		m.MalformedNotifications,
		m.Pushes,
		m.PushFailures,
		m.PushLatency,
	)

	return m
}

// Monitor owns its own prometheus registry. All methods are safe on a nil
// *Monitor, which disables metrics.
type Monitor struct {
	metrics   *Metrics
	registry  *prometheus.Registry
	startTime time.Time
	pushCount int64
	mutex     sync.Mutex
	server    *http.Server
}

func NewMonitor(namespace string) *Monitor {
	registry := prometheus.NewRegistry()
	return &Monitor{
		metrics:   NewMetrics(namespace, registry),
		registry:  registry,
		startTime: time.Now(),
	}
}

func (m *Monitor) Metrics() *Metrics {
	if m == nil {
		return nil
	}
	return m.metrics
}

func (m *Monitor) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Monitor) StartServer(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.Handle("/debug/vars", expvar.Handler())

	// 添加expvar指标
	expvar.Publish("uptime", expvar.Func(func() interface{} {
		return time.Since(m.startTime).Seconds()
	}))

	expvar.Publish("pushes", expvar.Func(func() interface{} {
		m.mutex.Lock()
		defer m.mutex.Unlock()
		return m.pushCount
	}))

	m.server = &http.Server{Addr: addr, Handler: mux}
	go m.server.ListenAndServe()
}

func (m *Monitor) Stop() {
	if m == nil || m.server == nil {
		return
	}
	m.server.Close()
}

func (m *Monitor) IncLiveSessions() {
	if m == nil {
		return
	}
	m.metrics.LiveSessions.Inc()
}

func (m *Monitor) DecLiveSessions() {
	if m == nil {
		return
	}
	m.metrics.LiveSessions.Dec()
}

func (m *Monitor) SetTrackedGames(count int) {
	if m == nil {
		return
	}
	m.metrics.TrackedGames.Set(float64(count))
}

func (m *Monitor) IncChangesRecorded(channel string) {
	if m == nil {
		return
	}
	m.metrics.ChangesRecorded.WithLabelValues(channel).Inc()
}

func (m *Monitor) IncRegistryResets() {
	if m == nil {
		return
	}
	m.metrics.RegistryResets.Inc()
}

func (m *Monitor) IncMalformedNotifications() {
	if m == nil {
		return
	}
	m.metrics.MalformedNotifications.Inc()
}

func (m *Monitor) IncPushFailures() {
	if m == nil {
		return
	}
	m.metrics.PushFailures.Inc()
}

func (m *Monitor) ObservePush(duration time.Duration) {
	if m == nil {
		return
	}
	m.metrics.Pushes.Inc()
	m.metrics.PushLatency.Observe(duration.Seconds())
	m.mutex.Lock()
	m.pushCount++
	m.mutex.Unlock()
}
