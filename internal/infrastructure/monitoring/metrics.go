package monitoring

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records
// nothing, so components can be built without monitoring.
type Metrics struct {
	registry *prometheus.Registry

	// Render loop metrics
	FramesRendered prometheus.Counter
	FramesDropped  *prometheus.CounterVec
	TickDuration   prometheus.Histogram
	LoopOverruns   prometheus.Counter
	AppSwitches    prometheus.Counter

	// App metrics
	AppsRegistered  prometheus.Gauge
	FramesSubmitted *prometheus.CounterVec
	AppErrors       *prometheus.CounterVec

	// IPC metrics
	MessagesRouted  *prometheus.CounterVec
	MessagesDropped *prometheus.CounterVec

	// Sandbox metrics
	SandboxStarts *prometheus.CounterVec
	SandboxStops  *prometheus.CounterVec

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	WSConnections   prometheus.Gauge

	startTime time.Time

	// Snapshot for JSON API - track current values
	snapshot Snapshot
	mu       sync.RWMutex
}

// Snapshot holds current metric values for the JSON API
type Snapshot struct {
	FramesRendered  int64   `json:"frames_rendered"`
	MessagesDropped int64   `json:"messages_dropped"`
	AppErrors       int64   `json:"app_errors"`
	AppSwitches     int64   `json:"app_switches"`
	LoopOverruns    int64   `json:"loop_overruns"`
	AppsRegistered  int64   `json:"apps_registered"`
	LastTickMillis  float64 `json:"last_tick_ms"`
	UptimeSeconds   float64 `json:"uptime_seconds"`
}

// NewMetrics creates a metrics collector with its own registry
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "matrixos"
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	factory := promauto.With(reg)

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		// Render loop metrics
		FramesRendered: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_rendered_total",
			Help:      "Total number of frames handed to the output sink",
		}),
		FramesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Frames discarded before reaching the scheduler",
		}, []string{"reason"}),
		TickDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "render_tick_duration_seconds",
			Help:      "Time spent in one render loop iteration before sleeping",
			Buckets:   []float64{.0001, .00025, .0005, .001, .0025, .005, .01, .016, .025, .05, .1},
		}),
		LoopOverruns: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "render_loop_overruns_total",
			Help:      "Render loop iterations that exceeded the frame budget",
		}),
		AppSwitches: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "app_switches_total",
			Help:      "Number of current-app changes",
		}),

		// App metrics
		AppsRegistered: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "apps_registered",
			Help:      "Number of registered apps",
		}),
		FramesSubmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_submitted_total",
			Help:      "Frames submitted to the scheduler per app",
		}, []string{"app_id"}),
		AppErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "app_errors_total",
			Help:      "App errors reported by execution contexts",
		}, []string{"app_id", "phase"}),

		// IPC metrics
		MessagesRouted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ipc_messages_routed_total",
			Help:      "Inbound messages processed by the kernel",
		}, []string{"type"}),
		MessagesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ipc_messages_dropped_total",
			Help:      "Messages dropped because a queue was full",
		}, []string{"direction"}),

		// Sandbox metrics
		SandboxStarts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sandbox_starts_total",
			Help:      "Execution contexts started",
		}, []string{"mode"}),
		SandboxStops: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sandbox_stops_total",
			Help:      "Execution contexts stopped, by outcome",
		}, []string{"mode", "outcome"}),

		// HTTP metrics
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of monitor HTTP requests",
		}, []string{"method", "path", "status"}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Monitor HTTP request duration in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"method", "path"}),
		WSConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_connections",
			Help:      "Active websocket frame stream connections",
		}),
	}

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "uptime_seconds",
		Help:      "Kernel uptime in seconds",
	}, func() float64 {
		return time.Since(m.startTime).Seconds()
	})

	return m
}

// Registry returns the registry backing these metrics
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordFrameRendered records a frame handed to the sink
func (m *Metrics) RecordFrameRendered() {
	if m == nil {
		return
	}
	m.FramesRendered.Inc()
	m.mu.Lock()
	m.snapshot.FramesRendered++
	m.mu.Unlock()
}

// RecordFrameDropped records a frame discarded before scheduling
func (m *Metrics) RecordFrameDropped(reason string) {
	if m == nil {
		return
	}
	m.FramesDropped.WithLabelValues(reason).Inc()
}

// ObserveTick records one render loop iteration
func (m *Metrics) ObserveTick(d time.Duration, overrun bool) {
	if m == nil {
		return
	}
	m.TickDuration.Observe(d.Seconds())
	if overrun {
		m.LoopOverruns.Inc()
	}
	m.mu.Lock()
	m.snapshot.LastTickMillis = float64(d) / float64(time.Millisecond)
	if overrun {
		m.snapshot.LoopOverruns++
	}
	m.mu.Unlock()
}

// RecordAppSwitch records a current-app change
func (m *Metrics) RecordAppSwitch() {
	if m == nil {
		return
	}
	m.AppSwitches.Inc()
	m.mu.Lock()
	m.snapshot.AppSwitches++
	m.mu.Unlock()
}

// SetAppsRegistered sets the number of registered apps
func (m *Metrics) SetAppsRegistered(count int) {
	if m == nil {
		return
	}
	m.AppsRegistered.Set(float64(count))
	m.mu.Lock()
	m.snapshot.AppsRegistered = int64(count)
	m.mu.Unlock()
}

// RecordFrameSubmitted records a frame accepted for an app
func (m *Metrics) RecordFrameSubmitted(appID string) {
	if m == nil {
		return
	}
	m.FramesSubmitted.WithLabelValues(appID).Inc()
}

// RecordAppError records an app error
func (m *Metrics) RecordAppError(appID, phase string) {
	if m == nil {
		return
	}
	m.AppErrors.WithLabelValues(appID, phase).Inc()
	m.mu.Lock()
	m.snapshot.AppErrors++
	m.mu.Unlock()
}

// RecordMessageRouted records an inbound message processed by the kernel
func (m *Metrics) RecordMessageRouted(msgType string) {
	if m == nil {
		return
	}
	m.MessagesRouted.WithLabelValues(msgType).Inc()
}

// RecordMessageDropped records a message dropped on a full queue
func (m *Metrics) RecordMessageDropped(direction string) {
	if m == nil {
		return
	}
	m.MessagesDropped.WithLabelValues(direction).Inc()
	m.mu.Lock()
	m.snapshot.MessagesDropped++
	m.mu.Unlock()
}

// RecordSandboxStart records an execution context start
func (m *Metrics) RecordSandboxStart(mode string) {
	if m == nil {
		return
	}
	m.SandboxStarts.WithLabelValues(mode).Inc()
}

// RecordSandboxStop records an execution context stop outcome
func (m *Metrics) RecordSandboxStop(mode, outcome string) {
	if m == nil {
		return
	}
	m.SandboxStops.WithLabelValues(mode, outcome).Inc()
}

// RecordHTTPRequest records a monitor HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// IncWSConnections increments websocket connections
func (m *Metrics) IncWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Inc()
}

// DecWSConnections decrements websocket connections
func (m *Metrics) DecWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Dec()
}

// Snapshot returns current values for the JSON API
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	m.mu.RLock()
	s := m.snapshot
	m.mu.RUnlock()
	s.UptimeSeconds = time.Since(m.startTime).Seconds()
	return s
}
