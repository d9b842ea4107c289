package daemon

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sidelinehq/crewd/internal/models"
)

// metricsQuery is the narrow read slice the metrics gauges poll.
// Satisfied structurally by *state.Projection, the same pattern every
// other package in this repo uses to avoid importing internal/state
// directly.
type metricsQuery interface {
	ListQueueDefs() []*models.QueueDef
	ListQueueItems(queue string) []*models.QueueItem
	ListAgents() []*models.Agent
}

// metricsRecorder implements bus.Metrics and owns the Prometheus
// registry backing the daemon's loopback-only /metrics endpoint. This is
// observability, not a feature — it runs regardless of which runbook
// features are in play.
type metricsRecorder struct {
	registry      *prometheus.Registry
	appendLatency prometheus.Histogram
	busQueueDepth prometheus.GaugeFunc
	queueDepth    *prometheus.GaugeVec
	agentsByPhase *prometheus.GaugeVec

	server *http.Server
}

// busDepthFunc is the one bus method the gauge needs; satisfied by
// *bus.Bus without this package importing internal/bus for anything
// else.
type busDepthFunc func() int

func newMetricsRecorder(q metricsQuery, busDepth busDepthFunc) *metricsRecorder {
	reg := prometheus.NewRegistry()

	m := &metricsRecorder{
		registry: reg,
		appendLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "crewd",
			Subsystem: "wal",
			Name:      "append_seconds",
			Help:      "Latency of a single WAL append, including fsync.",
			Buckets:   prometheus.DefBuckets,
		}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "crewd",
			Subsystem: "queue",
			Name:      "items",
			Help:      "Queue items by queue name and status.",
		}, []string{"queue", "status"}),
		agentsByPhase: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "crewd",
			Subsystem: "agent",
			Name:      "count",
			Help:      "Agents by phase.",
		}, []string{"phase"}),
	}
	m.busQueueDepth = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "crewd",
		Subsystem: "bus",
		Name:      "pending_events",
		Help:      "Follow-on events queued for the bus's in-progress drain.",
	}, func() float64 { return float64(busDepth()) })

	reg.MustRegister(m.appendLatency, m.queueDepth, m.agentsByPhase, m.busQueueDepth)

	// Entity-count gauges are refreshed on scrape rather than pushed on
	// every mutation, since Prometheus's own pull model already gives us
	// a natural sampling point and the projection is cheap to re-walk.
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "crewd", Subsystem: "scrape", Name: "refresh_total",
		Help: "Always 1; evaluating it refreshes the queue and agent gauges on each scrape.",
	}, func() float64 {
		m.refresh(q)
		return 1
	}))

	return m
}

func (m *metricsRecorder) refresh(q metricsQuery) {
	m.queueDepth.Reset()
	for _, def := range q.ListQueueDefs() {
		counts := map[models.QueueItemStatus]int{}
		for _, item := range q.ListQueueItems(def.Name) {
			counts[item.Status]++
		}
		for status, n := range counts {
			m.queueDepth.WithLabelValues(def.Name, string(status)).Set(float64(n))
		}
	}

	m.agentsByPhase.Reset()
	counts := map[models.AgentPhase]int{}
	for _, a := range q.ListAgents() {
		counts[a.Phase]++
	}
	for phase, n := range counts {
		m.agentsByPhase.WithLabelValues(string(phase)).Set(float64(n))
	}
}

// ObserveAppend implements bus.Metrics.
func (m *metricsRecorder) ObserveAppend(d time.Duration) {
	m.appendLatency.Observe(d.Seconds())
}

// listen starts the loopback-only /metrics HTTP server. addr is
// typically "127.0.0.1:0" in tests or a fixed loopback port in
// production — never a wildcard address, since this endpoint carries no
// auth of its own, matching how the control socket is confined too.
func (m *metricsRecorder) listen(addr string) (string, error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", err
	}
	m.server = &http.Server{Handler: mux}
	go func() {
		if err := m.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("daemon: metrics server failed", "error", err.Error())
		}
	}()
	return ln.Addr().String(), nil
}

func (m *metricsRecorder) close() error {
	if m.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return m.server.Shutdown(ctx)
}
