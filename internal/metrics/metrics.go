// Package metrics exposes scheduler and workflow activity as Prometheus metrics.
// The collector is fed from the event bus, so nothing in the scheduler depends on it.
package metrics

import (
	"context"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aristath/taskforce/internal/events"
)

const namespace = "taskforce"

// Collector turns bus events into Prometheus series.
type Collector struct {
	registry *prometheus.Registry

	transitions   *prometheus.CounterVec
	queued        prometheus.Counter
	phases        *prometheus.CounterVec
	notifications *prometheus.CounterVec
	outputLines   prometheus.Counter
	busyWorkers   prometheus.Gauge

	mu   sync.Mutex
	busy map[string]bool
}

// NewCollector creates a collector with its own registry.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_transitions_total",
			Help:      "Task status transitions by target status.",
		}, []string{"to"}),
		queued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_queued_total",
			Help:      "Assignments that waited in a worker queue.",
		}),
		phases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_phases_total",
			Help:      "Workflow phases entered.",
		}, []string{"phase"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_notifications_total",
			Help:      "Agent notifications by level.",
		}, []string{"level"}),
		outputLines: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_output_lines_total",
			Help:      "Progress lines reported by executions.",
		}),
		busyWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "busy_workers",
			Help:      "Workers with an active execution.",
		}),
		busy: make(map[string]bool),
	}
	c.registry.MustRegister(c.transitions, c.queued, c.phases, c.notifications, c.outputLines, c.busyWorkers)
	return c
}

// Registry returns the registry the collector's series live in.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Consume records events from ch until ctx is cancelled or ch closes.
func (c *Collector) Consume(ctx context.Context, ch <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			c.Observe(e)
		}
	}
}

// Observe records a single event.
func (c *Collector) Observe(e events.Event) {
	switch ev := e.(type) {
	case events.TaskStatusEvent:
		c.transitions.WithLabelValues(ev.To).Inc()
	case events.TaskQueuedEvent:
		c.queued.Inc()
	case events.WorkflowPhaseEvent:
		c.phases.WithLabelValues(ev.Phase).Inc()
	case events.AgentNotificationEvent:
		c.notifications.WithLabelValues(ev.Level).Inc()
	case events.TaskOutputEvent:
		c.outputLines.Inc()
	case events.AgentStatusEvent:
		c.mu.Lock()
		if ev.Status == events.AgentBusy {
			c.busy[ev.WorkerID] = true
		} else {
			delete(c.busy, ev.WorkerID)
		}
		c.busyWorkers.Set(float64(len(c.busy)))
		c.mu.Unlock()
	}
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (c *Collector) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		return srv.Shutdown(context.WithoutCancel(ctx))
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
