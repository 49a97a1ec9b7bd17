// Package metrics exposes poll and dispatch results as Prometheus gauges and
// counters. It learns everything from the event bus.
package metrics

import (
	"context"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"structwatch/internal/dispatch"
	"structwatch/internal/eventbus"
	"structwatch/internal/poller"
	"structwatch/internal/render"
	logx "structwatch/pkg/logx"
)

type Collector struct {
	reg *prometheus.Registry
	log logx.Logger

	notifications prometheus.Gauge
	minFuel       *prometheus.GaugeVec
	structures    *prometheus.GaugeVec
	dispatched    *prometheus.CounterVec
	pollFailures  *prometheus.CounterVec
}

// New registers the collector's series on a private registry.
func New(log logx.Logger) *Collector {
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &Collector{
		reg: prometheus.NewRegistry(),
		log: log,
		notifications: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "notification_counter",
			Help: "Notifications dispatched since start.",
		}),
		minFuel: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "min_fuel_structure",
			Help: "Fuel remaining per structure, in minutes.",
		}, []string{"structure_id", "structure"}),
		structures: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "structure_metrics",
			Help: "Current state per structure; 1 for the active status.",
		}, []string{"structure_id", "structure", "status"}),
		dispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "structwatch_dispatch_total",
			Help: "Completed dispatches by target and result.",
		}, []string{"target", "result"}),
		pollFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "structwatch_poll_failures_total",
			Help: "Aborted poll cycles by kind.",
		}, []string{"kind"}),
	}
	c.reg.MustRegister(
		c.notifications,
		c.minFuel,
		c.structures,
		c.dispatched,
		c.pollFailures,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

func (c *Collector) Registry() *prometheus.Registry { return c.reg }

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{Registry: c.reg})
}

// Run consumes bus events until ctx ends.
func (c *Collector) Run(ctx context.Context, bus eventbus.Bus) error {
	events, unsubscribe := bus.Subscribe(64)
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-events:
			if !ok {
				return nil
			}
			c.Observe(e)
		}
	}
}

// Observe applies one bus event.
func (c *Collector) Observe(e eventbus.Event) {
	switch d := e.Data.(type) {
	case poller.StructuresPolled:
		// Structures can be renamed or removed; rebuild both vectors.
		c.minFuel.Reset()
		c.structures.Reset()
		for _, s := range d.Structures {
			id, name := strconv.FormatInt(s.ID, 10), render.StructureName(s)
			c.minFuel.WithLabelValues(id, name).Set(float64(s.RemainingMinutes(d.At)))
			c.structures.WithLabelValues(id, name, string(s.State)).Set(1)
		}
	case poller.NotificationsPolled:
		c.notifications.Add(float64(d.Alerted))
	case poller.PollFailed:
		c.pollFailures.WithLabelValues(d.Kind).Inc()
	case dispatch.Event:
		result := "sent"
		if e.Type == dispatch.EventFailed {
			result = "failed"
		}
		c.dispatched.WithLabelValues(d.Target, result).Inc()
	default:
		c.log.Debug("metrics: unhandled event", logx.String("type", e.Type))
	}
}
