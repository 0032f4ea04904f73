// Package metrics exposes handler and dispatch metrics in the Prometheus
// text format.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"notifyd/pkg/mediator"
	"notifyd/pkg/notification"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "notifyd"

// durationBuckets span 100µs to 30s.
var durationBuckets = []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30}

// Collector owns a private registry so tests and multiple daemons in one
// process never collide on the default one.
type Collector struct {
	reg *prometheus.Registry

	handled  *prometheus.CounterVec
	duration *prometheus.HistogramVec
	events   *prometheus.CounterVec
	handlers prometheus.Gauge
}

var _ mediator.Observer = (*Collector)(nil)

func New() *Collector {
	reg := prometheus.NewRegistry()
	c := &Collector{
		reg: reg,
		handled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handler_invocations_total",
			Help:      "Handler invocations made by the publisher, by handler, kind and success.",
		}, []string{"handler", "kind", "success"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "handler_duration_seconds",
			Help:      "Handler invocation latency in seconds, by handler.",
			Buckets:   durationBuckets,
		}, []string{"handler"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Daemon events seen on the event bus, by type.",
		}, []string{"type"}),
		handlers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "registered_handlers",
			Help:      "Number of handlers currently registered.",
		}),
	}
	reg.MustRegister(
		c.handled,
		c.duration,
		c.events,
		c.handlers,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// OnHandled implements mediator.Observer.
func (c *Collector) OnHandled(_ context.Context, e mediator.Entry, n notification.Notification, took time.Duration, err error) {
	c.handled.WithLabelValues(e.Name, n.Kind().String(), strconv.FormatBool(err == nil)).Inc()
	c.duration.WithLabelValues(e.Name).Observe(took.Seconds())
}

// CountEvent increments the counter for an event bus type.
func (c *Collector) CountEvent(typ string) {
	c.events.WithLabelValues(typ).Inc()
}

// SetHandlers records the current registration count.
func (c *Collector) SetHandlers(n int) {
	c.handlers.Set(float64(n))
}

// MustRegisterGaugeFunc exposes fn as a gauge; use it for values owned by
// other components such as queue depth.
func (c *Collector) MustRegisterGaugeFunc(name, help string, fn func() float64) {
	c.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn))
}

func (c *Collector) Registry() *prometheus.Registry { return c.reg }

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{Registry: c.reg})
}
