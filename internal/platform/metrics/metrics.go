// Package metrics exposes Prometheus collectors for the HTTP surface and the
// realtime core. A nil *Metrics is valid and records nothing.
package metrics

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "telecare"

type Metrics struct {
	registry *prometheus.Registry

	httpDuration  *prometheus.HistogramVec
	httpInFlight  prometheus.Gauge
	connections   prometheus.Gauge
	inbound       *prometheus.CounterVec
	emissions     *prometheus.CounterVec
	dropped       prometheus.Counter
	relayMessages *prometheus.CounterVec
	transitions   *prometheus.CounterVec
	messagesSent  prometheus.Counter
}

// New registers every collector on a fresh registry together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method, route and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_requests_in_flight",
			Help:      "HTTP requests currently being served.",
		}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_connections",
			Help:      "Open realtime connections.",
		}),
		inbound: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_inbound_events_total",
			Help:      "Inbound realtime events by name and outcome.",
		}, []string{"event", "outcome"}),
		emissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_emissions_total",
			Help:      "Outbound realtime emissions by event and target kind.",
		}, []string{"event", "target"}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_frames_dropped_total",
			Help:      "Frames dropped because a connection's send buffer was full.",
		}),
		relayMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_messages_total",
			Help:      "Cross-instance relay traffic by direction.",
		}, []string{"direction"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "call_transitions_total",
			Help:      "Call status transitions by target status and whether they were in the transition table.",
		}, []string{"to", "allowed"}),
		messagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_persisted_total",
			Help:      "Chat messages persisted.",
		}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpDuration, m.httpInFlight, m.connections, m.inbound, m.emissions,
		m.dropped, m.relayMessages, m.transitions, m.messagesSent,
	)
	return m
}

// Registry exposes the underlying registry for additional collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RegisterGaugeFunc adds a gauge sampled from fn at scrape time.
func (m *Metrics) RegisterGaugeFunc(name, help string, fn func() float64) {
	if m == nil {
		return
	}
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}

// Middleware records latency and in-flight HTTP requests.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if m == nil {
				return next(c)
			}
			m.httpInFlight.Inc()
			start := time.Now()

			err := next(c)

			m.httpInFlight.Dec()
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			m.httpDuration.WithLabelValues(c.Request().Method, route, strconv.Itoa(status)).
				Observe(time.Since(start).Seconds())
			return err
		}
	}
}

func (m *Metrics) ConnectionOpened() {
	if m != nil {
		m.connections.Inc()
	}
}

func (m *Metrics) ConnectionClosed() {
	if m != nil {
		m.connections.Dec()
	}
}

// InboundEvent counts one inbound event; outcome is "ok" or an error code.
func (m *Metrics) InboundEvent(event, outcome string) {
	if m != nil {
		m.inbound.WithLabelValues(event, outcome).Inc()
	}
}

// Emission counts an outbound event; target is "channel" or "conn".
func (m *Metrics) Emission(event, target string) {
	if m != nil {
		m.emissions.WithLabelValues(event, target).Inc()
	}
}

func (m *Metrics) FrameDropped() {
	if m != nil {
		m.dropped.Inc()
	}
}

// Relay counts relay traffic; direction is "published", "received" or "error".
func (m *Metrics) Relay(direction string) {
	if m != nil {
		m.relayMessages.WithLabelValues(direction).Inc()
	}
}

func (m *Metrics) CallTransition(to string, allowed bool) {
	if m != nil {
		m.transitions.WithLabelValues(to, strconv.FormatBool(allowed)).Inc()
	}
}

func (m *Metrics) MessagePersisted() {
	if m != nil {
		m.messagesSent.Inc()
	}
}
