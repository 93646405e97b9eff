// Package metrics exposes Prometheus metrics for the game listener, the
// connection actors and the admin API.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/energizer-project/quarry/internal/events"
	"github.com/energizer-project/quarry/internal/protocol"
)

const namespace = "quarry"

// Metrics owns a private registry so tests and embedders never collide
// with the process default one.
type Metrics struct {
	registry *prometheus.Registry

	framesTotal     *prometheus.CounterVec
	frameBytes      *prometheus.CounterVec
	unknownPackets  *prometheus.CounterVec
	connections     prometheus.Gauge
	connectionsOpen prometheus.Counter
	rejected        *prometheus.CounterVec
	closed          *prometheus.CounterVec
	sessionDuration prometheus.Histogram
	violations      *prometheus.CounterVec
	players         prometheus.Gauge
	chatMessages    prometheus.Counter
	kicks           prometheus.Counter
	healthWarnings  *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
}

// New creates the collectors. Go runtime and process collectors are
// registered alongside.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		framesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "protocol",
			Name:      "frames_total",
			Help:      "Frames read and written, by protocol state and direction.",
		}, []string{"state", "direction"}),

		frameBytes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "protocol",
			Name:      "payload_bytes_total",
			Help:      "Uncompressed packet payload bytes, by protocol state and direction.",
		}, []string{"state", "direction"}),

		unknownPackets: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "protocol",
			Name:      "unknown_packets_total",
			Help:      "Serverbound packets with an unknown id that were skipped, by protocol state.",
		}, []string{"state"}),

		connections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "listener",
			Name:      "connections",
			Help:      "Connections currently open.",
		}),

		connectionsOpen: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "listener",
			Name:      "connections_accepted_total",
			Help:      "Connections admitted by the listener.",
		}),

		rejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "listener",
			Name:      "connections_rejected_total",
			Help:      "Connections turned away, by reason.",
		}, []string{"reason"}),

		closed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "listener",
			Name:      "connections_closed_total",
			Help:      "Connections closed, by the state they were in.",
		}, []string{"state"}),

		sessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "listener",
			Name:      "connection_duration_seconds",
			Help:      "Lifetime of closed connections.",
			Buckets:   []float64{0.1, 1, 10, 60, 300, 1800, 3600, 14400},
		}),

		violations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "protocol",
			Name:      "errors_total",
			Help:      "Connections closed on a protocol error, by error kind.",
		}, []string{"kind"}),

		players: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "game",
			Name:      "players_online",
			Help:      "Players in the Play state.",
		}),

		chatMessages: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "game",
			Name:      "chat_messages_total",
			Help:      "Chat lines relayed to players.",
		}),

		kicks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "admin",
			Name:      "kicks_total",
			Help:      "Connections kicked by an operator.",
		}),

		healthWarnings: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "warnings_total",
			Help:      "Failed health checks, by check.",
		}, []string{"check"}),

		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Admin API requests.",
		}, []string{"method", "path", "status"}),

		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin API request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}
}

// Registry returns the registry the collectors live in.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// FrameIn counts a frame read from a client.
func (m *Metrics) FrameIn(state protocol.State, _ int32, size int) {
	m.frame(state, protocol.Serverbound, size)
}

// FrameOut counts a frame written to a client.
func (m *Metrics) FrameOut(state protocol.State, _ int32, size int) {
	m.frame(state, protocol.Clientbound, size)
}

// UnknownPacket counts a skipped packet with an unknown id.
func (m *Metrics) UnknownPacket(state protocol.State, _ int32) {
	m.unknownPackets.WithLabelValues(state.String()).Inc()
}

func (m *Metrics) frame(state protocol.State, dir protocol.Direction, size int) {
	s, d := state.String(), dir.String()
	m.framesTotal.WithLabelValues(s, d).Inc()
	m.frameBytes.WithLabelValues(s, d).Add(float64(size))
}

// ObserveHTTP records one admin API request.
func (m *Metrics) ObserveHTTP(method, path string, status int, elapsed time.Duration) {
	m.httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, path).Observe(elapsed.Seconds())
}

// Subscribe feeds the connection, player and health collectors from bus.
func (m *Metrics) Subscribe(bus *events.EventBus) {
	bus.Subscribe("metrics", m.handle,
		events.EventConnectionOpened,
		events.EventConnectionClosed,
		events.EventConnectionRejected,
		events.EventProtocolViolation,
		events.EventPlayerJoined,
		events.EventPlayerLeft,
		events.EventPlayerChat,
		events.EventPlayerKicked,
		events.EventHealthWarning,
	)
}

func (m *Metrics) handle(_ context.Context, e events.Event) error {
	switch e.Type {
	case events.EventConnectionOpened:
		m.connectionsOpen.Inc()
		m.connections.Inc()
	case events.EventConnectionClosed:
		m.connections.Dec()
		if p, ok := e.Payload.(events.ConnectionPayload); ok {
			m.closed.WithLabelValues(p.State).Inc()
			m.sessionDuration.Observe(p.Duration.Seconds())
		}
	case events.EventConnectionRejected:
		if p, ok := e.Payload.(events.RejectedPayload); ok {
			m.rejected.WithLabelValues(p.Reason).Inc()
		}
	case events.EventProtocolViolation:
		if p, ok := e.Payload.(events.ViolationPayload); ok {
			m.violations.WithLabelValues(p.Kind).Inc()
		}
	case events.EventPlayerJoined:
		m.players.Inc()
	case events.EventPlayerLeft:
		m.players.Dec()
	case events.EventPlayerChat:
		m.chatMessages.Inc()
	case events.EventPlayerKicked:
		m.kicks.Inc()
	case events.EventHealthWarning:
		if p, ok := e.Payload.(events.HealthPayload); ok {
			m.healthWarnings.WithLabelValues(p.Check).Inc()
		}
	}
	return nil
}
