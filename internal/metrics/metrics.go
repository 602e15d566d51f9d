package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the daemon's Prometheus series. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	MessagesSent     *prometheus.CounterVec
	SendFailures     *prometheus.CounterVec
	IncomingMessages *prometheus.CounterVec
	FetchErrors      *prometheus.CounterVec
	StaleFetches     prometheus.Counter
	SocketReconnects prometheus.Counter
	PendingSends     prometheus.Gauge
	RPCDuration      *prometheus.HistogramVec
}

// Send paths.
const (
	PathSocket = "socket"
	PathREST   = "rest"
	PathCreate = "create"
)

// Incoming outcomes.
const (
	OutcomeAppended  = "appended"
	OutcomePromoted  = "promoted"
	OutcomeDuplicate = "duplicate"
	OutcomeInactive  = "inactive"
)

// New creates the series and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		MessagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatsync_messages_sent_total",
			Help: "Messages accepted by the server, by send path.",
		}, []string{"path"}),
		SendFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatsync_send_failures_total",
			Help: "Failed sends, by reason.",
		}, []string{"reason"}),
		IncomingMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatsync_incoming_messages_total",
			Help: "Live message events, by reconciliation outcome.",
		}, []string{"outcome"}),
		FetchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatsync_fetch_errors_total",
			Help: "Failed REST fetches, by operation.",
		}, []string{"op"}),
		StaleFetches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatsync_stale_fetches_dropped_total",
			Help: "History fetches discarded because the selection changed.",
		}),
		SocketReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatsync_socket_reconnects_total",
			Help: "Socket reconnect attempts.",
		}),
		PendingSends: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chatsync_pending_sends",
			Help: "Optimistic messages awaiting confirmation.",
		}),
		RPCDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chatsync_rpc_duration_seconds",
			Help:    "Local API call latency, by method and status code.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "code"}),
	}
	reg.MustRegister(
		m.MessagesSent, m.SendFailures, m.IncomingMessages, m.FetchErrors,
		m.StaleFetches, m.SocketReconnects, m.PendingSends, m.RPCDuration,
	)
	return m
}

func (m *Metrics) Sent(path string) {
	if m != nil {
		m.MessagesSent.WithLabelValues(path).Inc()
	}
}

func (m *Metrics) SendFailed(reason string) {
	if m != nil {
		m.SendFailures.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) Incoming(outcome string) {
	if m != nil {
		m.IncomingMessages.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) FetchFailed(op string) {
	if m != nil {
		m.FetchErrors.WithLabelValues(op).Inc()
	}
}

func (m *Metrics) StaleFetch() {
	if m != nil {
		m.StaleFetches.Inc()
	}
}

func (m *Metrics) Reconnect() {
	if m != nil {
		m.SocketReconnects.Inc()
	}
}

func (m *Metrics) SetPending(n int) {
	if m != nil {
		m.PendingSends.Set(float64(n))
	}
}

// ObserveRPC records one local API call.
func (m *Metrics) ObserveRPC(method, code string, d time.Duration) {
	if m != nil {
		m.RPCDuration.WithLabelValues(method, code).Observe(d.Seconds())
	}
}
