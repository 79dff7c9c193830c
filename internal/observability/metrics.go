package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bridgectl",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "bridgectl",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	rpcInbound = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bridgectl",
			Subsystem: "rpc",
			Name:      "inbound_total",
			Help:      "Inbound envelopes by message type and kind.",
		},
		[]string{"type", "kind"},
	)
	rpcResponses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bridgectl",
			Subsystem: "rpc",
			Name:      "responses_total",
			Help:      "Response envelopes sent, by message type and outcome.",
		},
		[]string{"type", "outcome"},
	)
	rpcFaults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bridgectl",
			Subsystem: "rpc",
			Name:      "faults_total",
			Help:      "Protocol violations and handler faults.",
		},
		[]string{"kind"},
	)
	rpcCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "bridgectl",
			Subsystem: "rpc",
			Name:      "call_duration_seconds",
			Help:      "Outbound call latency from send to settlement.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"type", "outcome"},
	)
	rpcPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "bridgectl",
			Subsystem: "rpc",
			Name:      "pending_transactions",
			Help:      "Outbound transactions awaiting a response.",
		},
	)
	cacheEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bridgectl",
			Subsystem: "cache",
			Name:      "events_total",
			Help:      "Response cache events.",
		},
		[]string{"event"},
	)
	fetchRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bridgectl",
			Subsystem: "fetch",
			Name:      "requests_total",
			Help:      "Fetch handler results by status and source.",
		},
		[]string{"status", "source"},
	)
	transportEnvelopes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bridgectl",
			Subsystem: "transport",
			Name:      "envelopes_total",
			Help:      "Envelopes moved per transport and direction.",
		},
		[]string{"transport", "direction"},
	)
	transportPanes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "bridgectl",
			Subsystem: "transport",
			Name:      "panes",
			Help:      "Panes currently attached per transport.",
		},
		[]string{"transport"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			rpcInbound, rpcResponses, rpcFaults, rpcCallDuration, rpcPending,
			cacheEvents, fetchRequests,
			transportEnvelopes, transportPanes,
		)
	})
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}

func RecordInbound(msgType, kind string) {
	RegisterMetrics()
	rpcInbound.WithLabelValues(msgType, kind).Inc()
}

func RecordResponse(msgType string, ok bool) {
	RegisterMetrics()
	rpcResponses.WithLabelValues(msgType, outcomeLabel(ok)).Inc()
}

func RecordFault(kind string) {
	RegisterMetrics()
	rpcFaults.WithLabelValues(kind).Inc()
}

func ObserveCall(msgType string, ok bool, duration time.Duration) {
	RegisterMetrics()
	rpcCallDuration.WithLabelValues(msgType, outcomeLabel(ok)).Observe(duration.Seconds())
}

func SetPendingTransactions(n int) {
	RegisterMetrics()
	rpcPending.Set(float64(n))
}

func RecordCacheEvent(event string, n int) {
	RegisterMetrics()
	if n <= 0 {
		return
	}
	cacheEvents.WithLabelValues(event).Add(float64(n))
}

func RecordFetch(status int, source string) {
	RegisterMetrics()
	fetchRequests.WithLabelValues(strconv.Itoa(status), source).Inc()
}

func RecordEnvelope(transportName, direction string) {
	RegisterMetrics()
	transportEnvelopes.WithLabelValues(transportName, direction).Inc()
}

func SetPaneCount(transportName string, n int) {
	RegisterMetrics()
	transportPanes.WithLabelValues(transportName).Set(float64(n))
}

func outcomeLabel(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
