package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	pendingOps = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "driftsync",
			Name:      "pending_operations",
			Help:      "Operations currently waiting for replay.",
		},
	)

	online = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "driftsync",
			Name:      "online",
			Help:      "Connectivity state (1 online, 0 offline).",
		},
	)

	syncing = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "driftsync",
			Name:      "syncing",
			Help:      "Whether a drain pass is running (1 yes, 0 no).",
		},
	)

	enqueued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "driftsync",
			Name:      "operations_enqueued_total",
			Help:      "Operations added to the queue by type.",
		},
		[]string{"type"},
	)

	replayed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "driftsync",
			Name:      "operations_replayed_total",
			Help:      "Replay attempts by type and result.",
		},
		[]string{"type", "result"},
	)

	syncPasses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "driftsync",
			Name:      "sync_passes_total",
			Help:      "Drain passes by trigger.",
		},
		[]string{"trigger"},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "driftsync",
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)
)

// Replay result labels.
const (
	ResultSuccess     = "success"
	ResultRetry       = "retry"
	ResultDropped     = "dropped"
	ResultPermanent   = "permanent"
	ResultUnsupported = "unsupported"
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(pendingOps, online, syncing, enqueued, replayed, syncPasses, httpRequests)
	})
}

// SetPendingOps records the current queue depth.
func SetPendingOps(n int) {
	pendingOps.Set(float64(n))
}

// SetOnline records the connectivity flag.
func SetOnline(up bool) {
	online.Set(boolToFloat(up))
}

// SetSyncing records whether a drain pass is in flight.
func SetSyncing(active bool) {
	syncing.Set(boolToFloat(active))
}

// IncEnqueued counts an operation added to the queue.
func IncEnqueued(opType string) {
	enqueued.WithLabelValues(opType).Inc()
}

// IncReplayed counts one replay attempt outcome.
func IncReplayed(opType, result string) {
	replayed.WithLabelValues(opType, result).Inc()
}

// IncSyncPass counts a started drain pass by its trigger.
func IncSyncPass(trigger string) {
	syncPasses.WithLabelValues(trigger).Inc()
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
