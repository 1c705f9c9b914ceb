// Package metrics defines package-level Prometheus metric variables for
// pingrelay. Call Register() once at startup to expose them on the default
// registry, or RegisterWith() to use an isolated registry in tests.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// PingsQueued counts pings written to the spool, by ping type.
	PingsQueued = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pingrelay_pings_queued_total",
		Help: "Total pings written to the on-disk spool, by type.",
	}, []string{"type"})

	// PingsDropped counts pings refused or lost at queue time, and pings
	// purged from the spool. The reason is the name of the admission filter
	// that refused the ping, io, or purged.
	PingsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pingrelay_pings_dropped_total",
		Help: "Pings dropped without being uploaded, by type and reason.",
	}, []string{"type", "reason"})

	// Uploads counts upload attempts, labelled by type and outcome
	// (success|permanent|retryable).
	Uploads = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pingrelay_uploads_total",
		Help: "Ping upload attempts, by type and outcome.",
	}, []string{"type", "outcome"})

	// UploadErrors counts transport-level upload errors, labelled by kind.
	// Valid kinds: malformed_url, network, timeout, client, server.
	UploadErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pingrelay_upload_errors_total",
		Help: "Upload errors, by kind (malformed_url|network|timeout|client|server).",
	}, []string{"kind"})

	// Drains counts drain passes by type and terminal state.
	Drains = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pingrelay_drains_total",
		Help: "Drain passes, by type and terminal state.",
	}, []string{"type", "state"})

	// PingsPending is a gauge of pings waiting in the spool.
	PingsPending = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pingrelay_pings_pending",
		Help: "Pings currently waiting in the spool, by type.",
	}, []string{"type"})

	// QuotaRemaining is a gauge of uploads left in today's quota (UTC).
	QuotaRemaining = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pingrelay_quota_remaining",
		Help: "Uploads remaining in today's quota (UTC), by type.",
	}, []string{"type"})

	// RecordsStored counts records written by batched downloads.
	RecordsStored = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pingrelay_records_stored_total",
		Help: "Downloaded records stored, by collection.",
	}, []string{"collection"})

	// Batches counts download batches by result (finished|failed).
	Batches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pingrelay_batches_total",
		Help: "Download batches, by collection and result (finished|failed).",
	}, []string{"collection", "result"})

	// StateDBSizeBytes is a gauge of the state database file size.
	StateDBSizeBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pingrelay_state_db_size_bytes",
		Help: "Size of the bbolt state database on disk.",
	})
)

// Register registers all metrics with prometheus.DefaultRegisterer.
// Call once at process startup.
func Register() {
	RegisterWith(prometheus.DefaultRegisterer)
}

// RegisterWith registers all metrics with the given registerer.
// Use an isolated prometheus.NewRegistry() in tests to avoid conflicts.
func RegisterWith(reg prometheus.Registerer) {
	reg.MustRegister(
		PingsQueued,
		PingsDropped,
		Uploads,
		UploadErrors,
		Drains,
		PingsPending,
		QuotaRemaining,
		RecordsStored,
		Batches,
		StateDBSizeBytes,
	)
}
