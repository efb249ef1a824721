package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session lifecycle
	sessionsStartedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lookout_sessions_started_total",
		Help: "Total session attempts started",
	}, []string{"mode"})

	sessionFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lookout_session_failures_total",
		Help: "Total session failures by kind",
	}, []string{"kind"})

	sessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lookout_sessions_active",
		Help: "Sessions with an open transport",
	})

	sessionLoadSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lookout_session_load_seconds",
		Help:    "Time from session start to first playable data",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
	}, []string{"mode"})

	retriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lookout_retries_total",
		Help: "Total retry attempts scheduled by recovery",
	})

	// Negotiation
	addrCacheLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lookout_addr_cache_lookups_total",
		Help: "Address cache lookups by result",
	}, []string{"result"})

	// Buffer
	segmentsAppendedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lookout_segments_appended_total",
		Help: "Media segments appended to the buffer sink",
	})

	segmentBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lookout_segment_bytes_total",
		Help: "Media bytes appended to the buffer sink",
	})

	bufferEvictionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lookout_buffer_evictions_total",
		Help: "Buffered ranges removed by retention",
	})

	bufferAheadSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lookout_buffer_ahead_seconds",
		Help: "Buffered media ahead of the play position",
	})

	backpressureCommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lookout_backpressure_commands_total",
		Help: "Flow control commands sent to the server",
	}, []string{"command"})

	// Metadata
	metadataPrunedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lookout_metadata_pruned_total",
		Help: "Metadata records removed alongside evicted media",
	})

	metadataIndexEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lookout_metadata_index_entries",
		Help: "Records held in the metadata index",
	})
)

func SessionStarted(mode string) {
	sessionsStartedTotal.WithLabelValues(mode).Inc()
}

// SessionFailed records a failure by its error kind.
func SessionFailed(kind string) {
	sessionFailuresTotal.WithLabelValues(kind).Inc()
}

func SessionOpened() {
	sessionsActive.Inc()
}

func SessionClosed() {
	sessionsActive.Dec()
}

func ObserveSessionLoad(mode string, d time.Duration) {
	sessionLoadSeconds.WithLabelValues(mode).Observe(d.Seconds())
}

func RetryScheduled() {
	retriesTotal.Inc()
}

// AddrCacheLookup records an address cache lookup; result is hit, miss or error.
func AddrCacheLookup(result string) {
	addrCacheLookupsTotal.WithLabelValues(result).Inc()
}

func SegmentAppended(bytes int) {
	segmentsAppendedTotal.Inc()
	segmentBytesTotal.Add(float64(bytes))
}

func BufferEvicted() {
	bufferEvictionsTotal.Inc()
}

func SetBufferAhead(seconds float64) {
	bufferAheadSeconds.Set(seconds)
}

func BackpressureCommand(command string) {
	backpressureCommandsTotal.WithLabelValues(command).Inc()
}

func MetadataPruned(n int) {
	metadataPrunedTotal.Add(float64(n))
}

func SetMetadataIndexEntries(n int) {
	metadataIndexEntries.Set(float64(n))
}
