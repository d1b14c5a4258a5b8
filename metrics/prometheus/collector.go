// Package prometheus implements the sync MetricsCollector on top of
// prometheus/client_golang, so engine and agent activity shows up on the
// process's usual scrape endpoint.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	syncworker "github.com/kavaro/sync-worker"
)

// Collector exports engine and agent metrics.
type Collector struct {
	saveDuration     prometheus.Histogram
	saveErrors       *prometheus.CounterVec
	changes          *prometheus.CounterVec
	corrections      prometheus.Counter
	echoesSuppressed prometheus.Counter
	buffered         *prometheus.CounterVec
	compacted        *prometheus.CounterVec
}

// Compile-time check that Collector satisfies the metrics contract.
var _ syncworker.MetricsCollector = (*Collector)(nil)

// NewCollector creates a Collector and registers its metrics with the
// given registerer. Pass prometheus.DefaultRegisterer for the usual
// process-wide registry.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		saveDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sync_save_duration_seconds",
			Help:    "Duration of save pipeline runs.",
			Buckets: prometheus.DefBuckets,
		}),
		saveErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sync_save_errors_total",
			Help: "Failed saves by rejecting component.",
		}, []string{"component"}),
		changes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sync_changes_total",
			Help: "Processed changes by direction.",
		}, []string{"direction"}),
		corrections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sync_corrections_total",
			Help: "Corrective changes emitted toward the client tier.",
		}),
		echoesSuppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sync_echoes_suppressed_total",
			Help: "Remote echoes dropped due to outstanding local edits.",
		}),
		buffered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sync_buffered_changes_total",
			Help: "Notifications deferred during an in-flight save, by direction.",
		}, []string{"direction"}),
		compacted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sync_compaction_candidates_total",
			Help: "Documents submitted for removal by membership compaction.",
		}, []string{"collection"}),
	}

	if reg != nil {
		reg.MustRegister(
			c.saveDuration,
			c.saveErrors,
			c.changes,
			c.corrections,
			c.echoesSuppressed,
			c.buffered,
			c.compacted,
		)
	}
	return c
}

func (c *Collector) RecordSaveDuration(duration time.Duration) {
	c.saveDuration.Observe(duration.Seconds())
}

func (c *Collector) RecordSaveErrors(component string) {
	c.saveErrors.WithLabelValues(component).Inc()
}

func (c *Collector) RecordChanges(local, remote int) {
	if local > 0 {
		c.changes.WithLabelValues("local").Add(float64(local))
	}
	if remote > 0 {
		c.changes.WithLabelValues("remote").Add(float64(remote))
	}
}

func (c *Collector) RecordCorrections(emitted int) {
	c.corrections.Add(float64(emitted))
}

func (c *Collector) RecordEchoesSuppressed(suppressed int) {
	c.echoesSuppressed.Add(float64(suppressed))
}

func (c *Collector) RecordBuffered(local, remote int) {
	if local > 0 {
		c.buffered.WithLabelValues("local").Add(float64(local))
	}
	if remote > 0 {
		c.buffered.WithLabelValues("remote").Add(float64(remote))
	}
}

func (c *Collector) RecordCompaction(collection string, deleted int) {
	c.compacted.WithLabelValues(collection).Add(float64(deleted))
}
