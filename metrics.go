package syncworker

import "time"

// MetricsCollector provides hooks for observing engine and agent activity.
// Implementations must be safe for concurrent use.
type MetricsCollector interface {
	// RecordSaveDuration records how long a save pipeline run took.
	RecordSaveDuration(duration time.Duration)

	// RecordSaveErrors records a failed save, keyed by the component that
	// rejected it ("worker" or "server").
	RecordSaveErrors(component string)

	// RecordChanges records processed change counts per direction.
	RecordChanges(local, remote int)

	// RecordCorrections records corrective changes sent back to the client
	// tier after a merge drifted from the client's view.
	RecordCorrections(emitted int)

	// RecordEchoesSuppressed records remote echoes dropped because a newer
	// unacknowledged local edit was outstanding.
	RecordEchoesSuppressed(suppressed int)

	// RecordBuffered records notifications deferred during an in-flight save.
	RecordBuffered(local, remote int)

	// RecordCompaction records documents submitted for removal by a
	// membership compaction (pending local edits may still rescue some).
	RecordCompaction(collection string, deleted int)
}

// NoOpMetricsCollector is the default collector; it does nothing.
type NoOpMetricsCollector struct{}

func (NoOpMetricsCollector) RecordSaveDuration(time.Duration)    {}
func (NoOpMetricsCollector) RecordSaveErrors(string)             {}
func (NoOpMetricsCollector) RecordChanges(int, int)              {}
func (NoOpMetricsCollector) RecordCorrections(int)               {}
func (NoOpMetricsCollector) RecordEchoesSuppressed(int)          {}
func (NoOpMetricsCollector) RecordBuffered(int, int)             {}
func (NoOpMetricsCollector) RecordCompaction(string, int)        {}
