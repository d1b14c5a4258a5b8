package syncworker

import (
	"log/slog"

	"github.com/kavaro/sync-worker/logging"
)

// Options configures the Engine and Agent. The zero value (or nil) gives
// the package defaults: the global structured logger and a no-op metrics
// collector.
type Options struct {
	// Logger receives structured operational logs.
	Logger *slog.Logger

	// Metrics receives observability hooks.
	Metrics MetricsCollector
}

func (o *Options) withDefaults() Options {
	var out Options
	if o != nil {
		out = *o
	}
	if out.Logger == nil {
		out.Logger = logging.Default().Logger
	}
	if out.Metrics == nil {
		out.Metrics = NoOpMetricsCollector{}
	}
	return out
}
