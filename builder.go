package syncworker

import (
	"fmt"
	"log/slog"
)

// EngineBuilder provides a fluent interface for constructing Engine
// instances, validating the required collaborators at Build time.
type EngineBuilder[D, P any, ID, CID comparable] struct {
	worker       WorkerStore[D, ID]
	server       ServerStore[D, P]
	applyPatches PatchApplier[D, P]
	sink         WorkerSink[D, P, CID]
	options      Options
}

// NewEngineBuilder creates a builder with default options.
func NewEngineBuilder[D, P any, ID, CID comparable]() *EngineBuilder[D, P, ID, CID] {
	return &EngineBuilder[D, P, ID, CID]{}
}

// WithWorker sets the worker replica.
func (b *EngineBuilder[D, P, ID, CID]) WithWorker(worker WorkerStore[D, ID]) *EngineBuilder[D, P, ID, CID] {
	b.worker = worker
	return b
}

// WithServer sets the server replica.
func (b *EngineBuilder[D, P, ID, CID]) WithServer(server ServerStore[D, P]) *EngineBuilder[D, P, ID, CID] {
	b.server = server
	return b
}

// WithPatchApplier sets the caller's patch engine.
func (b *EngineBuilder[D, P, ID, CID]) WithPatchApplier(apply PatchApplier[D, P]) *EngineBuilder[D, P, ID, CID] {
	b.applyPatches = apply
	return b
}

// WithSink sets the sink receiving changes flowing toward the client tier.
func (b *EngineBuilder[D, P, ID, CID]) WithSink(sink WorkerSink[D, P, CID]) *EngineBuilder[D, P, ID, CID] {
	b.sink = sink
	return b
}

// WithLogger sets the structured logger.
func (b *EngineBuilder[D, P, ID, CID]) WithLogger(logger *slog.Logger) *EngineBuilder[D, P, ID, CID] {
	b.options.Logger = logger
	return b
}

// WithMetrics sets the metrics collector.
func (b *EngineBuilder[D, P, ID, CID]) WithMetrics(metrics MetricsCollector) *EngineBuilder[D, P, ID, CID] {
	b.options.Metrics = metrics
	return b
}

// Build creates an Engine, or reports which required collaborator is
// missing.
func (b *EngineBuilder[D, P, ID, CID]) Build() (*Engine[D, P, ID, CID], error) {
	if b.worker == nil {
		return nil, fmt.Errorf("worker store is required")
	}
	if b.server == nil {
		return nil, fmt.Errorf("server store is required")
	}
	if b.applyPatches == nil {
		return nil, fmt.Errorf("patch applier is required")
	}
	if b.sink == nil {
		return nil, fmt.Errorf("worker sink is required")
	}
	return NewEngine(b.worker, b.server, b.applyPatches, b.sink, &b.options), nil
}
