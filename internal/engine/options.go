package engine

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/halcyon-systems/dispatch/internal/coordinator"
	"github.com/halcyon-systems/dispatch/internal/decompose"
	"github.com/halcyon-systems/dispatch/internal/validation"
)

// Option configures an Engine. Use With* functions to create Options.
type Option func(*engineOptions)

// engineOptions holds all optional configuration.
type engineOptions struct {
	eventBufferSize int
	registerer      prometheus.Registerer

	// Injectable dependencies for testing.
	decomposer  *decompose.Decomposer
	coordinator *coordinator.Coordinator
	pipeline    *validation.Pipeline
}

func defaultOptions() *engineOptions {
	return &engineOptions{eventBufferSize: 64}
}

// WithEventBufferSize sets the subscriber channel buffer.
func WithEventBufferSize(n int) Option {
	return func(o *engineOptions) {
		if n > 0 {
			o.eventBufferSize = n
		}
	}
}

// WithRegisterer sets the prometheus registerer collectors are registered
// against. Defaults to a private registry.
func WithRegisterer(r prometheus.Registerer) Option {
	return func(o *engineOptions) { o.registerer = r }
}

// WithDecomposer sets a custom decomposer (mainly for testing).
func WithDecomposer(d *decompose.Decomposer) Option {
	return func(o *engineOptions) { o.decomposer = d }
}

// WithCoordinator sets a custom coordinator (mainly for testing).
func WithCoordinator(c *coordinator.Coordinator) Option {
	return func(o *engineOptions) { o.coordinator = c }
}

// WithPipeline sets a custom validation pipeline. Without it the engine
// builds one with the reference validators registered.
func WithPipeline(p *validation.Pipeline) Option {
	return func(o *engineOptions) { o.pipeline = p }
}
