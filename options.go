package untestables

import (
	"time"

	"untestables/model"
	"untestables/utils"
)

// Option configures the orchestrator.
type Option func(*Orchestrator)

// WithLogger sets a custom logger.
func WithLogger(logger utils.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithBound sets the inclusive star-count scan boundary.
func WithBound(min, max int) Option {
	return func(o *Orchestrator) {
		o.bound = model.Bound{Min: min, Max: max}
	}
}

// WithChunkSize caps the width of a single unit of work.
func WithChunkSize(size int) Option {
	return func(o *Orchestrator) {
		if size >= 1 {
			o.chunkSize = size
		}
	}
}

// WithTotalDuration bounds the whole run; zero means run indefinitely.
func WithTotalDuration(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.totalDuration = d
		}
	}
}

// WithCycleInterval sets the sleep after a cycle that attempted work.
func WithCycleInterval(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.cycleInterval = d
		}
	}
}

// WithIdleInterval sets the longer sleep used when no work is available.
func WithIdleInterval(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.idleInterval = d
		}
	}
}

// WithQuotaBucket selects the remote quota bucket checked before each cycle.
func WithQuotaBucket(bucket string) Option {
	return func(o *Orchestrator) {
		if bucket != "" {
			o.quotaBucket = bucket
		}
	}
}

// WithMetrics toggles prometheus metric updates from the loop.
func WithMetrics(enabled bool) Option {
	return func(o *Orchestrator) {
		o.enableMetrics = enabled
	}
}
