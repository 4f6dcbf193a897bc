// Package untestables drives the long-running scan loop: each cycle checks
// the remote quota, selects the lowest unprocessed star range, runs it as an
// isolated worker process, interprets the result and decides how long to
// sleep before the next cycle.
package untestables

import (
	"context"
	"time"

	"untestables/gap"
	"untestables/metrics"
	"untestables/model"
	"untestables/utils"
	"untestables/worker"
)

// ProcessedStore supplies the star counts already recorded by workers. The
// set is re-read at the start of every cycle and never cached, since workers
// mutate it concurrently.
type ProcessedStore interface {
	GetProcessedStarCounts(ctx context.Context) ([]int, error)
}

// QuotaClient reports the state of a remote API quota bucket.
type QuotaClient interface {
	GetQuota(ctx context.Context, bucket string) (model.Quota, error)
}

// Cycle outcomes beyond the worker classifications.
const (
	cycleBlocked      = "blocked"
	cycleNoWork       = "no_work"
	cycleQuotaUnknown = "quota_unknown"
	cycleStoreError   = "store_error"
)

// Orchestrator owns the rate-limit state and the overall deadline. Exactly
// one unit of work is in flight at a time; the loop blocks on the worker
// process before planning the next cycle.
type Orchestrator struct {
	store   ProcessedStore
	quota   QuotaClient
	invoker worker.Invoker
	logger  utils.Logger

	bound       model.Bound
	chunkSize   int
	quotaBucket string

	totalDuration time.Duration
	cycleInterval time.Duration
	idleInterval  time.Duration

	enableMetrics bool

	rateLimit model.RateLimitState
}

// NewOrchestrator creates an orchestrator with the default scan
// configuration, overridable through options.
func NewOrchestrator(store ProcessedStore, quota QuotaClient, invoker worker.Invoker, options ...Option) *Orchestrator {
	o := &Orchestrator{
		store:   store,
		quota:   quota,
		invoker: invoker,
		logger:  utils.NewDefaultLogger(),

		bound:       model.Bound{Min: model.DefaultMinStars, Max: model.DefaultMaxStars},
		chunkSize:   model.DefaultChunkSize,
		quotaBucket: model.QuotaBucketSearch,

		cycleInterval: model.DefaultCycleSleepInterval,
		idleInterval:  model.DefaultIdleSleepInterval,
	}

	for _, option := range options {
		option(o)
	}

	return o
}

// RateLimitedUntil exposes the current rate-limit reset time, zero when
// scheduling is not blocked.
func (o *Orchestrator) RateLimitedUntil() time.Time {
	return o.rateLimit.ResetAt
}

// Run executes orchestration cycles until the total duration elapses or ctx
// is cancelled. It returns nil on deadline completion and the context error
// on external cancellation; per-cycle failures are absorbed and logged.
func (o *Orchestrator) Run(ctx context.Context) error {
	var deadline time.Time
	if o.totalDuration > 0 {
		deadline = time.Now().Add(o.totalDuration)
	}

	o.logger.Infof("starting scan orchestration: stars [%d,%d], chunk size %d, duration %v",
		o.bound.Min, o.bound.Max, o.chunkSize, o.totalDuration)

	for {
		if err := ctx.Err(); err != nil {
			o.logger.Infof("orchestration stopped (context cancelled)")
			return err
		}
		if !deadline.IsZero() && !time.Now().Before(deadline) {
			o.logger.Infof("orchestration finished (total duration reached)")
			return nil
		}

		outcome, sleepFor := o.cycle(ctx, deadline)
		o.logger.Debugf("cycle finished: outcome=%s, next cycle in %v", outcome, sleepFor)

		if o.enableMetrics {
			metrics.SetRateLimitState(o.rateLimit)
		}

		if err := o.sleep(ctx, sleepFor, deadline); err != nil {
			o.logger.Infof("orchestration stopped during sleep (context cancelled)")
			return err
		}
	}
}

// cycle runs one orchestration cycle and returns its outcome together with
// the sleep to apply before the next cycle.
func (o *Orchestrator) cycle(ctx context.Context, deadline time.Time) (string, time.Duration) {
	now := time.Now()

	// CheckingQuota: a known reset time in the future blocks the cycle
	// outright.
	if o.rateLimit.Blocked(now) {
		wait := o.rateLimit.ResetAt.Sub(now)
		o.logger.Infof("cycle outcome=%s: rate limited until %v (%v remaining)",
			cycleBlocked, o.rateLimit.ResetAt.Format(time.RFC3339), wait)
		o.observeCycle(cycleBlocked, 0)
		return cycleBlocked, wait
	}
	o.rateLimit.Clear()

	quota, err := o.quota.GetQuota(ctx, o.quotaBucket)
	if err != nil {
		// Cannot tell whether calls remain; back off with the idle interval
		// instead of crashing, the condition may be transient.
		o.logger.Errorf("cycle outcome=%s: quota check failed: %v", cycleQuotaUnknown, err)
		o.observeCycle(cycleQuotaUnknown, 0)
		return cycleQuotaUnknown, o.idleInterval
	}
	if quota.Exhausted() {
		o.rateLimit.Set(quota.ResetAt)
		wait := time.Until(quota.ResetAt)
		o.logger.Warnf("cycle outcome=%s: quota %s exhausted (0/%d), reset at %v",
			cycleBlocked, o.quotaBucket, quota.Limit, quota.ResetAt.Format(time.RFC3339))
		o.observeCycle(cycleBlocked, 0)
		return cycleBlocked, wait
	}

	// SelectingGap: always against a fresh processed-set.
	processed, err := o.store.GetProcessedStarCounts(ctx)
	if err != nil {
		o.logger.Errorf("cycle outcome=%s: reading processed star counts failed: %v", cycleStoreError, err)
		o.observeCycle(cycleStoreError, 0)
		return cycleStoreError, o.cycleInterval
	}

	gaps := gap.Calculate(processed, o.bound, o.chunkSize)
	if o.enableMetrics {
		metrics.GapsRemaining.Set(float64(len(gaps)))
	}

	selected, ok := gap.SelectNext(gaps)
	if !ok {
		o.logger.Infof("cycle outcome=%s: star range [%d,%d] fully processed, checking again later",
			cycleNoWork, o.bound.Min, o.bound.Max)
		o.observeCycle(cycleNoWork, 0)
		return cycleNoWork, o.idleInterval
	}

	// Invoking: one worker process, blocking until it exits.
	unit := model.WorkUnit{Gap: selected, Deadline: deadline}
	started := time.Now()
	result := o.invoker.Invoke(ctx, unit)
	elapsed := time.Since(started)

	// Interpreting.
	outcome := string(result.Outcome)
	switch result.Outcome {
	case model.OutcomeSuccess:
		o.logger.Infof("cycle outcome=%s: range %v processed in %v", outcome, selected, elapsed)
		o.observeCycle(outcome, elapsed)
		return outcome, o.cycleInterval

	case model.OutcomeRateLimited:
		resetAt := result.ResetAt
		if resetAt.IsZero() {
			// The worker signalled the condition without a reset time; the
			// idle interval is the conservative wait.
			resetAt = time.Now().Add(o.idleInterval)
			o.logger.Warnf("worker reported rate limit without reset time, backing off %v", o.idleInterval)
		}
		o.rateLimit.Set(resetAt)
		o.logger.Warnf("cycle outcome=%s: range %v hit the rate limit, blocked until %v",
			outcome, selected, o.rateLimit.ResetAt.Format(time.RFC3339))
		o.observeCycle(outcome, elapsed)
		return outcome, time.Until(o.rateLimit.ResetAt)

	case model.OutcomeSpawnError:
		o.logger.Errorf("cycle outcome=%s: worker could not start: %s", outcome, result.Stderr)
		o.observeCycle(outcome, 0)
		return outcome, o.cycleInterval

	default:
		// Generic failure. The range stays unprocessed and will be
		// re-selected on a future cycle; there is no per-unit retry.
		o.logger.Errorf("cycle outcome=%s: range %v failed with exit code %d: %s",
			outcome, selected, result.ExitCode, tail(result.Stderr, 500))
		o.observeCycle(outcome, elapsed)
		return outcome, o.cycleInterval
	}
}

func (o *Orchestrator) observeCycle(outcome string, workerDuration time.Duration) {
	if o.enableMetrics {
		metrics.ObserveCycle(outcome, workerDuration)
	}
}

// sleep waits for d, decomposed into bounded increments so cancellation and
// the overall deadline are honored even across hour-long waits.
func (o *Orchestrator) sleep(ctx context.Context, d time.Duration, deadline time.Time) error {
	minSleep := model.DefaultMinSleepInterval
	if o.cycleInterval < minSleep {
		minSleep = o.cycleInterval
	}
	if d < minSleep {
		d = minSleep
	}

	until := time.Now().Add(d)
	if !deadline.IsZero() && deadline.Before(until) {
		until = deadline
	}

	const maxSlice = time.Minute
	for {
		remaining := time.Until(until)
		if remaining <= 0 {
			return nil
		}
		if remaining > maxSlice {
			remaining = maxSlice
		}

		timer := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// tail returns at most the last n bytes of s, for log lines.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
