package model

import (
	"errors"
	"fmt"
	"time"
)

// Worker process exit code contract
const (
	// ExitCodeRateLimited is the reserved exit code a scanner worker uses to
	// signal it stopped because the remote API quota was exhausted.
	ExitCodeRateLimited = 2

	// ExitCodeSpawnError is the sentinel recorded when the worker process
	// could not be started at all.
	ExitCodeSpawnError = -1
)

// RateLimitMarkerPrefix is the stderr line prefix a worker emits on a
// rate-limit stop, followed by the quota reset time in unix epoch seconds:
//
//	ANALYZER_ERROR:APILimitError:<epoch-seconds>
const RateLimitMarkerPrefix = "ANALYZER_ERROR:APILimitError:"

// Quota buckets of the remote API
const (
	QuotaBucketCore   = "core"
	QuotaBucketSearch = "search"
)

// Default scan configuration
const (
	DefaultMinStars  = 0
	DefaultMaxStars  = 1000000
	DefaultChunkSize = 100

	DefaultCycleSleepInterval = time.Minute
	DefaultIdleSleepInterval  = time.Hour
	DefaultMinSleepInterval   = time.Second

	DefaultMaxRetries        = 3
	DefaultInitialRetryDelay = 2 * time.Second
	DefaultBackoffMultiplier = 2.0
)

// Key format for the orchestrator lease in the coordination store
const OrchestratorLeaseKeyFmt = "%s:orchestrator_lease"

var (
	ErrNoGapAvailable = errors.New("no unprocessed star range available")
	ErrQuotaExhausted = errors.New("remote API quota exhausted")
)

// Bound is the inclusive absolute scan boundary of the star-count key space.
// A bound with Min > Max yields an empty unprocessed set.
type Bound struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// Gap is an inclusive star-count sub-range not yet recorded as processed.
type Gap struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Size returns the number of star values covered by the gap.
func (g Gap) Size() int {
	return g.End - g.Start + 1
}

func (g Gap) String() string {
	return fmt.Sprintf("[%d,%d]", g.Start, g.End)
}

// WorkUnit is one chunked gap handed to a worker process, optionally with a
// deadline the worker is trusted to respect itself.
type WorkUnit struct {
	Gap      Gap
	Deadline time.Time // zero means no deadline
}

// Outcome classifies the result of one worker invocation.
type Outcome string

const (
	OutcomeSuccess     Outcome = "success"
	OutcomeFailed      Outcome = "failed"
	OutcomeRateLimited Outcome = "rate_limited"
	OutcomeSpawnError  Outcome = "spawn_error"
)

// WorkResult captures a finished worker invocation together with its
// classification. ResetAt is only set for OutcomeRateLimited, and only when
// the worker reported the quota reset time on stderr.
type WorkResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Outcome  Outcome
	ResetAt  time.Time
}

// Quota is a snapshot of one remote API quota bucket.
type Quota struct {
	Remaining int       `json:"remaining"`
	Limit     int       `json:"limit"`
	ResetAt   time.Time `json:"reset_at"`
}

// Exhausted reports whether no calls remain in the bucket.
func (q Quota) Exhausted() bool {
	return q.Remaining <= 0
}

// RateLimitState tracks the known quota reset time across orchestration
// cycles. The zero value means no rate limit is in effect.
type RateLimitState struct {
	ResetAt time.Time
}

// Blocked reports whether scheduling has to wait at the given instant.
func (s RateLimitState) Blocked(now time.Time) bool {
	return !s.ResetAt.IsZero() && now.Before(s.ResetAt)
}

// Set records a quota reset time, keeping the later one if already set.
func (s *RateLimitState) Set(resetAt time.Time) {
	if resetAt.After(s.ResetAt) {
		s.ResetAt = resetAt
	}
}

// Clear drops the recorded reset time.
func (s *RateLimitState) Clear() {
	s.ResetAt = time.Time{}
}
