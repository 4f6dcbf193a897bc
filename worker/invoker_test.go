package worker

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"untestables/model"
	"untestables/test_utils"
)

func TestCommandInvoker_Success(t *testing.T) {
	logger := test_utils.NewMockLogger()
	inv := NewCommandInvoker("sh -c true", logger)

	result := inv.Invoke(context.Background(), model.WorkUnit{
		Gap: model.Gap{Start: 100, End: 149},
	})

	assert.Equal(t, 0, result.ExitCode)
	assert.Equal(t, model.OutcomeSuccess, result.Outcome)
	assert.True(t, logger.Contains("info", "invoking worker"))
}

func TestCommandInvoker_ArgumentsPassedThrough(t *testing.T) {
	// echo prints its arguments, so the built command line is observable on
	// stdout.
	inv := NewCommandInvoker("echo scan", nil)

	result := inv.Invoke(context.Background(), model.WorkUnit{
		Gap: model.Gap{Start: 150, End: 199},
	})

	require.Equal(t, model.OutcomeSuccess, result.Outcome)
	assert.Contains(t, result.Stdout, "scan --min-stars 150 --max-stars 199")
	assert.NotContains(t, result.Stdout, "--end-time")
}

func TestCommandInvoker_DeadlinePassedAsEndTime(t *testing.T) {
	inv := NewCommandInvoker("echo", nil)
	deadline := time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)

	result := inv.Invoke(context.Background(), model.WorkUnit{
		Gap:      model.Gap{Start: 0, End: 9},
		Deadline: deadline,
	})

	require.Equal(t, model.OutcomeSuccess, result.Outcome)
	assert.Contains(t, result.Stdout, "--end-time 2025-06-01T12:30:00Z")
}

func TestCommandInvoker_GenericFailure(t *testing.T) {
	inv := NewCommandInvoker("sh -c 'exit 7'", nil)

	result := inv.Invoke(context.Background(), model.WorkUnit{
		Gap: model.Gap{Start: 0, End: 9},
	})

	assert.Equal(t, 7, result.ExitCode)
	assert.Equal(t, model.OutcomeFailed, result.Outcome)
}

func TestCommandInvoker_RateLimitedByExitCode(t *testing.T) {
	inv := NewCommandInvoker(fmt.Sprintf("sh -c 'exit %d'", model.ExitCodeRateLimited), nil)

	result := inv.Invoke(context.Background(), model.WorkUnit{
		Gap: model.Gap{Start: 0, End: 9},
	})

	assert.Equal(t, model.OutcomeRateLimited, result.Outcome)
	assert.True(t, result.ResetAt.IsZero(), "no marker, no reset time")
}

func TestCommandInvoker_RateLimitedByMarker(t *testing.T) {
	script := `echo "ANALYZER_ERROR:APILimitError:1700000000" 1>&2; exit 1`
	inv := NewCommandInvoker("sh -c '"+script+"'", nil)

	result := inv.Invoke(context.Background(), model.WorkUnit{
		Gap: model.Gap{Start: 0, End: 9},
	})

	assert.Equal(t, model.OutcomeRateLimited, result.Outcome)
	assert.Equal(t, time.Unix(1700000000, 0), result.ResetAt)
}

func TestCommandInvoker_SpawnError(t *testing.T) {
	inv := NewCommandInvoker("definitely-not-a-real-binary-zz", nil)

	result := inv.Invoke(context.Background(), model.WorkUnit{
		Gap: model.Gap{Start: 0, End: 9},
	})

	assert.Equal(t, model.ExitCodeSpawnError, result.ExitCode)
	assert.Equal(t, model.OutcomeSpawnError, result.Outcome)
	assert.Contains(t, result.Stderr, "definitely-not-a-real-binary-zz")
}

func TestCommandInvoker_EmptyCommand(t *testing.T) {
	inv := NewCommandInvoker("   ", nil)

	result := inv.Invoke(context.Background(), model.WorkUnit{
		Gap: model.Gap{Start: 0, End: 9},
	})

	assert.Equal(t, model.OutcomeSpawnError, result.Outcome)
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name     string
		exitCode int
		stderr   string
		outcome  model.Outcome
		resetAt  time.Time
	}{
		{"success", 0, "", model.OutcomeSuccess, time.Time{}},
		{"generic failure", 1, "boom", model.OutcomeFailed, time.Time{}},
		{"reserved exit code", model.ExitCodeRateLimited, "", model.OutcomeRateLimited, time.Time{}},
		{
			"marker with reset",
			1,
			"some noise\nANALYZER_ERROR:APILimitError:1700000000\n",
			model.OutcomeRateLimited,
			time.Unix(1700000000, 0),
		},
		{
			// Exit 0 with a marker still counts as rate limited; the worker
			// signalled it could not finish its range.
			"marker wins over exit 0",
			0,
			"ANALYZER_ERROR:APILimitError:1700000000",
			model.OutcomeRateLimited,
			time.Unix(1700000000, 0),
		},
		{"malformed marker ignored", 1, "ANALYZER_ERROR:APILimitError:not-a-number", model.OutcomeFailed, time.Time{}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			outcome, resetAt := Classify(tc.exitCode, tc.stderr)
			assert.Equal(t, tc.outcome, outcome)
			assert.Equal(t, tc.resetAt, resetAt)
		})
	}
}

func TestParseRateLimitMarker_NoSignal(t *testing.T) {
	_, found := ParseRateLimitMarker("ordinary stderr output\nnothing to see")
	assert.False(t, found)
}

func TestSplitCommand(t *testing.T) {
	assert.Equal(t, []string{"sh", "-c", "exit 2"}, splitCommand("sh -c 'exit 2'"))
	assert.Equal(t, []string{"poetry", "run", "untestables", "find-repos"},
		splitCommand("poetry run untestables find-repos"))
	assert.Equal(t, []string{"echo", "a b", "c"}, splitCommand(`echo "a b" c`))
	assert.Empty(t, splitCommand("   "))
}

func TestParseRateLimitMarker_LeadingWhitespace(t *testing.T) {
	resetAt, found := ParseRateLimitMarker("  ANALYZER_ERROR:APILimitError:1700000123  ")
	assert.True(t, found)
	assert.Equal(t, time.Unix(1700000123, 0), resetAt)
}
