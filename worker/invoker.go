// Package worker spawns scanner worker processes for single units of work
// and classifies their results.
package worker

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"untestables/model"
	"untestables/utils"
)

// Invoker executes one unit of work as an isolated worker process. Kept as an
// interface so the process boundary can be swapped for an in-process pool or
// a queue dispatch without touching gap logic.
type Invoker interface {
	Invoke(ctx context.Context, unit model.WorkUnit) model.WorkResult
}

// CommandInvoker runs the configured scanner command as a child process,
// blocking until the child exits. There is no internal timeout; the child is
// trusted to respect the deadline passed via --end-time.
type CommandInvoker struct {
	command string
	logger  utils.Logger
}

// NewCommandInvoker creates an invoker around the configured scanner command,
// e.g. "untestables-scanner find-repos".
func NewCommandInvoker(command string, logger utils.Logger) *CommandInvoker {
	if logger == nil {
		logger = utils.NewDefaultLogger()
	}
	return &CommandInvoker{command: command, logger: logger}
}

// Invoke runs the worker for the given unit and classifies the outcome.
func (ci *CommandInvoker) Invoke(ctx context.Context, unit model.WorkUnit) model.WorkResult {
	name, args, err := ci.buildCommand(unit)
	if err != nil {
		return model.WorkResult{
			ExitCode: model.ExitCodeSpawnError,
			Stderr:   err.Error(),
			Outcome:  model.OutcomeSpawnError,
		}
	}

	ci.logger.Infof("invoking worker: %s %s", name, strings.Join(args, " "))

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	result := model.WorkResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
		} else {
			// The process never started: command not found, permission
			// denied or similar.
			result.ExitCode = model.ExitCodeSpawnError
			result.Stderr = fmt.Sprintf("command not found or failed to start: %s: %v", name, runErr)
			result.Outcome = model.OutcomeSpawnError
			return result
		}
	}

	result.Outcome, result.ResetAt = Classify(result.ExitCode, result.Stderr)
	return result
}

// buildCommand splits the configured command into executable and base
// arguments and appends the unit's range and optional deadline.
func (ci *CommandInvoker) buildCommand(unit model.WorkUnit) (string, []string, error) {
	fields := splitCommand(ci.command)
	if len(fields) == 0 {
		return "", nil, fmt.Errorf("scanner command is empty")
	}

	args := append(fields[1:],
		"--min-stars", strconv.Itoa(unit.Gap.Start),
		"--max-stars", strconv.Itoa(unit.Gap.End),
	)
	if !unit.Deadline.IsZero() {
		args = append(args, "--end-time", unit.Deadline.UTC().Format(time.RFC3339))
	}
	return fields[0], args, nil
}

// splitCommand tokenizes the configured command on whitespace, honoring
// single and double quotes so commands like `sh -c 'exit 2'` keep their
// quoted argument intact.
func splitCommand(s string) []string {
	var (
		fields  []string
		current strings.Builder
		quote   rune
		inField bool
	)
	for _, r := range s {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				current.WriteRune(r)
			}
		case r == '\'' || r == '"':
			quote = r
			inField = true
		case r == ' ' || r == '\t' || r == '\n':
			if inField {
				fields = append(fields, current.String())
				current.Reset()
				inField = false
			}
		default:
			current.WriteRune(r)
			inField = true
		}
	}
	if inField {
		fields = append(fields, current.String())
	}
	return fields
}

// Classify derives the outcome of a finished worker process from its exit
// code and error stream. A reset time is returned only when the rate-limit
// marker carried one.
func Classify(exitCode int, stderr string) (model.Outcome, time.Time) {
	resetAt, marked := ParseRateLimitMarker(stderr)
	if marked || exitCode == model.ExitCodeRateLimited {
		return model.OutcomeRateLimited, resetAt
	}
	if exitCode == 0 {
		return model.OutcomeSuccess, time.Time{}
	}
	return model.OutcomeFailed, time.Time{}
}

// ParseRateLimitMarker scans stderr for the worker's rate-limit line
// (model.RateLimitMarkerPrefix followed by unix epoch seconds). It returns
// the reset time and whether a well-formed marker was found; malformed
// markers are ignored.
func ParseRateLimitMarker(stderr string) (time.Time, bool) {
	for _, line := range strings.Split(stderr, "\n") {
		rest, found := strings.CutPrefix(strings.TrimSpace(line), model.RateLimitMarkerPrefix)
		if !found {
			continue
		}
		epoch, err := strconv.ParseInt(strings.TrimSpace(rest), 10, 64)
		if err != nil {
			continue
		}
		return time.Unix(epoch, 0), true
	}
	return time.Time{}, false
}
