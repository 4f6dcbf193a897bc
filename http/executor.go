package http

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"untestables/gap"
	"untestables/model"
	"untestables/store"
	"untestables/utils"
	"untestables/worker"
)

// TaskStore is the persistence surface the API needs.
type TaskStore interface {
	CreateTask(ctx context.Context, task *model.ScanTask) error
	GetTask(ctx context.Context, id string) (*model.ScanTask, error)
	ListTasks(ctx context.Context, filter store.TaskFilter) ([]*model.ScanTask, error)
	UpdateTask(ctx context.Context, id string, upd store.TaskUpdate) error
	TaskStatus(ctx context.Context, id string) (string, error)
	CountTasksByStatus(ctx context.Context) (map[string]int, error)
	GetProcessedStarCounts(ctx context.Context) ([]int, error)
	CountRepositories(ctx context.Context) (int, error)
	Ping(ctx context.Context) error
}

// TaskExecutor runs submitted scan tasks in the background: single ranges
// directly through the worker invoker, orchestrations as a scheduling loop
// over the current gaps.
type TaskExecutor struct {
	store   TaskStore
	invoker worker.Invoker
	logger  utils.Logger

	bound     model.Bound
	chunkSize int

	// Sleeps between orchestrated scan tasks and when no gap is left.
	cycleInterval time.Duration
	idleInterval  time.Duration
}

// ExecutorConfig configures a task executor.
type ExecutorConfig struct {
	Store   TaskStore
	Invoker worker.Invoker
	Logger  utils.Logger

	Bound     model.Bound
	ChunkSize int

	CycleInterval time.Duration
	IdleInterval  time.Duration
}

// NewTaskExecutor creates an executor with sane defaults.
func NewTaskExecutor(config ExecutorConfig) *TaskExecutor {
	if config.Logger == nil {
		config.Logger = utils.NewDefaultLogger()
	}
	if config.ChunkSize < 1 {
		config.ChunkSize = model.DefaultChunkSize
	}
	if config.CycleInterval <= 0 {
		config.CycleInterval = model.DefaultCycleSleepInterval
	}
	if config.IdleInterval <= 0 {
		config.IdleInterval = model.DefaultIdleSleepInterval
	}

	return &TaskExecutor{
		store:         config.Store,
		invoker:       config.Invoker,
		logger:        config.Logger,
		bound:         config.Bound,
		chunkSize:     config.ChunkSize,
		cycleInterval: config.CycleInterval,
		idleInterval:  config.IdleInterval,
	}
}

// ExecuteScanTask runs one star range through the worker and records the
// result on the task row.
func (te *TaskExecutor) ExecuteScanTask(ctx context.Context, taskID string, minStars, maxStars int) {
	te.logger.Infof("starting scan task %s: stars %d-%d", taskID, minStars, maxStars)

	now := time.Now()
	te.mustUpdate(ctx, taskID, store.TaskUpdate{
		Status:    model.TaskStatusRunning,
		StartedAt: &now,
	})

	result := te.invoker.Invoke(ctx, model.WorkUnit{
		Gap: model.Gap{Start: minStars, End: maxStars},
	})

	completed := time.Now()
	switch result.Outcome {
	case model.OutcomeSuccess:
		taskResult := map[string]interface{}{
			"exit_code": result.ExitCode,
			"stdout":    tail(result.Stdout, 1000),
		}
		if found, ok := parseRepositoriesFound(result.Stdout); ok {
			taskResult["repositories_found"] = found
		}
		te.logger.Infof("scan task %s completed", taskID)
		te.mustUpdate(ctx, taskID, store.TaskUpdate{
			Status:      model.TaskStatusCompleted,
			CompletedAt: &completed,
			Result:      taskResult,
		})

	case model.OutcomeRateLimited:
		msg := "worker stopped on the API rate limit"
		if !result.ResetAt.IsZero() {
			msg += ", reset at " + result.ResetAt.UTC().Format(time.RFC3339)
		}
		te.logger.Warnf("scan task %s: %s", taskID, msg)
		te.mustUpdate(ctx, taskID, store.TaskUpdate{
			Status:      model.TaskStatusFailed,
			CompletedAt: &completed,
			Error:       msg,
		})

	default:
		te.logger.Errorf("scan task %s failed with exit code %d", taskID, result.ExitCode)
		te.mustUpdate(ctx, taskID, store.TaskUpdate{
			Status:      model.TaskStatusFailed,
			CompletedAt: &completed,
			Error:       "process exited with code " + strconv.Itoa(result.ExitCode) + ". stderr: " + tail(result.Stderr, 1000),
		})
	}
}

// ExecuteOrchestration repeatedly scans the lowest remaining gap as its own
// scan task until the duration elapses or the task is cancelled.
func (te *TaskExecutor) ExecuteOrchestration(ctx context.Context, taskID string, duration time.Duration) {
	te.logger.Infof("starting orchestration task %s for %v", taskID, duration)

	now := time.Now()
	te.mustUpdate(ctx, taskID, store.TaskUpdate{
		Status:    model.TaskStatusRunning,
		StartedAt: &now,
	})

	endTime := now.Add(duration)
	tasksCreated := 0

	for time.Now().Before(endTime) {
		if ctx.Err() != nil {
			te.logger.Infof("orchestration task %s stopped (context cancelled)", taskID)
			stopped := time.Now()
			te.mustUpdate(context.WithoutCancel(ctx), taskID, store.TaskUpdate{
				Status:      model.TaskStatusFailed,
				CompletedAt: &stopped,
				Error:       "orchestration interrupted before the duration elapsed",
			})
			return
		}
		if status, err := te.store.TaskStatus(ctx, taskID); err == nil && status == model.TaskStatusCancelled {
			te.logger.Infof("orchestration task %s was cancelled", taskID)
			return
		}

		processed, err := te.store.GetProcessedStarCounts(ctx)
		if err != nil {
			te.logger.Errorf("orchestration task %s: reading processed star counts failed: %v", taskID, err)
			te.sleep(ctx, te.cycleInterval, endTime)
			continue
		}

		gaps := gap.Calculate(processed, te.bound, te.chunkSize)
		selected, ok := gap.SelectNext(gaps)
		if !ok {
			te.logger.Infof("orchestration task %s: no gaps found, sleeping %v", taskID, te.idleInterval)
			te.sleep(ctx, te.idleInterval, endTime)
			continue
		}

		scanTaskID := uuid.New().String()
		minStars, maxStars := selected.Start, selected.End
		scanTask := &model.ScanTask{
			ID:         scanTaskID,
			TaskType:   model.TaskTypeScanRange,
			Status:     model.TaskStatusPending,
			MinStars:   &minStars,
			MaxStars:   &maxStars,
			Parameters: map[string]interface{}{"orchestrated": true},
		}
		if err := te.store.CreateTask(ctx, scanTask); err != nil {
			te.logger.Errorf("orchestration task %s: creating scan task failed: %v", taskID, err)
			te.sleep(ctx, te.cycleInterval, endTime)
			continue
		}

		te.ExecuteScanTask(ctx, scanTaskID, minStars, maxStars)
		tasksCreated++

		te.mustUpdate(ctx, taskID, store.TaskUpdate{
			Status: model.TaskStatusRunning,
			Progress: map[string]interface{}{
				"tasks_created":  tasksCreated,
				"current_gap":    map[string]interface{}{"min_stars": minStars, "max_stars": maxStars},
				"remaining_gaps": len(gaps) - 1,
			},
		})

		te.sleep(ctx, te.cycleInterval, endTime)
	}

	completed := time.Now()
	te.mustUpdate(ctx, taskID, store.TaskUpdate{
		Status:      model.TaskStatusCompleted,
		CompletedAt: &completed,
		Result: map[string]interface{}{
			"tasks_created": tasksCreated,
			"duration":      duration.String(),
		},
	})
	te.logger.Infof("orchestration task %s completed: %d scan tasks", taskID, tasksCreated)
}

func (te *TaskExecutor) mustUpdate(ctx context.Context, taskID string, upd store.TaskUpdate) {
	if err := te.store.UpdateTask(ctx, taskID, upd); err != nil {
		te.logger.Warnf("updating task %s failed: %v", taskID, err)
	}
}

func (te *TaskExecutor) sleep(ctx context.Context, d time.Duration, endTime time.Time) {
	if remaining := time.Until(endTime); remaining < d {
		d = remaining
	}
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// parseRepositoriesFound extracts N from a "Found N repositories" line in
// the worker's stdout.
func parseRepositoriesFound(stdout string) (int, bool) {
	for _, line := range strings.Split(stdout, "\n") {
		fields := strings.Fields(line)
		for i, field := range fields {
			if field != "Found" || i+2 >= len(fields) {
				continue
			}
			if !strings.HasPrefix(fields[i+2], "repositor") {
				continue
			}
			if n, err := strconv.Atoi(fields[i+1]); err == nil {
				return n, true
			}
		}
	}
	return 0, false
}

// tail returns at most the last n bytes of s.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
