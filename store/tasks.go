package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"untestables/model"
)

// ErrTaskNotFound is returned when a scan task id does not exist.
var ErrTaskNotFound = errors.New("scan task not found")

// TaskFilter narrows ListTasks output.
type TaskFilter struct {
	Status   string
	TaskType string
	Limit    int
	Offset   int
}

// TaskUpdate carries the mutable fields of a scan task; nil/zero fields are
// left untouched.
type TaskUpdate struct {
	Status      string
	StartedAt   *time.Time
	CompletedAt *time.Time
	Result      map[string]interface{}
	Progress    map[string]interface{}
	Error       string
}

// CreateTask inserts a new scan task row.
func (s *Store) CreateTask(ctx context.Context, task *model.ScanTask) error {
	params, err := marshalJSON(task.Parameters)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO scan_tasks (id, task_type, status, min_stars, max_stars, parameters, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())`,
		task.ID, task.TaskType, task.Status, task.MinStars, task.MaxStars, params)
	return errors.Wrap(err, "inserting scan task")
}

// GetTask fetches one scan task by id.
func (s *Store) GetTask(ctx context.Context, id string) (*model.ScanTask, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, task_type, status, min_stars, max_stars, parameters, result,
		       error, created_at, started_at, completed_at, progress
		FROM scan_tasks WHERE id = $1`, id)

	task, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTaskNotFound
	}
	return task, err
}

// ListTasks returns tasks newest-first, optionally filtered by status and
// type.
func (s *Store) ListTasks(ctx context.Context, filter TaskFilter) ([]*model.ScanTask, error) {
	query := `
		SELECT id, task_type, status, min_stars, max_stars, parameters, result,
		       error, created_at, started_at, completed_at, progress
		FROM scan_tasks`
	var (
		conds []string
		args  []interface{}
	)
	if filter.Status != "" {
		args = append(args, filter.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.TaskType != "" {
		args = append(args, filter.TaskType)
		conds = append(conds, fmt.Sprintf("task_type = $%d", len(args)))
	}
	for i, cond := range conds {
		if i == 0 {
			query += " WHERE " + cond
		} else {
			query += " AND " + cond
		}
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "listing scan tasks")
	}
	defer rows.Close()

	var tasks []*model.ScanTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, errors.Wrap(rows.Err(), "iterating scan tasks")
}

// UpdateTask applies the non-zero fields of upd to a task row.
func (s *Store) UpdateTask(ctx context.Context, id string, upd TaskUpdate) error {
	query := "UPDATE scan_tasks SET "
	var (
		sets []string
		args []interface{}
	)
	set := func(column string, value interface{}) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if upd.Status != "" {
		set("status", upd.Status)
	}
	if upd.StartedAt != nil {
		set("started_at", *upd.StartedAt)
	}
	if upd.CompletedAt != nil {
		set("completed_at", *upd.CompletedAt)
	}
	if upd.Result != nil {
		data, err := marshalJSON(upd.Result)
		if err != nil {
			return err
		}
		set("result", data)
	}
	if upd.Progress != nil {
		data, err := marshalJSON(upd.Progress)
		if err != nil {
			return err
		}
		set("progress", data)
	}
	if upd.Error != "" {
		set("error", upd.Error)
	}
	if len(sets) == 0 {
		return nil
	}

	for i, s := range sets {
		if i > 0 {
			query += ", "
		}
		query += s
	}
	args = append(args, id)
	query += fmt.Sprintf(" WHERE id = $%d", len(args))

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return errors.Wrap(err, "updating scan task")
	}
	if tag.RowsAffected() == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// TaskStatus returns just the status column, used for cancellation polling
// inside orchestration runs.
func (s *Store) TaskStatus(ctx context.Context, id string) (string, error) {
	var status string
	err := s.pool.QueryRow(ctx, `SELECT status FROM scan_tasks WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrTaskNotFound
	}
	return status, errors.Wrap(err, "reading scan task status")
}

// CountTasksByStatus aggregates scan task counts for the health endpoint.
func (s *Store) CountTasksByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM scan_tasks GROUP BY status`)
	if err != nil {
		return nil, errors.Wrap(err, "counting scan tasks")
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, errors.Wrap(err, "scanning task count")
		}
		counts[status] = count
	}
	return counts, errors.Wrap(rows.Err(), "iterating task counts")
}

// scanTask reads one scan_tasks row.
func scanTask(row pgx.Row) (*model.ScanTask, error) {
	var task model.ScanTask
	var params, result, progress []byte
	var taskErr *string
	var startedAt, completedAt *time.Time
	err := row.Scan(&task.ID, &task.TaskType, &task.Status, &task.MinStars,
		&task.MaxStars, &params, &result, &taskErr, &task.CreatedAt,
		&startedAt, &completedAt, &progress)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, errors.Wrap(err, "scanning scan task")
	}

	task.StartedAt = startedAt
	task.CompletedAt = completedAt
	if taskErr != nil {
		task.Error = *taskErr
	}
	if task.Parameters, err = unmarshalJSON(params); err != nil {
		return nil, err
	}
	if task.Result, err = unmarshalJSON(result); err != nil {
		return nil, err
	}
	if task.Progress, err = unmarshalJSON(progress); err != nil {
		return nil, err
	}
	return &task, nil
}

func marshalJSON(m map[string]interface{}) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	data, err := json.Marshal(m)
	return data, errors.Wrap(err, "encoding json column")
}

func unmarshalJSON(data []byte) (map[string]interface{}, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrap(err, "decoding json column")
	}
	return m, nil
}
