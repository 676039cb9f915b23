package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// ============================================
// BACKUP TASK OPERATIONS
// ============================================

// GetExcludePaths returns the task's exclude list. A malformed stored value
// is an error rather than an empty list, so a run never silently backs up
// paths the task meant to skip.
func (t *Task) GetExcludePaths() ([]string, error) {
	if t.ExcludePaths == "" || t.ExcludePaths == "null" {
		return nil, nil
	}
	var paths []string
	if err := json.Unmarshal([]byte(t.ExcludePaths), &paths); err != nil {
		return nil, fmt.Errorf("malformed exclude list %q: %w", t.ExcludePaths, err)
	}
	return paths, nil
}

// SetExcludePaths serializes the exclude list for storage.
func (t *Task) SetExcludePaths(paths []string) {
	if len(paths) == 0 {
		t.ExcludePaths = ""
		return
	}
	data, err := json.Marshal(paths)
	if err != nil {
		t.ExcludePaths = ""
		return
	}
	t.ExcludePaths = string(data)
}

// CreateTask inserts a backup task definition.
func (s *Store) CreateTask(ctx context.Context, task *Task) (string, error) {
	return createWithID(s.db, ctx, task, func(t *Task, id string) { t.ID = id }, task.ID)
}

// GetTask retrieves a task by id.
func (s *Store) GetTask(ctx context.Context, id string) (*Task, error) {
	return getByField[Task](s.db, ctx, "id", id, ErrTaskNotFound)
}

// ListTasks lists every task, enabled or not.
func (s *Store) ListTasks(ctx context.Context) ([]*Task, error) {
	var tasks []*Task
	if err := s.db.WithContext(ctx).Order("created_at ASC").Find(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}

// ListEnabledTasks lists tasks with a live cron registration.
func (s *Store) ListEnabledTasks(ctx context.Context) ([]*Task, error) {
	var tasks []*Task
	if err := s.db.WithContext(ctx).Where("enabled = ?", true).Find(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}

// UpdateTask persists the task definition.
func (s *Store) UpdateTask(ctx context.Context, task *Task) error {
	task.UpdatedAt = time.Now()
	return s.db.WithContext(ctx).Save(task).Error
}

// DeleteTask removes a task by id.
func (s *Store) DeleteTask(ctx context.Context, id string) error {
	return deleteByField[Task](s.db, ctx, "id", id, ErrTaskNotFound)
}

// MarkTaskStarted records the start of a run.
func (s *Store) MarkTaskStarted(ctx context.Context, id string, at time.Time) error {
	return s.updateTaskColumns(ctx, id, map[string]any{"last_started": at})
}

// MarkTaskFinished records a completed run and its duration.
func (s *Store) MarkTaskFinished(ctx context.Context, id string, at time.Time, runtime time.Duration) error {
	return s.updateTaskColumns(ctx, id, map[string]any{
		"last_run":     at,
		"last_runtime": runtime.Milliseconds(),
	})
}

// MarkTaskStopped records a cancelled run: last_run moves, last_runtime does
// not (the run did not complete).
func (s *Store) MarkTaskStopped(ctx context.Context, id string, at time.Time) error {
	return s.updateTaskColumns(ctx, id, map[string]any{"last_run": at})
}

func (s *Store) updateTaskColumns(ctx context.Context, id string, cols map[string]any) error {
	result := s.db.WithContext(ctx).Model(&Task{}).Where("id = ?", id).Updates(cols)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// ============================================
// AUDIT LOG OPERATIONS
// ============================================

// AppendLog writes an audit record.
func (s *Store) AppendLog(ctx context.Context, entry *LogEntry) error {
	_, err := createWithID(s.db, ctx, entry, func(e *LogEntry, id string) { e.ID = id }, entry.ID)
	return err
}

// ListLogs returns the user's most recent audit records, newest first.
func (s *Store) ListLogs(ctx context.Context, userID string, limit int) ([]*LogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	var entries []*LogEntry
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}
