package db

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/imgpipe/imgpipe/pkg/errors"
)

const taskColumns = `id, image_id, processing_type, status, created_at, completed_at, duration`

func scanTask(s rowScanner) (*Task, error) {
	var (
		t           Task
		completedAt sql.NullTime
		duration    sql.NullInt64
	)
	if err := s.Scan(&t.ID, &t.ImageID, &t.ProcessingType, &t.Status, &t.CreatedAt, &completedAt, &duration); err != nil {
		return nil, err
	}
	t.CreatedAt = t.CreatedAt.UTC()
	if completedAt.Valid {
		c := completedAt.Time.UTC()
		t.CompletedAt = &c
	}
	if duration.Valid {
		d := duration.Int64
		t.Duration = &d
	}
	return &t, nil
}

// CreateTask inserts a task for an existing image and records its
// processing type as the image's latest operation. Returns ErrNotFound when
// the image does not exist.
func (r *Repository) CreateTask(ctx context.Context, t *Task) error {
	if t.Status == "" {
		t.Status = StatusPending
	}
	slog.Info("database_create_task", "image_id", t.ImageID, "processing_type", t.ProcessingType)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		slog.Error("failed_to_begin_transaction", "error", err)
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, r.q(`SELECT 1 FROM images WHERE id = ?`), t.ImageID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		slog.Info("database_task_image_not_found", "image_id", t.ImageID)
		return ErrNotFound
	}
	if err != nil {
		slog.Error("database_query_failed", "image_id", t.ImageID, "error", err)
		return errors.Wrap(err, "failed to query image")
	}

	now := r.now()
	insert := `INSERT INTO tasks (image_id, processing_type, status, created_at) VALUES (?, ?, ?, ?) RETURNING id`
	if err := tx.QueryRowContext(ctx, r.q(insert), t.ImageID, t.ProcessingType, t.Status, now).Scan(&t.ID); err != nil {
		slog.Error("database_insert_task_failed", "image_id", t.ImageID, "error", err)
		return errors.Wrap(err, "failed to insert task")
	}

	update := `UPDATE images SET operation = ?, updated_at = ? WHERE id = ?`
	if _, err := tx.ExecContext(ctx, r.q(update), t.ProcessingType, now, t.ImageID); err != nil {
		slog.Error("database_update_operation_failed", "image_id", t.ImageID, "error", err)
		return errors.Wrap(err, "failed to record operation")
	}

	if err := tx.Commit(); err != nil {
		slog.Error("failed_to_commit_transaction", "error", err)
		return errors.Wrap(err, "failed to commit transaction")
	}
	t.CreatedAt = now
	t.CompletedAt = nil
	t.Duration = nil

	slog.Info("database_task_created", "task_id", t.ID, "image_id", t.ImageID, "status", t.Status)
	return nil
}

// GetTask retrieves a task by ID
func (r *Repository) GetTask(ctx context.Context, id int64) (*Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = ?`
	t, err := scanTask(r.db.QueryRowContext(ctx, r.q(query), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		slog.Error("database_query_task_failed", "task_id", id, "error", err)
		return nil, errors.Wrap(err, "failed to query task")
	}
	return t, nil
}

// ListTasks returns the tasks of one image, newest first
func (r *Repository) ListTasks(ctx context.Context, imageID int64) ([]*Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE image_id = ? ORDER BY created_at DESC, id DESC`
	rows, err := r.db.QueryContext(ctx, r.q(query), imageID)
	if err != nil {
		slog.Error("database_list_tasks_failed", "image_id", imageID, "error", err)
		return nil, errors.Wrap(err, "failed to list tasks")
	}
	defer rows.Close()

	tasks := []*Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan task")
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "rows error")
	}
	return tasks, nil
}

// UpdateTaskStatus sets a task's status. Terminal statuses stamp
// completed_at and the duration in whole seconds since creation; moving back
// to a non-terminal status clears both. A non-empty processedPath on the
// completed transition is recorded on the task's image.
func (r *Repository) UpdateTaskStatus(ctx context.Context, id int64, status, processedPath string) error {
	slog.Info("database_update_task_status", "task_id", id, "status", status, "processed_path", processedPath)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	var (
		createdAt time.Time
		imageID   int64
	)
	err = tx.QueryRowContext(ctx, r.q(`SELECT created_at, image_id FROM tasks WHERE id = ?`), id).Scan(&createdAt, &imageID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		slog.Error("database_query_task_failed", "task_id", id, "error", err)
		return errors.Wrap(err, "failed to query task")
	}

	now := r.now()
	var (
		completedAt sql.NullTime
		duration    sql.NullInt64
	)
	if IsTerminalStatus(status) {
		secs := int64(now.Sub(createdAt) / time.Second)
		if secs < 0 {
			secs = 0
		}
		completedAt = sql.NullTime{Time: now, Valid: true}
		duration = sql.NullInt64{Int64: secs, Valid: true}
	}

	query := `UPDATE tasks SET status = ?, completed_at = ?, duration = ? WHERE id = ?`
	if _, err := tx.ExecContext(ctx, r.q(query), status, completedAt, duration, id); err != nil {
		slog.Error("database_task_status_update_failed", "task_id", id, "error", err)
		return errors.Wrap(err, "failed to update task status")
	}

	if status == StatusCompleted && processedPath != "" {
		update := `UPDATE images SET processed_path = ?, updated_at = ? WHERE id = ?`
		if _, err := tx.ExecContext(ctx, r.q(update), processedPath, now, imageID); err != nil {
			slog.Error("database_processed_path_update_failed", "task_id", id, "image_id", imageID, "error", err)
			return errors.Wrap(err, "failed to record processed path")
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit transaction")
	}

	slog.Info("database_task_status_updated", "task_id", id, "status", status)
	return nil
}
