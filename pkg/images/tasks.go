package images

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/imgpipe/imgpipe/pkg/db"
	"github.com/imgpipe/imgpipe/pkg/errors"
)

// TaskView is a task as presented to clients.
type TaskView struct {
	ID             int64      `json:"id"`
	ImageID        int64      `json:"image_id"`
	ProcessingType string     `json:"processing_type"`
	Status         string     `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
	CompletedAt    *time.Time `json:"completed_at"`
	Duration       *int64     `json:"duration"`
}

func taskView(t *db.Task) *TaskView {
	return &TaskView{
		ID:             t.ID,
		ImageID:        t.ImageID,
		ProcessingType: t.ProcessingType,
		Status:         t.Status,
		CreatedAt:      t.CreatedAt,
		CompletedAt:    t.CompletedAt,
		Duration:       t.Duration,
	}
}

// SubmitTask records a processing request for an existing image. The
// notifier is told afterwards; its failure does not undo the submission.
func (s *Service) SubmitTask(ctx context.Context, imageID int64, processingType string) (*TaskView, error) {
	processingType = strings.TrimSpace(processingType)
	if imageID <= 0 {
		return nil, errors.Mark(errors.New("image_id must be a positive integer"), ErrValidation)
	}
	if processingType == "" {
		return nil, errors.Mark(errors.New("processing_type required"), ErrValidation)
	}

	task := &db.Task{ImageID: imageID, ProcessingType: processingType, Status: db.StatusPending}
	if err := s.store.CreateTask(ctx, task); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, errors.Mark(errors.New("image does not exist"), ErrValidation)
		}
		slog.Error("task_create_failed", "image_id", imageID, "error", err)
		return nil, errors.Wrap(err, "failed to create task")
	}
	s.metrics.TaskSubmitted()

	if s.notifier != nil {
		if err := s.notifier.TaskSubmitted(ctx, task); err != nil {
			slog.Warn("task_notify_failed", "task_id", task.ID, "error", err)
		}
	}

	slog.Info("task_submitted", "task_id", task.ID, "image_id", imageID, "processing_type", processingType)
	return taskView(task), nil
}

// ListTasks returns the tasks of an image, newest first. Unknown images
// yield ErrNotFound.
func (s *Service) ListTasks(ctx context.Context, imageID int64) ([]*TaskView, error) {
	if _, err := s.store.GetImage(ctx, imageID); err != nil {
		return nil, err
	}
	tasks, err := s.store.ListTasks(ctx, imageID)
	if err != nil {
		return nil, err
	}
	out := make([]*TaskView, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, taskView(t))
	}
	return out, nil
}

// UpdateTaskStatus records progress reported by an external processor. On
// completion processedPath names the output object; when it is omitted the
// conventional processed/{task_id}-{filename} key is recorded.
func (s *Service) UpdateTaskStatus(ctx context.Context, taskID int64, status, processedPath string) (*TaskView, error) {
	if !db.IsCanonicalStatus(status) {
		return nil, errors.Mark(errors.New("status must be one of "+strings.Join(db.CanonicalStatuses, ", ")), ErrValidation)
	}
	processedPath = strings.TrimSpace(processedPath)
	if processedPath != "" {
		if status != db.StatusCompleted {
			return nil, errors.Mark(errors.New("processed_path is only accepted with status completed"), ErrValidation)
		}
		if strings.HasPrefix(processedPath, "/") || strings.Contains(processedPath, "..") {
			return nil, errors.Mark(errors.New("processed_path must be a relative object key"), ErrValidation)
		}
	}

	if status == db.StatusCompleted && processedPath == "" {
		task, err := s.store.GetTask(ctx, taskID)
		if err != nil {
			return nil, err
		}
		img, err := s.store.GetImage(ctx, task.ImageID)
		if err != nil {
			return nil, err
		}
		processedPath = s.blobs.ProcessedKey(task.ID, img.Filename)
	}

	if err := s.store.UpdateTaskStatus(ctx, taskID, status, processedPath); err != nil {
		return nil, err
	}
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	slog.Info("task_status_updated", "task_id", taskID, "status", status, "processed_path", processedPath)
	return taskView(task), nil
}
