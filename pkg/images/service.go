// Package images coordinates the record store and the blob gateway: uploads,
// processing tasks and statistics.
package images

import (
	"context"
	"log/slog"

	"github.com/imgpipe/imgpipe/pkg/db"
	"github.com/imgpipe/imgpipe/pkg/errors"
	"github.com/imgpipe/imgpipe/pkg/metrics"
	"github.com/imgpipe/imgpipe/pkg/security"
)

var (
	// ErrValidation marks client errors: bad input, unknown references.
	ErrValidation = errors.New("validation failed")
	// ErrStorage marks a failure of the object store.
	ErrStorage = errors.New("object storage failure")
	// ErrNotFound is returned when the requested image or task does not exist.
	ErrNotFound = db.ErrNotFound
)

// Store is the subset of the record store the service uses.
type Store interface {
	CreateImage(ctx context.Context, img *db.Image) error
	GetImage(ctx context.Context, id int64) (*db.Image, error)
	ListImages(ctx context.Context) ([]*db.Image, error)
	ListImagesByStatus(ctx context.Context, status string) ([]*db.Image, error)
	PromoteUpload(ctx context.Context, id int64, originalPath string) error
	FailUpload(ctx context.Context, id int64, message string) error
	DeleteImage(ctx context.Context, id int64) error
	CreateTask(ctx context.Context, t *db.Task) error
	GetTask(ctx context.Context, id int64) (*db.Task, error)
	ListTasks(ctx context.Context, imageID int64) ([]*db.Task, error)
	UpdateTaskStatus(ctx context.Context, id int64, status, processedPath string) error
	Statistics(ctx context.Context) (*db.Statistics, error)
}

// Blobs is the subset of the blob gateway the service uses.
type Blobs interface {
	Upload(ctx context.Context, imageID int64, filename string, data []byte) (string, error)
	Delete(ctx context.Context, imageID int64, filename string) error
	PublicURL(imageID int64, filename string) string
	ProcessedKey(taskID int64, filename string) string
}

// TaskNotifier is told about every accepted task.
type TaskNotifier interface {
	TaskSubmitted(ctx context.Context, task *db.Task) error
}

// Service implements the upload and task orchestrators and the statistics
// aggregator. Safe for concurrent use.
type Service struct {
	store     Store
	blobs     Blobs
	validator *security.Validator
	notifier  TaskNotifier
	metrics   *metrics.Metrics
}

// Option customizes a Service.
type Option func(*Service)

// WithNotifier sets where task submissions are announced.
func WithNotifier(n TaskNotifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService wires the service. All long-lived clients are injected.
func NewService(store Store, blobs Blobs, validator *security.Validator, opts ...Option) *Service {
	s := &Service{
		store:     store,
		blobs:     blobs,
		validator: validator,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// View is an image as presented to clients.
type View struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	Description   string `json:"description"`
	Filename      string `json:"filename"`
	URL           string `json:"url"`
	OriginalPath  string `json:"original_path"`
	ProcessedPath string `json:"processed_path,omitempty"`
	Operation     string `json:"operation,omitempty"`
	Status        string `json:"status"`
	ErrorMessage  string `json:"error_message,omitempty"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at"`
}

const timeLayout = "2006-01-02T15:04:05Z07:00"

func (s *Service) view(img *db.Image) *View {
	return &View{
		ID:            img.ID,
		Name:          img.Name,
		Description:   img.Description,
		Filename:      img.Filename,
		URL:           s.blobs.PublicURL(img.ID, img.Filename),
		OriginalPath:  img.OriginalPath,
		ProcessedPath: img.ProcessedPath,
		Operation:     img.Operation,
		Status:        img.Status,
		ErrorMessage:  img.ErrorMessage,
		CreatedAt:     img.CreatedAt.UTC().Format(timeLayout),
		UpdatedAt:     img.UpdatedAt.UTC().Format(timeLayout),
	}
}

func (s *Service) views(imgs []*db.Image) []*View {
	out := make([]*View, 0, len(imgs))
	for _, img := range imgs {
		out = append(out, s.view(img))
	}
	return out
}

// GetImage returns one image or ErrNotFound.
func (s *Service) GetImage(ctx context.Context, id int64) (*View, error) {
	img, err := s.store.GetImage(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.view(img), nil
}

// ListImages returns every image, newest first.
func (s *Service) ListImages(ctx context.Context) ([]*View, error) {
	imgs, err := s.store.ListImages(ctx)
	if err != nil {
		return nil, err
	}
	return s.views(imgs), nil
}

// ListImagesByStatus returns images in status, newest first.
func (s *Service) ListImagesByStatus(ctx context.Context, status string) ([]*View, error) {
	if status == "" {
		return nil, errors.Mark(errors.New("status required"), ErrValidation)
	}
	imgs, err := s.store.ListImagesByStatus(ctx, status)
	if err != nil {
		return nil, err
	}
	return s.views(imgs), nil
}

// DeleteImage removes the row (tasks cascade) and then the original blob.
// A blob delete failure is logged; the orphan is picked up by cleanup.
func (s *Service) DeleteImage(ctx context.Context, id int64) error {
	img, err := s.store.GetImage(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteImage(ctx, id); err != nil {
		return err
	}
	if err := s.blobs.Delete(ctx, img.ID, img.Filename); err != nil {
		slog.Warn("image_blob_delete_failed", "image_id", id, "error", err)
	}
	slog.Info("image_deleted", "image_id", id)
	return nil
}
