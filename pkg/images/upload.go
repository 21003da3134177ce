package images

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/imgpipe/imgpipe/pkg/db"
	"github.com/imgpipe/imgpipe/pkg/errors"
	"github.com/imgpipe/imgpipe/pkg/metrics"
	"github.com/imgpipe/imgpipe/pkg/security"
)

// UploadInput is a client upload.
type UploadInput struct {
	Name        string
	Description string
	Filename    string
	Data        []byte
}

// UploadResult is returned on a successful upload.
type UploadResult struct {
	ID          int64  `json:"id"`
	URL         string `json:"url"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Filename    string `json:"filename"`
	Status      string `json:"status"`
}

// Upload validates the payload, records the image, stores the blob and
// marks the row pending.
//
// The row is first written as uploaded so a crash between the two writes is
// visible. A failed blob write is compensated by moving the row to error; if
// that also fails the row stays uploaded until the reconciliation sweep
// resolves it.
func (s *Service) Upload(ctx context.Context, in UploadInput) (*UploadResult, error) {
	in.Filename = strings.TrimSpace(in.Filename)
	slog.Info("upload_start", "filename", in.Filename, "size", len(in.Data))

	if err := s.validator.ValidateUpload(in.Filename, int64(len(in.Data))); err != nil {
		s.metrics.Upload(metrics.UploadRejected)
		if errors.Is(err, security.ErrRejected) {
			return nil, errors.Mark(err, ErrValidation)
		}
		return nil, err
	}

	img := &db.Image{
		Name:        in.Name,
		Description: in.Description,
		Filename:    in.Filename,
		Status:      db.StatusUploaded,
	}
	if err := s.store.CreateImage(ctx, img); err != nil {
		s.metrics.Upload(metrics.UploadFailed)
		slog.Error("upload_record_failed", "filename", in.Filename, "error", err)
		return nil, errors.Wrap(err, "failed to record image")
	}

	start := time.Now()
	key, err := s.blobs.Upload(ctx, img.ID, img.Filename, in.Data)
	s.metrics.ObserveBlobUpload(time.Since(start))
	if err != nil {
		s.metrics.Upload(metrics.UploadFailed)
		s.compensate(img.ID, err)
		return nil, errors.Mark(errors.Wrap(err, "failed to store image"), ErrStorage)
	}

	if err := s.store.PromoteUpload(ctx, img.ID, key); err != nil {
		// The blob is in place; the sweeper will promote the row.
		s.metrics.Upload(metrics.UploadFailed)
		slog.Error("upload_promote_failed", "image_id", img.ID, "error", err)
		return nil, errors.Wrap(err, "failed to finalize image")
	}

	s.metrics.Upload(metrics.UploadOK)
	slog.Info("upload_complete", "image_id", img.ID, "key", key)
	return &UploadResult{
		ID:          img.ID,
		URL:         s.blobs.PublicURL(img.ID, img.Filename),
		Name:        img.Name,
		Description: img.Description,
		Filename:    img.Filename,
		Status:      db.StatusPending,
	}, nil
}

// compensate runs detached from the request context so a cancelled client
// does not leave the row behind in uploaded.
func (s *Service) compensate(id int64, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.store.FailUpload(ctx, id, "upload failed: "+cause.Error()); err != nil {
		slog.Error("upload_compensation_failed", "image_id", id, "error", err)
		return
	}
	slog.Info("upload_compensated", "image_id", id)
}
