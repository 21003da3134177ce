package storage

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"mime"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/imgpipe/imgpipe/pkg/errors"
)

// Key prefixes. Originals are written on upload; processed outputs are
// written by external processors, one per completed task.
const (
	OriginalPrefix  = "original/"
	ProcessedPrefix = "processed/"
)

// ErrInvalidKey is returned when a key does not follow the original/{id}-{filename} layout.
var ErrInvalidKey = errors.New("invalid object key")

// OriginalKey returns the object key for an image's original upload
func OriginalKey(imageID int64, filename string) string {
	return fmt.Sprintf("%s%d-%s", OriginalPrefix, imageID, filename)
}

// ProcessedKey returns the object key for the output of a task.
func ProcessedKey(taskID int64, filename string) string {
	return fmt.Sprintf("%s%d-%s", ProcessedPrefix, taskID, filename)
}

// ParseOriginalKey splits an original key back into image id and filename.
func ParseOriginalKey(key string) (int64, string, error) {
	rest, ok := strings.CutPrefix(key, OriginalPrefix)
	if !ok {
		return 0, "", ErrInvalidKey
	}
	idPart, filename, ok := strings.Cut(rest, "-")
	if !ok || filename == "" {
		return 0, "", ErrInvalidKey
	}
	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil || id <= 0 {
		return 0, "", ErrInvalidKey
	}
	return id, filename, nil
}

// Original describes a stored original blob.
type Original struct {
	Key      string
	ImageID  int64
	Filename string
}

// Gateway computes keys and public URLs and forwards I/O to a Backend.
type Gateway struct {
	backend       Backend
	publicBaseURL string
	timeout       time.Duration
}

// NewGateway wraps backend. Every call is bounded by timeout (default 30s).
func NewGateway(backend Backend, publicBaseURL string, timeout time.Duration) *Gateway {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Gateway{
		backend:       backend,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
		timeout:       timeout,
	}
}

// TestConnectivity performs a single bounded listing against the bucket.
func (g *Gateway) TestConnectivity(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	slog.Info("blob_connectivity_check")
	if _, err := g.backend.List(ctx, "", 1); err != nil {
		slog.Error("blob_connectivity_failed", "error", err)
		return errors.Wrap(err, "object storage unreachable")
	}
	slog.Info("blob_connectivity_ok")
	return nil
}

// Upload stores data under original/{imageID}-{filename} and returns the key.
func (g *Gateway) Upload(ctx context.Context, imageID int64, filename string, data []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	key := OriginalKey(imageID, filename)
	contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename)))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	if err := g.backend.Put(ctx, key, bytes.NewReader(data), int64(len(data)), contentType); err != nil {
		slog.Error("blob_upload_failed", "image_id", imageID, "key", key, "error", err)
		return "", errors.Wrap(err, "failed to upload blob")
	}
	slog.Info("blob_uploaded", "image_id", imageID, "key", key, "size", len(data))
	return key, nil
}

// Exists reports whether the original for imageID is stored.
func (g *Gateway) Exists(ctx context.Context, imageID int64, filename string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	return g.backend.Exists(ctx, OriginalKey(imageID, filename))
}

// Delete removes the original for imageID.
func (g *Gateway) Delete(ctx context.Context, imageID int64, filename string) error {
	return g.DeleteKey(ctx, OriginalKey(imageID, filename))
}

// DeleteKey removes an arbitrary object.
func (g *Gateway) DeleteKey(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	if err := g.backend.Delete(ctx, key); err != nil {
		return errors.Wrap(err, "failed to delete blob")
	}
	slog.Info("blob_deleted", "key", key)
	return nil
}

// ListOriginals returns every stored original whose key parses. Unparseable
// keys under the prefix are logged and skipped.
func (g *Gateway) ListOriginals(ctx context.Context) ([]Original, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	keys, err := g.backend.List(ctx, OriginalPrefix, 0)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list originals")
	}

	originals := make([]Original, 0, len(keys))
	for _, key := range keys {
		id, filename, err := ParseOriginalKey(key)
		if err != nil {
			slog.Warn("blob_key_unrecognized", "key", key)
			continue
		}
		originals = append(originals, Original{Key: key, ImageID: id, Filename: filename})
	}
	return originals, nil
}

// PublicURL is the externally reachable URL of an original. Pure. The
// filename segment is escaped so spaces and '#' survive.
func (g *Gateway) PublicURL(imageID int64, filename string) string {
	return g.publicBaseURL + "/" + OriginalPrefix + url.PathEscape(fmt.Sprintf("%d-%s", imageID, filename))
}

// ProcessedKey is where the output of taskID for an image named filename
// is expected.
func (g *Gateway) ProcessedKey(taskID int64, filename string) string {
	return ProcessedKey(taskID, filename)
}
