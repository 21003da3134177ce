package images

import (
	"context"
	"io"
	"path/filepath"
	"sync"
	"testing"

	"github.com/imgpipe/imgpipe/pkg/db"
	"github.com/imgpipe/imgpipe/pkg/errors"
	"github.com/imgpipe/imgpipe/pkg/security"
	"github.com/imgpipe/imgpipe/pkg/storage"
)

// flakyBackend fails puts while putErr is set.
type flakyBackend struct {
	*storage.MemoryBackend
	mu     sync.Mutex
	putErr error
	puts   int
}

func (b *flakyBackend) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	b.mu.Lock()
	b.puts++
	err := b.putErr
	b.mu.Unlock()
	if err != nil {
		return err
	}
	return b.MemoryBackend.Put(ctx, key, body, size, contentType)
}

type recordingNotifier struct {
	tasks []*db.Task
	err   error
}

func (n *recordingNotifier) TaskSubmitted(ctx context.Context, task *db.Task) error {
	n.tasks = append(n.tasks, task)
	return n.err
}

type harness struct {
	svc      *Service
	repo     *db.Repository
	backend  *flakyBackend
	notifier *recordingNotifier
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	repo, err := db.NewRepository(db.DriverSQLite, db.SQLiteDSN(filepath.Join(t.TempDir(), "images.db")))
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	backend := &flakyBackend{MemoryBackend: storage.NewMemoryBackend()}
	notifier := &recordingNotifier{}
	gw := storage.NewGateway(backend, "https://cdn.example.com", 0)
	svc := NewService(repo, gw, security.NewValidator(1<<20), WithNotifier(notifier))
	return &harness{svc: svc, repo: repo, backend: backend, notifier: notifier}
}

func TestUpload_Success(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	res, err := h.svc.Upload(ctx, UploadInput{
		Name:        "Sunset",
		Description: "orange",
		Filename:    "sunset.JPG",
		Data:        []byte("fake-jpeg"),
	})
	if err != nil {
		t.Fatalf("upload failed: %v", err)
	}
	if res.Status != db.StatusPending {
		t.Errorf("status = %q, want pending", res.Status)
	}
	wantKey := storage.OriginalKey(res.ID, "sunset.JPG")
	if res.URL != "https://cdn.example.com/"+wantKey {
		t.Errorf("url = %q", res.URL)
	}

	data, _, ok := h.backend.Object(wantKey)
	if !ok || string(data) != "fake-jpeg" {
		t.Fatalf("blob not stored under %s", wantKey)
	}

	img, err := h.svc.GetImage(ctx, res.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if img.Status != db.StatusPending || img.OriginalPath != wantKey {
		t.Errorf("unexpected stored image: %+v", img)
	}
	if img.Name != "Sunset" || img.Description != "orange" {
		t.Errorf("metadata not preserved: %+v", img)
	}
}

func TestUpload_RejectedWritesNothing(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	for _, name := range []string{"notes.txt", "archive.tar.gz", "", "../up.png"} {
		_, err := h.svc.Upload(ctx, UploadInput{Filename: name, Data: []byte("x")})
		if !errors.Is(err, ErrValidation) {
			t.Errorf("Upload(%q) error = %v, want ErrValidation", name, err)
		}
	}

	imgs, _ := h.svc.ListImages(ctx)
	if len(imgs) != 0 {
		t.Errorf("expected no rows, got %d", len(imgs))
	}
	if h.backend.puts != 0 {
		t.Errorf("expected no blob writes, got %d", h.backend.puts)
	}
}

func TestUpload_BlobFailureCompensates(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.backend.putErr = io.ErrUnexpectedEOF

	_, err := h.svc.Upload(ctx, UploadInput{Filename: "cat.png", Data: []byte("png")})
	if !errors.Is(err, ErrStorage) {
		t.Fatalf("expected ErrStorage, got %v", err)
	}

	imgs, _ := h.repo.ListImages(ctx)
	if len(imgs) != 1 {
		t.Fatalf("expected 1 row, got %d", len(imgs))
	}
	if imgs[0].Status != db.StatusError || imgs[0].ErrorMessage == "" {
		t.Errorf("row not compensated: status=%q message=%q", imgs[0].Status, imgs[0].ErrorMessage)
	}

	pending, _ := h.svc.ListImagesByStatus(ctx, db.StatusPending)
	if len(pending) != 0 {
		t.Errorf("failed upload must not be pending")
	}
}

type failingCreateStore struct {
	Store
}

func (failingCreateStore) CreateImage(ctx context.Context, img *db.Image) error {
	return io.ErrClosedPipe
}

func TestUpload_RowFailureSkipsBlob(t *testing.T) {
	h := newHarness(t)
	svc := NewService(failingCreateStore{Store: h.repo}, storage.NewGateway(h.backend, "", 0), security.NewValidator(0))

	_, err := svc.Upload(context.Background(), UploadInput{Filename: "a.gif", Data: []byte("gif")})
	if err == nil || errors.Is(err, ErrValidation) {
		t.Fatalf("expected server error, got %v", err)
	}
	if h.backend.puts != 0 {
		t.Errorf("blob attempted after row failure")
	}
}

func TestGetImage_NotFound(t *testing.T) {
	h := newHarness(t)
	if _, err := h.svc.GetImage(context.Background(), 12345); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListImagesByStatus(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	if _, err := h.svc.ListImagesByStatus(ctx, ""); !errors.Is(err, ErrValidation) {
		t.Errorf("empty status: expected ErrValidation, got %v", err)
	}

	first, _ := h.svc.Upload(ctx, UploadInput{Filename: "1.png", Data: []byte("1")})
	second, _ := h.svc.Upload(ctx, UploadInput{Filename: "2.png", Data: []byte("2")})

	imgs, err := h.svc.ListImagesByStatus(ctx, db.StatusPending)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(imgs) != 2 || imgs[0].ID != second.ID || imgs[1].ID != first.ID {
		t.Errorf("expected newest first [%d %d], got %+v", second.ID, first.ID, imgs)
	}

	none, err := h.svc.ListImagesByStatus(ctx, db.StatusCompleted)
	if err != nil || len(none) != 0 {
		t.Errorf("expected empty list, got %v, %v", none, err)
	}
}

func TestSubmitTask(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	res, err := h.svc.Upload(ctx, UploadInput{Filename: "dog.bmp", Data: []byte("bmp")})
	if err != nil {
		t.Fatalf("upload failed: %v", err)
	}

	task, err := h.svc.SubmitTask(ctx, res.ID, "grayscale")
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if task.ID <= 0 || task.Status != db.StatusPending {
		t.Errorf("unexpected task: %+v", task)
	}
	if len(h.notifier.tasks) != 1 || h.notifier.tasks[0].ID != task.ID {
		t.Errorf("notifier not called with the task")
	}

	tasks, err := h.svc.ListTasks(ctx, res.ID)
	if err != nil || len(tasks) != 1 {
		t.Fatalf("list tasks = %v, %v", tasks, err)
	}

	stats, _ := h.svc.Stats(ctx)
	if stats.MostPopularOperation != "grayscale" {
		t.Errorf("most popular operation = %q", stats.MostPopularOperation)
	}
}

func TestSubmitTask_Rejections(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	res, _ := h.svc.Upload(ctx, UploadInput{Filename: "x.png", Data: []byte("x")})

	tests := []struct {
		name    string
		imageID int64
		op      string
	}{
		{"unknown image", 9999, "resize"},
		{"zero id", 0, "resize"},
		{"empty type", res.ID, "  "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := h.svc.SubmitTask(ctx, tt.imageID, tt.op); !errors.Is(err, ErrValidation) {
				t.Errorf("expected ErrValidation, got %v", err)
			}
		})
	}
	if len(h.notifier.tasks) != 0 {
		t.Errorf("notifier called for rejected tasks")
	}
}

func TestSubmitTask_NotifierFailureIgnored(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.notifier.err = io.ErrShortWrite

	res, _ := h.svc.Upload(ctx, UploadInput{Filename: "x.png", Data: []byte("x")})
	if _, err := h.svc.SubmitTask(ctx, res.ID, "blur"); err != nil {
		t.Fatalf("submission failed because of notifier: %v", err)
	}
}

func TestUpdateTaskStatus(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	res, _ := h.svc.Upload(ctx, UploadInput{Filename: "x.png", Data: []byte("x")})
	task, _ := h.svc.SubmitTask(ctx, res.ID, "rotate")

	if _, err := h.svc.UpdateTaskStatus(ctx, task.ID, "exploded", ""); !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation for bogus status, got %v", err)
	}
	if _, err := h.svc.UpdateTaskStatus(ctx, 777, db.StatusCompleted, ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := h.svc.UpdateTaskStatus(ctx, task.ID, db.StatusProcessing, "processed/out.png"); !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation for processed_path on a non-completed status, got %v", err)
	}
	if _, err := h.svc.UpdateTaskStatus(ctx, task.ID, db.StatusCompleted, "../escape.png"); !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation for traversal in processed_path, got %v", err)
	}

	done, err := h.svc.UpdateTaskStatus(ctx, task.ID, db.StatusCompleted, "")
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if done.CompletedAt == nil || done.Duration == nil {
		t.Errorf("completed task missing completion data: %+v", done)
	}
	img, _ := h.svc.GetImage(ctx, res.ID)
	if want := storage.ProcessedKey(task.ID, "x.png"); img.ProcessedPath != want {
		t.Errorf("processed_path = %q, want %q", img.ProcessedPath, want)
	}
}

func TestUpdateTaskStatus_ReportedProcessedPath(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	res, _ := h.svc.Upload(ctx, UploadInput{Filename: "y.png", Data: []byte("y")})
	task, _ := h.svc.SubmitTask(ctx, res.ID, "blur")

	if _, err := h.svc.UpdateTaskStatus(ctx, task.ID, db.StatusCompleted, "processed/custom-y.png"); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	img, _ := h.svc.GetImage(ctx, res.ID)
	if img.ProcessedPath != "processed/custom-y.png" {
		t.Errorf("processed_path = %q", img.ProcessedPath)
	}
}

func TestUpload_EmptyNameKept(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	res, err := h.svc.Upload(ctx, UploadInput{Filename: "plain.png", Data: []byte("p")})
	if err != nil {
		t.Fatalf("upload failed: %v", err)
	}
	if res.Name != "" {
		t.Errorf("result name = %q, want empty", res.Name)
	}
	img, _ := h.svc.GetImage(ctx, res.ID)
	if img.Name != "" {
		t.Errorf("stored name = %q, want empty", img.Name)
	}
}

func TestDeleteImage(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	res, _ := h.svc.Upload(ctx, UploadInput{Filename: "gone.jpeg", Data: []byte("j")})
	h.svc.SubmitTask(ctx, res.ID, "resize")

	if err := h.svc.DeleteImage(ctx, res.ID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, _, ok := h.backend.Object(storage.OriginalKey(res.ID, "gone.jpeg")); ok {
		t.Error("blob still present")
	}
	if _, err := h.svc.ListTasks(ctx, res.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound listing tasks of deleted image, got %v", err)
	}
	if err := h.svc.DeleteImage(ctx, res.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestStats_BucketsAndOther(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	for _, s := range []string{db.StatusPending, db.StatusProcessing, db.StatusCompleted, db.StatusCompleted, db.StatusError, "quarantined"} {
		if err := h.repo.CreateImage(ctx, &db.Image{Filename: "s.png", Status: s}); err != nil {
			t.Fatalf("seed failed: %v", err)
		}
	}

	stats, err := h.svc.Stats(ctx)
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.Total != 6 || stats.Pending != 1 || stats.Processing != 1 || stats.Completed != 2 || stats.Error != 1 || stats.Other != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
	if sum := stats.Pending + stats.Processing + stats.Completed + stats.Error + stats.Other; sum != stats.Total {
		t.Errorf("buckets sum %d != total %d", sum, stats.Total)
	}
	if stats.ByStatus["quarantined"] != 1 {
		t.Errorf("unknown status not visible: %+v", stats.ByStatus)
	}
	if stats.MostPopularOperation != "" {
		t.Errorf("expected empty operation, got %q", stats.MostPopularOperation)
	}
}

type brokenStatsStore struct {
	Store
}

func (brokenStatsStore) Statistics(ctx context.Context) (*db.Statistics, error) {
	return &db.Statistics{Total: 0}, nil
}

func TestStats_NilMap(t *testing.T) {
	h := newHarness(t)
	svc := NewService(brokenStatsStore{Store: h.repo}, storage.NewGateway(h.backend, "", 0), security.NewValidator(0))

	stats, err := svc.Stats(context.Background())
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.ByStatus == nil {
		t.Error("by_status must never be nil")
	}
}
