package fsm

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/imgpipe/imgpipe/pkg/db"
	"github.com/imgpipe/imgpipe/pkg/errors"
	"github.com/imgpipe/imgpipe/pkg/metrics"
)

// Reconciler resolves one image. Implemented by Machine and Runner.
type Reconciler interface {
	Reconcile(ctx context.Context, imageID int64) (*ReconcileResponse, error)
}

// StaleLister finds rows stuck in a status.
type StaleLister interface {
	ListStaleImages(ctx context.Context, status string, before time.Time) ([]*db.Image, error)
}

// SweepSummary counts what one sweep did.
type SweepSummary struct {
	Scanned  int
	Promoted int
	Failed   int
	Skipped  int
	Errors   int
}

// Sweeper periodically resolves uploads left in the uploaded status for
// longer than grace.
type Sweeper struct {
	images     StaleLister
	reconciler Reconciler
	grace      time.Duration
	metrics    *metrics.Metrics
	now        func() time.Time
}

// NewSweeper creates a sweeper. m may be nil.
func NewSweeper(images StaleLister, reconciler Reconciler, grace time.Duration, m *metrics.Metrics) *Sweeper {
	return &Sweeper{
		images:     images,
		reconciler: reconciler,
		grace:      grace,
		metrics:    m,
		now:        time.Now,
	}
}

// Sweep reconciles every stale upload once. Individual failures are counted
// and logged; only a failure to list aborts the sweep.
func (s *Sweeper) Sweep(ctx context.Context) (*SweepSummary, error) {
	cutoff := s.now().Add(-s.grace)
	stale, err := s.images.ListStaleImages(ctx, db.StatusUploaded, cutoff)
	if err != nil {
		slog.Error("sweep_list_failed", "error", err)
		return nil, errors.Wrap(err, "failed to list stale uploads")
	}

	summary := &SweepSummary{Scanned: len(stale)}
	for _, img := range stale {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		resp, err := s.reconciler.Reconcile(ctx, img.ID)
		if err != nil {
			summary.Errors++
			s.metrics.Reconciled("error")
			slog.Error("sweep_reconcile_failed", "image_id", img.ID, "error", err)
			continue
		}
		switch resp.Outcome {
		case OutcomePromoted:
			summary.Promoted++
		case OutcomeFailed:
			summary.Failed++
		default:
			summary.Skipped++
		}
		s.metrics.Reconciled(resp.Outcome)
	}

	slog.Info("sweep_complete",
		"scanned", summary.Scanned,
		"promoted", summary.Promoted,
		"failed", summary.Failed,
		"skipped", summary.Skipped,
		"errors", summary.Errors)
	return summary, nil
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	slog.Info("sweeper_started", "interval", interval, "grace", s.grace)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("sweeper_stopped")
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
				slog.Warn("sweep_failed", "error", err)
			}
		}
	}
}

// Start runs the sweeper in a goroutine. The returned stop func cancels it
// and returns only after any in-progress sweep has finished.
func (s *Sweeper) Start(ctx context.Context, interval time.Duration) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.Run(ctx, interval)
	}()
	return func() {
		cancel()
		wg.Wait()
	}
}
