// Package fsm implements the upload reconciliation workflow. It resolves
// images left in the transient uploaded status by checking whether their
// original blob exists, using the superfly/fsm library for durable runs.
package fsm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/imgpipe/imgpipe/pkg/db"
	"github.com/imgpipe/imgpipe/pkg/errors"
	"github.com/superfly/fsm"
)

// Register registers the reconciliation FSM
func (m *Machine) Register(ctx context.Context, manager *fsm.Manager) (fsm.Start[ReconcileRequest, ReconcileResponse], fsm.Resume, error) {
	start, resume, err := fsm.Register[ReconcileRequest, ReconcileResponse](manager, "reconcile-upload").
		Start(StateCheckDB, m.transition(m.checkDB, true)).
		To(StateCheckBlob, m.transition(m.checkBlob, false)).
		To(StateResolve, m.transition(m.resolve, false)).
		End(StateFailed).
		Build(ctx)

	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to register FSM")
	}

	return start, resume, nil
}

// Runner drives reconciliations through a BoltDB-backed fsm manager, which
// keeps a durable record of every run.
type Runner struct {
	manager *fsm.Manager
	start   fsm.Start[ReconcileRequest, ReconcileResponse]
	store   Store
}

// NewRunner opens the fsm database at dbPath and registers the machine.
// Runs interrupted by a shutdown are not resumed; their rows are still
// uploaded and the next sweep picks them up again.
func NewRunner(ctx context.Context, dbPath string, m *Machine) (*Runner, error) {
	slog.Info("fsm_runner_init", "db_path", dbPath)

	manager, err := fsm.New(fsm.Config{DBPath: dbPath})
	if err != nil {
		return nil, errors.Wrap(err, "FSM manager failed")
	}

	start, _, err := m.Register(ctx, manager)
	if err != nil {
		manager.Shutdown(5 * time.Second)
		return nil, err
	}

	return &Runner{manager: manager, start: start, store: m.store}, nil
}

// Reconcile starts a run for imageID and waits for it to finish. The
// outcome is read back from the record store once the run ends.
func (r *Runner) Reconcile(ctx context.Context, imageID int64) (*ReconcileResponse, error) {
	runID := fmt.Sprintf("image-%d-%s", imageID, uuid.NewString())
	req := &ReconcileRequest{ImageID: imageID}
	resp := &ReconcileResponse{}

	version, err := r.start(ctx, runID, fsm.NewRequest(req, resp))
	if err != nil {
		return nil, errors.Wrap(err, "FSM start failed")
	}
	slog.Info("fsm_started", "run_id", runID, "version", version)

	if err := r.manager.Wait(ctx, version); err != nil {
		return nil, errors.Wrap(err, "FSM execution failed")
	}

	return r.outcome(ctx, imageID)
}

func (r *Runner) outcome(ctx context.Context, imageID int64) (*ReconcileResponse, error) {
	resp := &ReconcileResponse{ImageID: imageID}
	img, err := r.store.GetImage(ctx, imageID)
	if errors.Is(err, db.ErrNotFound) {
		resp.Skipped, resp.Outcome = true, OutcomeSkipped
		return resp, nil
	}
	if err != nil {
		return nil, err
	}

	resp.Filename, resp.Status, resp.ErrorMessage = img.Filename, img.Status, img.ErrorMessage
	switch {
	case img.Status == db.StatusPending:
		resp.Outcome, resp.BlobFound = OutcomePromoted, true
	case img.Status == db.StatusError && img.ErrorMessage == MissingBlobMessage:
		resp.Outcome = OutcomeFailed
	default:
		resp.Skipped, resp.Outcome = true, OutcomeSkipped
	}
	return resp, nil
}

// Close stops the fsm manager.
func (r *Runner) Close() {
	r.manager.Shutdown(10 * time.Second)
}
