package fsm

import (
	"context"
	"log/slog"

	"github.com/imgpipe/imgpipe/pkg/db"
	"github.com/imgpipe/imgpipe/pkg/errors"
	"github.com/imgpipe/imgpipe/pkg/storage"
	"github.com/superfly/fsm"
)

// Store is the part of the record store reconciliation touches.
type Store interface {
	GetImage(ctx context.Context, id int64) (*db.Image, error)
	PromoteUpload(ctx context.Context, id int64, originalPath string) error
	FailUpload(ctx context.Context, id int64, message string) error
}

// Blobs answers whether an image's original is stored.
type Blobs interface {
	Exists(ctx context.Context, imageID int64, filename string) (bool, error)
}

// Machine holds dependencies for FSM transitions
type Machine struct {
	store Store
	blobs Blobs
}

// NewMachine creates a new FSM machine with dependencies
func NewMachine(store Store, blobs Blobs) *Machine {
	return &Machine{store: store, blobs: blobs}
}

// checkDB loads the row. Anything not in the transient uploaded status has
// already been resolved and is skipped.
func (m *Machine) checkDB(ctx context.Context, req *ReconcileRequest, resp *ReconcileResponse) error {
	slog.Info("fsm_state_check_db", "image_id", req.ImageID)
	resp.ImageID = req.ImageID

	img, err := m.store.GetImage(ctx, req.ImageID)
	if errors.Is(err, db.ErrNotFound) {
		slog.Info("reconcile_image_gone", "image_id", req.ImageID)
		resp.Skipped = true
		resp.Outcome = OutcomeSkipped
		return nil
	}
	if err != nil {
		slog.Error("database_check_failed", "image_id", req.ImageID, "error", err)
		return errors.Wrap(err, "database error")
	}

	resp.Filename = img.Filename
	resp.Status = img.Status
	if img.Status != db.StatusUploaded {
		slog.Info("reconcile_already_resolved", "image_id", img.ID, "status", img.Status)
		resp.Skipped = true
		resp.Outcome = OutcomeSkipped
	}
	return nil
}

func (m *Machine) checkBlob(ctx context.Context, req *ReconcileRequest, resp *ReconcileResponse) error {
	if resp.Skipped {
		return nil
	}
	slog.Info("fsm_state_check_blob", "image_id", resp.ImageID, "filename", resp.Filename)

	found, err := m.blobs.Exists(ctx, resp.ImageID, resp.Filename)
	if err != nil {
		slog.Error("blob_check_failed", "image_id", resp.ImageID, "error", err)
		return errors.Wrap(err, "failed to check blob")
	}
	resp.BlobFound = found
	return nil
}

// resolve promotes the row when the blob made it, otherwise marks it error.
// Losing a race to the upload path is not a failure.
func (m *Machine) resolve(ctx context.Context, req *ReconcileRequest, resp *ReconcileResponse) error {
	if resp.Skipped {
		return nil
	}
	slog.Info("fsm_state_resolve", "image_id", resp.ImageID, "blob_found", resp.BlobFound)

	var err error
	if resp.BlobFound {
		err = m.store.PromoteUpload(ctx, resp.ImageID, storage.OriginalKey(resp.ImageID, resp.Filename))
		resp.Outcome, resp.Status = OutcomePromoted, db.StatusPending
	} else {
		err = m.store.FailUpload(ctx, resp.ImageID, MissingBlobMessage)
		resp.Outcome, resp.Status, resp.ErrorMessage = OutcomeFailed, db.StatusError, MissingBlobMessage
	}

	if errors.Is(err, db.ErrStatusConflict) || errors.Is(err, db.ErrNotFound) {
		slog.Info("reconcile_lost_race", "image_id", resp.ImageID)
		resp.Skipped = true
		resp.Outcome = OutcomeSkipped
		return nil
	}
	if err != nil {
		slog.Error("reconcile_resolve_failed", "image_id", resp.ImageID, "error", err)
		return errors.Wrap(err, "failed to resolve upload")
	}

	slog.Info("reconcile_resolved", "image_id", resp.ImageID, "outcome", resp.Outcome)
	return nil
}

// Reconcile runs every step in-process, without durable state.
func (m *Machine) Reconcile(ctx context.Context, imageID int64) (*ReconcileResponse, error) {
	req := &ReconcileRequest{ImageID: imageID}
	resp := &ReconcileResponse{}
	for _, step := range []stepFunc{m.checkDB, m.checkBlob, m.resolve} {
		if err := step(ctx, req, resp); err != nil {
			return resp, err
		}
	}
	return resp, nil
}

type stepFunc func(context.Context, *ReconcileRequest, *ReconcileResponse) error

// transition adapts a step to a superfly/fsm transition. Steps after the
// first reload the row when the run hands them a fresh response. Every
// failure aborts: the sweeper retries on its next pass.
func (m *Machine) transition(step stepFunc, first bool) func(context.Context, *fsm.Request[ReconcileRequest, ReconcileResponse]) (*fsm.Response[ReconcileResponse], error) {
	return func(ctx context.Context, req *fsm.Request[ReconcileRequest, ReconcileResponse]) (*fsm.Response[ReconcileResponse], error) {
		resp := req.W.Msg
		if resp == nil || resp.ImageID != req.Msg.ImageID {
			resp = &ReconcileResponse{}
			if !first {
				if err := m.checkDB(ctx, req.Msg, resp); err != nil {
					return nil, fsm.Abort(err)
				}
			}
		}
		if err := step(ctx, req.Msg, resp); err != nil {
			return nil, fsm.Abort(err)
		}
		return fsm.NewResponse(resp), nil
	}
}
