package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/imgpipe/imgpipe/pkg/errors"
	"github.com/imgpipe/imgpipe/pkg/fsm"
	"github.com/spf13/cobra"
)

var (
	reconcileImage int64
	reconcileGrace time.Duration
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Resolve uploads left in flight",
	Long: `Resolve images stuck in the uploaded status:
  (default)        Sweep every upload older than --grace once
  --image <id>     Reconcile a single image regardless of age`,
	RunE: runReconcile,
}

func init() {
	rootCmd.AddCommand(reconcileCmd)
	reconcileCmd.Flags().Int64Var(&reconcileImage, "image", 0, "Reconcile one image by id")
	reconcileCmd.Flags().DurationVar(&reconcileGrace, "grace", 0, "Override reconcile-grace for this sweep")
}

func runReconcile(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := context.Background()

	repo, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer repo.Close()

	gw, err := openGateway(ctx, cfg)
	if err != nil {
		return err
	}

	reconciler, closeReconciler, err := newReconciler(ctx, cfg, repo, gw)
	if err != nil {
		return err
	}
	defer closeReconciler()

	if reconcileImage != 0 {
		resp, err := reconciler.Reconcile(ctx, reconcileImage)
		if err != nil {
			return errors.Wrap(err, "reconcile failed")
		}
		fmt.Printf("Image %d: %s (status %s)\n", resp.ImageID, resp.Outcome, resp.Status)
		return nil
	}

	grace := cfg.ReconcileGrace
	if reconcileGrace != 0 {
		if err := cfg.CheckReconcileGrace(reconcileGrace); err != nil {
			return err
		}
		grace = reconcileGrace
	}
	summary, err := fsm.NewSweeper(repo, reconciler, grace, nil).Sweep(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Scanned %d: %d promoted, %d failed, %d skipped, %d errors\n",
		summary.Scanned, summary.Promoted, summary.Failed, summary.Skipped, summary.Errors)
	return nil
}
