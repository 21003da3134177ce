package commands

import (
	"context"
	"fmt"

	"github.com/imgpipe/imgpipe/internal/config"
	"github.com/imgpipe/imgpipe/pkg/db"
	"github.com/imgpipe/imgpipe/pkg/errors"
	"github.com/imgpipe/imgpipe/pkg/images"
	"github.com/imgpipe/imgpipe/pkg/security"
	"github.com/imgpipe/imgpipe/pkg/storage"
	"github.com/spf13/cobra"
)

var (
	cleanupImage    int64
	cleanupOrphaned bool
	cleanupDryRun   bool
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove images and orphaned originals",
	Long: `Clean up resources associated with images:
  --image <id>     Delete one image, its tasks and its original
  --orphaned       Delete originals that no image record points at`,
	RunE: runCleanup,
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
	cleanupCmd.Flags().Int64Var(&cleanupImage, "image", 0, "Delete a specific image by id")
	cleanupCmd.Flags().BoolVar(&cleanupOrphaned, "orphaned", false, "Delete orphaned originals")
	cleanupCmd.Flags().BoolVar(&cleanupDryRun, "dry-run", false, "Only print what would be deleted")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	if cleanupImage == 0 && !cleanupOrphaned {
		return fmt.Errorf("must specify --image or --orphaned")
	}

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

	if cleanupImage != 0 {
		return cleanupSpecificImage(ctx, cfg, repo, gw, cleanupImage)
	}
	return cleanupOrphanedOriginals(ctx, repo, gw)
}

func cleanupSpecificImage(ctx context.Context, cfg *config.Config, repo *db.Repository, gw *storage.Gateway, id int64) error {
	if cleanupDryRun {
		img, err := repo.GetImage(ctx, id)
		if err != nil {
			return errors.Wrap(err, "lookup failed")
		}
		fmt.Printf("Would delete image %d (%s) and %s\n", img.ID, img.Filename, storage.OriginalKey(img.ID, img.Filename))
		return nil
	}

	svc := images.NewService(repo, gw, security.NewValidator(cfg.MaxUploadSize))
	if err := svc.DeleteImage(ctx, id); err != nil {
		return errors.Wrap(err, "delete failed")
	}
	fmt.Printf("Deleted image %d\n", id)
	return nil
}

func cleanupOrphanedOriginals(ctx context.Context, repo *db.Repository, gw *storage.Gateway) error {
	originals, err := gw.ListOriginals(ctx)
	if err != nil {
		return err
	}

	var removed, failed int
	for _, o := range originals {
		img, err := repo.GetImage(ctx, o.ImageID)
		switch {
		case errors.Is(err, db.ErrNotFound):
		case err != nil:
			return errors.Wrap(err, "lookup failed")
		case img.Filename != o.Filename:
		default:
			continue
		}

		if cleanupDryRun {
			fmt.Printf("Would delete %s\n", o.Key)
			removed++
			continue
		}
		if err := gw.DeleteKey(ctx, o.Key); err != nil {
			fmt.Printf("Failed to delete %s: %v\n", o.Key, err)
			failed++
			continue
		}
		removed++
	}

	fmt.Printf("Orphaned originals: %d removed, %d failed (of %d scanned)\n", removed, failed, len(originals))
	return nil
}
