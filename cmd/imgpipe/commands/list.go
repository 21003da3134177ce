package commands

import (
	"context"
	"fmt"

	"github.com/imgpipe/imgpipe/pkg/db"
	"github.com/imgpipe/imgpipe/pkg/errors"
	"github.com/spf13/cobra"
)

var listStatus string

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List images and their status",
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().StringVar(&listStatus, "status", "", "Only list images in this status")
}

func runList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	repo, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer repo.Close()

	ctx := context.Background()
	var images []*db.Image
	if listStatus != "" {
		images, err = repo.ListImagesByStatus(ctx, listStatus)
	} else {
		images, err = repo.ListImages(ctx)
	}
	if err != nil {
		return errors.Wrap(err, "list failed")
	}

	if len(images) == 0 {
		fmt.Println("No images found")
		return nil
	}

	fmt.Printf("%-8s %-30s %-12s %-14s %-20s\n", "ID", "FILENAME", "STATUS", "OPERATION", "UPDATED")
	fmt.Println("----------------------------------------------------------------------------------------")

	for _, img := range images {
		op := img.Operation
		if op == "" {
			op = "-"
		}
		fmt.Printf("%-8d %-30s %-12s %-14s %-20s\n",
			img.ID, img.Filename, img.Status, op, img.UpdatedAt.Format("2006-01-02 15:04:05"))
		if img.ErrorMessage != "" {
			fmt.Printf("         error: %s\n", img.ErrorMessage)
		}
	}

	return nil
}
