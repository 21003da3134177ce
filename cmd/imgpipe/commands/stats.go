package commands

import (
	"context"
	"fmt"
	"sort"

	"github.com/imgpipe/imgpipe/pkg/errors"
	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show image counts by status and the most requested operation",
	RunE:  runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	repo, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer repo.Close()

	stats, err := repo.Statistics(context.Background())
	if err != nil {
		return errors.Wrap(err, "statistics failed")
	}

	fmt.Printf("Total images: %d\n", stats.Total)
	statuses := make([]string, 0, len(stats.ByStatus))
	for s := range stats.ByStatus {
		statuses = append(statuses, s)
	}
	sort.Strings(statuses)
	for _, s := range statuses {
		fmt.Printf("  %-12s %d\n", s, stats.ByStatus[s])
	}

	op := stats.MostPopularOperation
	if op == "" {
		op = "-"
	}
	fmt.Printf("Most popular operation: %s\n", op)
	return nil
}
