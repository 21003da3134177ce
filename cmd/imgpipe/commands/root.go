package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/imgpipe/imgpipe/internal/config"
	"github.com/imgpipe/imgpipe/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// LogLevel is shared with the default slog handler so --log-level takes
// effect after flags are parsed.
var LogLevel = new(slog.LevelVar)

var rootCmd = &cobra.Command{
	Use:   "imgpipe",
	Short: "Image upload and processing coordinator",
	Long: `Accepts image uploads, stores originals in object storage, tracks
processing tasks and reconciles uploads that were interrupted midway.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return errors.Wrap(err, "config load failed")
		}
		level, err := cfg.SlogLevel()
		if err != nil {
			return err
		}
		LogLevel.Set(level)
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// persistentFlags are bound to viper under the same name.
var persistentFlags = []string{
	"db-driver", "sqlite-path", "fsm-db-path",
	"blob-backend", "blob-bucket", "blob-endpoint", "blob-region", "blob-public-url",
	"log-level",
}

func init() {
	rootCmd.PersistentFlags().String("db-driver", "sqlite", "Record store driver (sqlite or postgres)")
	rootCmd.PersistentFlags().String("sqlite-path", ".artifacts/images.db", "SQLite database path")
	rootCmd.PersistentFlags().String("fsm-db-path", ".artifacts/fsm", "FSM BoltDB directory, empty to reconcile in-process")
	rootCmd.PersistentFlags().String("blob-backend", "memory", "Object storage backend (s3, minio or memory)")
	rootCmd.PersistentFlags().String("blob-bucket", "images", "Object storage bucket")
	rootCmd.PersistentFlags().String("blob-endpoint", "", "Object storage endpoint")
	rootCmd.PersistentFlags().String("blob-region", "auto", "Object storage region")
	rootCmd.PersistentFlags().String("blob-public-url", "http://localhost:8080/blobs", "Public base URL for stored originals")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")

	for _, name := range persistentFlags {
		viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}
