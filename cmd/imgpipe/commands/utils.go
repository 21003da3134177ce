package commands

import (
	"context"
	"os"
	"path/filepath"

	"github.com/imgpipe/imgpipe/internal/config"
	"github.com/imgpipe/imgpipe/pkg/db"
	"github.com/imgpipe/imgpipe/pkg/errors"
	"github.com/imgpipe/imgpipe/pkg/fsm"
	"github.com/imgpipe/imgpipe/pkg/storage"
)

// loadConfig loads and validates configuration.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, errors.Wrap(err, "config load failed")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}
	return cfg, nil
}

// ensureDirectories creates all necessary directories for the application
func ensureDirectories(cfg *config.Config) error {
	// Create database directory
	if driver, _ := db.ParseDriver(cfg.DBDriver); driver == db.DriverSQLite {
		if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0755); err != nil {
			return errors.Wrap(err, "failed to create database directory")
		}
	}

	// Create FSM database directory (only needed when runs are durable)
	if cfg.FSMDBPath != "" {
		if err := os.MkdirAll(cfg.FSMDBPath, 0755); err != nil {
			return errors.Wrap(err, "failed to create FSM directory")
		}
	}

	return nil
}

// openStore opens the record store and applies pending migrations.
func openStore(cfg *config.Config) (*db.Repository, error) {
	if err := ensureDirectories(cfg); err != nil {
		return nil, err
	}
	driver, dsn, err := cfg.Database()
	if err != nil {
		return nil, err
	}
	repo, err := db.NewRepository(driver, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "db init failed")
	}
	return repo, nil
}

// openGateway builds the blob gateway over the configured backend.
func openGateway(ctx context.Context, cfg *config.Config) (*storage.Gateway, error) {
	backend, err := openBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return newGateway(cfg, backend), nil
}

func newGateway(cfg *config.Config, backend storage.Backend) *storage.Gateway {
	return storage.NewGateway(backend, cfg.BlobPublicURL, cfg.BlobRequestTimeout)
}

// openBackend connects to the configured object store.
func openBackend(ctx context.Context, cfg *config.Config) (storage.Backend, error) {
	var backend storage.Backend
	switch cfg.BlobBackend {
	case config.BlobS3:
		client, err := storage.NewS3Client(ctx, storage.S3Options{
			Bucket:         cfg.BlobBucket,
			Region:         cfg.BlobRegion,
			Endpoint:       cfg.BlobEndpoint,
			AccessKey:      cfg.BlobAccessKey,
			SecretKey:      cfg.BlobSecretKey,
			ConnectTimeout: cfg.BlobConnectTimeout,
			RequestTimeout: cfg.BlobRequestTimeout,
		})
		if err != nil {
			return nil, errors.Wrap(err, "S3 client init failed")
		}
		backend = client
	case config.BlobMinIO:
		client, err := storage.NewMinIOClient(ctx, storage.MinIOOptions{
			Endpoint:       cfg.BlobEndpoint,
			Bucket:         cfg.BlobBucket,
			Region:         cfg.BlobRegion,
			AccessKey:      cfg.BlobAccessKey,
			SecretKey:      cfg.BlobSecretKey,
			UseSSL:         cfg.BlobUseSSL,
			ConnectTimeout: cfg.BlobConnectTimeout,
			RequestTimeout: cfg.BlobRequestTimeout,
		})
		if err != nil {
			return nil, errors.Wrap(err, "MinIO client init failed")
		}
		backend = client
	default:
		backend = storage.NewMemoryBackend()
	}
	return backend, nil
}

// newReconciler returns the durable fsm runner when fsm-db-path is set and
// the in-process machine otherwise. The returned close func is never nil.
func newReconciler(ctx context.Context, cfg *config.Config, repo *db.Repository, gw *storage.Gateway) (fsm.Reconciler, func(), error) {
	machine := fsm.NewMachine(repo, gw)
	if cfg.FSMDBPath == "" {
		return machine, func() {}, nil
	}
	runner, err := fsm.NewRunner(ctx, cfg.FSMDBPath, machine)
	if err != nil {
		return nil, nil, err
	}
	return runner, runner.Close, nil
}
