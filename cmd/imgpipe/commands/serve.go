package commands

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/imgpipe/imgpipe/internal/config"
	"github.com/imgpipe/imgpipe/pkg/api"
	"github.com/imgpipe/imgpipe/pkg/errors"
	"github.com/imgpipe/imgpipe/pkg/events"
	"github.com/imgpipe/imgpipe/pkg/fsm"
	"github.com/imgpipe/imgpipe/pkg/images"
	"github.com/imgpipe/imgpipe/pkg/metrics"
	"github.com/imgpipe/imgpipe/pkg/security"
	"github.com/imgpipe/imgpipe/pkg/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const shutdownTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the upload reconciler",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("listen-addr", ":8080", "HTTP listen address")
	serveCmd.Flags().Int64("max-upload-size", 10*1024*1024, "Max upload size in bytes")
	serveCmd.Flags().Duration("reconcile-interval", time.Minute, "How often stale uploads are swept")
	serveCmd.Flags().Duration("reconcile-grace", 5*time.Minute, "How long an upload may stay in flight before it is reconciled")

	for _, name := range []string{"listen-addr", "max-upload-size", "reconcile-interval", "reconcile-grace"} {
		viper.BindPFlag(name, serveCmd.Flags().Lookup(name))
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repo, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer repo.Close()

	backend, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	gw := newGateway(cfg, backend)
	// Fail fast on bad credentials or an unreachable bucket.
	if err := gw.TestConnectivity(ctx); err != nil {
		return errors.Wrap(err, "object storage unreachable")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	notifier := newNotifier(cfg)
	defer notifier.Close()

	svc := images.NewService(repo, gw, security.NewValidator(cfg.MaxUploadSize),
		images.WithNotifier(notifier), images.WithMetrics(m))

	reconciler, closeReconciler, err := newReconciler(ctx, cfg, repo, gw)
	if err != nil {
		return err
	}
	defer closeReconciler()

	// Deferred after the closes above, so it runs before them.
	stopSweeper := fsm.NewSweeper(repo, reconciler, cfg.ReconcileGrace, m).Start(ctx, cfg.ReconcileInterval)
	defer stopSweeper()

	var opts []api.Option
	if mem, ok := backend.(*storage.MemoryBackend); ok {
		opts = append(opts, api.WithObjects(mem))
	}

	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.NewServer(svc, repo, reg, cfg.MaxUploadSize, opts...).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http_server_started", "addr", cfg.ListenAddr,
			"db_driver", cfg.DBDriver, "blob_backend", cfg.BlobBackend, "durable_reconcile", cfg.FSMDBPath != "")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return errors.Wrap(err, "http server failed")
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("http_server_stopping")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "http shutdown failed")
	}
	slog.Info("http_server_stopped")
	return nil
}

type notifier interface {
	images.TaskNotifier
	Close() error
}

func newNotifier(cfg *config.Config) notifier {
	if len(cfg.KafkaBrokers) == 0 {
		return events.Noop{}
	}
	return events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
}
