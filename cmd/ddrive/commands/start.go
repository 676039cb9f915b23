package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jasonzli-DEV/D-Drive-sub001/internal/api"
	"github.com/jasonzli-DEV/D-Drive-sub001/internal/logger"
	"github.com/jasonzli-DEV/D-Drive-sub001/pkg/blob"
	"github.com/jasonzli-DEV/D-Drive-sub001/pkg/config"
	"github.com/jasonzli-DEV/D-Drive-sub001/pkg/drive"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the ddrive server",
	Long: `Start the ddrive server: open the metadata store, connect the Discord
session, launch the backup scheduler and the reconciler, and serve the HTTP
API until interrupted.

Examples:
  # Start with the default config location
  ddrive start

  # Start with a custom config file
  ddrive start --config /etc/ddrive/config.yaml

  # Override config through the environment
  DDRIVE_LOGGING_LEVEL=DEBUG ddrive start`,
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}
	if err := InitLogger(cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	adapter, err := blob.NewDiscord(cfg.Blob)
	if err != nil {
		return fmt.Errorf("failed to open Discord session: %w", err)
	}

	rt, err := drive.NewRuntime(cfg, adapter)
	if err != nil {
		_ = adapter.Close()
		return err
	}
	if err := rt.Start(ctx); err != nil {
		rt.Stop()
		return err
	}

	server, err := api.NewServer(cfg.API, api.Deps{
		Drive:          rt.Drive,
		Store:          rt.Store,
		Backup:         rt.Backup,
		Auth:           cfg.Auth,
		MetricsEnabled: cfg.Metrics.Enabled,
	})
	if err != nil {
		rt.Stop()
		return err
	}

	logger.Info("ddrive started", "version", Version, "addr", cfg.API.Addr())

	// Blocks until the signal context is cancelled or the listener fails;
	// graceful shutdown is bounded by the configured timeout.
	serveErr := server.Start(ctx, cfg.ShutdownTimeout)

	rt.Stop()
	return serveErr
}
