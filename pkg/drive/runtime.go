package drive

import (
	"context"
	"fmt"
	"sync"

	"github.com/jasonzli-DEV/D-Drive-sub001/internal/logger"
	"github.com/jasonzli-DEV/D-Drive-sub001/pkg/backup"
	"github.com/jasonzli-DEV/D-Drive-sub001/pkg/blob"
	"github.com/jasonzli-DEV/D-Drive-sub001/pkg/chunks"
	"github.com/jasonzli-DEV/D-Drive-sub001/pkg/config"
	"github.com/jasonzli-DEV/D-Drive-sub001/pkg/metrics"
	"github.com/jasonzli-DEV/D-Drive-sub001/pkg/namespace"
	"github.com/jasonzli-DEV/D-Drive-sub001/pkg/reconciler"
	"github.com/jasonzli-DEV/D-Drive-sub001/pkg/store"
)

// Runtime assembles and owns the long-lived components: store, blob
// adapter, engine, façade, backup service and reconciler.
type Runtime struct {
	Config     *config.Config
	Store      *store.Store
	Blob       blob.Adapter
	Namespace  *namespace.Manager
	Engine     *chunks.Engine
	Drive      *Drive
	Backup     *backup.Service
	Reconciler *reconciler.Reconciler

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRuntime wires every component against the given blob adapter. The
// adapter is injected so callers decide between the Discord substrate and a
// test double.
func NewRuntime(cfg *config.Config, adapter blob.Adapter) (*Runtime, error) {
	st, err := store.New(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open metadata store: %w", err)
	}

	ns := namespace.New(st)
	engine := chunks.New(st, adapter, ns)

	return &Runtime{
		Config:     cfg,
		Store:      st,
		Blob:       adapter,
		Namespace:  ns,
		Engine:     engine,
		Drive:      New(st, ns, engine),
		Backup:     backup.NewService(st, engine, ns),
		Reconciler: reconciler.New(st, adapter, cfg.Reconcile),
	}, nil
}

// Start launches the background services.
func (r *Runtime) Start(ctx context.Context) error {
	if r.Config.Metrics.Enabled {
		metrics.Init()
	}

	// The worker always runs so manual task runs work; cron scheduling is
	// what the backup flag gates.
	if err := r.Backup.Start(ctx, r.Config.Backup.Enabled); err != nil {
		return fmt.Errorf("failed to start backup service: %w", err)
	}

	sweepCtx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.Reconciler.Run(sweepCtx)
	}()

	logger.Info("runtime started",
		"backup", r.Config.Backup.Enabled,
		"metrics", r.Config.Metrics.Enabled)
	return nil
}

// Stop tears everything down: scheduler first so no new runs start, then
// the sweeps, then the connections.
func (r *Runtime) Stop() {
	r.Backup.Stop()
	if r.cancel != nil {
		r.cancel()
		r.wg.Wait()
	}
	if err := r.Blob.Close(); err != nil {
		logger.Warn("failed to close blob adapter", "error", err)
	}
	if err := r.Store.Close(); err != nil {
		logger.Warn("failed to close metadata store", "error", err)
	}
	logger.Info("runtime stopped")
}
