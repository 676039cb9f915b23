// Package reconciler repairs the two ways the metadata store and the blob
// substrate can drift apart: substrate messages no chunk row points at
// (crashed uploads, failed rollbacks) and trashed files past their retention
// window. It is the only component that deletes blobs.
package reconciler

import (
	"context"
	"errors"
	"time"

	"github.com/jasonzli-DEV/D-Drive-sub001/internal/logger"
	"github.com/jasonzli-DEV/D-Drive-sub001/pkg/blob"
	"github.com/jasonzli-DEV/D-Drive-sub001/pkg/metrics"
	"github.com/jasonzli-DEV/D-Drive-sub001/pkg/store"
)

const (
	// pageSize is the substrate's maximum messages per history page.
	pageSize = 100

	// maxMessages caps how far back one orphan sweep scans.
	maxMessages = 10000

	// deleteRetries bounds rate-limit retries per message deletion.
	deleteRetries = 5

	// DefaultDeletePacing spaces message deletions to stay under the
	// substrate's rate limits.
	DefaultDeletePacing = 100 * time.Millisecond

	// DefaultTrashRetention is how long trashed nodes are kept.
	DefaultTrashRetention = 30 * 24 * time.Hour

	// DefaultInterval is the pause between sweep cycles.
	DefaultInterval = time.Hour
)

// Config tunes the reconciler.
type Config struct {
	Interval       time.Duration `mapstructure:"interval" yaml:"interval"`
	TrashRetention time.Duration `mapstructure:"trash_retention" yaml:"trash_retention"`
	DeletePacing   time.Duration `mapstructure:"delete_pacing" yaml:"delete_pacing"`
}

// ApplyDefaults fills the zero fields.
func (c *Config) ApplyDefaults() {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.TrashRetention <= 0 {
		c.TrashRetention = DefaultTrashRetention
	}
	if c.DeletePacing == 0 {
		c.DeletePacing = DefaultDeletePacing
	}
}

// Reconciler runs the orphan and trash sweeps.
type Reconciler struct {
	store *store.Store
	blob  blob.Adapter
	cfg   Config
}

// New creates a Reconciler.
func New(st *store.Store, adapter blob.Adapter, cfg Config) *Reconciler {
	cfg.ApplyDefaults()
	return &Reconciler{store: st, blob: adapter, cfg: cfg}
}

// Run sweeps once immediately, then on every interval tick until the context
// is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		r.sweep(ctx)
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

func (r *Reconciler) sweep(ctx context.Context) {
	if n, err := r.SweepTrash(ctx); err != nil {
		logger.Error("trash sweep failed", "error", err)
	} else if n > 0 {
		logger.Info("trash sweep finished", "removed", n)
	}

	if n, err := r.SweepOrphans(ctx); err != nil {
		logger.Error("orphan sweep failed", "error", err)
	} else if n > 0 {
		logger.Info("orphan sweep finished", "deleted", n)
	}
}

// SweepOrphans pages through channel history newest-first and deletes every
// message that carries attachments but is referenced by no chunk row.
// Messages without attachments are left alone. Returns how many messages
// were deleted.
func (r *Reconciler) SweepOrphans(ctx context.Context) (int, error) {
	known, err := r.store.ScanChunkMessageIDs(ctx)
	if err != nil {
		return 0, err
	}

	var (
		deleted  int
		scanned  int
		beforeID string
	)
	for scanned < maxMessages {
		msgs, err := r.blob.ListMessages(ctx, beforeID, pageSize)
		if err != nil {
			return deleted, err
		}
		if len(msgs) == 0 {
			break
		}

		for _, msg := range msgs {
			scanned++
			beforeID = msg.ID
			if msg.Attachments == 0 {
				continue
			}
			if _, ok := known[msg.ID]; ok {
				continue
			}

			if err := r.deleteMessage(ctx, msg.ID); err != nil {
				logger.Warn("failed to delete orphaned message", "message_id", msg.ID, "error", err)
				continue
			}
			deleted++
			logger.Debug("deleted orphaned message", "message_id", msg.ID)

			if err := r.pace(ctx); err != nil {
				return deleted, err
			}
		}
		if len(msgs) < pageSize {
			break
		}
	}

	metrics.ObserveReconcilerDelete(deleted)
	return deleted, nil
}

// SweepTrash permanently removes every trashed node older than the retention
// window: blobs best-effort first, then the node's rows in one transaction.
// Failures are logged per node and do not stop the sweep.
func (r *Reconciler) SweepTrash(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-r.cfg.TrashRetention)
	expired, err := r.store.FindTrashedBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, node := range expired {
		if err := r.removeNode(ctx, node); err != nil {
			logger.Warn("failed to expire trashed node", "node", node.ID, "path", node.Path, "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}

// removeNode expires one trash entry point together with the descendants
// that were deleted with it.
func (r *Reconciler) removeNode(ctx context.Context, node *store.Node) error {
	ids := []string{node.ID}
	codeleted, err := r.store.FindDeletedWith(ctx, node.ID)
	if err != nil {
		return err
	}
	for _, d := range codeleted {
		ids = append(ids, d.ID)
	}

	chunks, err := r.store.ChunksByFiles(ctx, ids)
	if err != nil {
		return err
	}
	for _, c := range chunks {
		if err := r.deleteMessage(ctx, c.MessageID); err != nil {
			// The orphan sweep picks these up once the rows are gone.
			logger.Warn("failed to delete chunk blob", "message_id", c.MessageID, "error", err)
		}
		if err := r.pace(ctx); err != nil {
			return err
		}
	}

	return r.store.Transaction(ctx, func(tx *store.Store) error {
		if err := tx.DeleteChunksByFiles(ctx, ids); err != nil {
			return err
		}
		if err := tx.DeleteSharesByFiles(ctx, ids); err != nil {
			return err
		}
		if err := tx.DeletePublicLinksByFiles(ctx, ids); err != nil {
			return err
		}
		return tx.DeleteNodes(ctx, ids)
	})
}

// deleteMessage deletes one substrate message, retrying rate limits up to
// deleteRetries times. A missing message counts as deleted.
func (r *Reconciler) deleteMessage(ctx context.Context, messageID string) error {
	channelID := ""
	for attempt := 1; ; attempt++ {
		err := r.blob.Delete(ctx, messageID, channelID)
		if err == nil || errors.Is(err, blob.ErrNotFound) {
			return nil
		}

		var rl *blob.RateLimitError
		if !errors.As(err, &rl) || attempt == deleteRetries {
			return err
		}
		metrics.ObserveBlobRetry()
		select {
		case <-time.After(rl.RetryAfter):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// pace sleeps the configured delete spacing. A negative value disables
// pacing (tests).
func (r *Reconciler) pace(ctx context.Context) error {
	if r.cfg.DeletePacing < 0 {
		return nil
	}
	select {
	case <-time.After(r.cfg.DeletePacing):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
