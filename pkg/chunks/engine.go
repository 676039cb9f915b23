// Package chunks implements the chunk engine: files are split into
// fixed-size blocks, optionally encrypted per block, stored as one substrate
// attachment each, and reassembled on read. Chunk pointers are committed to
// the metadata store only after the blob upload is confirmed, and every
// fatal mid-upload failure rolls back the rows it created; blobs that slip
// through are reaped by the reconciler.
package chunks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jasonzli-DEV/D-Drive-sub001/internal/logger"
	"github.com/jasonzli-DEV/D-Drive-sub001/pkg/blob"
	"github.com/jasonzli-DEV/D-Drive-sub001/pkg/crypto"
	"github.com/jasonzli-DEV/D-Drive-sub001/pkg/metrics"
	"github.com/jasonzli-DEV/D-Drive-sub001/pkg/namespace"
	"github.com/jasonzli-DEV/D-Drive-sub001/pkg/store"
)

const (
	// ChunkSize is the plaintext block size for unencrypted files, equal to
	// the substrate attachment limit.
	ChunkSize = blob.MaxAttachmentSize

	// EncOverhead is the framing the crypto layer adds per chunk.
	EncOverhead = crypto.Overhead

	// EffectiveChunkSize is the plaintext block size when encrypting, so
	// that the stored frame never exceeds the attachment limit.
	EffectiveChunkSize = ChunkSize - EncOverhead
)

// Upload retry policy: 3 attempts, exponential backoff from 500ms,
// rate-limit retry-after takes precedence when longer.
const (
	uploadAttempts   = 3
	uploadBackoff    = 500 * time.Millisecond
	fetchConcurrency = 4
)

// ErrDecrypt is returned when a chunk fails authentication on a strict
// decrypt path.
var ErrDecrypt = errors.New("failed to decrypt chunk")

// Engine performs all chunked blob I/O for the drive.
type Engine struct {
	store *store.Store
	blob  blob.Adapter
	ns    *namespace.Manager
}

// New creates an Engine.
func New(st *store.Store, adapter blob.Adapter, ns *namespace.Manager) *Engine {
	return &Engine{store: st, blob: adapter, ns: ns}
}

// chunkName builds the substrate attachment name. The name carries no
// semantics; it only makes manual channel inspection readable.
func chunkName(fileID string, index int, storedName string) string {
	return fmt.Sprintf("%s_chunk_%d_%s", fileID, index, storedName)
}

// chunkPartName names a sub-chunk produced by splitting an oversize copied
// chunk.
func chunkPartName(fileID string, index, part int, storedName string) string {
	return fmt.Sprintf("%s_chunk_%d_part%d_%s", fileID, index, part, storedName)
}

// putWithRetry uploads one blob, retrying transient failures and rate
// limits with exponential backoff. ErrTooLarge is never retried.
func (e *Engine) putWithRetry(ctx context.Context, name string, data []byte) (*blob.Ref, error) {
	backoff := uploadBackoff
	for attempt := 1; ; attempt++ {
		ref, err := e.blob.Put(ctx, name, data)
		if err == nil {
			return ref, nil
		}
		if !blob.IsRetryable(err) || attempt == uploadAttempts {
			return nil, err
		}

		wait := backoff
		if ra := blob.RetryAfter(err); ra > wait {
			wait = ra
		}
		logger.Warn("chunk upload failed, retrying", "name", name, "attempt", attempt, "wait", wait, "error", err)
		metrics.ObserveBlobRetry()

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		backoff *= 2
	}
}

// userKey returns the user's encryption key, creating it lazily on the
// first encrypted write.
func (e *Engine) userKey(ctx context.Context, userID string, createIfMissing bool) ([]byte, error) {
	user, err := e.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(user.EncryptionKey) > 0 {
		return user.EncryptionKey, nil
	}
	if !createIfMissing {
		return nil, fmt.Errorf("user %s has no encryption key", userID)
	}

	key, err := crypto.NewUserKey()
	if err != nil {
		return nil, err
	}
	if err := e.store.SetEncryptionKey(ctx, userID, key); err != nil {
		return nil, err
	}
	return key, nil
}

// rollbackUpload undoes a failed multi-step upload: best-effort blob
// deletion, then the chunk rows and the node row. Blob deletions that fail
// here are picked up by the reconciler.
func (e *Engine) rollbackUpload(ctx context.Context, node *store.Node, refs []*blob.Ref) {
	for _, ref := range refs {
		if err := e.blob.Delete(ctx, ref.MessageID, ref.ChannelID); err != nil {
			logger.Warn("rollback blob delete failed, leaving to reconciler",
				"message_id", ref.MessageID, "error", err)
		}
	}
	if err := e.store.DeleteChunksByFiles(ctx, []string{node.ID}); err != nil {
		logger.Error("rollback chunk rows failed", "file", node.ID, "error", err)
	}
	if err := e.store.DeleteNodes(ctx, []string{node.ID}); err != nil {
		logger.Error("rollback node row failed", "file", node.ID, "error", err)
	}
}
