package chunks

import (
	"context"
	"fmt"
	"time"

	"github.com/jasonzli-DEV/D-Drive-sub001/internal/logger"
	"github.com/jasonzli-DEV/D-Drive-sub001/pkg/blob"
	"github.com/jasonzli-DEV/D-Drive-sub001/pkg/crypto"
	"github.com/jasonzli-DEV/D-Drive-sub001/pkg/metrics"
	"github.com/jasonzli-DEV/D-Drive-sub001/pkg/store"
)

// CopyRequest describes a deep copy of a node into another directory,
// possibly across users (the share/save-a-copy path).
type CopyRequest struct {
	SrcUserID   string
	SrcNodeID   string
	DstUserID   string
	DstParentID *string
}

// Copy deep-copies a file or directory subtree. Every chunk is re-uploaded
// as a fresh blob, re-encrypted under the destination user's policy and key.
// The top-level copy is named "Copy of <name>"; nested nodes keep theirs.
//
// Each file is copied in two phases: blobs first, then its chunk rows and
// size in one transaction, so a crash never leaves pointer rows without
// blobs behind them.
func (e *Engine) Copy(ctx context.Context, req CopyRequest) (*store.Node, error) {
	src, err := e.store.GetLiveNode(ctx, req.SrcNodeID)
	if err != nil {
		return nil, err
	}
	if src.UserID != req.SrcUserID {
		return nil, store.ErrNodeNotFound
	}

	dstUser, err := e.store.GetUser(ctx, req.DstUserID)
	if err != nil {
		return nil, err
	}

	cp := &copyRun{engine: e, srcUserID: req.SrcUserID, dstUserID: req.DstUserID, encrypt: dstUser.EncryptByDefault}
	if cp.encrypt {
		cp.dstKey, err = e.userKey(ctx, req.DstUserID, true)
		if err != nil {
			return nil, err
		}
	}

	return cp.copyNode(ctx, src, req.DstParentID, "Copy of "+src.Name)
}

type copyRun struct {
	engine    *Engine
	srcUserID string
	dstUserID string
	encrypt   bool
	srcKey    []byte
	dstKey    []byte
}

func (cp *copyRun) copyNode(ctx context.Context, src *store.Node, dstParentID *string, name string) (*store.Node, error) {
	if !src.IsDir() {
		return cp.copyFile(ctx, src, dstParentID, name)
	}

	dir := &store.Node{
		UserID:   cp.dstUserID,
		ParentID: dstParentID,
		Name:     name,
		Type:     store.NodeTypeDirectory,
	}
	if err := cp.engine.ns.CreateNode(ctx, dir); err != nil {
		return nil, err
	}

	children, err := cp.engine.store.ListChildren(ctx, cp.srcUserID, &src.ID)
	if err != nil {
		return nil, err
	}
	for _, child := range children {
		if _, err := cp.copyNode(ctx, child, &dir.ID, child.Name); err != nil {
			return nil, err
		}
	}
	return dir, nil
}

func (cp *copyRun) copyFile(ctx context.Context, src *store.Node, dstParentID *string, name string) (*store.Node, error) {
	e := cp.engine

	if src.Encrypted && cp.srcKey == nil {
		key, err := e.userKey(ctx, cp.srcUserID, false)
		if err != nil {
			return nil, err
		}
		cp.srcKey = key
	}

	srcChunks, err := e.store.ChunksByFile(ctx, src.ID)
	if err != nil {
		return nil, err
	}

	dst := &store.Node{
		UserID:    cp.dstUserID,
		ParentID:  dstParentID,
		Name:      name,
		Type:      store.NodeTypeFile,
		MimeType:  src.MimeType,
		Encrypted: cp.encrypt,
	}
	if err := e.ns.CreateNode(ctx, dst); err != nil {
		return nil, err
	}

	var (
		total    uint64
		dstIndex int
		refs     []*blob.Ref
		rows     []*store.Chunk
	)
	fail := func(err error) (*store.Node, error) {
		e.rollbackUpload(ctx, dst, refs)
		return nil, err
	}

	for _, c := range srcChunks {
		data, err := e.getWithRetry(ctx, c.MessageID, c.ChannelID)
		if err != nil {
			return fail(fmt.Errorf("failed to fetch source chunk %d: %w", c.ChunkIndex, err))
		}
		plain, err := decodeChunk(data, c.Size, src.Encrypted, cp.srcKey)
		if err != nil {
			return fail(fmt.Errorf("source chunk %d: %w", c.ChunkIndex, err))
		}
		metrics.ObserveChunkDownload(len(plain))

		// Re-encrypting can push an unencrypted full-size chunk past the
		// attachment limit; split it into sub-chunks before framing.
		parts := [][]byte{plain}
		if cp.encrypt && len(plain) > EffectiveChunkSize {
			parts = splitChunk(plain, EffectiveChunkSize)
		}

		for j, part := range parts {
			payload := part
			if cp.encrypt {
				payload, err = crypto.Encrypt(part, cp.dstKey)
				if err != nil {
					return fail(fmt.Errorf("failed to encrypt chunk %d: %w", dstIndex, err))
				}
			}

			attachName := chunkName(dst.ID, c.ChunkIndex, name)
			if len(parts) > 1 {
				attachName = chunkPartName(dst.ID, c.ChunkIndex, j, name)
			}

			start := time.Now()
			ref, err := e.putWithRetry(ctx, attachName, payload)
			if err != nil {
				return fail(fmt.Errorf("failed to upload chunk %d: %w", dstIndex, err))
			}
			metrics.ObserveChunkUpload(len(part), time.Since(start))

			refs = append(refs, ref)
			rows = append(rows, &store.Chunk{
				FileID:        dst.ID,
				ChunkIndex:    dstIndex,
				MessageID:     ref.MessageID,
				ChannelID:     ref.ChannelID,
				AttachmentURL: ref.URL,
				Size:          uint64(len(part)),
			})
			dstIndex++
			total += uint64(len(part))
		}
	}

	err = e.store.Transaction(ctx, func(tx *store.Store) error {
		for _, row := range rows {
			if _, err := tx.InsertChunk(ctx, row); err != nil {
				return err
			}
		}
		return tx.UpdateNodeFields(ctx, dst.ID, map[string]any{"size": total})
	})
	if err != nil {
		return fail(fmt.Errorf("failed to commit copied chunks: %w", err))
	}
	dst.Size = total

	logger.Info("file copied", "src", src.ID, "dst", dst.ID, "path", dst.Path, "chunks", dstIndex, "encrypted", cp.encrypt)
	return dst, nil
}

// splitChunk cuts data into pieces of at most max bytes.
func splitChunk(data []byte, max int) [][]byte {
	var parts [][]byte
	for len(data) > 0 {
		n := max
		if len(data) < n {
			n = len(data)
		}
		parts = append(parts, data[:n])
		data = data[n:]
	}
	return parts
}
