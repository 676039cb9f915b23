package chunks

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/jasonzli-DEV/D-Drive-sub001/internal/logger"
	"github.com/jasonzli-DEV/D-Drive-sub001/pkg/blob"
	"github.com/jasonzli-DEV/D-Drive-sub001/pkg/crypto"
	"github.com/jasonzli-DEV/D-Drive-sub001/pkg/metrics"
	"github.com/jasonzli-DEV/D-Drive-sub001/pkg/namespace"
	"github.com/jasonzli-DEV/D-Drive-sub001/pkg/store"
)

// StoreRequest describes an upload. The final name may differ from Name when
// the target path is occupied and gets auto-numbered.
type StoreRequest struct {
	UserID   string
	ParentID *string
	Name     string
	MimeType string
	Encrypt  bool

	// Progress, when set, is called after each committed chunk with the
	// total plaintext bytes written so far.
	Progress func(written uint64)
}

// StoreFile streams r into chunk-sized blobs and returns the created file
// node. The node row is created first so the live-path unique index
// arbitrates name races; chunk pointer rows are inserted only after their
// blob upload is confirmed. Any fatal failure rolls the whole file back.
func (e *Engine) StoreFile(ctx context.Context, req StoreRequest, r io.Reader) (*store.Node, error) {
	mimeType := req.MimeType
	if mimeType == "" {
		mimeType = MimeByName(req.Name)
	}

	var key []byte
	if req.Encrypt {
		var err error
		key, err = e.userKey(ctx, req.UserID, true)
		if err != nil {
			return nil, fmt.Errorf("failed to load encryption key: %w", err)
		}
	}

	node := &store.Node{
		UserID:    req.UserID,
		ParentID:  req.ParentID,
		Name:      req.Name,
		Type:      store.NodeTypeFile,
		MimeType:  mimeType,
		Encrypted: req.Encrypt,
	}
	if err := e.ns.CreateNode(ctx, node); err != nil {
		return nil, err
	}

	blockSize := ChunkSize
	if req.Encrypt {
		blockSize = EffectiveChunkSize
	}

	var (
		total uint64
		refs  []*blob.Ref
		buf   = make([]byte, blockSize)
	)
	for index := 0; ; index++ {
		n, rerr := io.ReadFull(r, buf)
		if rerr != nil && !errors.Is(rerr, io.EOF) && !errors.Is(rerr, io.ErrUnexpectedEOF) {
			e.rollbackUpload(ctx, node, refs)
			return nil, fmt.Errorf("failed to read upload stream: %w", rerr)
		}
		if n > 0 {
			ref, err := e.uploadChunk(ctx, node, index, buf[:n], key)
			if err != nil {
				e.rollbackUpload(ctx, node, refs)
				return nil, err
			}
			refs = append(refs, ref)
			total += uint64(n)
			if req.Progress != nil {
				req.Progress(total)
			}
		}
		if rerr != nil {
			break
		}
	}

	if err := e.store.UpdateNodeFields(ctx, node.ID, map[string]any{"size": total}); err != nil {
		e.rollbackUpload(ctx, node, refs)
		return nil, fmt.Errorf("failed to finalize file size: %w", err)
	}
	node.Size = total

	if err := e.resolveStreamingRace(ctx, node); err != nil {
		return nil, err
	}

	logger.Info("file stored", "file", node.ID, "path", node.Path, "size", total, "chunks", len(refs), "encrypted", req.Encrypt)
	return node, nil
}

// StoreBytes uploads an in-memory payload.
func (e *Engine) StoreBytes(ctx context.Context, req StoreRequest, data []byte) (*store.Node, error) {
	return e.StoreFile(ctx, req, bytes.NewReader(data))
}

// uploadChunk encrypts (when key is set), uploads and records one chunk.
// The pointer row stores the plaintext length.
func (e *Engine) uploadChunk(ctx context.Context, node *store.Node, index int, plain []byte, key []byte) (*blob.Ref, error) {
	payload := plain
	if key != nil {
		frame, err := crypto.Encrypt(plain, key)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt chunk %d: %w", index, err)
		}
		payload = frame
	}

	start := time.Now()
	ref, err := e.putWithRetry(ctx, chunkName(node.ID, index, node.Name), payload)
	if err != nil {
		return nil, fmt.Errorf("failed to upload chunk %d: %w", index, err)
	}

	_, err = e.store.InsertChunk(ctx, &store.Chunk{
		FileID:        node.ID,
		ChunkIndex:    index,
		MessageID:     ref.MessageID,
		ChannelID:     ref.ChannelID,
		AttachmentURL: ref.URL,
		Size:          uint64(len(plain)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record chunk %d: %w", index, err)
	}

	metrics.ObserveChunkUpload(len(plain), time.Since(start))
	return ref, nil
}

// resolveStreamingRace re-probes the file's path after a streaming upload
// and renumbers this row if another live row claimed it meanwhile.
func (e *Engine) resolveStreamingRace(ctx context.Context, node *store.Node) error {
	existing, err := e.store.FindByPath(ctx, node.UserID, node.Path)
	if err != nil {
		if errors.Is(err, store.ErrNodeNotFound) {
			return nil
		}
		return err
	}
	if existing.ID == node.ID {
		return nil
	}

	parent := node.Path[:len(node.Path)-len("/"+node.Name)]
	name, err := e.ns.UniqueName(ctx, node.UserID, parent, node.Name)
	if err != nil {
		return err
	}
	newPath := namespace.JoinPath(parent, name)
	if err := e.store.UpdateNodeFields(ctx, node.ID, map[string]any{"name": name, "path": newPath}); err != nil {
		return err
	}
	logger.Warn("renumbered file after streaming name race", "file", node.ID, "path", newPath)
	node.Name = name
	node.Path = newPath
	return nil
}
