package chunks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jasonzli-DEV/D-Drive-sub001/pkg/blob"
	"github.com/jasonzli-DEV/D-Drive-sub001/pkg/crypto"
	"github.com/jasonzli-DEV/D-Drive-sub001/pkg/metrics"
	"github.com/jasonzli-DEV/D-Drive-sub001/pkg/store"
)

// ErrRangeUnsatisfiable is returned when a byte range starts at or past the
// end of the file.
var ErrRangeUnsatisfiable = errors.New("requested range not satisfiable")

// ByteRange is an inclusive byte interval within a file.
type ByteRange struct {
	Start int64
	End   int64
	Size  uint64 // total file size, for Content-Range
}

// getWithRetry downloads one blob with the same retry policy as uploads.
func (e *Engine) getWithRetry(ctx context.Context, messageID, channelID string) ([]byte, error) {
	backoff := uploadBackoff
	for attempt := 1; ; attempt++ {
		data, err := e.blob.Get(ctx, messageID, channelID)
		if err == nil {
			return data, nil
		}
		if !blob.IsRetryable(err) || attempt == uploadAttempts {
			return nil, err
		}
		wait := backoff
		if ra := blob.RetryAfter(err); ra > wait {
			wait = ra
		}
		metrics.ObserveBlobRetry()
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		backoff *= 2
	}
}

// decodeChunk recovers a chunk's plaintext. For encrypted files a chunk that
// fails authentication but whose stored length equals the recorded plaintext
// length predates encryption and is passed through; any other failure is
// fatal. Frames too short to carry a header pass through inside Decrypt.
func decodeChunk(data []byte, recordedPlain uint64, encrypted bool, key []byte) ([]byte, error) {
	if !encrypted {
		return data, nil
	}
	plain, err := crypto.Decrypt(data, key)
	if err == nil {
		return plain, nil
	}
	if uint64(len(data)) == recordedPlain {
		return data, nil
	}
	return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
}

// FetchAll streams the whole file to w, chunk by chunk in index order.
func (e *Engine) FetchAll(ctx context.Context, file *store.Node, w io.Writer) error {
	chunks, err := e.store.ChunksByFile(ctx, file.ID)
	if err != nil {
		return err
	}

	var key []byte
	if file.Encrypted {
		key, err = e.userKey(ctx, file.UserID, false)
		if err != nil {
			return err
		}
	}

	for _, c := range chunks {
		data, err := e.getWithRetry(ctx, c.MessageID, c.ChannelID)
		if err != nil {
			return fmt.Errorf("failed to fetch chunk %d: %w", c.ChunkIndex, err)
		}
		plain, err := decodeChunk(data, c.Size, file.Encrypted, key)
		if err != nil {
			return fmt.Errorf("chunk %d: %w", c.ChunkIndex, err)
		}
		if _, err := w.Write(plain); err != nil {
			return err
		}
		metrics.ObserveChunkDownload(len(plain))
	}
	return nil
}

// FetchRange returns the bytes [start, end] of the file, fetching only the
// chunks the range touches. An end at or past the file size is clamped; a
// start at or past it is ErrRangeUnsatisfiable. end < 0 means "to the end".
func (e *Engine) FetchRange(ctx context.Context, file *store.Node, start, end int64) ([]byte, *ByteRange, error) {
	size := int64(file.Size)
	if start < 0 || start >= size {
		return nil, nil, ErrRangeUnsatisfiable
	}
	if end < 0 || end >= size {
		end = size - 1
	}
	if end < start {
		return nil, nil, ErrRangeUnsatisfiable
	}

	chunks, err := e.store.ChunksByFile(ctx, file.ID)
	if err != nil {
		return nil, nil, err
	}

	var key []byte
	if file.Encrypted {
		key, err = e.userKey(ctx, file.UserID, false)
		if err != nil {
			return nil, nil, err
		}
	}

	// Prefix sums over recorded plaintext sizes locate the chunk window.
	offsets := make([]int64, len(chunks)+1)
	for i, c := range chunks {
		offsets[i+1] = offsets[i] + int64(c.Size)
	}
	if offsets[len(chunks)] <= start {
		return nil, nil, ErrRangeUnsatisfiable
	}

	first, last := -1, -1
	for i := range chunks {
		if first == -1 && offsets[i+1] > start {
			first = i
		}
		if offsets[i] <= end {
			last = i
		}
	}

	plains := make([][]byte, last-first+1)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchConcurrency)
	for i := first; i <= last; i++ {
		c := chunks[i]
		slot := i - first
		g.Go(func() error {
			data, err := e.getWithRetry(gctx, c.MessageID, c.ChannelID)
			if err != nil {
				return fmt.Errorf("failed to fetch chunk %d: %w", c.ChunkIndex, err)
			}
			plain, err := decodeChunk(data, c.Size, file.Encrypted, key)
			if err != nil {
				return fmt.Errorf("chunk %d: %w", c.ChunkIndex, err)
			}
			plains[slot] = plain
			metrics.ObserveChunkDownload(len(plain))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	out := make([]byte, 0, end-start+1)
	for i := first; i <= last; i++ {
		plain := plains[i-first]
		lo := int64(0)
		if start > offsets[i] {
			lo = start - offsets[i]
		}
		hi := int64(len(plain))
		if end < offsets[i+1]-1 {
			hi = end - offsets[i] + 1
		}
		out = append(out, plain[lo:hi]...)
	}

	return out, &ByteRange{Start: start, End: end, Size: file.Size}, nil
}
