// Package blob stores byte blobs as message attachments on a chat channel.
//
// Each blob is one attachment on one message; the pair (messageID,
// channelID) identifies it. The adapter surfaces the substrate's
// per-attachment size limit and its rate limiting structurally so callers
// can schedule retries.
package blob

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// MaxAttachmentSize is the substrate's per-attachment maximum. Chunks must
// never exceed it, encryption overhead included.
const MaxAttachmentSize = 8 * 1024 * 1024

// Ref identifies one stored blob.
type Ref struct {
	MessageID string
	ChannelID string
	URL       string
}

// Message is one substrate message as seen by the reconciler sweep.
type Message struct {
	ID          string
	Attachments int
}

// Adapter is the storage contract over the substrate channel.
//
// Put publishes data as a single attachment. Get fetches it back. Delete is
// idempotent: deleting a missing blob is success.
type Adapter interface {
	Put(ctx context.Context, name string, data []byte) (*Ref, error)
	Get(ctx context.Context, messageID, channelID string) ([]byte, error)
	Delete(ctx context.Context, messageID, channelID string) error

	// ListMessages pages the channel's messages newest-first, returning up
	// to limit messages posted before beforeID ("" starts at the newest).
	ListMessages(ctx context.Context, beforeID string, limit int) ([]Message, error)

	Close() error
}

// Sentinel errors.
var (
	// ErrTooLarge is returned when a blob exceeds MaxAttachmentSize. Not
	// retryable; the caller must split the payload.
	ErrTooLarge = errors.New("blob exceeds attachment size limit")

	// ErrNotFound is returned by Get for a missing blob.
	ErrNotFound = errors.New("blob not found")

	// ErrNet marks transient transport failures, safe to retry.
	ErrNet = errors.New("blob transport failure")
)

// RateLimitError reports substrate throttling. Callers must wait RetryAfter
// before the next attempt; the limit is global across the process.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited by substrate, retry after %s", e.RetryAfter)
}

// IsRetryable reports whether the error is worth another attempt after a
// backoff (transient network failure or rate limit).
func IsRetryable(err error) bool {
	var rl *RateLimitError
	return errors.Is(err, ErrNet) || errors.As(err, &rl)
}

// RetryAfter extracts the substrate-mandated wait from a rate-limit error,
// or zero when the error carries none.
func RetryAfter(err error) time.Duration {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl.RetryAfter
	}
	return 0
}
