package blob

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Memory is an in-memory Adapter for testing. Message ids are monotonically
// increasing integers so ListMessages can page newest-first like the real
// substrate does.
type Memory struct {
	mu      sync.RWMutex
	nextID  int
	blobs   map[string][]byte // messageID -> data
	Channel string

	// FailPuts makes the next n Put calls fail with ErrNet. Used to test
	// retry and rollback paths.
	FailPuts int
}

var _ Adapter = (*Memory)(nil)

// NewMemory creates a new in-memory adapter.
func NewMemory() *Memory {
	return &Memory{
		blobs:   make(map[string][]byte),
		Channel: "memchan",
	}
}

// Put stores data under a fresh message id.
func (m *Memory) Put(ctx context.Context, name string, data []byte) (*Ref, error) {
	if len(data) > MaxAttachmentSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, len(data))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailPuts > 0 {
		m.FailPuts--
		return nil, fmt.Errorf("%w: injected failure", ErrNet)
	}

	m.nextID++
	id := fmt.Sprintf("%012d", m.nextID)
	copied := make([]byte, len(data))
	copy(copied, data)
	m.blobs[id] = copied

	return &Ref{
		MessageID: id,
		ChannelID: m.Channel,
		URL:       "memory://" + m.Channel + "/" + id + "/" + name,
	}, nil
}

// Get returns a copy of the stored data.
func (m *Memory) Get(ctx context.Context, messageID, channelID string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.blobs[messageID]
	if !ok {
		return nil, ErrNotFound
	}
	copied := make([]byte, len(data))
	copy(copied, data)
	return copied, nil
}

// Delete removes the blob; missing blobs are success.
func (m *Memory) Delete(ctx context.Context, messageID, channelID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, messageID)
	return nil
}

// ListMessages pages newest-first, mirroring the substrate's ordering.
func (m *Memory) ListMessages(ctx context.Context, beforeID string, limit int) ([]Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.blobs))
	for id := range m.blobs {
		ids = append(ids, id)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(ids)))

	out := make([]Message, 0, limit)
	for _, id := range ids {
		if beforeID != "" && id >= beforeID {
			continue
		}
		out = append(out, Message{ID: id, Attachments: 1})
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }

// Len returns the number of stored blobs. Test helper.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blobs)
}

// Has reports whether a blob exists. Test helper.
func (m *Memory) Has(messageID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.blobs[messageID]
	return ok
}
