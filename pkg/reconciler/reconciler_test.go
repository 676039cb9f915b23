package reconciler

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jasonzli-DEV/D-Drive-sub001/pkg/blob"
	"github.com/jasonzli-DEV/D-Drive-sub001/pkg/namespace"
	"github.com/jasonzli-DEV/D-Drive-sub001/pkg/store"
)

func newTestReconciler(t *testing.T) (*Reconciler, *store.Store, *blob.Memory, *store.User) {
	t.Helper()
	st, err := store.New(&store.Config{
		Type:   store.DatabaseTypeSQLite,
		SQLite: store.SQLiteConfig{Path: ":memory:"},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	user := &store.User{ProviderID: "prov-1"}
	_, err = st.CreateUser(context.Background(), user)
	require.NoError(t, err)

	mem := blob.NewMemory()
	// Negative pacing disables the inter-delete sleep.
	r := New(st, mem, Config{DeletePacing: -1})
	return r, st, mem, user
}

func putBlob(t *testing.T, mem *blob.Memory, name string) *blob.Ref {
	t.Helper()
	ref, err := mem.Put(context.Background(), name, []byte("data-"+name))
	require.NoError(t, err)
	return ref
}

func createFileWithChunk(t *testing.T, st *store.Store, user *store.User, name string, ref *blob.Ref) *store.Node {
	t.Helper()
	ctx := context.Background()
	node := &store.Node{UserID: user.ID, Name: name, Path: "/" + name, Type: store.NodeTypeFile, Size: 4}
	_, err := st.CreateNode(ctx, node)
	require.NoError(t, err)
	_, err = st.InsertChunk(ctx, &store.Chunk{
		FileID: node.ID, ChunkIndex: 0,
		MessageID: ref.MessageID, ChannelID: ref.ChannelID, AttachmentURL: ref.URL,
		Size: 4,
	})
	require.NoError(t, err)
	return node
}

func TestSweepOrphansDeletesUnreferenced(t *testing.T) {
	r, st, mem, user := newTestReconciler(t)
	ctx := context.Background()

	kept := putBlob(t, mem, "kept")
	orphan := putBlob(t, mem, "orphan")
	createFileWithChunk(t, st, user, "kept.bin", kept)

	deleted, err := r.SweepOrphans(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)
	assert.True(t, mem.Has(kept.MessageID))
	assert.False(t, mem.Has(orphan.MessageID))
}

func TestSweepOrphansPagesThroughHistory(t *testing.T) {
	r, _, mem, _ := newTestReconciler(t)

	// More than two full pages, none referenced.
	for i := 0; i < 250; i++ {
		putBlob(t, mem, fmt.Sprintf("orphan-%03d", i))
	}

	deleted, err := r.SweepOrphans(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 250, deleted)
	assert.Equal(t, 0, mem.Len())
}

func TestSweepTrashRemovesOnlyExpired(t *testing.T) {
	r, st, mem, user := newTestReconciler(t)
	ctx := context.Background()
	ns := namespace.New(st)

	oldRef := putBlob(t, mem, "old")
	newRef := putBlob(t, mem, "new")
	oldNode := createFileWithChunk(t, st, user, "old.bin", oldRef)
	newNode := createFileWithChunk(t, st, user, "new.bin", newRef)

	require.NoError(t, ns.SoftDelete(ctx, user.ID, oldNode.ID))
	require.NoError(t, ns.SoftDelete(ctx, user.ID, newNode.ID))

	// Backdate one past the retention window.
	expired := time.Now().Add(-r.cfg.TrashRetention - time.Hour)
	require.NoError(t, st.UpdateNodeFields(ctx, oldNode.ID, map[string]any{"deleted_at": expired}))

	removed, err := r.SweepTrash(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = st.GetNode(ctx, oldNode.ID)
	assert.ErrorIs(t, err, store.ErrNodeNotFound)
	assert.False(t, mem.Has(oldRef.MessageID))

	// The fresh one is untouched.
	_, err = st.GetNode(ctx, newNode.ID)
	assert.NoError(t, err)
	assert.True(t, mem.Has(newRef.MessageID))
}

func TestSweepTrashContinuesPastBlobFailures(t *testing.T) {
	r, st, mem, user := newTestReconciler(t)
	ctx := context.Background()
	ns := namespace.New(st)

	ref := putBlob(t, mem, "gone")
	node := createFileWithChunk(t, st, user, "gone.bin", ref)
	require.NoError(t, ns.SoftDelete(ctx, user.ID, node.ID))
	require.NoError(t, st.UpdateNodeFields(ctx, node.ID, map[string]any{
		"deleted_at": time.Now().Add(-r.cfg.TrashRetention - time.Hour),
	}))

	// Blob already gone: rows must still be removed.
	require.NoError(t, mem.Delete(ctx, ref.MessageID, ref.ChannelID))

	removed, err := r.SweepTrash(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	_, err = st.GetNode(ctx, node.ID)
	assert.ErrorIs(t, err, store.ErrNodeNotFound)
}
