package chunks

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jasonzli-DEV/D-Drive-sub001/pkg/blob"
	"github.com/jasonzli-DEV/D-Drive-sub001/pkg/crypto"
	"github.com/jasonzli-DEV/D-Drive-sub001/pkg/namespace"
	"github.com/jasonzli-DEV/D-Drive-sub001/pkg/store"
)

func newTestEngine(t *testing.T) (*Engine, *store.Store, *blob.Memory) {
	t.Helper()
	st, err := store.New(&store.Config{
		Type:   store.DatabaseTypeSQLite,
		SQLite: store.SQLiteConfig{Path: ":memory:"},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	mem := blob.NewMemory()
	return New(st, mem, namespace.New(st)), st, mem
}

func createUser(t *testing.T, st *store.Store, providerID string, encrypt bool) *store.User {
	t.Helper()
	u := &store.User{ProviderID: providerID, EncryptByDefault: encrypt}
	_, err := st.CreateUser(context.Background(), u)
	require.NoError(t, err)
	return u
}

// patterned returns n deterministic non-repeating-looking bytes.
func patterned(n int) []byte {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = byte(i*31 + i>>8)
	}
	return buf
}

func TestStoreAndFetchRoundTrip(t *testing.T) {
	e, _, mem := newTestEngine(t)
	user := createUser(t, e.store, "p1", false)
	content := patterned(1000)

	node, err := e.StoreBytes(context.Background(), StoreRequest{
		UserID: user.ID, Name: "notes.txt",
	}, content)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), node.Size)
	assert.Equal(t, "text/plain", node.MimeType)
	assert.False(t, node.Encrypted)
	assert.Equal(t, 1, mem.Len())

	var out bytes.Buffer
	require.NoError(t, e.FetchAll(context.Background(), node, &out))
	assert.Equal(t, content, out.Bytes())
}

func TestEncryptedLargeFile(t *testing.T) {
	e, _, mem := newTestEngine(t)
	user := createUser(t, e.store, "p1", true)
	ctx := context.Background()

	total := 20 * 1024 * 1024
	content := patterned(total)

	var lastProgress uint64
	node, err := e.StoreFile(ctx, StoreRequest{
		UserID:   user.ID,
		Name:     "video.mp4",
		Encrypt:  true,
		Progress: func(w uint64) { lastProgress = w },
	}, bytes.NewReader(content))
	require.NoError(t, err)
	assert.Equal(t, uint64(total), node.Size)
	assert.Equal(t, uint64(total), lastProgress)
	assert.True(t, node.Encrypted)

	// Plaintext blocks shrink by the frame overhead so every stored blob
	// stays within the attachment limit.
	rows, err := e.store.ChunksByFile(ctx, node.ID)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, uint64(EffectiveChunkSize), rows[0].Size)
	assert.Equal(t, uint64(EffectiveChunkSize), rows[1].Size)
	assert.Equal(t, uint64(total-2*EffectiveChunkSize), rows[2].Size)
	for _, row := range rows {
		data, err := mem.Get(ctx, row.MessageID, row.ChannelID)
		require.NoError(t, err)
		assert.Equal(t, int(row.Size)+crypto.Overhead, len(data))
		assert.LessOrEqual(t, len(data), blob.MaxAttachmentSize)
	}

	var out bytes.Buffer
	require.NoError(t, e.FetchAll(ctx, node, &out))
	assert.Equal(t, content, out.Bytes())

	// Range spanning the first chunk boundary.
	start := int64(EffectiveChunkSize - 5)
	end := int64(EffectiveChunkSize + 5)
	got, rng, err := e.FetchRange(ctx, node, start, end)
	require.NoError(t, err)
	assert.Equal(t, content[start:end+1], got)
	assert.Equal(t, start, rng.Start)
	assert.Equal(t, end, rng.End)
	assert.Equal(t, uint64(total), rng.Size)

	// Open-ended suffix read is clamped to the last byte.
	got, rng, err = e.FetchRange(ctx, node, int64(total)-100, -1)
	require.NoError(t, err)
	assert.Equal(t, content[total-100:], got)
	assert.Equal(t, int64(total)-1, rng.End)
}

func TestFetchRangeUnsatisfiable(t *testing.T) {
	e, _, _ := newTestEngine(t)
	user := createUser(t, e.store, "p1", false)
	ctx := context.Background()

	node, err := e.StoreBytes(ctx, StoreRequest{UserID: user.ID, Name: "a.bin"}, patterned(100))
	require.NoError(t, err)

	_, _, err = e.FetchRange(ctx, node, 100, 200)
	assert.ErrorIs(t, err, ErrRangeUnsatisfiable)
	_, _, err = e.FetchRange(ctx, node, -1, 10)
	assert.ErrorIs(t, err, ErrRangeUnsatisfiable)
	_, _, err = e.FetchRange(ctx, node, 50, 10)
	assert.ErrorIs(t, err, ErrRangeUnsatisfiable)

	empty, err := e.StoreBytes(ctx, StoreRequest{UserID: user.ID, Name: "empty.bin"}, nil)
	require.NoError(t, err)
	_, _, err = e.FetchRange(ctx, empty, 0, 0)
	assert.ErrorIs(t, err, ErrRangeUnsatisfiable)
}

func TestUploadRetriesTransientFailure(t *testing.T) {
	e, _, mem := newTestEngine(t)
	user := createUser(t, e.store, "p1", false)
	mem.FailPuts = 1

	node, err := e.StoreBytes(context.Background(), StoreRequest{UserID: user.ID, Name: "a.bin"}, patterned(10))
	require.NoError(t, err)
	assert.Equal(t, uint64(10), node.Size)
	assert.Equal(t, 1, mem.Len())
}

func TestUploadRollbackOnPersistentFailure(t *testing.T) {
	e, st, mem := newTestEngine(t)
	user := createUser(t, e.store, "p1", false)
	ctx := context.Background()
	mem.FailPuts = uploadAttempts

	_, err := e.StoreBytes(ctx, StoreRequest{UserID: user.ID, Name: "a.bin"}, patterned(10))
	require.Error(t, err)

	// No node row, no chunk rows, no blobs left behind.
	_, err = st.FindByPath(ctx, user.ID, "/a.bin")
	assert.ErrorIs(t, err, store.ErrNodeNotFound)
	assert.Equal(t, 0, mem.Len())
}

func TestCopyReencryptsAndSplitsFullChunks(t *testing.T) {
	e, st, mem := newTestEngine(t)
	src := createUser(t, st, "plain-user", false)
	dst := createUser(t, st, "enc-user", true)
	ctx := context.Background()

	content := patterned(ChunkSize) // exactly one full unencrypted chunk
	srcNode, err := e.StoreBytes(ctx, StoreRequest{UserID: src.ID, Name: "big.bin"}, content)
	require.NoError(t, err)
	require.Equal(t, 1, mem.Len())

	dstNode, err := e.Copy(ctx, CopyRequest{
		SrcUserID: src.ID, SrcNodeID: srcNode.ID, DstUserID: dst.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, "Copy of big.bin", dstNode.Name)
	assert.True(t, dstNode.Encrypted)
	assert.Equal(t, uint64(ChunkSize), dstNode.Size)

	// The full-size source chunk no longer fits once framed, so it is
	// split into two sub-chunks with sequential indices.
	rows, err := st.ChunksByFile(ctx, dstNode.ID)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, 0, rows[0].ChunkIndex)
	assert.Equal(t, 1, rows[1].ChunkIndex)
	assert.Equal(t, uint64(EffectiveChunkSize), rows[0].Size)
	assert.Equal(t, uint64(ChunkSize-EffectiveChunkSize), rows[1].Size)
	assert.Equal(t, 3, mem.Len())

	var out bytes.Buffer
	require.NoError(t, e.FetchAll(ctx, dstNode, &out))
	assert.Equal(t, content, out.Bytes())
}

func TestCopyDirectoryTree(t *testing.T) {
	e, st, _ := newTestEngine(t)
	user := createUser(t, st, "p1", false)
	ctx := context.Background()
	ns := namespace.New(st)

	docs := &store.Node{UserID: user.ID, Name: "docs", Type: store.NodeTypeDirectory}
	require.NoError(t, ns.CreateNode(ctx, docs))
	content := patterned(2048)
	_, err := e.StoreBytes(ctx, StoreRequest{UserID: user.ID, ParentID: &docs.ID, Name: "readme.md"}, content)
	require.NoError(t, err)

	copied, err := e.Copy(ctx, CopyRequest{SrcUserID: user.ID, SrcNodeID: docs.ID, DstUserID: user.ID})
	require.NoError(t, err)
	assert.Equal(t, "Copy of docs", copied.Name)
	assert.True(t, copied.IsDir())

	// Nested nodes keep their names.
	child, err := st.FindByPath(ctx, user.ID, "/Copy of docs/readme.md")
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, e.FetchAll(ctx, child, &out))
	assert.Equal(t, content, out.Bytes())
}

func TestMimeByName(t *testing.T) {
	assert.Equal(t, "image/jpeg", MimeByName("photo.JPG"))
	assert.Equal(t, "application/pdf", MimeByName("doc.pdf"))
	assert.Equal(t, DefaultMimeType, MimeByName("mystery.xyz"))
	assert.Equal(t, DefaultMimeType, MimeByName("no-extension"))
}
