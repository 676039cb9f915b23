package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// createTestStore creates an in-memory SQLite store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(&Config{
		Type:   DatabaseTypeSQLite,
		SQLite: SQLiteConfig{Path: ":memory:"},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func createTestUser(t *testing.T, s *Store) *User {
	t.Helper()
	user := &User{ProviderID: "prov-" + t.Name(), DisplayName: "tester"}
	_, err := s.CreateUser(context.Background(), user)
	require.NoError(t, err)
	return user
}

func TestConfigDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.ApplyDefaults()
	assert.Equal(t, DatabaseTypeSQLite, cfg.Type)
	assert.NotEmpty(t, cfg.SQLite.Path)

	bad := &Config{Type: "oracle"}
	bad.ApplyDefaults()
	assert.Error(t, bad.Validate())
}

func TestPathUniquenessPartialIndex(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	user := createTestUser(t, s)

	_, err := s.CreateNode(ctx, &Node{UserID: user.ID, Name: "a.txt", Path: "/a.txt", Type: NodeTypeFile})
	require.NoError(t, err)

	// Same live path collides.
	_, err = s.CreateNode(ctx, &Node{UserID: user.ID, Name: "a.txt", Path: "/a.txt", Type: NodeTypeFile})
	assert.ErrorIs(t, err, ErrUniqueViolation)

	// A different user may reuse the path.
	other := &User{ProviderID: "prov-other"}
	_, err = s.CreateUser(ctx, other)
	require.NoError(t, err)
	_, err = s.CreateNode(ctx, &Node{UserID: other.ID, Name: "a.txt", Path: "/a.txt", Type: NodeTypeFile})
	assert.NoError(t, err)

	// A trashed row at the same path does not collide.
	now := time.Now()
	orig := "/a.txt"
	trashed := &Node{
		UserID: user.ID, Name: "a.txt", Path: "/.trash/abcd1234/a.txt", Type: NodeTypeFile,
		DeletedAt: &now, OriginalPath: &orig,
	}
	_, err = s.CreateNode(ctx, trashed)
	require.NoError(t, err)
}

func TestFindDescendants(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	user := createTestUser(t, s)

	dirID, err := s.CreateNode(ctx, &Node{UserID: user.ID, Name: "docs", Path: "/docs", Type: NodeTypeDirectory})
	require.NoError(t, err)
	_, err = s.CreateNode(ctx, &Node{UserID: user.ID, ParentID: &dirID, Name: "x.txt", Path: "/docs/x.txt", Type: NodeTypeFile})
	require.NoError(t, err)
	// Sibling with a prefix-sharing name must not match.
	_, err = s.CreateNode(ctx, &Node{UserID: user.ID, Name: "docs2", Path: "/docs2", Type: NodeTypeDirectory})
	require.NoError(t, err)

	desc, err := s.FindDescendants(ctx, user.ID, "/docs")
	require.NoError(t, err)
	require.Len(t, desc, 1)
	assert.Equal(t, "/docs/x.txt", desc[0].Path)
}

func TestChunkDensityConstraint(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	user := createTestUser(t, s)

	fileID, err := s.CreateNode(ctx, &Node{UserID: user.ID, Name: "f", Path: "/f", Type: NodeTypeFile})
	require.NoError(t, err)

	_, err = s.InsertChunk(ctx, &Chunk{FileID: fileID, ChunkIndex: 0, MessageID: "m0", ChannelID: "c", Size: 10})
	require.NoError(t, err)
	_, err = s.InsertChunk(ctx, &Chunk{FileID: fileID, ChunkIndex: 0, MessageID: "m1", ChannelID: "c", Size: 10})
	assert.ErrorIs(t, err, ErrUniqueViolation)

	_, err = s.InsertChunk(ctx, &Chunk{FileID: fileID, ChunkIndex: 1, MessageID: "m1", ChannelID: "c", Size: 7})
	require.NoError(t, err)

	chunks, err := s.ChunksByFile(ctx, fileID)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, 0, chunks[0].ChunkIndex)
	assert.Equal(t, 1, chunks[1].ChunkIndex)

	ids, err := s.ScanChunkMessageIDs(ctx)
	require.NoError(t, err)
	assert.Contains(t, ids, "m0")
	assert.Contains(t, ids, "m1")
}

func TestShareUniqueness(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	owner := createTestUser(t, s)
	recipient := &User{ProviderID: "prov-recipient"}
	_, err := s.CreateUser(ctx, recipient)
	require.NoError(t, err)

	fileID, err := s.CreateNode(ctx, &Node{UserID: owner.ID, Name: "f", Path: "/f", Type: NodeTypeFile})
	require.NoError(t, err)

	_, err = s.CreateShare(ctx, &Share{FileID: fileID, OwnerID: owner.ID, SharedWithID: recipient.ID, Permission: PermissionView})
	require.NoError(t, err)
	_, err = s.CreateShare(ctx, &Share{FileID: fileID, OwnerID: owner.ID, SharedWithID: recipient.ID, Permission: PermissionEdit})
	assert.ErrorIs(t, err, ErrUniqueViolation)
}

func TestPublicLinkSlugUnique(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	user := createTestUser(t, s)

	fileID, err := s.CreateNode(ctx, &Node{UserID: user.ID, Name: "f", Path: "/f", Type: NodeTypeFile})
	require.NoError(t, err)

	_, err = s.CreatePublicLink(ctx, &PublicLink{Slug: "abc", FileID: fileID, UserID: user.ID})
	require.NoError(t, err)
	_, err = s.CreatePublicLink(ctx, &PublicLink{Slug: "abc", FileID: fileID, UserID: user.ID})
	assert.ErrorIs(t, err, ErrUniqueViolation)

	link, err := s.GetPublicLinkBySlug(ctx, "abc")
	require.NoError(t, err)
	assert.False(t, link.Expired(time.Now()))

	past := time.Now().Add(-time.Hour)
	link.ExpiresAt = &past
	assert.True(t, link.Expired(time.Now()))
}

func TestTaskLifecycleColumns(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	user := createTestUser(t, s)

	task := &Task{
		UserID: user.ID, Name: "nightly", Cron: "0 3 * * *",
		Host: "example.com", Username: "backup", SFTPPath: "/srv/data",
	}
	task.SetExcludePaths([]string{"tmp", "cache"})
	id, err := s.CreateTask(ctx, task)
	require.NoError(t, err)

	got, err := s.GetTask(ctx, id)
	require.NoError(t, err)
	excludes, err := got.GetExcludePaths()
	require.NoError(t, err)
	assert.Equal(t, []string{"tmp", "cache"}, excludes)
	assert.Equal(t, 22, got.Port)

	started := time.Now().Truncate(time.Second)
	require.NoError(t, s.MarkTaskStarted(ctx, id, started))
	require.NoError(t, s.MarkTaskFinished(ctx, id, started.Add(time.Minute), 90*time.Second))

	got, err = s.GetTask(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got.LastStarted)
	require.NotNil(t, got.LastRun)
	assert.Equal(t, int64(90000), got.LastRuntime)
}

func TestExcludePathsRoundTrip(t *testing.T) {
	var task Task

	task.SetExcludePaths(nil)
	excludes, err := task.GetExcludePaths()
	require.NoError(t, err)
	assert.Nil(t, excludes)

	task.SetExcludePaths([]string{"node_modules", ".git"})
	excludes, err = task.GetExcludePaths()
	require.NoError(t, err)
	assert.Equal(t, []string{"node_modules", ".git"}, excludes)

	task.ExcludePaths = "{not json"
	_, err = task.GetExcludePaths()
	assert.Error(t, err)
}

func TestTransactionRollback(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	user := createTestUser(t, s)

	err := s.Transaction(ctx, func(tx *Store) error {
		if _, err := tx.CreateNode(ctx, &Node{UserID: user.ID, Name: "a", Path: "/a", Type: NodeTypeDirectory}); err != nil {
			return err
		}
		return assert.AnError
	})
	require.Error(t, err)

	_, err = s.FindByPath(ctx, user.ID, "/a")
	assert.ErrorIs(t, err, ErrNodeNotFound)
}
