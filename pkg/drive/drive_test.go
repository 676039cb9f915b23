package drive

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jasonzli-DEV/D-Drive-sub001/pkg/blob"
	"github.com/jasonzli-DEV/D-Drive-sub001/pkg/chunks"
	"github.com/jasonzli-DEV/D-Drive-sub001/pkg/namespace"
	"github.com/jasonzli-DEV/D-Drive-sub001/pkg/store"
)

func newTestDrive(t *testing.T) (*Drive, *store.Store) {
	t.Helper()
	st, err := store.New(&store.Config{
		Type:   store.DatabaseTypeSQLite,
		SQLite: store.SQLiteConfig{Path: ":memory:"},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	ns := namespace.New(st)
	engine := chunks.New(st, blob.NewMemory(), ns)
	return New(st, ns, engine), st
}

func createUser(t *testing.T, st *store.Store, providerID string) *store.User {
	t.Helper()
	u := &store.User{ProviderID: providerID}
	_, err := st.CreateUser(context.Background(), u)
	require.NoError(t, err)
	return u
}

func uploadText(t *testing.T, d *Drive, actor string, parentID *string, name, content string) *store.Node {
	t.Helper()
	node, err := d.Upload(context.Background(), actor, UploadRequest{ParentID: parentID, Name: name}, bytes.NewReader([]byte(content)))
	require.NoError(t, err)
	return node
}

func TestEnsureUserIsIdempotent(t *testing.T) {
	d, _ := newTestDrive(t)
	ctx := context.Background()

	first, err := d.EnsureUser(ctx, "sub-123", "Alice")
	require.NoError(t, err)
	second, err := d.EnsureUser(ctx, "sub-123", "Alice Again")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "Alice", second.DisplayName)
}

func TestAccessDeniedWithoutShare(t *testing.T) {
	d, st := newTestDrive(t)
	ctx := context.Background()
	owner := createUser(t, st, "owner")
	other := createUser(t, st, "other")

	file := uploadText(t, d, owner.ID, nil, "secret.txt", "top secret")

	_, err := d.Stat(ctx, other.ID, file.ID)
	assert.ErrorIs(t, err, ErrPermissionDenied)

	var buf bytes.Buffer
	_, err = d.Download(ctx, other.ID, file.ID, &buf)
	assert.ErrorIs(t, err, ErrPermissionDenied)
}

func TestShareGrantsDescendantAccess(t *testing.T) {
	d, st := newTestDrive(t)
	ctx := context.Background()
	owner := createUser(t, st, "owner")
	other := createUser(t, st, "other")

	dir, err := d.CreateDir(ctx, owner.ID, nil, "project")
	require.NoError(t, err)
	file := uploadText(t, d, owner.ID, &dir.ID, "notes.txt", "hello")

	_, err = d.Share(ctx, owner.ID, dir.ID, other.ID, store.PermissionView)
	require.NoError(t, err)

	// View reaches the nested file.
	got, err := d.Stat(ctx, other.ID, file.ID)
	require.NoError(t, err)
	assert.Equal(t, "notes.txt", got.Name)

	var buf bytes.Buffer
	_, err = d.Download(ctx, other.ID, file.ID, &buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", buf.String())

	// View does not allow writes.
	_, err = d.Rename(ctx, other.ID, file.ID, "renamed.txt")
	assert.ErrorIs(t, err, ErrPermissionDenied)

	// Re-sharing upgrades the permission in place.
	_, err = d.Share(ctx, owner.ID, dir.ID, other.ID, store.PermissionEdit)
	require.NoError(t, err)
	_, err = d.Rename(ctx, other.ID, file.ID, "renamed.txt")
	require.NoError(t, err)

	// Revocation closes the door again.
	require.NoError(t, d.RevokeShare(ctx, owner.ID, dir.ID, other.ID))
	_, err = d.Stat(ctx, other.ID, file.ID)
	assert.ErrorIs(t, err, ErrPermissionDenied)
}

func TestShareRequiresRecipientOptIn(t *testing.T) {
	d, st := newTestDrive(t)
	ctx := context.Background()
	owner := createUser(t, st, "owner")
	other := createUser(t, st, "other")

	other.AllowSharedWithMe = false
	require.NoError(t, st.UpdateUser(ctx, other))

	file := uploadText(t, d, owner.ID, nil, "a.txt", "x")
	_, err := d.Share(ctx, owner.ID, file.ID, other.ID, store.PermissionView)
	assert.ErrorIs(t, err, ErrSharingDisabled)
}

func TestUploadFollowsOwnerEncryptionPolicy(t *testing.T) {
	d, st := newTestDrive(t)
	ctx := context.Background()
	user := createUser(t, st, "u1")

	user.EncryptByDefault = true
	require.NoError(t, st.UpdateUser(ctx, user))

	encrypted := uploadText(t, d, user.ID, nil, "default.txt", "data")
	assert.True(t, encrypted.Encrypted)

	off := false
	plain, err := d.Upload(ctx, user.ID, UploadRequest{Name: "plain.txt", Encrypt: &off}, bytes.NewReader([]byte("data")))
	require.NoError(t, err)
	assert.False(t, plain.Encrypted)

	// Round trip through the policy path.
	var buf bytes.Buffer
	_, err = d.Download(ctx, user.ID, encrypted.ID, &buf)
	require.NoError(t, err)
	assert.Equal(t, "data", buf.String())
}

func TestSoftDeleteHonorsDisabledRecycleBin(t *testing.T) {
	d, st := newTestDrive(t)
	ctx := context.Background()
	user := createUser(t, st, "u1")

	user.RecycleBinEnabled = false
	require.NoError(t, st.UpdateUser(ctx, user))

	file := uploadText(t, d, user.ID, nil, "a.txt", "x")
	require.NoError(t, d.SoftDelete(ctx, user.ID, file.ID))

	// Straight to permanent deletion, nothing in the bin.
	_, err := st.GetNode(ctx, file.ID)
	assert.ErrorIs(t, err, store.ErrNodeNotFound)
	trash, err := d.ListTrash(ctx, user.ID)
	require.NoError(t, err)
	assert.Empty(t, trash)
}

func TestEmptyTrash(t *testing.T) {
	d, st := newTestDrive(t)
	ctx := context.Background()
	user := createUser(t, st, "u1")

	a := uploadText(t, d, user.ID, nil, "a.txt", "x")
	b := uploadText(t, d, user.ID, nil, "b.txt", "y")
	require.NoError(t, d.SoftDelete(ctx, user.ID, a.ID))
	require.NoError(t, d.SoftDelete(ctx, user.ID, b.ID))

	n, err := d.EmptyTrash(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	trash, err := d.ListTrash(ctx, user.ID)
	require.NoError(t, err)
	assert.Empty(t, trash)
}

func TestPublicLinkLifecycle(t *testing.T) {
	d, st := newTestDrive(t)
	ctx := context.Background()
	user := createUser(t, st, "u1")
	file := uploadText(t, d, user.ID, nil, "pub.txt", "published")

	link, err := d.CreatePublicLink(ctx, user.ID, file.ID, nil)
	require.NoError(t, err)
	require.Len(t, link.Slug, slugLength)

	var buf bytes.Buffer
	node, err := d.DownloadPublic(ctx, link.Slug, &buf)
	require.NoError(t, err)
	assert.Equal(t, file.ID, node.ID)
	assert.Equal(t, "published", buf.String())

	// Expired links stop resolving.
	past := time.Now().Add(-time.Hour)
	expired, err := d.CreatePublicLink(ctx, user.ID, file.ID, &past)
	require.NoError(t, err)
	_, err = d.ResolvePublicLink(ctx, expired.Slug)
	assert.ErrorIs(t, err, ErrLinkExpired)

	require.NoError(t, d.RevokePublicLink(ctx, user.ID, link.ID))
	_, err = d.ResolvePublicLink(ctx, link.Slug)
	assert.ErrorIs(t, err, store.ErrLinkNotFound)
}

func TestCopySharedFileIntoOwnTree(t *testing.T) {
	d, st := newTestDrive(t)
	ctx := context.Background()
	owner := createUser(t, st, "owner")
	other := createUser(t, st, "other")

	file := uploadText(t, d, owner.ID, nil, "shared.txt", "payload")
	_, err := d.Share(ctx, owner.ID, file.ID, other.ID, store.PermissionView)
	require.NoError(t, err)

	copied, err := d.Copy(ctx, other.ID, file.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, other.ID, copied.UserID)
	assert.Equal(t, "Copy of shared.txt", copied.Name)

	var buf bytes.Buffer
	_, err = d.Download(ctx, other.ID, copied.ID, &buf)
	require.NoError(t, err)
	assert.Equal(t, "payload", buf.String())
}

func TestToggleStar(t *testing.T) {
	d, st := newTestDrive(t)
	ctx := context.Background()
	user := createUser(t, st, "u1")
	file := uploadText(t, d, user.ID, nil, "a.txt", "x")

	on, err := d.ToggleStar(ctx, user.ID, file.ID)
	require.NoError(t, err)
	assert.True(t, on)

	starred, err := d.ListStarred(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, starred, 1)

	off, err := d.ToggleStar(ctx, user.ID, file.ID)
	require.NoError(t, err)
	assert.False(t, off)
}
