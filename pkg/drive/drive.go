// Package drive is the authorization-aware façade over the namespace, the
// chunk engine and the share model. Every operation takes the acting user
// and enforces ownership or share permissions before touching anything.
package drive

import (
	"context"
	"errors"
	"io"

	"github.com/jasonzli-DEV/D-Drive-sub001/internal/logger"
	"github.com/jasonzli-DEV/D-Drive-sub001/pkg/chunks"
	"github.com/jasonzli-DEV/D-Drive-sub001/pkg/namespace"
	"github.com/jasonzli-DEV/D-Drive-sub001/pkg/store"
)

// Errors surfaced by drive operations.
var (
	// ErrPermissionDenied is returned when the actor neither owns the node
	// nor holds a sufficient share on it or an ancestor.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrLinkExpired is returned when a public link is past its expiry.
	ErrLinkExpired = errors.New("public link expired")

	// ErrSharingDisabled is returned when the recipient does not accept
	// shared files.
	ErrSharingDisabled = errors.New("recipient does not accept shared files")
)

// Drive exposes every user-facing operation.
type Drive struct {
	store  *store.Store
	ns     *namespace.Manager
	engine *chunks.Engine
}

// New creates the façade.
func New(st *store.Store, ns *namespace.Manager, engine *chunks.Engine) *Drive {
	return &Drive{store: st, ns: ns, engine: engine}
}

// EnsureUser returns the user for an identity-provider subject, creating the
// account on first sign-in.
func (d *Drive) EnsureUser(ctx context.Context, providerID, displayName string) (*store.User, error) {
	user, err := d.store.GetUserByProviderID(ctx, providerID)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, store.ErrUserNotFound) {
		return nil, err
	}

	user = &store.User{ProviderID: providerID, DisplayName: displayName}
	if _, err := d.store.CreateUser(ctx, user); err != nil {
		// Two first sign-ins can race; the loser reads the winner's row.
		if errors.Is(err, store.ErrUniqueViolation) {
			return d.store.GetUserByProviderID(ctx, providerID)
		}
		return nil, err
	}
	logger.Info("user created", "user", user.ID, "provider_id", providerID)
	return user, nil
}

// access checks that actor may read (or, with needEdit, modify) the node.
// Shares apply to the shared node and everything below it, so the walk
// climbs toward the root until a share is found.
func (d *Drive) access(ctx context.Context, actor string, node *store.Node, needEdit bool) error {
	if node.UserID == actor {
		return nil
	}

	for n := node; ; {
		share, err := d.store.FindShare(ctx, n.ID, actor)
		if err == nil {
			if needEdit && share.Permission != store.PermissionEdit {
				return ErrPermissionDenied
			}
			return nil
		}
		if !errors.Is(err, store.ErrShareNotFound) {
			return err
		}
		if n.ParentID == nil {
			return ErrPermissionDenied
		}
		n, err = d.store.GetNode(ctx, *n.ParentID)
		if err != nil {
			return err
		}
	}
}

// getAccessible loads a live node and checks access in one step.
func (d *Drive) getAccessible(ctx context.Context, actor, nodeID string, needEdit bool) (*store.Node, error) {
	node, err := d.store.GetLiveNode(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	if err := d.access(ctx, actor, node, needEdit); err != nil {
		return nil, err
	}
	return node, nil
}

// Stat returns a node the actor can read.
func (d *Drive) Stat(ctx context.Context, actor, nodeID string) (*store.Node, error) {
	return d.getAccessible(ctx, actor, nodeID, false)
}

// ListChildren lists a directory the actor can read. A nil parentID lists
// the actor's own root.
func (d *Drive) ListChildren(ctx context.Context, actor string, parentID *string) ([]*store.Node, error) {
	ownerID := actor
	if parentID != nil {
		parent, err := d.getAccessible(ctx, actor, *parentID, false)
		if err != nil {
			return nil, err
		}
		ownerID = parent.UserID
	}
	return d.store.ListChildren(ctx, ownerID, parentID)
}

// resolveWriteParent loads the target directory for a create, requiring an
// EDIT share when it belongs to someone else, and returns its owner.
func (d *Drive) resolveWriteParent(ctx context.Context, actor string, parentID *string) (ownerID string, err error) {
	if parentID == nil {
		return actor, nil
	}
	parent, err := d.getAccessible(ctx, actor, *parentID, true)
	if err != nil {
		return "", err
	}
	return parent.UserID, nil
}

// CreateDir creates a directory. Creating inside a tree shared with the
// actor places the directory in the tree owner's namespace.
func (d *Drive) CreateDir(ctx context.Context, actor string, parentID *string, name string) (*store.Node, error) {
	ownerID, err := d.resolveWriteParent(ctx, actor, parentID)
	if err != nil {
		return nil, err
	}

	node := &store.Node{
		UserID:   ownerID,
		ParentID: parentID,
		Name:     name,
		Type:     store.NodeTypeDirectory,
	}
	if err := d.ns.CreateNode(ctx, node); err != nil {
		return nil, err
	}
	return node, nil
}

// UploadRequest describes an upload through the façade.
type UploadRequest struct {
	ParentID *string
	Name     string
	MimeType string

	// Encrypt overrides the owner's default encryption policy when set.
	Encrypt *bool

	Progress func(written uint64)
}

// Upload stores a new file. Encryption follows the destination owner's
// policy unless the request overrides it.
func (d *Drive) Upload(ctx context.Context, actor string, req UploadRequest, r io.Reader) (*store.Node, error) {
	ownerID, err := d.resolveWriteParent(ctx, actor, req.ParentID)
	if err != nil {
		return nil, err
	}

	encrypt := false
	if req.Encrypt != nil {
		encrypt = *req.Encrypt
	} else {
		owner, err := d.store.GetUser(ctx, ownerID)
		if err != nil {
			return nil, err
		}
		encrypt = owner.EncryptByDefault
	}

	return d.engine.StoreFile(ctx, chunks.StoreRequest{
		UserID:   ownerID,
		ParentID: req.ParentID,
		Name:     req.Name,
		MimeType: req.MimeType,
		Encrypt:  encrypt,
		Progress: req.Progress,
	}, r)
}

// Download streams a whole file the actor can read.
func (d *Drive) Download(ctx context.Context, actor, fileID string, w io.Writer) (*store.Node, error) {
	node, err := d.getAccessible(ctx, actor, fileID, false)
	if err != nil {
		return nil, err
	}
	if node.IsDir() {
		return nil, store.ErrNodeNotFound
	}
	return node, d.engine.FetchAll(ctx, node, w)
}

// DownloadRange returns one byte range of a file the actor can read.
func (d *Drive) DownloadRange(ctx context.Context, actor, fileID string, start, end int64) (*store.Node, []byte, *chunks.ByteRange, error) {
	node, err := d.getAccessible(ctx, actor, fileID, false)
	if err != nil {
		return nil, nil, nil, err
	}
	if node.IsDir() {
		return nil, nil, nil, store.ErrNodeNotFound
	}
	data, rng, err := d.engine.FetchRange(ctx, node, start, end)
	return node, data, rng, err
}

// Rename renames a node. Requires ownership or an EDIT share.
func (d *Drive) Rename(ctx context.Context, actor, nodeID, newName string) (*store.Node, error) {
	node, err := d.getAccessible(ctx, actor, nodeID, true)
	if err != nil {
		return nil, err
	}
	return d.ns.Rename(ctx, node.UserID, nodeID, newName)
}

// Move reparents a node within its owner's tree. Owner only.
func (d *Drive) Move(ctx context.Context, actor, nodeID string, newParentID *string) (*store.Node, error) {
	node, err := d.store.GetLiveNode(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	if node.UserID != actor {
		return nil, ErrPermissionDenied
	}
	return d.ns.Move(ctx, actor, nodeID, newParentID)
}

// SoftDelete moves a node the actor owns into the recycle bin. Owners who
// disabled the bin get an immediate permanent delete.
func (d *Drive) SoftDelete(ctx context.Context, actor, nodeID string) error {
	node, err := d.store.GetLiveNode(ctx, nodeID)
	if err != nil {
		return err
	}
	if node.UserID != actor {
		return ErrPermissionDenied
	}

	owner, err := d.store.GetUser(ctx, actor)
	if err != nil {
		return err
	}
	if !owner.RecycleBinEnabled {
		return d.ns.PermanentDelete(ctx, actor, nodeID)
	}
	return d.ns.SoftDelete(ctx, actor, nodeID)
}

// Restore brings a trashed node back. Owner only.
func (d *Drive) Restore(ctx context.Context, actor, nodeID string) (*store.Node, error) {
	return d.ns.Restore(ctx, actor, nodeID)
}

// PermanentDelete removes a node's rows immediately; blobs are reaped by
// the reconciler. Owner only.
func (d *Drive) PermanentDelete(ctx context.Context, actor, nodeID string) error {
	return d.ns.PermanentDelete(ctx, actor, nodeID)
}

// ListTrash lists the actor's recycle-bin entry points.
func (d *Drive) ListTrash(ctx context.Context, actor string) ([]*store.Node, error) {
	return d.store.ListTrash(ctx, actor)
}

// EmptyTrash permanently deletes everything in the actor's bin.
func (d *Drive) EmptyTrash(ctx context.Context, actor string) (int, error) {
	entries, err := d.store.ListTrash(ctx, actor)
	if err != nil {
		return 0, err
	}
	for i, entry := range entries {
		if err := d.ns.PermanentDelete(ctx, actor, entry.ID); err != nil {
			return i, err
		}
	}
	return len(entries), nil
}

// Copy deep-copies a node the actor can read into the actor's own tree,
// re-encrypting under the actor's policy. This is also the save-a-copy path
// for shared and public content.
func (d *Drive) Copy(ctx context.Context, actor, srcID string, dstParentID *string) (*store.Node, error) {
	src, err := d.getAccessible(ctx, actor, srcID, false)
	if err != nil {
		return nil, err
	}
	if dstParentID != nil {
		dst, err := d.store.GetLiveNode(ctx, *dstParentID)
		if err != nil {
			return nil, err
		}
		if dst.UserID != actor {
			return nil, ErrPermissionDenied
		}
	}
	return d.engine.Copy(ctx, chunks.CopyRequest{
		SrcUserID:   src.UserID,
		SrcNodeID:   srcID,
		DstUserID:   actor,
		DstParentID: dstParentID,
	})
}

// ToggleStar flips the star on a node the actor owns and returns the new
// state.
func (d *Drive) ToggleStar(ctx context.Context, actor, nodeID string) (bool, error) {
	node, err := d.store.GetLiveNode(ctx, nodeID)
	if err != nil {
		return false, err
	}
	if node.UserID != actor {
		return false, ErrPermissionDenied
	}

	starred := !node.Starred
	if err := d.store.UpdateNodeFields(ctx, nodeID, map[string]any{"starred": starred}); err != nil {
		return false, err
	}
	return starred, nil
}

// ListStarred lists the actor's starred nodes.
func (d *Drive) ListStarred(ctx context.Context, actor string) ([]*store.Node, error) {
	return d.store.ListStarred(ctx, actor)
}
