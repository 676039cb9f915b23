package drive

import (
	"context"
	"crypto/rand"
	"errors"
	"io"
	"time"

	"github.com/jasonzli-DEV/D-Drive-sub001/internal/logger"
	"github.com/jasonzli-DEV/D-Drive-sub001/pkg/store"
)

const slugLength = 12

// Share grants a recipient access to a node the actor owns. Sharing the
// same node with the same recipient again replaces the permission.
func (d *Drive) Share(ctx context.Context, actor, nodeID, recipientID string, permission store.SharePermission) (*store.Share, error) {
	node, err := d.store.GetLiveNode(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	if node.UserID != actor {
		return nil, ErrPermissionDenied
	}
	if recipientID == actor {
		return nil, errors.New("cannot share a file with its owner")
	}

	recipient, err := d.store.GetUser(ctx, recipientID)
	if err != nil {
		return nil, err
	}
	if !recipient.AllowSharedWithMe {
		return nil, ErrSharingDisabled
	}

	if existing, err := d.store.FindShare(ctx, nodeID, recipientID); err == nil {
		if err := d.store.DeleteShare(ctx, existing.ID); err != nil {
			return nil, err
		}
	} else if !errors.Is(err, store.ErrShareNotFound) {
		return nil, err
	}

	share := &store.Share{
		FileID:       nodeID,
		OwnerID:      actor,
		SharedWithID: recipientID,
		Permission:   permission,
	}
	if _, err := d.store.CreateShare(ctx, share); err != nil {
		return nil, err
	}
	logger.Info("node shared", "node", nodeID, "recipient", recipientID, "permission", permission)
	return share, nil
}

// RevokeShare removes a recipient's access to a node the actor owns.
func (d *Drive) RevokeShare(ctx context.Context, actor, nodeID, recipientID string) error {
	share, err := d.store.FindShare(ctx, nodeID, recipientID)
	if err != nil {
		return err
	}
	if share.OwnerID != actor {
		return ErrPermissionDenied
	}
	return d.store.DeleteShare(ctx, share.ID)
}

// SharedEntry pairs a share with the node it grants.
type SharedEntry struct {
	Share *store.Share `json:"share"`
	Node  *store.Node  `json:"node"`
}

// ListSharedWithMe lists the live nodes shared with the actor. Nodes the
// owner has since trashed are skipped.
func (d *Drive) ListSharedWithMe(ctx context.Context, actor string) ([]*SharedEntry, error) {
	shares, err := d.store.ListSharesWith(ctx, actor)
	if err != nil {
		return nil, err
	}

	entries := make([]*SharedEntry, 0, len(shares))
	for _, share := range shares {
		node, err := d.store.GetLiveNode(ctx, share.FileID)
		if errors.Is(err, store.ErrNodeNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		entries = append(entries, &SharedEntry{Share: share, Node: node})
	}
	return entries, nil
}

// newSlug returns a URL-safe random slug for a public link.
func newSlug() (string, error) {
	const alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	buf := make([]byte, slugLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i := range buf {
		buf[i] = alphabet[int(buf[i])%len(alphabet)]
	}
	return string(buf), nil
}

// CreatePublicLink exposes a node the actor owns for unauthenticated read
// until the optional expiry.
func (d *Drive) CreatePublicLink(ctx context.Context, actor, nodeID string, expiresAt *time.Time) (*store.PublicLink, error) {
	node, err := d.store.GetLiveNode(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	if node.UserID != actor {
		return nil, ErrPermissionDenied
	}

	for attempt := 0; attempt < 3; attempt++ {
		slug, err := newSlug()
		if err != nil {
			return nil, err
		}
		link := &store.PublicLink{
			Slug:      slug,
			FileID:    nodeID,
			UserID:    actor,
			ExpiresAt: expiresAt,
		}
		_, err = d.store.CreatePublicLink(ctx, link)
		if err == nil {
			return link, nil
		}
		if !errors.Is(err, store.ErrUniqueViolation) {
			return nil, err
		}
	}
	return nil, errors.New("failed to allocate a unique link slug")
}

// RevokePublicLink deletes a public link the actor owns.
func (d *Drive) RevokePublicLink(ctx context.Context, actor, linkID string) error {
	links, err := d.store.ListPublicLinks(ctx, actor)
	if err != nil {
		return err
	}
	for _, link := range links {
		if link.ID == linkID {
			return d.store.DeletePublicLink(ctx, linkID)
		}
	}
	return store.ErrLinkNotFound
}

// ListPublicLinks lists the actor's public links.
func (d *Drive) ListPublicLinks(ctx context.Context, actor string) ([]*store.PublicLink, error) {
	return d.store.ListPublicLinks(ctx, actor)
}

// ResolvePublicLink returns the live node behind a slug, rejecting expired
// links.
func (d *Drive) ResolvePublicLink(ctx context.Context, slug string) (*store.Node, error) {
	link, err := d.store.GetPublicLinkBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	if link.Expired(time.Now()) {
		return nil, ErrLinkExpired
	}
	return d.store.GetLiveNode(ctx, link.FileID)
}

// DownloadPublic streams the file behind a public link without
// authentication.
func (d *Drive) DownloadPublic(ctx context.Context, slug string, w io.Writer) (*store.Node, error) {
	node, err := d.ResolvePublicLink(ctx, slug)
	if err != nil {
		return nil, err
	}
	if node.IsDir() {
		return nil, store.ErrNodeNotFound
	}
	return node, d.engine.FetchAll(ctx, node, w)
}
