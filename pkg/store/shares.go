package store

import (
	"context"
)

// ============================================
// SHARE AND PUBLIC LINK OPERATIONS
// ============================================

// CreateShare grants access to a node. A duplicate (file_id, shared_with_id)
// pair surfaces as ErrUniqueViolation.
func (s *Store) CreateShare(ctx context.Context, share *Share) (string, error) {
	return createWithID(s.db, ctx, share, func(sh *Share, id string) { sh.ID = id }, share.ID)
}

// GetShare retrieves a share by id.
func (s *Store) GetShare(ctx context.Context, id string) (*Share, error) {
	return getByField[Share](s.db, ctx, "id", id, ErrShareNotFound)
}

// FindShare retrieves the share of a node to a specific recipient.
func (s *Store) FindShare(ctx context.Context, fileID, sharedWithID string) (*Share, error) {
	var share Share
	err := s.db.WithContext(ctx).
		Where("file_id = ? AND shared_with_id = ?", fileID, sharedWithID).
		First(&share).Error
	if err != nil {
		return nil, convertNotFoundError(err, ErrShareNotFound)
	}
	return &share, nil
}

// ListSharesWith lists shares granted to the recipient.
func (s *Store) ListSharesWith(ctx context.Context, sharedWithID string) ([]*Share, error) {
	var shares []*Share
	err := s.db.WithContext(ctx).
		Where("shared_with_id = ?", sharedWithID).
		Order("created_at DESC").
		Find(&shares).Error
	if err != nil {
		return nil, err
	}
	return shares, nil
}

// ListSharesByFiles lists shares on any of the given nodes.
func (s *Store) ListSharesByFiles(ctx context.Context, fileIDs []string) ([]*Share, error) {
	if len(fileIDs) == 0 {
		return nil, nil
	}
	var shares []*Share
	if err := s.db.WithContext(ctx).Where("file_id IN ?", fileIDs).Find(&shares).Error; err != nil {
		return nil, err
	}
	return shares, nil
}

// DeleteShare removes a share by id.
func (s *Store) DeleteShare(ctx context.Context, id string) error {
	return deleteByField[Share](s.db, ctx, "id", id, ErrShareNotFound)
}

// DeleteSharesByFiles removes every share on the given nodes. Used when a
// subtree is permanently deleted.
func (s *Store) DeleteSharesByFiles(ctx context.Context, fileIDs []string) error {
	if len(fileIDs) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Where("file_id IN ?", fileIDs).Delete(&Share{}).Error
}

// CreatePublicLink inserts a public link row. A duplicate slug surfaces as
// ErrUniqueViolation.
func (s *Store) CreatePublicLink(ctx context.Context, link *PublicLink) (string, error) {
	return createWithID(s.db, ctx, link, func(l *PublicLink, id string) { l.ID = id }, link.ID)
}

// GetPublicLinkBySlug retrieves a public link by slug.
func (s *Store) GetPublicLinkBySlug(ctx context.Context, slug string) (*PublicLink, error) {
	return getByField[PublicLink](s.db, ctx, "slug", slug, ErrLinkNotFound)
}

// ListPublicLinks lists the user's public links.
func (s *Store) ListPublicLinks(ctx context.Context, userID string) ([]*PublicLink, error) {
	var links []*PublicLink
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&links).Error
	if err != nil {
		return nil, err
	}
	return links, nil
}

// DeletePublicLink removes a public link by id.
func (s *Store) DeletePublicLink(ctx context.Context, id string) error {
	return deleteByField[PublicLink](s.db, ctx, "id", id, ErrLinkNotFound)
}

// DeletePublicLinksByFiles removes every public link on the given nodes.
func (s *Store) DeletePublicLinksByFiles(ctx context.Context, fileIDs []string) error {
	if len(fileIDs) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Where("file_id IN ?", fileIDs).Delete(&PublicLink{}).Error
}
