package store

import (
	"context"
	"time"
)

// ============================================
// NODE OPERATIONS
// ============================================

// CreateNode inserts a node row. A collision on the live (user_id, path)
// index surfaces as ErrUniqueViolation so the caller can re-probe the name.
func (s *Store) CreateNode(ctx context.Context, node *Node) (string, error) {
	return createWithID(s.db, ctx, node, func(n *Node, id string) { n.ID = id }, node.ID)
}

// GetNode retrieves a node by id regardless of trash state.
func (s *Store) GetNode(ctx context.Context, id string) (*Node, error) {
	return getByField[Node](s.db, ctx, "id", id, ErrNodeNotFound)
}

// GetLiveNode retrieves a node by id, excluding trashed nodes.
func (s *Store) GetLiveNode(ctx context.Context, id string) (*Node, error) {
	var node Node
	err := s.db.WithContext(ctx).
		Where("id = ? AND deleted_at IS NULL", id).
		First(&node).Error
	if err != nil {
		return nil, convertNotFoundError(err, ErrNodeNotFound)
	}
	return &node, nil
}

// FindByPath retrieves the live node at (userID, path).
func (s *Store) FindByPath(ctx context.Context, userID, path string) (*Node, error) {
	var node Node
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND path = ? AND deleted_at IS NULL", userID, path).
		First(&node).Error
	if err != nil {
		return nil, convertNotFoundError(err, ErrNodeNotFound)
	}
	return &node, nil
}

// UpdateNode persists all fields of the node.
func (s *Store) UpdateNode(ctx context.Context, node *Node) error {
	node.UpdatedAt = time.Now()
	if err := s.db.WithContext(ctx).Save(node).Error; err != nil {
		return convertUniqueError(err)
	}
	return nil
}

// UpdateNodeFields updates the named columns of a node by id.
func (s *Store) UpdateNodeFields(ctx context.Context, id string, fields map[string]any) error {
	result := s.db.WithContext(ctx).Model(&Node{}).Where("id = ?", id).Updates(fields)
	if result.Error != nil {
		return convertUniqueError(result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNodeNotFound
	}
	return nil
}

// DeleteNodes removes node rows by id.
func (s *Store) DeleteNodes(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Where("id IN ?", ids).Delete(&Node{}).Error
}

// ListChildren lists the live children of a directory. A nil parentID lists
// the user's root entries.
func (s *Store) ListChildren(ctx context.Context, userID string, parentID *string) ([]*Node, error) {
	q := s.db.WithContext(ctx).
		Where("user_id = ? AND deleted_at IS NULL", userID).
		Order("type DESC, name ASC")
	if parentID == nil {
		q = q.Where("parent_id IS NULL")
	} else {
		q = q.Where("parent_id = ?", *parentID)
	}
	var nodes []*Node
	if err := q.Find(&nodes).Error; err != nil {
		return nil, err
	}
	return nodes, nil
}

// FindDescendants returns every live node whose path begins with
// pathPrefix + "/". The prefix itself is not included.
func (s *Store) FindDescendants(ctx context.Context, userID, pathPrefix string) ([]*Node, error) {
	var nodes []*Node
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND deleted_at IS NULL AND path LIKE ? ESCAPE '\\'", userID, escapeLike(pathPrefix)+"/%").
		Order("path ASC").
		Find(&nodes).Error
	if err != nil {
		return nil, err
	}
	return nodes, nil
}

// FindTrashedDescendants returns every trashed node whose path begins with
// pathPrefix + "/".
func (s *Store) FindTrashedDescendants(ctx context.Context, userID, pathPrefix string) ([]*Node, error) {
	var nodes []*Node
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND deleted_at IS NOT NULL AND path LIKE ? ESCAPE '\\'", userID, escapeLike(pathPrefix)+"/%").
		Order("path ASC").
		Find(&nodes).Error
	if err != nil {
		return nil, err
	}
	return nodes, nil
}

// FindDeletedWith returns the trashed nodes that were moved to the bin
// together with the given entry-point node.
func (s *Store) FindDeletedWith(ctx context.Context, entryID string) ([]*Node, error) {
	var nodes []*Node
	err := s.db.WithContext(ctx).
		Where("deleted_with_parent_id = ?", entryID).
		Order("path ASC").
		Find(&nodes).Error
	if err != nil {
		return nil, err
	}
	return nodes, nil
}

// ListTrash lists the entry points of the user's recycle bin: trashed nodes
// that were deleted directly rather than with an ancestor.
func (s *Store) ListTrash(ctx context.Context, userID string) ([]*Node, error) {
	var nodes []*Node
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND deleted_at IS NOT NULL AND deleted_with_parent_id IS NULL", userID).
		Order("deleted_at DESC").
		Find(&nodes).Error
	if err != nil {
		return nil, err
	}
	return nodes, nil
}

// ListStarred lists the user's starred live nodes.
func (s *Store) ListStarred(ctx context.Context, userID string) ([]*Node, error) {
	var nodes []*Node
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND starred = ? AND deleted_at IS NULL", userID, true).
		Order("path ASC").
		Find(&nodes).Error
	if err != nil {
		return nil, err
	}
	return nodes, nil
}

// FindTrashedBefore returns trashed nodes whose deletion time is older than
// the cutoff. Used by the retention sweep; only entry points are returned,
// descendants ride along via FindDeletedWith.
func (s *Store) FindTrashedBefore(ctx context.Context, cutoff time.Time) ([]*Node, error) {
	var nodes []*Node
	err := s.db.WithContext(ctx).
		Where("deleted_at IS NOT NULL AND deleted_at < ? AND deleted_with_parent_id IS NULL", cutoff).
		Find(&nodes).Error
	if err != nil {
		return nil, err
	}
	return nodes, nil
}

// ListChildrenByAge returns the live direct children of the directory,
// oldest first. A nil parentID lists the root. Used by backup retention
// pruning.
func (s *Store) ListChildrenByAge(ctx context.Context, userID string, parentID *string) ([]*Node, error) {
	q := s.db.WithContext(ctx).
		Where("user_id = ? AND deleted_at IS NULL", userID).
		Order("created_at ASC")
	if parentID == nil {
		q = q.Where("parent_id IS NULL")
	} else {
		q = q.Where("parent_id = ?", *parentID)
	}
	var nodes []*Node
	err := q.Find(&nodes).Error
	if err != nil {
		return nil, err
	}
	return nodes, nil
}
