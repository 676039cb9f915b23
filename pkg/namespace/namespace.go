// Package namespace maintains the (user, path) tree invariants: name
// uniquification on create, rename/move with descendant path cascades, and
// the recycle-bin lifecycle.
//
// Every multi-row mutation here runs inside one store transaction; the
// partial unique index on live (user_id, path) is the arbiter of races.
package namespace

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/jasonzli-DEV/D-Drive-sub001/internal/logger"
	"github.com/jasonzli-DEV/D-Drive-sub001/pkg/store"
)

// Errors surfaced by namespace operations.
var (
	// ErrNameConflict is returned when a rename or move target is occupied.
	// Unlike create, these operations never auto-number.
	ErrNameConflict = errors.New("target name already exists")

	// ErrCycle is returned when a directory would be moved into its own
	// subtree.
	ErrCycle = errors.New("cannot move a directory into its own subtree")

	// ErrNamespaceRace is returned after repeated losses of a create race
	// on the (user, path) unique index.
	ErrNamespaceRace = errors.New("lost path uniqueness race repeatedly")

	// ErrNotDirectory is returned when a file is used as a parent.
	ErrNotDirectory = errors.New("parent is not a directory")
)

// CreateRaceRetries is how many times a create re-probes for a free name
// after losing a race to a concurrent create.
const CreateRaceRetries = 5

// TrashPrefix roots every soft-deleted path.
const TrashPrefix = "/.trash/"

// Manager performs namespace mutations against the metadata store.
type Manager struct {
	store *store.Store
}

// New creates a Manager.
func New(st *store.Store) *Manager {
	return &Manager{store: st}
}

// JoinPath composes a child path from a parent path ("" for root) and name.
func JoinPath(parentPath, name string) string {
	return parentPath + "/" + name
}

// SuffixedName returns name with " (n)" inserted before the extension.
// "report.txt" becomes "report (2).txt"; extensionless names get the suffix
// appended.
func SuffixedName(name string, n int) string {
	ext := path.Ext(name)
	base := strings.TrimSuffix(name, ext)
	return fmt.Sprintf("%s (%d)%s", base, n, ext)
}

// UniqueName probes (userID, parentPath/name) and returns the first free
// name, auto-numbering with " (n)" on collisions.
func (m *Manager) UniqueName(ctx context.Context, userID, parentPath, name string) (string, error) {
	candidate := name
	for n := 1; ; n++ {
		_, err := m.store.FindByPath(ctx, userID, JoinPath(parentPath, candidate))
		if errors.Is(err, store.ErrNodeNotFound) {
			return candidate, nil
		}
		if err != nil {
			return "", err
		}
		candidate = SuffixedName(name, n)
	}
}

// ResolveParent loads and validates a parent directory. A nil parentID
// resolves to the root (empty path).
func (m *Manager) ResolveParent(ctx context.Context, userID string, parentID *string) (parentPath string, err error) {
	if parentID == nil {
		return "", nil
	}
	parent, err := m.store.GetLiveNode(ctx, *parentID)
	if err != nil {
		return "", err
	}
	if parent.UserID != userID {
		return "", store.ErrNodeNotFound
	}
	if !parent.IsDir() {
		return "", ErrNotDirectory
	}
	return parent.Path, nil
}

// CreateNode creates a node with a collision-free name under the parent.
// The path is derived from the parent row only; any client-supplied path is
// ignored. Losing the unique-index race to a concurrent create re-probes up
// to CreateRaceRetries times.
func (m *Manager) CreateNode(ctx context.Context, node *store.Node) error {
	parentPath, err := m.ResolveParent(ctx, node.UserID, node.ParentID)
	if err != nil {
		return err
	}

	baseName := node.Name
	for attempt := 0; attempt <= CreateRaceRetries; attempt++ {
		name, err := m.UniqueName(ctx, node.UserID, parentPath, baseName)
		if err != nil {
			return err
		}
		node.Name = name
		node.Path = JoinPath(parentPath, name)

		_, err = m.store.CreateNode(ctx, node)
		if err == nil {
			return nil
		}
		if !errors.Is(err, store.ErrUniqueViolation) {
			return err
		}
		logger.Debug("lost create race, re-probing name", "path", node.Path, "attempt", attempt+1)
	}
	return ErrNamespaceRace
}

// Rename changes a node's name in place. Occupied targets are rejected with
// ErrNameConflict; directory renames cascade to every descendant path.
func (m *Manager) Rename(ctx context.Context, userID, nodeID, newName string) (*store.Node, error) {
	node, err := m.store.GetLiveNode(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	if node.UserID != userID {
		return nil, store.ErrNodeNotFound
	}
	if newName == node.Name {
		return node, nil
	}

	parentPath := parentPathOf(node)
	newPath := JoinPath(parentPath, newName)
	if _, err := m.store.FindByPath(ctx, userID, newPath); err == nil {
		return nil, ErrNameConflict
	} else if !errors.Is(err, store.ErrNodeNotFound) {
		return nil, err
	}

	err = m.store.Transaction(ctx, func(tx *store.Store) error {
		return rewriteSubtree(ctx, tx, node, newName, node.ParentID, newPath)
	})
	if err != nil {
		return nil, err
	}
	node.Name = newName
	node.Path = newPath
	return node, nil
}

// Move reparents a node. Occupied targets are rejected with ErrNameConflict;
// moving a directory into its own subtree is rejected with ErrCycle.
// A nil newParentID moves to the root.
func (m *Manager) Move(ctx context.Context, userID, nodeID string, newParentID *string) (*store.Node, error) {
	node, err := m.store.GetLiveNode(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	if node.UserID != userID {
		return nil, store.ErrNodeNotFound
	}

	newParentPath, err := m.ResolveParent(ctx, userID, newParentID)
	if err != nil {
		return nil, err
	}

	if node.IsDir() {
		if newParentID != nil && *newParentID == node.ID {
			return nil, ErrCycle
		}
		if newParentPath == node.Path || strings.HasPrefix(newParentPath, node.Path+"/") {
			return nil, ErrCycle
		}
	}

	newPath := JoinPath(newParentPath, node.Name)
	if newPath == node.Path {
		return node, nil
	}
	if _, err := m.store.FindByPath(ctx, userID, newPath); err == nil {
		return nil, ErrNameConflict
	} else if !errors.Is(err, store.ErrNodeNotFound) {
		return nil, err
	}

	err = m.store.Transaction(ctx, func(tx *store.Store) error {
		return rewriteSubtree(ctx, tx, node, node.Name, newParentID, newPath)
	})
	if err != nil {
		return nil, err
	}
	node.ParentID = newParentID
	node.Path = newPath
	return node, nil
}

// rewriteSubtree updates the node's name/parent/path and rewrites every
// descendant path from the old prefix to the new one, all within tx.
func rewriteSubtree(ctx context.Context, tx *store.Store, node *store.Node, newName string, newParentID *string, newPath string) error {
	oldPath := node.Path

	fields := map[string]any{
		"name":      newName,
		"parent_id": newParentID,
		"path":      newPath,
	}
	if err := tx.UpdateNodeFields(ctx, node.ID, fields); err != nil {
		return err
	}

	if !node.IsDir() {
		return nil
	}

	descendants, err := tx.FindDescendants(ctx, node.UserID, oldPath)
	if err != nil {
		return err
	}
	for _, d := range descendants {
		rewritten := newPath + strings.TrimPrefix(d.Path, oldPath)
		if err := tx.UpdateNodeFields(ctx, d.ID, map[string]any{"path": rewritten}); err != nil {
			return err
		}
	}
	return nil
}

// NewTrashID returns the 8-character token that prefixes trashed paths.
func NewTrashID() (string, error) {
	const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i := range buf {
		buf[i] = alphabet[int(buf[i])%len(alphabet)]
	}
	return string(buf), nil
}

// SoftDelete moves a subtree into the recycle bin. The entry point and every
// descendant get deleted_at set, their paths moved under the trash prefix
// and their pre-delete paths preserved, atomically.
func (m *Manager) SoftDelete(ctx context.Context, userID, nodeID string) error {
	node, err := m.store.GetLiveNode(ctx, nodeID)
	if err != nil {
		return err
	}
	if node.UserID != userID {
		return store.ErrNodeNotFound
	}

	trashID, err := NewTrashID()
	if err != nil {
		return err
	}
	now := time.Now()

	return m.store.Transaction(ctx, func(tx *store.Store) error {
		descendants, err := tx.FindDescendants(ctx, userID, node.Path)
		if err != nil {
			return err
		}

		trash := func(n *store.Node, withParent *string) error {
			original := n.Path
			return tx.UpdateNodeFields(ctx, n.ID, map[string]any{
				"deleted_at":             now,
				"original_path":          original,
				"deleted_with_parent_id": withParent,
				"path":                   TrashPrefix + trashID + original,
			})
		}

		if err := trash(node, nil); err != nil {
			return err
		}
		for _, d := range descendants {
			if err := trash(d, &node.ID); err != nil {
				return err
			}
		}
		return nil
	})
}

// Restore brings a trashed entry point and its co-deleted descendants back.
// The target is the original parent directory if it still exists live, else
// the root; an occupied target name gets the " (n)" suffix on the entry
// point only, with descendant paths rewritten to follow.
func (m *Manager) Restore(ctx context.Context, userID, nodeID string) (*store.Node, error) {
	node, err := m.store.GetNode(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	if node.UserID != userID || !node.Trashed() || node.OriginalPath == nil {
		return nil, store.ErrNodeNotFound
	}

	originalPath := *node.OriginalPath
	originalParentPath := path.Dir(originalPath)
	if originalParentPath == "/" || originalParentPath == "." {
		originalParentPath = ""
	}

	// Restore to the original parent when it still exists, else to root.
	var targetParentID *string
	targetParentPath := ""
	if originalParentPath != "" {
		if parent, err := m.store.FindByPath(ctx, userID, originalParentPath); err == nil && parent.IsDir() {
			targetParentID = &parent.ID
			targetParentPath = parent.Path
		} else if err != nil && !errors.Is(err, store.ErrNodeNotFound) {
			return nil, err
		}
	}

	name, err := m.UniqueName(ctx, userID, targetParentPath, node.Name)
	if err != nil {
		return nil, err
	}
	newPath := JoinPath(targetParentPath, name)

	err = m.store.Transaction(ctx, func(tx *store.Store) error {
		oldPath := node.Path
		if err := tx.UpdateNodeFields(ctx, node.ID, map[string]any{
			"deleted_at":             nil,
			"original_path":          nil,
			"deleted_with_parent_id": nil,
			"name":                   name,
			"parent_id":              targetParentID,
			"path":                   newPath,
		}); err != nil {
			return err
		}

		codeleted, err := tx.FindDeletedWith(ctx, node.ID)
		if err != nil {
			return err
		}
		for _, d := range codeleted {
			rewritten := newPath + strings.TrimPrefix(d.Path, oldPath)
			if err := tx.UpdateNodeFields(ctx, d.ID, map[string]any{
				"deleted_at":             nil,
				"original_path":          nil,
				"deleted_with_parent_id": nil,
				"path":                   rewritten,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	node.Name = name
	node.Path = newPath
	node.ParentID = targetParentID
	node.DeletedAt = nil
	node.OriginalPath = nil
	node.DeletedWithParentID = nil
	return node, nil
}

// PermanentDelete removes a subtree's rows: chunk pointers, shares, public
// links, then the nodes, in one transaction. Substrate blobs are not touched
// here; the reconciler reaps them. Works on live and trashed nodes.
func (m *Manager) PermanentDelete(ctx context.Context, userID, nodeID string) error {
	node, err := m.store.GetNode(ctx, nodeID)
	if err != nil {
		return err
	}
	if node.UserID != userID {
		return store.ErrNodeNotFound
	}

	return m.store.Transaction(ctx, func(tx *store.Store) error {
		ids := []string{node.ID}

		var descendants []*store.Node
		var derr error
		if node.Trashed() {
			descendants, derr = tx.FindTrashedDescendants(ctx, userID, node.Path)
		} else {
			descendants, derr = tx.FindDescendants(ctx, userID, node.Path)
		}
		if derr != nil {
			return derr
		}
		for _, d := range descendants {
			ids = append(ids, d.ID)
		}

		if err := tx.DeleteChunksByFiles(ctx, ids); err != nil {
			return err
		}
		if err := tx.DeleteSharesByFiles(ctx, ids); err != nil {
			return err
		}
		if err := tx.DeletePublicLinksByFiles(ctx, ids); err != nil {
			return err
		}
		return tx.DeleteNodes(ctx, ids)
	})
}

func parentPathOf(node *store.Node) string {
	idx := strings.LastIndex(node.Path, "/")
	if idx <= 0 {
		return ""
	}
	return node.Path[:idx]
}
