package store

import (
	"context"
)

// ============================================
// CHUNK POINTER OPERATIONS
// ============================================

// InsertChunk records one uploaded chunk. The (file_id, chunk_index) pair is
// unique; a duplicate insert surfaces as ErrUniqueViolation.
func (s *Store) InsertChunk(ctx context.Context, chunk *Chunk) (string, error) {
	return createWithID(s.db, ctx, chunk, func(c *Chunk, id string) { c.ID = id }, chunk.ID)
}

// ChunksByFile returns the file's chunk pointers in index order.
func (s *Store) ChunksByFile(ctx context.Context, fileID string) ([]*Chunk, error) {
	var chunks []*Chunk
	err := s.db.WithContext(ctx).
		Where("file_id = ?", fileID).
		Order("chunk_index ASC").
		Find(&chunks).Error
	if err != nil {
		return nil, err
	}
	return chunks, nil
}

// ChunksByFiles returns all chunk pointers for the given files, unordered.
func (s *Store) ChunksByFiles(ctx context.Context, fileIDs []string) ([]*Chunk, error) {
	if len(fileIDs) == 0 {
		return nil, nil
	}
	var chunks []*Chunk
	if err := s.db.WithContext(ctx).Where("file_id IN ?", fileIDs).Find(&chunks).Error; err != nil {
		return nil, err
	}
	return chunks, nil
}

// DeleteChunksByFiles removes every chunk pointer belonging to the files.
func (s *Store) DeleteChunksByFiles(ctx context.Context, fileIDs []string) error {
	if len(fileIDs) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Where("file_id IN ?", fileIDs).Delete(&Chunk{}).Error
}

// ScanChunkMessageIDs returns the set of substrate message ids referenced by
// any chunk pointer. The reconciler diffs this against the channel contents.
func (s *Store) ScanChunkMessageIDs(ctx context.Context) (map[string]struct{}, error) {
	var ids []string
	if err := s.db.WithContext(ctx).Model(&Chunk{}).Distinct("message_id").Pluck("message_id", &ids).Error; err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set, nil
}
