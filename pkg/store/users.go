package store

import (
	"context"
)

// ============================================
// USER OPERATIONS
// ============================================

// GetUser retrieves a user by id.
func (s *Store) GetUser(ctx context.Context, id string) (*User, error) {
	return getByField[User](s.db, ctx, "id", id, ErrUserNotFound)
}

// GetUserByProviderID retrieves a user by the authenticating-party id.
func (s *Store) GetUserByProviderID(ctx context.Context, providerID string) (*User, error) {
	return getByField[User](s.db, ctx, "provider_id", providerID, ErrUserNotFound)
}

// CreateUser inserts a user row. Called on first sign-in.
func (s *Store) CreateUser(ctx context.Context, user *User) (string, error) {
	return createWithID(s.db, ctx, user, func(u *User, id string) { u.ID = id }, user.ID)
}

// UpdateUser persists the user's settings fields.
func (s *Store) UpdateUser(ctx context.Context, user *User) error {
	result := s.db.WithContext(ctx).
		Model(&User{}).
		Where("id = ?", user.ID).
		Select("DisplayName", "EncryptByDefault", "RecycleBinEnabled", "AllowSharedWithMe").
		Updates(user)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// SetEncryptionKey stores the user's opaque encryption key. Created lazily
// on the first encrypted write and never rotated here.
func (s *Store) SetEncryptionKey(ctx context.Context, userID string, key []byte) error {
	result := s.db.WithContext(ctx).
		Model(&User{}).
		Where("id = ?", userID).
		Update("encryption_key", key)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}
