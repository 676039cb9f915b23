package store

import (
	"time"
)

// NodeType distinguishes files from directories.
type NodeType string

const (
	NodeTypeFile      NodeType = "FILE"
	NodeTypeDirectory NodeType = "DIRECTORY"
)

// SharePermission is the access level granted by a Share.
type SharePermission string

const (
	PermissionView SharePermission = "VIEW"
	PermissionEdit SharePermission = "EDIT"
)

// Compression selects how a backup task packages its source tree.
type Compression string

const (
	CompressionNone  Compression = "NONE"
	CompressionZip   Compression = "ZIP"
	CompressionTarGz Compression = "TAR_GZ"
)

// User is a drive owner. Created on first sign-in, never destroyed here.
type User struct {
	ID          string `gorm:"primaryKey;size:36" json:"id"`
	ProviderID  string `gorm:"uniqueIndex;not null;size:64" json:"provider_id"`
	DisplayName string `gorm:"size:255" json:"display_name"`

	// EncryptionKey is the opaque per-user secret used to derive chunk keys.
	// Created lazily on the first encrypted write.
	EncryptionKey []byte `json:"-"`

	EncryptByDefault  bool `gorm:"default:false" json:"encrypt_by_default"`
	RecycleBinEnabled bool `gorm:"default:true" json:"recycle_bin_enabled"`
	AllowSharedWithMe bool `gorm:"default:true" json:"allow_shared_with_me"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for User.
func (User) TableName() string { return "users" }

// Node is a file or directory in a user's virtual filesystem.
//
// Path is always derivable as parent.Path + "/" + Name; any mutation that
// changes a directory's name or parent rewrites every descendant's Path in
// the same transaction. (user_id, path) is unique among live nodes via a
// partial index created in migrate(); trashed nodes live under a synthetic
// "/.trash/<trashId>" prefix so they never collide with live names.
type Node struct {
	ID       string   `gorm:"primaryKey;size:36" json:"id"`
	UserID   string   `gorm:"not null;size:36;index" json:"user_id"`
	ParentID *string  `gorm:"size:36;index" json:"parent_id"`
	Name     string   `gorm:"not null;size:255" json:"name"`
	Path     string   `gorm:"not null;size:4096;index" json:"path"`
	Type     NodeType `gorm:"not null;size:16" json:"type"`

	// File-only fields. Size is the plaintext byte count.
	Size      uint64 `gorm:"default:0" json:"size"`
	MimeType  string `gorm:"size:255" json:"mime_type"`
	Encrypted bool   `gorm:"default:false" json:"encrypted"`

	Starred bool `gorm:"default:false" json:"starred"`

	// Soft-delete fields; the three move together (all null or all set).
	DeletedAt           *time.Time `gorm:"index" json:"deleted_at"`
	OriginalPath        *string    `gorm:"size:4096" json:"original_path"`
	DeletedWithParentID *string    `gorm:"size:36;index" json:"deleted_with_parent_id"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for Node.
func (Node) TableName() string { return "nodes" }

// IsDir reports whether the node is a directory.
func (n *Node) IsDir() bool { return n.Type == NodeTypeDirectory }

// Trashed reports whether the node is in the recycle bin.
func (n *Node) Trashed() bool { return n.DeletedAt != nil }

// Chunk points at one attachment in the blob substrate holding one piece of
// a file's content. Size is the plaintext length of the piece.
type Chunk struct {
	ID         string `gorm:"primaryKey;size:36" json:"id"`
	FileID     string `gorm:"not null;size:36;uniqueIndex:idx_chunks_file_index;index" json:"file_id"`
	ChunkIndex int    `gorm:"not null;uniqueIndex:idx_chunks_file_index" json:"chunk_index"`

	MessageID     string `gorm:"not null;size:32;index" json:"message_id"`
	ChannelID     string `gorm:"not null;size:32" json:"channel_id"`
	AttachmentURL string `gorm:"size:2048" json:"attachment_url"`
	Size          uint64 `gorm:"not null" json:"size"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName returns the table name for Chunk.
func (Chunk) TableName() string { return "chunks" }

// Share grants a recipient read (VIEW) or read/write (EDIT) access to a node
// and its descendants.
type Share struct {
	ID           string          `gorm:"primaryKey;size:36" json:"id"`
	FileID       string          `gorm:"not null;size:36;uniqueIndex:idx_shares_file_recipient" json:"file_id"`
	OwnerID      string          `gorm:"not null;size:36;index" json:"owner_id"`
	SharedWithID string          `gorm:"not null;size:36;uniqueIndex:idx_shares_file_recipient;index" json:"shared_with_id"`
	Permission   SharePermission `gorm:"not null;size:8" json:"permission"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName returns the table name for Share.
func (Share) TableName() string { return "shares" }

// PublicLink exposes a node for unauthenticated read through a slug until
// the optional expiry.
type PublicLink struct {
	ID        string     `gorm:"primaryKey;size:36" json:"id"`
	Slug      string     `gorm:"uniqueIndex;not null;size:64" json:"slug"`
	FileID    string     `gorm:"not null;size:36;index" json:"file_id"`
	UserID    string     `gorm:"not null;size:36;index" json:"user_id"`
	ExpiresAt *time.Time `json:"expires_at"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName returns the table name for PublicLink.
func (PublicLink) TableName() string { return "public_links" }

// Expired reports whether the link is past its expiry.
func (l *PublicLink) Expired(now time.Time) bool {
	return l.ExpiresAt != nil && now.After(*l.ExpiresAt)
}

// Task is a scheduled backup job definition: an SFTP source streamed into
// the chunk store on a cron schedule.
type Task struct {
	ID      string `gorm:"primaryKey;size:36" json:"id"`
	UserID  string `gorm:"not null;size:36;index" json:"user_id"`
	Name    string `gorm:"not null;size:255" json:"name"`
	Cron    string `gorm:"not null;size:64" json:"cron"`
	Enabled bool   `gorm:"default:true" json:"enabled"`

	// SFTP source. Password and PrivateKey are stored opaque and never
	// serialized to clients.
	Host       string `gorm:"not null;size:255" json:"host"`
	Port       int    `gorm:"default:22" json:"port"`
	Username   string `gorm:"not null;size:255" json:"username"`
	Password   string `gorm:"size:1024" json:"-"`
	PrivateKey string `gorm:"type:text" json:"-"`
	SFTPPath   string `gorm:"not null;size:4096" json:"sftp_path"`

	// Destination in the drive.
	DestinationID   *string `gorm:"size:36" json:"destination_id"`
	DestinationPath string  `gorm:"size:4096" json:"destination_path"`

	// ExcludePaths is a JSON array of path segments to skip, stored as text.
	ExcludePaths string `gorm:"type:text" json:"-"`

	Compress       Compression `gorm:"not null;size:8;default:NONE" json:"compress"`
	TimestampNames bool        `gorm:"default:false" json:"timestamp_names"`
	Encrypt        bool        `gorm:"default:false" json:"encrypt"`
	MaxFiles       int         `gorm:"default:0" json:"max_files"`
	SkipPrescan    bool        `gorm:"default:false" json:"skip_prescan"`
	Priority       int         `gorm:"default:0" json:"priority"`

	// Observed state.
	LastStarted *time.Time `json:"last_started"`
	LastRun     *time.Time `json:"last_run"`
	LastRuntime int64      `gorm:"default:0" json:"last_runtime_ms"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for Task.
func (Task) TableName() string { return "tasks" }

// LogEntry is an append-only per-user audit record.
type LogEntry struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	UserID    string    `gorm:"size:36;index" json:"user_id"`
	Kind      string    `gorm:"not null;size:32" json:"kind"`
	Message   string    `gorm:"type:text" json:"message"`
	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

// TableName returns the table name for LogEntry.
func (LogEntry) TableName() string { return "logs" }

// AllModels returns every model for schema migration.
func AllModels() []any {
	return []any{
		&User{},
		&Node{},
		&Chunk{},
		&Share{},
		&PublicLink{},
		&Task{},
		&LogEntry{},
	}
}
