package clip

import (
	"time"

	"clipvault/internal/model"
)

// ArtifactIndex is the registry of stored artifacts, keyed by checksum.
// Lookups return nil with no error when nothing is registered.
type ArtifactIndex interface {
	// FindArtifact returns the artifact registered for checksum.
	FindArtifact(checksum string) (*model.Artifact, error)

	// FindArtifactByPath returns the artifact stored at an absolute path.
	FindArtifactByPath(path string) (*model.Artifact, error)

	// ListArtifacts returns all registered artifacts, oldest first.
	ListArtifacts() ([]*model.Artifact, error)

	// CreateArtifact registers a new artifact. Registering a checksum twice is an error.
	CreateArtifact(artifact *model.Artifact) error

	// DeleteArtifact removes the registration for checksum. Missing rows are not an error.
	DeleteArtifact(checksum string) error
}

// HistoryLog is the append-only store of clipboard history records.
type HistoryLog interface {
	// AppendHistory inserts a record and sets its ID.
	AppendHistory(record *model.HistoryRecord) error

	// FindHistoryByUUID returns a single record, or nil if not found.
	FindHistoryByUUID(uuid string) (*model.HistoryRecord, error)

	// ListHistory returns records newest first, narrowed by filter.
	ListHistory(filter model.HistoryFilter) ([]*model.HistoryRecord, error)

	// CountHistory returns the number of stored records.
	CountHistory() (int64, error)

	// MaxHistoryID returns the highest record ID, or 0 for an empty log.
	MaxHistoryID() (int64, error)

	// PruneHistory deletes records beyond the newest maxItems and records
	// timestamped before olderThan. Zero values disable each rule.
	// Returns the number of deleted records.
	PruneHistory(maxItems int, olderThan time.Time) (int64, error)
}

// SettingStore holds runtime policy overrides as key/value pairs.
type SettingStore interface {
	// GetSetting returns the stored value and whether it was present.
	GetSetting(key string) (string, bool, error)

	// SetSetting inserts or replaces a value.
	SetSetting(key, value string) error
}

// Database provides all metadata storage operations.
type Database interface {
	ArtifactIndex
	HistoryLog
	SettingStore

	// BackupTo writes a consistent copy of the database to destPath.
	BackupTo(destPath string) error

	// Close closes the database connection.
	Close() error
}
