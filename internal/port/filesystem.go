package port

import "time"

// SaveOptions controls how a file is placed in the store
type SaveOptions struct {
	// ReplaceExisting removes a previous file with the same name first
	ReplaceExisting bool

	// CreateIntermediateDirectories creates missing parent directories
	CreateIntermediateDirectories bool
}

// DefaultSaveOptions is the placement policy used after a download
func DefaultSaveOptions() SaveOptions {
	return SaveOptions{
		ReplaceExisting:               true,
		CreateIntermediateDirectories: true,
	}
}

// FileStore defines the interface for the on-disk file store.
// Files are addressed by their normalized name.
type FileStore interface {
	// RootDir returns the store root directory
	RootDir() string

	// Path returns the absolute path a name resolves to
	Path(name string) string

	// Exists checks if a stored file exists
	Exists(name string) bool

	// Read returns the stored bytes, or domain.ErrNotFound
	Read(name string) ([]byte, error)

	// StagingPath returns where a transfer stages bytes for name. Staging
	// paths never collide with the path of any stored name.
	StagingPath(name string) string

	// Promote moves a completed staging file into place under name
	// Returns: final path, error
	Promote(stagedPath, name string, opts SaveOptions) (string, error)

	// DeleteStaged removes a staging file
	DeleteStaged(stagedPath string) error

	// GetCacheSize returns total size of stored files
	GetCacheSize() (int64, error)

	// CleanOldTempFiles removes staging files older than the specified duration
	// Returns the number of files deleted
	CleanOldTempFiles(olderThan time.Duration) (int, error)
}

// DiskUsage describes the volume a store lives on
type DiskUsage struct {
	Total   uint64  `json:"total"`
	Used    uint64  `json:"used"`
	Free    uint64  `json:"free"`
	UsedPct float64 `json:"used_pct"`
}

// DiskUsageReporter is implemented by stores that can stat their volume
type DiskUsageReporter interface {
	GetDiskUsage() (*DiskUsage, error)
}
