package filesystem

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/vertextoedge/fetchcache/internal/domain"
	"github.com/vertextoedge/fetchcache/internal/port"
)

const (
	// StagingDir holds files a transfer is still writing. Stored names
	// never resolve into it.
	StagingDir = ".staging"

	// StagingSuffix marks files a transfer is still writing
	StagingSuffix = ".downloading"
)

// Manager handles the local file store
type Manager struct {
	rootDir string
}

// Ensure Manager implements port.FileStore
var _ port.FileStore = (*Manager)(nil)

// NewManager creates a new filesystem manager rooted at rootDir
func NewManager(rootDir string) (*Manager, error) {
	abs, err := filepath.Abs(rootDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve store root dir: %w", err)
	}

	if err := os.MkdirAll(filepath.Join(abs, StagingDir), 0755); err != nil {
		return nil, fmt.Errorf("failed to create store root dir: %w", err)
	}

	return &Manager{rootDir: abs}, nil
}

// RootDir returns the store root directory
func (m *Manager) RootDir() string {
	return m.rootDir
}

// Path returns the absolute path for a stored name
func (m *Manager) Path(name string) string {
	return filepath.Join(m.rootDir, name)
}

// StagingPath returns the path a transfer writes to before promotion
func (m *Manager) StagingPath(name string) string {
	return filepath.Join(m.rootDir, StagingDir, name+StagingSuffix)
}

// reserved reports names that cannot hold a stored file
func reserved(name string) bool {
	return name == "" || name == StagingDir
}

// Exists checks if a stored file exists
func (m *Manager) Exists(name string) bool {
	if reserved(name) {
		return false
	}
	info, err := os.Stat(m.Path(name))
	return err == nil && !info.IsDir()
}

// Read returns the content of a stored file
func (m *Manager) Read(name string) ([]byte, error) {
	if reserved(name) {
		return nil, domain.ErrNotFound
	}
	data, err := os.ReadFile(m.Path(name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	return data, nil
}

// Promote renames a completed staging file to its final name
func (m *Manager) Promote(stagedPath, name string, opts port.SaveOptions) (string, error) {
	if reserved(name) {
		return "", fmt.Errorf("promote %q: %w", name, domain.ErrUnnamedResource)
	}

	finalPath := m.Path(name)
	if err := m.ensureDir(finalPath, opts.CreateIntermediateDirectories); err != nil {
		return "", err
	}

	if _, err := os.Stat(finalPath); err == nil {
		if !opts.ReplaceExisting {
			return "", fmt.Errorf("promote %s: %w", name, fs.ErrExist)
		}
		if err := os.Remove(finalPath); err != nil {
			return "", fmt.Errorf("failed to remove previous file: %w", err)
		}
	}

	if err := os.Rename(stagedPath, finalPath); err != nil {
		return "", fmt.Errorf("failed to rename temp file: %w", err)
	}

	return finalPath, nil
}

// DeleteStaged removes a staging file
func (m *Manager) DeleteStaged(stagedPath string) error {
	if err := os.Remove(stagedPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete temp file: %w", err)
	}
	return nil
}

// GetCacheSize returns total size of stored files, staging files excluded
func (m *Manager) GetCacheSize() (int64, error) {
	staging := filepath.Join(m.rootDir, StagingDir)

	var size int64
	err := filepath.Walk(m.rootDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if path == staging {
				return filepath.SkipDir
			}
			return nil
		}
		size += info.Size()
		return nil
	})
	return size, err
}

// CleanOldTempFiles removes staging files older than the specified duration
func (m *Manager) CleanOldTempFiles(olderThan time.Duration) (int, error) {
	count := 0
	threshold := time.Now().Add(-olderThan)

	err := filepath.Walk(filepath.Join(m.rootDir, StagingDir), func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if info.IsDir() || filepath.Ext(path) != StagingSuffix {
			return nil
		}
		if info.ModTime().Before(threshold) {
			if removeErr := os.Remove(path); removeErr == nil {
				count++
			}
		}
		return nil
	})
	return count, err
}

func (m *Manager) ensureDir(filePath string, create bool) error {
	dir := filepath.Dir(filePath)
	if !create {
		if _, err := os.Stat(dir); err != nil {
			return fmt.Errorf("parent dir %s: %w", dir, err)
		}
		return nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create parent dir: %w", err)
	}
	return nil
}
