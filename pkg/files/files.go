// Package files serves the remote file-management commands.
package files

import (
	"encoding/base64"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/shirou/gopsutil/v3/disk"
)

const (
	// MaxDownloadBytes caps DOWNLOAD_FILE so one request cannot balloon a
	// session's memory with a base64 blob.
	MaxDownloadBytes = 50 << 20

	// maxSearchResults bounds SEARCH_FILE output.
	maxSearchResults = 200
)

// Drive is one entry of the GET_DRIVES payload.
type Drive struct {
	Mount   string  `json:"mount"`
	FSType  string  `json:"fsType"`
	TotalGB float64 `json:"totalGb"`
	FreeGB  float64 `json:"freeGb"`
}

// Entry is one entry of the FILE_LIST payload.
type Entry struct {
	Name    string `json:"name"`
	Path    string `json:"path"`
	IsDir   bool   `json:"isDir"`
	Size    int64  `json:"size"`
	ModTime string `json:"modTime"`
}

// Manager implements the file command surface.
type Manager struct {
	logger *slog.Logger
}

// New creates the file manager collaborator.
func New(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{logger: logger}
}

// Drives lists mounted filesystems with capacity.
func (m *Manager) Drives() ([]Drive, error) {
	parts, err := disk.Partitions(false)
	if err != nil {
		return nil, fmt.Errorf("list partitions: %w", err)
	}

	drives := make([]Drive, 0, len(parts))
	for _, p := range parts {
		d := Drive{Mount: p.Mountpoint, FSType: p.Fstype}
		if du, err := disk.Usage(p.Mountpoint); err == nil {
			d.TotalGB = float64(du.Total) / (1 << 30)
			d.FreeGB = float64(du.Free) / (1 << 30)
		}
		drives = append(drives, d)
	}
	return drives, nil
}

// List returns the entries of a directory, directories first.
func (m *Manager) List(path string) ([]Entry, error) {
	dirents, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", path, err)
	}

	entries := make([]Entry, 0, len(dirents))
	for _, de := range dirents {
		e := Entry{
			Name:  de.Name(),
			Path:  filepath.Join(path, de.Name()),
			IsDir: de.IsDir(),
		}
		if fi, err := de.Info(); err == nil {
			e.Size = fi.Size()
			e.ModTime = fi.ModTime().Format("2006-01-02 15:04:05")
		}
		entries = append(entries, e)
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].IsDir != entries[j].IsDir {
			return entries[i].IsDir
		}
		return entries[i].Name < entries[j].Name
	})
	return entries, nil
}

// ReadBase64 loads a file for download. Files over MaxDownloadBytes are
// refused.
func (m *Manager) ReadBase64(path string) (string, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", path, err)
	}
	if fi.IsDir() {
		return "", fmt.Errorf("%s is a directory", path)
	}
	if fi.Size() > MaxDownloadBytes {
		return "", fmt.Errorf("%s is %d bytes, limit is %d", path, fi.Size(), MaxDownloadBytes)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// Write stores an uploaded file under dir.
func (m *Manager) Write(dir, name, b64 string) error {
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return fmt.Errorf("decode upload: %w", err)
	}

	path := filepath.Join(dir, filepath.Base(name))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	m.logger.Info("file uploaded", "path", path, "bytes", len(data))
	return nil
}

// Delete removes a file.
func (m *Manager) Delete(path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if fi.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	m.logger.Info("file deleted", "path", path)
	return nil
}

// DeleteDir removes a directory recursively.
func (m *Manager) DeleteDir(path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if !fi.IsDir() {
		return fmt.Errorf("%s is not a directory", path)
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	m.logger.Info("folder deleted", "path", path)
	return nil
}

// Rename gives a file or directory a new name in place.
func (m *Manager) Rename(path, newName string) error {
	dst := filepath.Join(filepath.Dir(path), filepath.Base(newName))
	if err := os.Rename(path, dst); err != nil {
		return fmt.Errorf("rename %s: %w", path, err)
	}
	m.logger.Info("renamed", "from", path, "to", dst)
	return nil
}

// CreateDir creates a named directory under dir.
func (m *Manager) CreateDir(dir, name string) error {
	path := filepath.Join(dir, filepath.Base(name))
	if err := os.Mkdir(path, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	m.logger.Info("folder created", "path", path)
	return nil
}

// Search walks root for names containing query (case-insensitive), stopping
// at maxSearchResults. Unreadable subtrees are skipped, not fatal.
func (m *Manager) Search(root, query string) ([]Entry, error) {
	if query == "" {
		return nil, fmt.Errorf("empty search query")
	}
	needle := strings.ToLower(query)

	var results []Entry
	err := filepath.WalkDir(root, func(path string, de fs.DirEntry, err error) error {
		if err != nil {
			if de != nil && de.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.Contains(strings.ToLower(de.Name()), needle) {
			return nil
		}

		e := Entry{Name: de.Name(), Path: path, IsDir: de.IsDir()}
		if fi, err := de.Info(); err == nil {
			e.Size = fi.Size()
			e.ModTime = fi.ModTime().Format("2006-01-02 15:04:05")
		}
		results = append(results, e)
		if len(results) >= maxSearchResults {
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", root, err)
	}
	return results, nil
}
