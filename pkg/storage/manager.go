package storage

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
)

// Manager handles the run's destination directory: streamed atomic saves of
// resource files and presence checks for re-run skipping
type Manager struct {
	baseDir string
	saved   map[string]bool
	mu      sync.RWMutex
}

// NewManager creates a storage manager rooted at baseDir
func NewManager(baseDir string) (*Manager, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	return &Manager{
		baseDir: baseDir,
		saved:   make(map[string]bool),
	}, nil
}

// BaseDir returns the destination directory path
func (m *Manager) BaseDir() string {
	return m.baseDir
}

// ResourceFilename derives a deterministic file name from a resource title
// and its download URL, so the same dataset resource always lands at the
// same path across runs
func ResourceFilename(title, resourceURL string) string {
	base := path.Base(urlPath(resourceURL))
	if base == "/" || base == "." {
		base = ""
	}
	ext := path.Ext(base)

	name := sanitize(title)
	if name == "" {
		name = strings.TrimSuffix(base, ext)
	}
	if name == "" {
		name = "resource"
	}
	return name + ext
}

func urlPath(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Path
}

// sanitize keeps a title usable as a file name
func sanitize(s string) string {
	s = strings.TrimSpace(s)
	replacer := strings.NewReplacer(
		"/", "-",
		"\\", "-",
		":", "-",
		"*", "",
		"?", "",
		"\"", "",
		"<", "",
		">", "",
		"|", "",
		" ", "_",
	)
	return replacer.Replace(s)
}

// resourcePath returns the on-disk path for a dataset's resource file
func (m *Manager) resourcePath(refID, filename string) string {
	return filepath.Join(m.baseDir, refID, filename)
}

// IsDownloaded checks whether a resource file is already present on disk
func (m *Manager) IsDownloaded(refID, filename string) bool {
	key := refID + "/" + filename

	m.mu.RLock()
	cached := m.saved[key]
	m.mu.RUnlock()
	if cached {
		return true
	}

	if _, err := os.Stat(m.resourcePath(refID, filename)); err == nil {
		m.mu.Lock()
		m.saved[key] = true
		m.mu.Unlock()
		return true
	}
	return false
}

// SaveResource streams r to the dataset's resource file. The write goes to
// a temporary file first and is renamed into place on success, so an
// interrupted or failed download leaves no partial file behind.
func (m *Manager) SaveResource(r io.Reader, refID, filename string) (string, int64, error) {
	dir := filepath.Join(m.baseDir, refID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", 0, fmt.Errorf("failed to create dataset directory: %w", err)
	}

	target := m.resourcePath(refID, filename)
	tempFile := target + ".tmp"

	out, err := os.Create(tempFile)
	if err != nil {
		return "", 0, fmt.Errorf("failed to create temporary file: %w", err)
	}

	written, err := io.Copy(out, r)
	closeErr := out.Close()

	if err != nil {
		os.Remove(tempFile)
		return "", 0, fmt.Errorf("failed to save resource data: %w", err)
	}
	if closeErr != nil {
		os.Remove(tempFile)
		return "", 0, fmt.Errorf("failed to close file: %w", closeErr)
	}

	if err := os.Rename(tempFile, target); err != nil {
		os.Remove(tempFile)
		return "", 0, fmt.Errorf("failed to rename temporary file: %w", err)
	}

	m.mu.Lock()
	m.saved[refID+"/"+filename] = true
	m.mu.Unlock()

	return target, written, nil
}

// SavedCount returns the number of resource files saved or seen on disk
func (m *Manager) SavedCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.saved)
}
