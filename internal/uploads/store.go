package uploads

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Store places uploaded media on disk under one directory per session.
// Files are not associated with the session transcript; the directory
// keying only scopes cleanup and name collisions.
type Store struct {
	baseDir string
}

func NewStore(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) BaseDir() string {
	return s.baseDir
}

func (s *Store) filePath(sessionID, filename string) (string, string) {
	destDir := filepath.Join(s.baseDir, sessionID)
	destPath := filepath.Join(destDir, filename)
	return destDir, destPath
}

// UniquePath returns a destination that does not clash with an existing
// file, suffixing the name with " (n)" until one is free.
func (s *Store) UniquePath(sessionID, filename string) (string, string, string) {
	destDir, destPath := s.filePath(sessionID, filename)
	if _, err := os.Stat(destPath); os.IsNotExist(err) {
		return destDir, destPath, filename
	}
	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filename, ext)
	for idx := 1; idx <= 1000; idx++ {
		candidate := fmt.Sprintf("%s (%d)%s", base, idx, ext)
		dir, path := s.filePath(sessionID, candidate)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return dir, path, candidate
		}
	}
	fallback := fmt.Sprintf("%s-%d%s", base, time.Now().UnixNano(), ext)
	dir, path := s.filePath(sessionID, fallback)
	return dir, path, fallback
}

// EnsureDir creates the destination directory for a session.
func (s *Store) EnsureDir(sessionID string) (string, error) {
	dir := filepath.Join(s.baseDir, sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create upload directory: %w", err)
	}
	return dir, nil
}

// RemoveSession deletes all uploads stored for a session.
func (s *Store) RemoveSession(sessionID string) error {
	return os.RemoveAll(filepath.Join(s.baseDir, sessionID))
}
