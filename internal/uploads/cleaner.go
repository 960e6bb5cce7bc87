package uploads

import (
	"context"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"time"
)

const (
	DefaultTTL             = 24 * time.Hour
	DefaultCleanupInterval = time.Hour
)

// StartCleaner removes uploads older than ttl on the given interval,
// until ctx is cancelled.
func (s *Store) StartCleaner(ctx context.Context, interval, ttl time.Duration) {
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	go s.cleanupLoop(ctx, interval, ttl)
}

func (s *Store) cleanupLoop(ctx context.Context, interval, ttl time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.cleanupExpired(ttl); err != nil {
				log.Printf("cleanup uploads error: %v", err)
			}
		}
	}
}

func (s *Store) cleanupExpired(ttl time.Duration) error {
	cutoff := time.Now().Add(-ttl)

	var expired []string
	err := filepath.WalkDir(s.baseDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().Before(cutoff) {
			expired = append(expired, path)
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, path := range expired {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.Printf("remove upload %s failed: %v", path, err)
			continue
		}
		// prune empty directories
		_ = os.Remove(filepath.Dir(path))
	}
	return nil
}
