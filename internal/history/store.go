package history

import (
	"errors"
	"sort"
	"sync"
	"time"

	"chatassist/internal/models"
)

// ErrNotFound reports a lookup for a session id that has no transcript.
var ErrNotFound = errors.New("session not found")

type transcript struct {
	mu             sync.RWMutex
	turns          []models.Turn
	lastActivityAt time.Time
}

// Store keeps one ordered transcript per session id, entirely in process
// memory. Sessions are created lazily on first append and live until the
// process exits or Delete is called; there is no eviction or size cap.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*transcript
}

func NewStore() *Store {
	return &Store{
		sessions: make(map[string]*transcript),
	}
}

// getOrCreate returns the transcript for sessionID, creating an empty one
// if none exists yet. Creation has no separate observable signal.
func (s *Store) getOrCreate(sessionID string) *transcript {
	s.mu.RLock()
	tr, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if ok {
		return tr
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if tr, ok := s.sessions[sessionID]; ok {
		return tr
	}
	tr = &transcript{lastActivityAt: time.Now().UTC()}
	s.sessions[sessionID] = tr
	return tr
}

// GetOrCreate returns the current transcript for sessionID, creating an
// empty one if none exists.
func (s *Store) GetOrCreate(sessionID string) []models.Turn {
	s.getOrCreate(sessionID)
	return s.Snapshot(sessionID)
}

// Append adds turn to the end of the session's transcript, creating the
// transcript if absent.
func (s *Store) Append(sessionID string, turn models.Turn) {
	tr := s.getOrCreate(sessionID)
	tr.mu.Lock()
	tr.turns = append(tr.turns, turn)
	tr.lastActivityAt = time.Now().UTC()
	tr.mu.Unlock()
}

// Snapshot returns a copy of the session's transcript in arrival order.
// An unknown session id yields an empty snapshot, consistent with lazy
// creation on first append.
func (s *Store) Snapshot(sessionID string) []models.Turn {
	s.mu.RLock()
	tr, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return []models.Turn{}
	}

	tr.mu.RLock()
	defer tr.mu.RUnlock()
	turns := make([]models.Turn, len(tr.turns))
	copy(turns, tr.turns)
	return turns
}

// Len reports the number of turns recorded for the session.
func (s *Store) Len(sessionID string) int {
	s.mu.RLock()
	tr, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return 0
	}
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return len(tr.turns)
}

// Get returns the transcript for an existing session or ErrNotFound.
func (s *Store) Get(sessionID string) ([]models.Turn, error) {
	s.mu.RLock()
	_, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return s.Snapshot(sessionID), nil
}

// Sessions lists all known sessions ordered by last activity, newest first.
func (s *Store) Sessions() []models.SessionInfo {
	s.mu.RLock()
	infos := make([]models.SessionInfo, 0, len(s.sessions))
	for id, tr := range s.sessions {
		tr.mu.RLock()
		infos = append(infos, models.SessionInfo{
			SessionID:      id,
			Turns:          len(tr.turns),
			LastActivityAt: tr.lastActivityAt,
		})
		tr.mu.RUnlock()
	}
	s.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].LastActivityAt.After(infos[j].LastActivityAt)
	})
	return infos
}

// Delete removes the session and its transcript.
func (s *Store) Delete(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return ErrNotFound
	}
	delete(s.sessions, sessionID)
	return nil
}
