package state

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrSessionNotFound is returned when no session exists for a run.
var ErrSessionNotFound = errors.New("session not found")

// Store keeps one AppState per run. Updates to a run are serialized.
type Store struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]AppState
}

func NewStore() *Store {
	return &Store{sessions: make(map[uuid.UUID]AppState)}
}

// Open creates the session for runID, replacing any previous one.
func (s *Store) Open(runID uuid.UUID, threshold float64) AppState {
	state := New(runID, threshold)
	s.mu.Lock()
	s.sessions[runID] = state
	s.mu.Unlock()
	return state
}

// GetOrOpen returns the run's session, creating it when none exists. Concurrent callers
// for the same run all observe the same session.
func (s *Store) GetOrOpen(runID uuid.UUID, threshold float64) AppState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if state, ok := s.sessions[runID]; ok {
		return state
	}
	state := New(runID, threshold)
	s.sessions[runID] = state
	return state
}

func (s *Store) Get(runID uuid.UUID) (AppState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.sessions[runID]
	if !ok {
		return AppState{}, ErrSessionNotFound
	}
	return state, nil
}

// Update applies reducers to the run's state atomically. On error nothing is stored.
func (s *Store) Update(runID uuid.UUID, reducers ...Reducer) (AppState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.sessions[runID]
	if !ok {
		return AppState{}, ErrSessionNotFound
	}
	next, err := Apply(current, reducers...)
	if err != nil {
		return current, err
	}
	s.sessions[runID] = next
	return next, nil
}

func (s *Store) Delete(runID uuid.UUID) {
	s.mu.Lock()
	delete(s.sessions, runID)
	s.mu.Unlock()
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
