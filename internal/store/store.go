// Package store provides the in-memory pairing session registry.
//
// The registry is pure bookkeeping: no operation performs I/O, and distinct
// sessions never block each other beyond the map mutation itself.
package store

import (
	"errors"
	"sync"

	"github.com/linklocal/pairgate/internal/domain"
)

var (
	// ErrAlreadyExists is returned when registering a duplicate session ID.
	ErrAlreadyExists = errors.New("session already exists")
	// ErrNotFound is returned for unknown (expired or never created) sessions.
	ErrNotFound = errors.New("session not found")
)

// Registry maps session IDs to live session records. Safe for concurrent
// use from multiple pairing workflows.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*domain.Session
}

// NewRegistry creates an empty session registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*domain.Session)}
}

// Register adds a session. Exactly one session per ID may exist at a time.
func (r *Registry) Register(sess *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[sess.ID]; exists {
		return ErrAlreadyExists
	}
	r.sessions[sess.ID] = sess
	return nil
}

// Lookup returns the session for id, or ErrNotFound.
func (r *Registry) Lookup(id string) (*domain.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return sess, nil
}

// Remove deletes the session for id, or returns ErrNotFound.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(r.sessions, id)
	return nil
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
