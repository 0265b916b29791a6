// Package prefs records each user's currently selected agent, globally and
// per group. The store is a pure key/value map: it never falls back to
// policy defaults, that is the routing engine's job.
package prefs

import (
	"encoding/json"
	"sync"
)

// privateScope is the sentinel scope key for preferences set outside any
// group, so lookups are total over (user, scope) without a null group.
const privateScope = "0"

// Store is the mutable preference map. Safe for concurrent use; concurrent
// writes to the same (user, scope) are last-write-wins by design.
type Store struct {
	mu sync.RWMutex
	// user -> scope key -> agent id
	prefs map[string]map[string]string
}

// NewStore returns an empty preference store.
func NewStore() *Store {
	return &Store{prefs: make(map[string]map[string]string)}
}

func scopeKey(group string) string {
	if group == "" {
		return privateScope
	}
	return group
}

// Get returns the agent id stored for (user, group). The empty group means
// the private-chat scope.
func (s *Store) Get(user, group string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.prefs[user][scopeKey(group)]
	return id, ok
}

// Set records the agent id for (user, group).
func (s *Store) Set(user, group, agentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	scopes, ok := s.prefs[user]
	if !ok {
		scopes = make(map[string]string)
		s.prefs[user] = scopes
	}
	scopes[scopeKey(group)] = agentID
}

// Clear removes the preference for (user, group) and reports whether one
// existed.
func (s *Store) Clear(user, group string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	scopes, ok := s.prefs[user]
	if !ok {
		return false
	}
	key := scopeKey(group)
	if _, exists := scopes[key]; !exists {
		return false
	}
	delete(scopes, key)
	if len(scopes) == 0 {
		delete(s.prefs, user)
	}
	return true
}

// Snapshot serializes the full map to an opaque blob.
func (s *Store) Snapshot() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return json.Marshal(s.prefs)
}

// Restore replaces the full map from a snapshot blob. A nil or empty blob
// resets the store.
func (s *Store) Restore(blob []byte) error {
	if len(blob) == 0 {
		s.mu.Lock()
		s.prefs = make(map[string]map[string]string)
		s.mu.Unlock()
		return nil
	}
	var m map[string]map[string]string
	if err := json.Unmarshal(blob, &m); err != nil {
		return err
	}
	if m == nil {
		m = make(map[string]map[string]string)
	}
	s.mu.Lock()
	s.prefs = m
	s.mu.Unlock()
	return nil
}
