package panel

import "sync"

// VariableSource supplies the current variable values of a panel.
type VariableSource interface {
	Snapshot(panelID string) (Snapshot, bool)
}

// VariableStore is the in-memory VariableSource the dashboard host writes
// to through the API. Reads and writes copy.
type VariableStore struct {
	mu     sync.RWMutex
	values map[string]Snapshot
}

// NewVariableStore creates an empty store.
func NewVariableStore() *VariableStore {
	return &VariableStore{values: make(map[string]Snapshot)}
}

// Set replaces the variables of panelID.
func (s *VariableStore) Set(panelID string, snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[panelID] = snap.Clone()
}

// Snapshot returns the variables of panelID.
func (s *VariableStore) Snapshot(panelID string) (Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.values[panelID]
	if !ok {
		return nil, false
	}
	return snap.Clone(), true
}

// Delete forgets panelID.
func (s *VariableStore) Delete(panelID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, panelID)
}
