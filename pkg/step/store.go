package step

import (
	"maps"
	"sync"

	"github.com/aescanero/stepflow/pkg/domain"
	"github.com/aescanero/stepflow/pkg/ports"
)

// ValueStore maps step ids to the values they produced. Each key is written at
// most once; reads never block on writers for long and absence is not an error.
type ValueStore struct {
	mu     sync.RWMutex
	values map[domain.StepID]any
}

var _ ports.ValueReader = (*ValueStore)(nil)

// NewValueStore creates an empty store.
func NewValueStore() *ValueStore {
	return &ValueStore{values: make(map[domain.StepID]any)}
}

// Put stores value under id. Nil values and keys already written are ignored;
// the return value reports whether the write happened.
func (s *ValueStore) Put(id domain.StepID, value any) bool {
	if value == nil {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.values[id]; exists {
		return false
	}
	s.values[id] = value
	return true
}

// Get returns the value stored under id.
func (s *ValueStore) Get(id domain.StepID) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[id]
	return v, ok
}

// Contains reports whether id has a value.
func (s *ValueStore) Contains(id domain.StepID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.values[id]
	return ok
}

// Len returns the number of stored values.
func (s *ValueStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}

// Snapshot returns a copy of the stored values.
func (s *ValueStore) Snapshot() map[domain.StepID]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.values)
}

// Clear removes every value.
func (s *ValueStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.values)
}

// Get reads id from r and converts it to T.
func Get[T any](r ports.ValueReader, id domain.StepID) (T, bool) {
	var zero T
	v, ok := r.Get(id)
	if !ok {
		return zero, false
	}
	t, ok := v.(T)
	if !ok {
		return zero, false
	}
	return t, true
}
