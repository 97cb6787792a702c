package store

import "sync"

// Memory keeps a value in process memory. Used in tests and as a fallback
// when no data directory is usable.
type Memory[T any] struct {
	mu    sync.Mutex
	value T
	set   bool
	Saves int
}

// Load returns the last saved value.
func (m *Memory[T]) Load() (T, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.value, m.set
}

// Save replaces the value.
func (m *Memory[T]) Save(v T) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.value = v
	m.set = true
	m.Saves++
	return nil
}
