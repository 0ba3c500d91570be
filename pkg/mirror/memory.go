package mirror

import (
	"context"
	"maps"
	"sync"
)

// Memory keeps the mirrored cache in process memory. It survives the engine
// but not the process, which makes it useful for tests and for sharing a
// warm cache between sessions of the same user.
type Memory struct {
	mu     sync.Mutex
	data   map[string]any
	writes int

	// Err, when set, is returned from every operation.
	Err error
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) ReadAll(context.Context) (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, unavailable("read", m.Err)
	}
	return maps.Clone(m.data), nil
}

func (m *Memory) WriteAll(_ context.Context, data map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return unavailable("write", m.Err)
	}
	m.data = maps.Clone(data)
	m.writes++
	return nil
}

func (m *Memory) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return unavailable("clear", m.Err)
	}
	m.data = nil
	return nil
}

// Writes returns how many successful WriteAll calls were made.
func (m *Memory) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// SetErr makes every later operation fail with err, or succeed again if nil.
func (m *Memory) SetErr(err error) {
	m.mu.Lock()
	m.Err = err
	m.mu.Unlock()
}
