package notify

import (
	"context"
	"sync"
)

// Memory records sent messages for inspection in tests.
type Memory struct {
	mu       sync.RWMutex
	messages []string
	err      error
}

// NewMemory returns a Memory notifier.
func NewMemory() *Memory {
	return &Memory{}
}

// Fail makes subsequent Send calls return err.
func (m *Memory) Fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Send records the message.
func (m *Memory) Send(_ context.Context, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.messages = append(m.messages, message)
	return nil
}

// Messages returns the recorded sends.
func (m *Memory) Messages() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.messages))
	copy(out, m.messages)
	return out
}
