package ledger

import (
	"context"
	"fmt"
	"sync"
)

// Memory keeps entries for the lifetime of the process.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]Status
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[string]Status)}
}

func (m *Memory) Append(_ context.Context, st Status) error {
	if st.MessageID == "" {
		return fmt.Errorf("message id is empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.entries[st.MessageID]; exists {
		return fmt.Errorf("append %q: %w", st.MessageID, ErrDuplicate)
	}
	m.entries[st.MessageID] = st
	return nil
}

func (m *Memory) Get(_ context.Context, messageID string) (Status, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.entries[messageID]
	if !ok {
		return Status{}, ErrNotFound
	}
	return st, nil
}

func (m *Memory) Statistics(_ context.Context) (Statistics, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Statistics{Channels: make(map[string]int64)}
	for _, st := range m.entries {
		stats.TotalSent++
		stats.Channels[st.Channel]++
	}
	return stats, nil
}

func (m *Memory) Close() error { return nil }
