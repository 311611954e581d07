package channel

import (
	"fmt"
	"sync"
)

// Registry holds configured channels in insertion order. Values are copied in
// and out, so a reader sees either the previous or the new channel, never a
// half-written one.
type Registry struct {
	mu       sync.RWMutex
	order    []string
	channels map[string]Channel
}

// NewRegistry seeds a registry. A repeated id replaces the earlier entry.
func NewRegistry(initial ...Channel) *Registry {
	r := &Registry{channels: make(map[string]Channel, len(initial))}
	for _, ch := range initial {
		r.Update(ch)
	}
	return r
}

// Channels returns every channel in insertion order.
func (r *Registry) Channels() []Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Channel, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.channels[id].Clone())
	}
	return out
}

// Get looks up a channel by id.
func (r *Registry) Get(id string) (Channel, bool) {
	r.mu.RLock()
	ch, ok := r.channels[id]
	r.mu.RUnlock()
	if !ok {
		return Channel{}, false
	}
	return ch.Clone(), true
}

// Update inserts ch when its id is unknown, otherwise replaces the stored
// channel wholesale. The original position is kept on replace.
func (r *Registry) Update(ch Channel) {
	stored := ch.Clone()

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.channels[ch.ID]; !exists {
		r.order = append(r.order, ch.ID)
	}
	r.channels[ch.ID] = stored
}

// Add inserts ch and fails if the id is already registered.
func (r *Registry) Add(ch Channel) error {
	if ch.ID == "" {
		return fmt.Errorf("channel id is empty")
	}
	stored := ch.Clone()

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.channels[ch.ID]; exists {
		return fmt.Errorf("add channel %q: %w", ch.ID, ErrChannelExists)
	}
	r.order = append(r.order, ch.ID)
	r.channels[ch.ID] = stored
	return nil
}

// Remove deletes a channel and reports whether it existed.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.channels[id]; !exists {
		return false
	}
	delete(r.channels, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// Len returns the number of registered channels.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
