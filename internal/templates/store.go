// Package templates stores named message templates and renders them by
// substituting {{variable}} markers.
package templates

import "sync"

// Template is a reusable subject/content pair with the variables it expects.
type Template struct {
	ID        string   `json:"id" yaml:"id"`
	Name      string   `json:"name" yaml:"name"`
	Subject   string   `json:"subject" yaml:"subject"`
	Content   string   `json:"content" yaml:"content"`
	Variables []string `json:"variables" yaml:"variables"`
}

func (t Template) clone() Template {
	t.Variables = append([]string(nil), t.Variables...)
	return t
}

// Store holds templates keyed by id, in insertion order.
type Store struct {
	mu        sync.RWMutex
	order     []string
	templates map[string]Template
}

// NewStore seeds the store. A repeated id replaces the earlier entry.
func NewStore(initial ...Template) *Store {
	s := &Store{templates: make(map[string]Template, len(initial))}
	for _, t := range initial {
		s.Add(t)
	}
	return s
}

// Add inserts or replaces a template by id (last write wins).
func (s *Store) Add(t Template) {
	stored := t.clone()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.templates[t.ID]; !exists {
		s.order = append(s.order, t.ID)
	}
	s.templates[t.ID] = stored
}

// Get returns the template with the given id.
func (s *Store) Get(id string) (Template, bool) {
	s.mu.RLock()
	t, ok := s.templates[id]
	s.mu.RUnlock()
	if !ok {
		return Template{}, false
	}
	return t.clone(), true
}

// Templates returns every template in insertion order.
func (s *Store) Templates() []Template {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Template, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.templates[id].clone())
	}
	return out
}

// Remove deletes a template and reports whether it existed.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.templates[id]; !exists {
		return false
	}
	delete(s.templates, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}
