package prefs

import (
	"context"
	"sync"
)

// MemoryStore keeps preferences for the life of the process
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]Preferences
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]Preferences)}
}

func (s *MemoryStore) Get(ctx context.Context, clientID string) (Preferences, error) {
	if clientID == "" {
		return Preferences{}, ErrInvalidClientID
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return clone(s.items[clientID]), nil
}

func (s *MemoryStore) Save(ctx context.Context, clientID string, p Preferences) error {
	if clientID == "" {
		return ErrInvalidClientID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[clientID] = clone(p)
	return nil
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

func clone(p Preferences) Preferences {
	if p.Voices != nil {
		voices := make(map[string]string, len(p.Voices))
		for k, v := range p.Voices {
			voices[k] = v
		}
		p.Voices = voices
	}
	if p.AutoSpeak != nil {
		v := *p.AutoSpeak
		p.AutoSpeak = &v
	}
	return p
}
