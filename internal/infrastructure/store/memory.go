package store

import (
	"context"
	"sync"
)

// MemoryProfile is a shared in-memory backing for sibling execution contexts
// living in one process: tests and the demo binary. All handles opened from
// one profile see the same records; a write through one handle notifies the
// watchers of every other handle.
type MemoryProfile struct {
	mu      sync.RWMutex
	records map[string][]byte
	handles []*MemoryStore
}

// NewMemoryProfile creates an empty in-memory profile
func NewMemoryProfile() *MemoryProfile {
	return &MemoryProfile{records: make(map[string][]byte)}
}

// Open creates a new store handle backed by this profile
func (p *MemoryProfile) Open() *MemoryStore {
	p.mu.Lock()
	defer p.mu.Unlock()
	h := &MemoryStore{profile: p}
	p.handles = append(p.handles, h)
	return h
}

func (p *MemoryProfile) notifySiblings(origin *MemoryStore, key string, value []byte) {
	p.mu.RLock()
	handles := make([]*MemoryStore, len(p.handles))
	copy(handles, p.handles)
	p.mu.RUnlock()

	for _, h := range handles {
		if h == origin || h.isClosed() {
			continue
		}
		h.dispatch(key, value)
	}
}

func (p *MemoryProfile) detach(h *MemoryStore) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, other := range p.handles {
		if other == h {
			p.handles = append(p.handles[:i], p.handles[i+1:]...)
			return
		}
	}
}

// MemoryStore is one execution context's handle on a MemoryProfile
type MemoryStore struct {
	profile  *MemoryProfile
	mu       sync.Mutex
	watchers []WatchFunc
	closed   bool
}

// Get returns the record value and whether the record exists
func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	s.profile.mu.RLock()
	defer s.profile.mu.RUnlock()
	value, ok := s.profile.records[key]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, true, nil
}

// Put replaces the whole record and notifies sibling handles
func (s *MemoryStore) Put(ctx context.Context, key string, value []byte) error {
	stored := make([]byte, len(value))
	copy(stored, value)

	s.profile.mu.Lock()
	s.profile.records[key] = stored
	s.profile.mu.Unlock()

	s.profile.notifySiblings(s, key, stored)
	return nil
}

// Delete removes the record and notifies sibling handles
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.profile.mu.Lock()
	_, existed := s.profile.records[key]
	delete(s.profile.records, key)
	s.profile.mu.Unlock()

	if existed {
		s.profile.notifySiblings(s, key, nil)
	}
	return nil
}

// Watch registers a sibling-change callback
func (s *MemoryStore) Watch(fn WatchFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watchers = append(s.watchers, fn)
}

// Close detaches the handle from its profile
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.profile.detach(s)
	return nil
}

func (s *MemoryStore) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *MemoryStore) dispatch(key string, value []byte) {
	s.mu.Lock()
	watchers := make([]WatchFunc, len(s.watchers))
	copy(watchers, s.watchers)
	s.mu.Unlock()

	for _, fn := range watchers {
		fn(key, value)
	}
}

var _ Store = (*MemoryStore)(nil)
