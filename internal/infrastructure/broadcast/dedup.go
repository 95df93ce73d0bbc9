package broadcast

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type dedupEntry struct {
	expiresAt time.Time
}

// Dedup remembers recently seen envelope ids so a message relayed by both
// the broadcast channel and the store-change fallback is applied once.
// Entries expire after a TTL; a background goroutine cleans them up.
type Dedup struct {
	mu       sync.Mutex
	ttl      time.Duration
	entries  map[uuid.UUID]dedupEntry
	stopChan chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
}

// NewDedup creates a dedup cache. TTL should be at least the envelope
// staleness threshold so a late fallback delivery is still recognized.
func NewDedup(ttl time.Duration) *Dedup {
	d := &Dedup{
		ttl:      ttl,
		entries:  make(map[uuid.UUID]dedupEntry),
		stopChan: make(chan struct{}),
	}
	d.wg.Add(1)
	go d.cleanupLoop()
	return d
}

// Mark records the id. Returns true if the id was newly marked, false if it
// was already seen and not yet expired.
func (d *Dedup) Mark(id uuid.UUID) bool {
	now := time.Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	if e, exists := d.entries[id]; exists && now.Before(e.expiresAt) {
		return false
	}
	d.entries[id] = dedupEntry{expiresAt: now.Add(d.ttl)}
	return true
}

// Close stops the cleanup goroutine. Safe to call multiple times.
func (d *Dedup) Close() error {
	d.once.Do(func() {
		close(d.stopChan)
		d.wg.Wait()
	})
	return nil
}

func (d *Dedup) cleanupLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-d.stopChan:
			return
		case <-ticker.C:
			now := time.Now()
			d.mu.Lock()
			for id, e := range d.entries {
				if now.After(e.expiresAt) {
					delete(d.entries, id)
				}
			}
			d.mu.Unlock()
		}
	}
}
