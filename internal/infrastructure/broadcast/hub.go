package broadcast

import (
	"context"
	"sync"

	domainsync "github.com/storefront/clientsync/internal/domain/sync"
	"go.uber.org/zap"
)

// Hub is an in-process broadcast transport for sibling contexts living in
// one process: tests and the demo binary. Each context opens its own
// HubChannel; publishing delivers to every other open channel.
type Hub struct {
	mu       sync.RWMutex
	channels []*HubChannel
	logger   *zap.Logger
}

// NewHub creates an empty hub
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{logger: logger}
}

// Open creates a new channel attached to the hub
func (h *Hub) Open() *HubChannel {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := &HubChannel{hub: h}
	h.channels = append(h.channels, ch)
	return ch
}

func (h *Hub) fanout(origin *HubChannel, envelope domainsync.Envelope) {
	h.mu.RLock()
	channels := make([]*HubChannel, len(h.channels))
	copy(channels, h.channels)
	h.mu.RUnlock()

	for _, ch := range channels {
		if ch == origin {
			continue
		}
		ch.deliver(envelope)
	}
}

func (h *Hub) detach(ch *HubChannel) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, other := range h.channels {
		if other == ch {
			h.channels = append(h.channels[:i], h.channels[i+1:]...)
			return
		}
	}
}

// HubChannel is one context's handle on the hub
type HubChannel struct {
	hub     *Hub
	mu      sync.Mutex
	handler Handler
	closed  bool
}

// Publish delivers the envelope to every sibling channel on the hub
func (c *HubChannel) Publish(ctx context.Context, envelope domainsync.Envelope) error {
	c.hub.fanout(c, envelope)
	return nil
}

// Subscribe registers the handler; delivery stops when ctx is done
func (c *HubChannel) Subscribe(ctx context.Context, handler Handler) error {
	c.mu.Lock()
	c.handler = handler
	c.mu.Unlock()

	go func() {
		<-ctx.Done()
		c.mu.Lock()
		c.handler = nil
		c.mu.Unlock()
	}()
	return nil
}

// Close detaches the channel from the hub
func (c *HubChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.handler = nil
	c.mu.Unlock()

	c.hub.detach(c)
	return nil
}

func (c *HubChannel) deliver(envelope domainsync.Envelope) {
	c.mu.Lock()
	handler := c.handler
	c.mu.Unlock()
	if handler == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			c.hub.logger.Error("envelope handler panicked",
				zap.String("kind", string(envelope.Kind)),
				zap.Any("panic", r),
			)
		}
	}()
	handler(envelope)
}

var _ Channel = (*HubChannel)(nil)
