package broadcast

import (
	"context"
	"sync"
	"time"

	"github.com/storefront/clientsync/internal/infrastructure/store"
	"go.uber.org/zap"

	domainsync "github.com/storefront/clientsync/internal/domain/sync"
)

// Fanin merges the two cross-context delivery paths into one "envelope
// received" event: the broadcast channel for low latency, and the persisted
// last-envelope record for durability across transports that drop messages.
// Consumers register handlers once and never special-case the transport.
//
// Publishing writes the envelope to the store first, then to the channel;
// the id dedup cache guarantees a receiver applies each envelope once no
// matter which path (or both) delivered it. Stale envelopes are dropped
// before handlers run.
type Fanin struct {
	channel Channel
	store   store.Store
	dedup   *Dedup
	logger  *zap.Logger
	maxAge  time.Duration

	mu       sync.Mutex
	handlers []Handler
	started  bool
}

// FaninOption is a functional option for configuring the fan-in
type FaninOption func(*Fanin)

// WithMaxAge overrides the staleness bound applied before delivery
func WithMaxAge(maxAge time.Duration) FaninOption {
	return func(f *Fanin) {
		if maxAge > 0 {
			f.maxAge = maxAge
		}
	}
}

// NewFanin wires the channel and store into a single delivery surface
func NewFanin(channel Channel, st store.Store, logger *zap.Logger, opts ...FaninOption) *Fanin {
	f := &Fanin{
		channel: channel,
		store:   st,
		logger:  logger,
		maxAge:  domainsync.MaxAge,
	}
	for _, opt := range opts {
		opt(f)
	}
	// Dedup must outlive the staleness window so a late fallback delivery
	// is still recognized as a duplicate.
	f.dedup = NewDedup(2 * f.maxAge)
	return f
}

// OnEnvelope registers a delivery handler. Register before Start.
func (f *Fanin) OnEnvelope(handler Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers = append(f.handlers, handler)
}

// Start subscribes to both delivery paths
func (f *Fanin) Start(ctx context.Context) error {
	f.mu.Lock()
	if f.started {
		f.mu.Unlock()
		return nil
	}
	f.started = true
	f.mu.Unlock()

	f.store.Watch(func(key string, value []byte) {
		if key != store.KeyEnvelope || value == nil {
			return
		}
		envelope, err := domainsync.Decode(value)
		if err != nil {
			f.logger.Error("dropping malformed stored envelope", zap.Error(err))
			return
		}
		f.deliver(envelope)
	})

	return f.channel.Subscribe(ctx, f.deliver)
}

// Publish sends the envelope over both paths. The sender's own dedup entry
// is marked first so neither path loops the envelope back into its handlers.
func (f *Fanin) Publish(ctx context.Context, envelope domainsync.Envelope) error {
	f.dedup.Mark(envelope.ID)

	data, err := envelope.Encode()
	if err != nil {
		return err
	}
	if err := f.store.Put(ctx, store.KeyEnvelope, data); err != nil {
		// Fallback path is best-effort; the channel may still deliver
		f.logger.Warn("failed to persist envelope for fallback delivery", zap.Error(err))
	}

	return f.channel.Publish(ctx, envelope)
}

// Close releases the dedup cache; channel and store are owned by the caller
func (f *Fanin) Close() error {
	return f.dedup.Close()
}

func (f *Fanin) deliver(envelope domainsync.Envelope) {
	if envelope.StaleAfter(f.maxAge, time.Now()) {
		f.logger.Debug("dropping stale envelope",
			zap.String("kind", string(envelope.Kind)),
			zap.Int64("sent_at", envelope.SentAt))
		return
	}
	if !f.dedup.Mark(envelope.ID) {
		return
	}

	f.mu.Lock()
	handlers := make([]Handler, len(f.handlers))
	copy(handlers, f.handlers)
	f.mu.Unlock()

	for _, handler := range handlers {
		handler(envelope)
	}
}
