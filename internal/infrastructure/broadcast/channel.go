// Package broadcast carries envelopes between sibling execution contexts.
// Delivery is best-effort; the persistent store's change notifications act
// as the durable fallback path (see Fanin).
package broadcast

import (
	"context"

	domainsync "github.com/storefront/clientsync/internal/domain/sync"
)

// Handler receives a delivered envelope
type Handler func(envelope domainsync.Envelope)

// Channel is the asynchronous publish/subscribe primitive between sibling
// contexts. Publishing never guarantees delivery; receivers apply staleness
// and duplicate filtering themselves.
type Channel interface {
	// Publish sends the envelope to sibling contexts.
	Publish(ctx context.Context, envelope domainsync.Envelope) error

	// Subscribe starts delivering envelopes to the handler. It returns once
	// the subscription is established; delivery continues until ctx is done
	// or the channel is closed.
	Subscribe(ctx context.Context, handler Handler) error

	// Close releases transport resources.
	Close() error
}
