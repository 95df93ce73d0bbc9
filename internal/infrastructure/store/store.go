// Package store wraps the synchronous, same-profile, cross-context key-value
// storage that session and cart snapshots are persisted to.
package store

import "context"

// Record keys shared by all execution contexts of one profile.
const (
	// KeySessionSnapshot holds the serialized session snapshot.
	KeySessionSnapshot = "session.snapshot"

	// KeySessionValidatedAt holds the RFC3339 time of the last successful
	// remote session confirmation.
	KeySessionValidatedAt = "session.lastValidatedAt"

	// KeyCartItems holds the serialized, ordered cart line list.
	KeyCartItems = "cart.items"

	// KeyEnvelope holds the last published broadcast envelope. Sibling
	// contexts observe changes to this record as the durable fallback
	// delivery path when the broadcast channel drops a message.
	KeyEnvelope = "sync.envelope"
)

// ContextTokenKey returns the per-context key for the server continuation
// token. The token is deliberately not shared between sibling contexts: each
// keeps its own server-side session linkage even though identity is shared.
func ContextTokenKey(contextID string) string {
	return "session.token." + contextID
}

// WatchFunc is invoked when a sibling context changes a record. A nil value
// means the record was deleted. Callbacks must not block.
type WatchFunc func(key string, value []byte)

// Store is the persistent key-value substrate. Every write replaces a whole
// named record; there are no partial writes. Two contexts overwriting the
// same record near-simultaneously lose one side's update; strict consistency
// is an accepted non-goal here since the user is the only concurrent actor
// across their own contexts.
type Store interface {
	// Get returns the record value and whether the record exists.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Put replaces the whole record.
	Put(ctx context.Context, key string, value []byte) error

	// Delete removes the record. Deleting a missing record is not an error.
	Delete(ctx context.Context, key string) error

	// Watch registers a callback for record changes made by sibling
	// contexts. A context's own writes do not fire its watchers.
	Watch(fn WatchFunc)

	// Close releases the store handle.
	Close() error
}
