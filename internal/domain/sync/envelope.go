package sync

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/storefront/clientsync/internal/domain/cart"
	"github.com/storefront/clientsync/internal/domain/session"
	"github.com/storefront/clientsync/internal/domain/shared"
)

// Kind identifies what an envelope carries
type Kind string

const (
	KindLogin       Kind = "login"
	KindLogout      Kind = "logout"
	KindCartChanged Kind = "cart-changed"
)

// MaxAge bounds the blast radius of delayed or duplicated delivery: every
// receiver discards envelopes older than this.
const MaxAge = 30 * time.Second

// Envelope is the message passed between execution contexts, over the
// broadcast channel or reconstructed from a persistent-store change.
type Envelope struct {
	ID     uuid.UUID `json:"id"`
	Kind   Kind      `json:"kind"`
	SentAt int64     `json:"sent_at"` // unix milliseconds

	// Session is set for login envelopes (and carries balance updates).
	Session *session.Snapshot `json:"session,omitempty"`

	// Items is set for cart-changed envelopes; the sender's list is taken
	// as authoritative by receivers.
	Items []cart.LineItem `json:"items,omitempty"`
}

// NewLogin builds a login envelope carrying the given snapshot
func NewLogin(snapshot *session.Snapshot) Envelope {
	return Envelope{
		ID:      uuid.New(),
		Kind:    KindLogin,
		SentAt:  time.Now().UnixMilli(),
		Session: snapshot.Clone(),
	}
}

// NewLogout builds a logout envelope
func NewLogout() Envelope {
	return Envelope{
		ID:     uuid.New(),
		Kind:   KindLogout,
		SentAt: time.Now().UnixMilli(),
	}
}

// NewCartChanged builds a cart-changed envelope carrying the full line list
func NewCartChanged(items cart.Lines) Envelope {
	return Envelope{
		ID:     uuid.New(),
		Kind:   KindCartChanged,
		SentAt: time.Now().UnixMilli(),
		Items:  items.Clone(),
	}
}

// Stale reports whether the envelope is older than MaxAge at the given time
func (e Envelope) Stale(now time.Time) bool {
	return e.StaleAfter(MaxAge, now)
}

// StaleAfter is Stale with a caller-supplied age bound. The comparison runs
// at the envelope's own millisecond resolution so an envelope aged exactly
// maxAge is still fresh regardless of now's sub-millisecond component.
func (e Envelope) StaleAfter(maxAge time.Duration, now time.Time) bool {
	return now.UnixMilli()-e.SentAt > maxAge.Milliseconds()
}

// Encode serializes the envelope for the wire
func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Decode parses and validates a wire envelope. A malformed payload returns
// an error; receivers log and drop it rather than propagate.
func Decode(data []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, err
	}
	switch e.Kind {
	case KindLogin, KindLogout, KindCartChanged:
	default:
		return Envelope{}, shared.NewDomainError("INVALID_ENVELOPE", "Unknown envelope kind: "+string(e.Kind))
	}
	if e.ID == uuid.Nil {
		return Envelope{}, shared.NewDomainError("INVALID_ENVELOPE", "Envelope has no message id")
	}
	return e, nil
}
