package cart

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/storefront/clientsync/internal/domain/cart"
	"github.com/storefront/clientsync/internal/domain/shared"
	"github.com/storefront/clientsync/internal/infrastructure/store"
	"go.uber.org/zap"

	domainsync "github.com/storefront/clientsync/internal/domain/sync"
)

// ProductChecker answers whether a product still exists remotely
type ProductChecker interface {
	ProductExists(ctx context.Context, productID int64) (bool, error)
}

// Broadcaster publishes envelopes to sibling contexts
type Broadcaster interface {
	Publish(ctx context.Context, envelope domainsync.Envelope) error
}

// validateConcurrency bounds the number of in-flight existence checks during
// a full-cart validation pass.
const validateConcurrency = 4

// Manager owns one execution context's cart line list, persists it as a
// whole-array snapshot on every change, and guarantees it never silently
// references a product the backend no longer has.
type Manager struct {
	products    ProductChecker
	store       store.Store
	broadcaster Broadcaster
	notifier    shared.Notifier
	logger      *zap.Logger

	mu    sync.Mutex
	lines cart.Lines
}

// NewManager creates a cart consistency manager
func NewManager(
	products ProductChecker,
	st store.Store,
	broadcaster Broadcaster,
	notifier shared.Notifier,
	logger *zap.Logger,
) *Manager {
	if notifier == nil {
		notifier = shared.NopNotifier{}
	}
	return &Manager{
		products:    products,
		store:       st,
		broadcaster: broadcaster,
		notifier:    notifier,
		logger:      logger,
	}
}

// Load reads the persisted cart into memory and validates every line
// against remote product existence.
func (m *Manager) Load(ctx context.Context) error {
	data, ok, err := m.store.Get(ctx, store.KeyCartItems)
	if err != nil {
		m.logger.Warn("failed to read persisted cart", zap.Error(err))
		return nil
	}
	if ok {
		var lines cart.Lines
		if err := json.Unmarshal(data, &lines); err != nil {
			m.logger.Warn("persisted cart is malformed, starting empty", zap.Error(err))
			lines = nil
		}
		m.mu.Lock()
		m.lines = lines
		m.mu.Unlock()
	}

	return m.ValidateAll(ctx)
}

// Add puts an item in the cart after confirming the product still exists.
// An existing line with the same uniqueness key has its quantity incremented;
// otherwise a new line is appended. The cart is untouched on rejection.
func (m *Manager) Add(ctx context.Context, item cart.LineItem) error {
	if err := item.Validate(); err != nil {
		return err
	}

	// The existence check is the only suspension point; the in-memory list
	// stays unchanged while it is pending.
	exists, err := m.products.ProductExists(ctx, item.ProductID)
	if err != nil {
		m.notifier.Notify(shared.NewNotice(shared.NoticeError,
			"Could not add to cart", "Could not verify the product, try again"))
		return shared.ErrNetworkFailure
	}
	if !exists {
		m.notifier.Notify(shared.NewNotice(shared.NoticeError,
			"Product unavailable", item.Name+" is no longer available"))
		return shared.ErrProductUnavailable
	}

	m.mu.Lock()
	merged, wasMerged := m.lines.MergeAdd(item)
	m.lines = merged
	snapshot := merged.Clone()
	m.mu.Unlock()

	m.persistAndBroadcast(ctx, snapshot)

	description := item.Name + " added to your cart"
	if wasMerged {
		description = fmt.Sprintf("%s quantity updated in your cart", item.Name)
	}
	m.notifier.Notify(shared.NewNotice(shared.NoticeSuccess, "Cart updated", description))
	return nil
}

// UpdateQuantity replaces the quantity for the matching key, re-validating
// existence first: a line may have gone stale since it was added. A quantity
// of zero or less removes the line.
func (m *Manager) UpdateQuantity(ctx context.Context, key cart.LineKey, quantity int) error {
	if quantity < 1 {
		return m.Remove(ctx, key)
	}

	m.mu.Lock()
	line, found := m.lines.Find(key)
	m.mu.Unlock()
	if !found {
		return shared.ErrNotFound
	}

	exists, err := m.products.ProductExists(ctx, key.ProductID)
	if err != nil {
		m.notifier.Notify(shared.NewNotice(shared.NoticeError,
			"Could not update cart", "Could not verify the product, try again"))
		return shared.ErrNetworkFailure
	}
	if !exists {
		// The product vanished server-side: drop the line instead
		m.mu.Lock()
		remaining, _ := m.lines.Remove(key)
		m.lines = remaining
		snapshot := remaining.Clone()
		m.mu.Unlock()

		m.persistAndBroadcast(ctx, snapshot)
		m.notifier.Notify(shared.NewNotice(shared.NoticeError,
			"Product unavailable", line.Name+" was removed from your cart"))
		return shared.ErrProductUnavailable
	}

	m.mu.Lock()
	updated, _ := m.lines.SetQuantity(key, quantity)
	m.lines = updated
	snapshot := updated.Clone()
	m.mu.Unlock()

	m.persistAndBroadcast(ctx, snapshot)
	m.notifier.Notify(shared.NewNotice(shared.NoticeSuccess,
		"Cart updated", fmt.Sprintf("%s quantity set to %d", line.Name, quantity)))
	return nil
}

// Remove unconditionally drops the matching line; never fails
func (m *Manager) Remove(ctx context.Context, key cart.LineKey) error {
	m.mu.Lock()
	remaining, removed := m.lines.Remove(key)
	m.lines = remaining
	snapshot := remaining.Clone()
	m.mu.Unlock()

	if removed {
		m.persistAndBroadcast(ctx, snapshot)
	}
	return nil
}

// Clear empties the cart; never fails
func (m *Manager) Clear(ctx context.Context) error {
	m.mu.Lock()
	m.lines = nil
	m.mu.Unlock()

	m.persistAndBroadcast(ctx, nil)
	return nil
}

// Items returns a copy of the current line list
func (m *Manager) Items() cart.Lines {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lines.Clone()
}

// Total is the pure reduction sum(price * quantity); no remote calls
func (m *Manager) Total() decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lines.Total()
}

// ValidateAll concurrently checks every line's product existence and drops
// lines whose product no longer exists. Checks may complete out of order.
// Dropped lines produce one aggregated notice, not one per item. Transport
// failures keep the line: only a definitive "gone" removes it, and the next
// pass reconciles. Running twice without remote changes is a no-op.
func (m *Manager) ValidateAll(ctx context.Context) error {
	m.mu.Lock()
	snapshot := m.lines.Clone()
	m.mu.Unlock()

	if len(snapshot) == 0 {
		return nil
	}

	// One check per distinct product id
	ids := make([]int64, 0, len(snapshot))
	seen := make(map[int64]struct{}, len(snapshot))
	for _, line := range snapshot {
		if _, ok := seen[line.ProductID]; ok {
			continue
		}
		seen[line.ProductID] = struct{}{}
		ids = append(ids, line.ProductID)
	}

	gone := make(map[int64]bool, len(ids))
	var goneMu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, validateConcurrency)

	for _, id := range ids {
		wg.Add(1)
		sem <- struct{}{}
		go func(productID int64) {
			defer wg.Done()
			defer func() { <-sem }()

			exists, err := m.products.ProductExists(ctx, productID)
			if err != nil {
				m.logger.Warn("product check failed during validation, keeping line",
					zap.Int64("product_id", productID), zap.Error(err))
				return
			}
			if !exists {
				goneMu.Lock()
				gone[productID] = true
				goneMu.Unlock()
			}
		}(id)
	}
	wg.Wait()

	if len(gone) == 0 {
		return nil
	}

	m.mu.Lock()
	kept := make(cart.Lines, 0, len(m.lines))
	removedNames := make([]string, 0, len(gone))
	for _, line := range m.lines {
		if gone[line.ProductID] {
			removedNames = append(removedNames, line.Name)
			continue
		}
		kept = append(kept, line)
	}
	m.lines = kept
	persisted := kept.Clone()
	m.mu.Unlock()

	m.persistAndBroadcast(ctx, persisted)

	description := fmt.Sprintf("%d item(s) were removed because they are no longer available", len(removedNames))
	m.notifier.Notify(shared.NewNotice(shared.NoticeError, "Cart updated", description))
	m.logger.Info("removed stale cart lines",
		zap.Int("removed", len(removedNames)),
		zap.Strings("names", removedNames))
	return nil
}

// HandleEnvelope applies a sibling context's cart change: the in-memory list
// is fully replaced with the payload. The sender's list is authoritative for
// that moment; its only write path already went through validation.
func (m *Manager) HandleEnvelope(envelope domainsync.Envelope) {
	if envelope.Kind != domainsync.KindCartChanged {
		return
	}
	if envelope.Stale(time.Now()) {
		return
	}

	m.mu.Lock()
	m.lines = cart.Lines(envelope.Items).Clone()
	m.mu.Unlock()

	m.logger.Debug("replaced cart from sibling context",
		zap.Int("lines", len(envelope.Items)))
}

// persistAndBroadcast writes the whole line list and notifies siblings.
// Persistence failures are logged, never surfaced: the operation proceeds
// with in-memory state.
func (m *Manager) persistAndBroadcast(ctx context.Context, lines cart.Lines) {
	if lines == nil {
		lines = cart.Lines{}
	}
	data, err := json.Marshal(lines)
	if err != nil {
		m.logger.Error("failed to serialize cart", zap.Error(err))
	} else if err := m.store.Put(ctx, store.KeyCartItems, data); err != nil {
		m.logger.Warn("failed to persist cart", zap.Error(err))
	}

	if err := m.broadcaster.Publish(ctx, domainsync.NewCartChanged(lines)); err != nil {
		m.logger.Warn("failed to broadcast cart change", zap.Error(err))
	}
}
