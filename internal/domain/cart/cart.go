package cart

import (
	"strings"

	"github.com/shopspring/decimal"
	"github.com/storefront/clientsync/internal/domain/shared"
)

// VariantKind discriminates how a product was selected
type VariantKind string

const (
	VariantNone         VariantKind = "none"
	VariantEdition      VariantKind = "edition"
	VariantDenomination VariantKind = "denomination"
)

// ParseVariantKind validates a variant discriminator; empty maps to none
func ParseVariantKind(s string) (VariantKind, error) {
	switch VariantKind(strings.ToLower(strings.TrimSpace(s))) {
	case VariantNone, "":
		return VariantNone, nil
	case VariantEdition:
		return VariantEdition, nil
	case VariantDenomination:
		return VariantDenomination, nil
	default:
		return VariantNone, shared.NewDomainError("INVALID_VARIANT", "Unknown variant kind: "+s)
	}
}

// LineKey is the uniqueness key of a cart line. No two lines in a cart may
// share the same key; quantity merges happen on it.
type LineKey struct {
	ProductID int64       `json:"product_id"`
	Variant   VariantKind `json:"variant"`
	VariantID int64       `json:"variant_id"`
	Platform  string      `json:"platform"`
}

// LineItem is one purchasable selection. UnitPrice is already resolved at add
// time and is not re-derived afterwards.
type LineItem struct {
	ProductID int64           `json:"product_id"`
	Variant   VariantKind     `json:"variant"`
	VariantID int64           `json:"variant_id"`
	Platform  string          `json:"platform"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
	Image     string          `json:"image,omitempty"`
}

// Key returns the line's uniqueness key
func (l LineItem) Key() LineKey {
	return LineKey{
		ProductID: l.ProductID,
		Variant:   l.Variant,
		VariantID: l.VariantID,
		Platform:  l.Platform,
	}
}

// Validate checks the line invariants
func (l LineItem) Validate() error {
	if l.ProductID <= 0 {
		return shared.ErrInvalidInput
	}
	if l.Quantity < 1 {
		return shared.NewDomainError("INVALID_QUANTITY", "Quantity must be at least 1")
	}
	if l.UnitPrice.IsNegative() {
		return shared.NewDomainError("INVALID_PRICE", "Unit price cannot be negative")
	}
	if _, err := ParseVariantKind(string(l.Variant)); err != nil {
		return err
	}
	return nil
}

// Subtotal returns price * quantity for this line
func (l LineItem) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Lines is an ordered cart line list. All mutating helpers return a new
// slice; callers own the result.
type Lines []LineItem

// Find returns the line matching key, if any
func (ls Lines) Find(key LineKey) (LineItem, bool) {
	for _, l := range ls {
		if l.Key() == key {
			return l, true
		}
	}
	return LineItem{}, false
}

// MergeAdd adds item to the list. An existing line with the same uniqueness
// key has its quantity incremented by item.Quantity; otherwise the item is
// appended. Returns the new list and whether an existing line was merged.
func (ls Lines) MergeAdd(item LineItem) (Lines, bool) {
	key := item.Key()
	out := ls.Clone()
	for i, l := range out {
		if l.Key() == key {
			out[i].Quantity += item.Quantity
			return out, true
		}
	}
	return append(out, item), false
}

// SetQuantity replaces the quantity of the line matching key. A quantity of
// zero or less removes the line. Returns the new list and whether the key
// was found.
func (ls Lines) SetQuantity(key LineKey, quantity int) (Lines, bool) {
	if quantity < 1 {
		out, found := ls.Remove(key)
		return out, found
	}
	out := ls.Clone()
	for i, l := range out {
		if l.Key() == key {
			out[i].Quantity = quantity
			return out, true
		}
	}
	return out, false
}

// Remove drops the line matching key. Returns the new list and whether a
// line was actually removed.
func (ls Lines) Remove(key LineKey) (Lines, bool) {
	out := make(Lines, 0, len(ls))
	removed := false
	for _, l := range ls {
		if l.Key() == key {
			removed = true
			continue
		}
		out = append(out, l)
	}
	return out, removed
}

// Total is the pure reduction sum(price * quantity) over all lines. Order
// independent, no side effects.
func (ls Lines) Total() decimal.Decimal {
	total := decimal.Zero
	for _, l := range ls {
		total = total.Add(l.Subtotal())
	}
	return total
}

// Clone returns an independent copy of the list
func (ls Lines) Clone() Lines {
	if ls == nil {
		return nil
	}
	out := make(Lines, len(ls))
	copy(out, ls)
	return out
}
