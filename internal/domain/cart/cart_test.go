package cart

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func line(productID int64, price string, qty int) LineItem {
	return LineItem{
		ProductID: productID,
		Variant:   VariantNone,
		Name:      "Product",
		UnitPrice: decimal.RequireFromString(price),
		Quantity:  qty,
	}
}

func TestMergeAdd_SameKeyIncrementsQuantity(t *testing.T) {
	var lines Lines

	lines, merged := lines.MergeAdd(line(1, "9.99", 2))
	assert.False(t, merged)

	lines, merged = lines.MergeAdd(line(1, "9.99", 3))
	assert.True(t, merged)

	require.Len(t, lines, 1)
	assert.Equal(t, 5, lines[0].Quantity)
}

func TestMergeAdd_DifferentVariantIsSeparateLine(t *testing.T) {
	editionLine := line(1, "9.99", 1)
	editionLine.Variant = VariantEdition
	editionLine.VariantID = 42

	var lines Lines
	lines, _ = lines.MergeAdd(line(1, "9.99", 1))
	lines, merged := lines.MergeAdd(editionLine)

	assert.False(t, merged)
	assert.Len(t, lines, 2)
}

func TestTotal_OrderIndependent(t *testing.T) {
	a := line(1, "10.00", 2) // 20.00
	b := line(2, "3.50", 3)  // 10.50
	c := line(3, "0.99", 1)  // 0.99

	forward := Lines{a, b, c}.Total()
	backward := Lines{c, b, a}.Total()

	assert.True(t, forward.Equal(backward))
	assert.True(t, forward.Equal(decimal.RequireFromString("31.49")))
}

func TestTotal_EmptyCartIsZero(t *testing.T) {
	assert.True(t, Lines{}.Total().IsZero())
	assert.True(t, Lines(nil).Total().IsZero())
}

func TestSetQuantity_ZeroRemovesLine(t *testing.T) {
	lines := Lines{line(1, "5.00", 2), line(2, "1.00", 1)}

	lines, found := lines.SetQuantity(line(1, "5.00", 2).Key(), 0)

	assert.True(t, found)
	require.Len(t, lines, 1)
	assert.Equal(t, int64(2), lines[0].ProductID)
}

func TestSetQuantity_ReplacesOnlyMatchingKey(t *testing.T) {
	lines := Lines{line(1, "5.00", 2), line(2, "1.00", 4)}

	lines, found := lines.SetQuantity(line(2, "1.00", 4).Key(), 9)

	assert.True(t, found)
	assert.Equal(t, 2, lines[0].Quantity)
	assert.Equal(t, 9, lines[1].Quantity)
}

func TestSetQuantity_UnknownKeyNotFound(t *testing.T) {
	lines := Lines{line(1, "5.00", 2)}

	updated, found := lines.SetQuantity(LineKey{ProductID: 99, Variant: VariantNone}, 3)

	assert.False(t, found)
	assert.Equal(t, lines, updated)
}

func TestRemove(t *testing.T) {
	lines := Lines{line(1, "5.00", 2), line(2, "1.00", 1)}

	lines, removed := lines.Remove(line(1, "5.00", 2).Key())
	assert.True(t, removed)
	assert.Len(t, lines, 1)

	lines, removed = lines.Remove(LineKey{ProductID: 99, Variant: VariantNone})
	assert.False(t, removed)
	assert.Len(t, lines, 1)
}

func TestValidate(t *testing.T) {
	valid := line(1, "5.00", 1)
	assert.NoError(t, valid.Validate())

	zeroQty := line(1, "5.00", 0)
	assert.Error(t, zeroQty.Validate())

	negativePrice := line(1, "5.00", 1)
	negativePrice.UnitPrice = decimal.RequireFromString("-1")
	assert.Error(t, negativePrice.Validate())

	noProduct := line(0, "5.00", 1)
	assert.Error(t, noProduct.Validate())
}

func TestParseVariantKind(t *testing.T) {
	tests := []struct {
		input   string
		want    VariantKind
		wantErr bool
	}{
		{"none", VariantNone, false},
		{"", VariantNone, false},
		{"edition", VariantEdition, false},
		{"Denomination", VariantDenomination, false},
		{"bogus", VariantNone, true},
	}

	for _, tt := range tests {
		got, err := ParseVariantKind(tt.input)
		if tt.wantErr {
			assert.Error(t, err, tt.input)
		} else {
			assert.NoError(t, err, tt.input)
			assert.Equal(t, tt.want, got, tt.input)
		}
	}
}

func TestClone_IsIndependent(t *testing.T) {
	original := Lines{line(1, "5.00", 2)}
	clone := original.Clone()
	clone[0].Quantity = 99

	assert.Equal(t, 2, original[0].Quantity)
}
