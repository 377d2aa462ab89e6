// Package types provides the receipt data model shared across tally packages.
// This package has no dependencies on other tally packages to avoid import cycles.
package types

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Item is one line extracted from a receipt.
// Identity is positional: the index in the extracted sequence.
type Item struct {
	Description string           `json:"description"`
	Amount      decimal.Decimal  `json:"amount"`
	Quantity    *decimal.Decimal `json:"quantity,omitempty"`
}

// itemWire encodes decimals as bare JSON numbers so encoded items
// validate against schemas that declare amount as "number".
type itemWire struct {
	Description string       `json:"description"`
	Amount      json.Number  `json:"amount"`
	Quantity    *json.Number `json:"quantity,omitempty"`
}

func (it Item) wire() itemWire {
	w := itemWire{
		Description: it.Description,
		Amount:      json.Number(it.Amount.String()),
	}
	if it.Quantity != nil {
		q := json.Number(it.Quantity.String())
		w.Quantity = &q
	}
	return w
}

// MarshalJSON implements json.Marshaler.
func (it Item) MarshalJSON() ([]byte, error) {
	return json.Marshal(it.wire())
}

// CategorizedItem is an Item annotated with exactly one category.
// When Uncategorized is set, Category holds the sentinel value.
type CategorizedItem struct {
	Item
	Category      string `json:"category"`
	Uncategorized bool   `json:"uncategorized,omitempty"`
}

// MarshalJSON implements json.Marshaler. Defined explicitly so the
// promoted Item.MarshalJSON does not drop the category fields.
func (ci CategorizedItem) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		itemWire
		Category      string `json:"category"`
		Uncategorized bool   `json:"uncategorized,omitempty"`
	}{
		itemWire:      ci.Item.wire(),
		Category:      ci.Category,
		Uncategorized: ci.Uncategorized,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (ci *CategorizedItem) UnmarshalJSON(data []byte) error {
	var item Item
	if err := json.Unmarshal(data, &item); err != nil {
		return err
	}
	var extra struct {
		Category      string `json:"category"`
		Uncategorized bool   `json:"uncategorized"`
	}
	if err := json.Unmarshal(data, &extra); err != nil {
		return err
	}
	ci.Item = item
	ci.Category = extra.Category
	ci.Uncategorized = extra.Uncategorized
	return nil
}

// Receipt is the envelope shape the extraction schema describes.
type Receipt struct {
	Items []Item `json:"items"`
}
