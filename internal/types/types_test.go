package types

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestNewCategorySet(t *testing.T) {
	tests := []struct {
		name     string
		members  []string
		sentinel string
		wantErr  error
	}{
		{name: "valid", members: []string{"Groceries", "Other"}},
		{name: "empty", members: nil, wantErr: ErrEmptyCategories},
		{name: "duplicate", members: []string{"Other", "Other"}, wantErr: ErrDuplicateCategory},
		{name: "blank", members: []string{"Groceries", "  "}, wantErr: ErrBlankCategory},
		{name: "sentinel member", members: []string{"Groceries", DefaultSentinel}, wantErr: ErrReservedCategory},
		{name: "custom sentinel", members: []string{"Groceries", "Uncategorized"}, sentinel: "N/A"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cs, err := NewCategorySet(tt.members, tt.sentinel)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				if !errors.Is(err, ErrInvalidCategorySet) {
					t.Errorf("expected error to match ErrInvalidCategorySet, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if cs.Len() != len(tt.members) {
				t.Errorf("Len() = %d, want %d", cs.Len(), len(tt.members))
			}
		})
	}
}

func TestCategorySet_Membership(t *testing.T) {
	cs, err := NewCategorySet([]string{"Groceries", "Dining"}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !cs.Contains("Groceries") {
		t.Error("expected Groceries to be a member")
	}
	if cs.Contains("groceries") {
		t.Error("membership should be case sensitive")
	}
	if cs.Contains(DefaultSentinel) {
		t.Error("sentinel must never be a member")
	}
	if cs.Sentinel() != DefaultSentinel {
		t.Errorf("Sentinel() = %q, want %q", cs.Sentinel(), DefaultSentinel)
	}

	members := cs.Members()
	members[0] = "Mutated"
	if !cs.Contains("Groceries") || cs.Members()[0] != "Groceries" {
		t.Error("Members() must return a copy")
	}

	want := "- Groceries\n- Dining"
	if got := cs.Enumerate(); got != want {
		t.Errorf("Enumerate() = %q, want %q", got, want)
	}
}

func TestItem_MarshalJSON(t *testing.T) {
	qty := decimal.NewFromInt(2)
	item := Item{
		Description: "Milk",
		Amount:      decimal.RequireFromString("2.50"),
		Quantity:    &qty,
	}

	data, err := json.Marshal(item)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"description":"Milk","amount":2.5,"quantity":2}`
	if string(data) != want {
		t.Errorf("got %s, want %s", data, want)
	}

	t.Run("categorized keeps category fields", func(t *testing.T) {
		ci := CategorizedItem{Item: Item{Description: "Bread", Amount: decimal.NewFromInt(3)}, Category: "Groceries"}
		data, err := json.Marshal(ci)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		want := `{"description":"Bread","amount":3,"category":"Groceries"}`
		if string(data) != want {
			t.Errorf("got %s, want %s", data, want)
		}

		var back CategorizedItem
		if err := json.Unmarshal(data, &back); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if back.Category != "Groceries" || !back.Amount.Equal(decimal.NewFromInt(3)) {
			t.Errorf("unexpected round trip result: %+v", back)
		}
	})
}
