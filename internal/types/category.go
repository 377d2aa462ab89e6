package types

import (
	"errors"
	"fmt"
	"strings"
)

// DefaultSentinel marks an item no valid category could be obtained for.
const DefaultSentinel = "Uncategorized"

// DefaultCategories is used when a caller supplies no category set.
var DefaultCategories = []string{"Groceries", "Dining", "Transport", "Entertainment", "Other"}

var (
	ErrEmptyCategories    = errors.New("category set is empty")
	ErrDuplicateCategory  = errors.New("duplicate category")
	ErrBlankCategory      = errors.New("blank category")
	ErrReservedCategory   = errors.New("category collides with the uncategorized sentinel")
	ErrInvalidCategorySet = errors.New("invalid category set")
)

// CategorySet is an ordered, closed set of category labels.
// It is immutable once built.
type CategorySet struct {
	members  []string
	index    map[string]struct{}
	sentinel string
}

// NewCategorySet builds a set from members in caller order.
// The sentinel must not appear among the members; an empty sentinel
// falls back to DefaultSentinel.
func NewCategorySet(members []string, sentinel string) (*CategorySet, error) {
	if sentinel == "" {
		sentinel = DefaultSentinel
	}
	if len(members) == 0 {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCategorySet, ErrEmptyCategories)
	}

	cs := &CategorySet{
		members:  make([]string, 0, len(members)),
		index:    make(map[string]struct{}, len(members)),
		sentinel: sentinel,
	}
	for i, m := range members {
		if strings.TrimSpace(m) == "" {
			return nil, fmt.Errorf("%w: %w at position %d", ErrInvalidCategorySet, ErrBlankCategory, i)
		}
		if m == sentinel {
			return nil, fmt.Errorf("%w: %w: %q", ErrInvalidCategorySet, ErrReservedCategory, m)
		}
		if _, dup := cs.index[m]; dup {
			return nil, fmt.Errorf("%w: %w: %q", ErrInvalidCategorySet, ErrDuplicateCategory, m)
		}
		cs.index[m] = struct{}{}
		cs.members = append(cs.members, m)
	}
	return cs, nil
}

// Contains reports whether label is a member. Matching is exact.
func (cs *CategorySet) Contains(label string) bool {
	_, ok := cs.index[label]
	return ok
}

// Members returns a copy of the labels in caller order.
func (cs *CategorySet) Members() []string {
	out := make([]string, len(cs.members))
	copy(out, cs.members)
	return out
}

// Len returns the number of members.
func (cs *CategorySet) Len() int {
	return len(cs.members)
}

// Sentinel returns the uncategorized marker paired with this set.
func (cs *CategorySet) Sentinel() string {
	return cs.sentinel
}

// Enumerate renders the members as a bullet list for prompts.
func (cs *CategorySet) Enumerate() string {
	var b strings.Builder
	for i, m := range cs.members {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("- ")
		b.WriteString(m)
	}
	return b.String()
}
