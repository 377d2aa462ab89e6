package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrExtractionFailed is returned when extraction exhausts its retries.
	ErrExtractionFailed = errors.New("extraction failed")

	// ErrAdviceFailed is returned when an advisor call exhausts its retries.
	ErrAdviceFailed = errors.New("advice generation failed")

	// ErrInvalidRequest marks input rejected before any model call.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrCancelled is returned when the caller's context ends mid-run.
	ErrCancelled = errors.New("cancelled")

	// ErrResource wraps schema and prompt failures. These indicate
	// misconfiguration and are never retried.
	ErrResource = errors.New("resource error")

	// ErrSemanticConstraint matches every *CategoryError.
	ErrSemanticConstraint = errors.New("category constraint violated")
)

// ExtractionError is the terminal extraction failure. LastErr is the last
// validation or transport error seen.
type ExtractionError struct {
	Attempts int
	LastErr  error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("%s after %d attempt(s): %v", ErrExtractionFailed, e.Attempts, e.LastErr)
}

// Is matches ErrExtractionFailed.
func (e *ExtractionError) Is(target error) bool {
	return target == ErrExtractionFailed
}

func (e *ExtractionError) Unwrap() error {
	return e.LastErr
}

// AdviceError is the terminal failure of one advisor call. Kind names
// the call ("advice", "budget analysis").
type AdviceError struct {
	Kind     string
	Attempts int
	LastErr  error
}

func (e *AdviceError) Error() string {
	return fmt.Sprintf("%s: %s after %d attempt(s): %v", e.Kind, ErrAdviceFailed, e.Attempts, e.LastErr)
}

// Is matches ErrAdviceFailed.
func (e *AdviceError) Is(target error) bool {
	return target == ErrAdviceFailed
}

func (e *AdviceError) Unwrap() error {
	return e.LastErr
}

// CategoryError reports assignments that were structurally valid but
// outside the allowed set or for items that were not requested.
type CategoryError struct {
	Invalid map[int]string // Item index -> rejected category
	Unknown []int          // Indices in the response that were not requested
	Missing []int          // Requested indices with no assignment
	Allowed []string
}

func (e *CategoryError) Error() string {
	var parts []string
	if len(e.Invalid) > 0 {
		idx := make([]int, 0, len(e.Invalid))
		for i := range e.Invalid {
			idx = append(idx, i)
		}
		sort.Ints(idx)
		bad := make([]string, 0, len(idx))
		for _, i := range idx {
			bad = append(bad, fmt.Sprintf("item %d: %q", i, e.Invalid[i]))
		}
		parts = append(parts, "categories not in the allowed list ("+strings.Join(bad, ", ")+")")
	}
	if len(e.Unknown) > 0 {
		parts = append(parts, fmt.Sprintf("unknown item indices %v", e.Unknown))
	}
	if len(e.Missing) > 0 {
		parts = append(parts, fmt.Sprintf("no category for item indices %v", e.Missing))
	}
	msg := strings.Join(parts, "; ")
	if len(e.Allowed) > 0 {
		msg += "; allowed categories are: " + strings.Join(e.Allowed, ", ")
	}
	return msg
}

// Is matches ErrSemanticConstraint.
func (e *CategoryError) Is(target error) bool {
	return target == ErrSemanticConstraint
}

func resourceError(err error) error {
	return fmt.Errorf("%w: %w", ErrResource, err)
}

// cancelled reports the context's cause as ErrCancelled.
func cancelled(ctx context.Context) error {
	return fmt.Errorf("%w: %w", ErrCancelled, context.Cause(ctx))
}
