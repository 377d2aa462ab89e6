package pipeline

import (
	"time"

	"github.com/jackzampolin/tally/internal/types"
)

// Default policy knobs.
const (
	DefaultMaxRetries       = 2
	DefaultTransportRetries = 3
	DefaultBackoffBase      = time.Second
	DefaultBackoffMax       = 10 * time.Second
	DefaultRequestTimeout   = 120 * time.Second
	DefaultMaxEchoChars     = 12000
)

// Options controls retry and generation policy for both stages.
type Options struct {
	// MaxRetries bounds corrective re-prompts after a rejected response.
	// Total validation attempts are MaxRetries+1.
	MaxRetries int

	// TransportRetries bounds re-sends of a single request after an
	// unreachable, timed-out, or failed endpoint call.
	TransportRetries int
	BackoffBase      time.Duration
	BackoffMax       time.Duration

	// RequestTimeout applies to every inference call.
	RequestTimeout time.Duration

	Temperature float64
	MaxTokens   int

	// Sentinel marks items that could not be categorized.
	Sentinel string

	// MaxEchoChars caps previous output echoed back on retry.
	MaxEchoChars int
}

// DefaultOptions returns the default policy.
func DefaultOptions() Options {
	return Options{
		MaxRetries:       DefaultMaxRetries,
		TransportRetries: DefaultTransportRetries,
		BackoffBase:      DefaultBackoffBase,
		BackoffMax:       DefaultBackoffMax,
		RequestTimeout:   DefaultRequestTimeout,
		Sentinel:         types.DefaultSentinel,
		MaxEchoChars:     DefaultMaxEchoChars,
	}
}

// withDefaults fills durations and the sentinel when unset. Retry counts
// of zero are kept; negative counts become zero.
func (o Options) withDefaults() Options {
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.TransportRetries < 0 {
		o.TransportRetries = 0
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = DefaultBackoffBase
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = DefaultBackoffMax
	}
	if o.BackoffMax < o.BackoffBase {
		o.BackoffMax = o.BackoffBase
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = DefaultRequestTimeout
	}
	if o.Sentinel == "" {
		o.Sentinel = types.DefaultSentinel
	}
	if o.MaxEchoChars <= 0 {
		o.MaxEchoChars = DefaultMaxEchoChars
	}
	return o
}
