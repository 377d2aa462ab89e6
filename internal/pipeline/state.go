package pipeline

import "fmt"

// State is a stage's position in its render, call, validate loop.
type State int

const (
	StateIdle State = iota
	StatePromptRendered
	StateInferenceIssued
	StateValidated
	StateRetrying
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePromptRendered:
		return "prompt_rendered"
	case StateInferenceIssued:
		return "inference_issued"
	case StateValidated:
		return "validated"
	case StateRetrying:
		return "retrying"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(text []byte) error {
	for st := StateIdle; st <= StateFailed; st++ {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", text)
}

// Terminal reports whether no further transitions follow.
func (s State) Terminal() bool {
	return s == StateValidated || s == StateFailed
}
