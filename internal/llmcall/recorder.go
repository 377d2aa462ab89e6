package llmcall

import (
	"github.com/jackzampolin/tally/internal/providers"
)

// Recorder handles fire-and-forget LLM call recording via a Sink.
// A nil Recorder, or one without a sink, records nothing.
type Recorder struct {
	sink *Sink
}

// NewRecorder creates a new LLM call recorder.
func NewRecorder(sink *Sink) *Recorder {
	return &Recorder{sink: sink}
}

// Record captures an LLM call asynchronously.
func (r *Recorder) Record(result *providers.ChatResult, opts RecordOptions) {
	if r == nil || r.sink == nil {
		return
	}
	if call := FromChatResult(result, opts); call != nil {
		r.sink.Send(call)
	}
}
