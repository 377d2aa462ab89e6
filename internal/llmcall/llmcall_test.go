package llmcall

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackzampolin/tally/internal/providers"
)

func TestFromChatResult(t *testing.T) {
	if FromChatResult(nil, RecordOptions{}) != nil {
		t.Error("expected nil for nil result")
	}

	temp := 0.0
	result := &providers.ChatResult{
		Content:          `{"items":[]}`,
		PromptTokens:     10,
		CompletionTokens: 4,
		ExecutionTime:    1500 * time.Millisecond,
		Provider:         "ollama",
		ModelUsed:        "qwen3-vl:8b",
		RequestID:        "req-1",
		Success:          true,
	}

	call := FromChatResult(result, RecordOptions{
		Stage:       "extract",
		Attempt:     2,
		PromptKey:   "ocr.user",
		PromptHash:  "abc",
		Temperature: &temp,
	})
	if call.ID == "" {
		t.Error("expected generated ID")
	}
	if call.LatencyMs != 1500 || call.InputTokens != 10 || call.OutputTokens != 4 {
		t.Errorf("unexpected metrics: %+v", call)
	}
	if !call.Success || call.Error != "" {
		t.Errorf("expected success, got %+v", call)
	}
	if call.Attempt != 2 || call.Stage != "extract" || call.PromptHash != "abc" {
		t.Errorf("unexpected context: %+v", call)
	}

	t.Run("error overrides success", func(t *testing.T) {
		call := FromChatResult(result, RecordOptions{Err: errors.New("schema violation")})
		if call.Success || call.Error != "schema violation" {
			t.Errorf("expected failure record, got %+v", call)
		}
	})
}

func TestRecorder(t *testing.T) {
	t.Run("nil recorder is a no-op", func(t *testing.T) {
		var r *Recorder
		r.Record(&providers.ChatResult{}, RecordOptions{})
		NewRecorder(nil).Record(&providers.ChatResult{}, RecordOptions{})
	})

	t.Run("writes JSON lines", func(t *testing.T) {
		var buf bytes.Buffer
		sink := NewSink(SinkConfig{Writer: &buf})
		r := NewRecorder(sink)

		for i := 1; i <= 3; i++ {
			r.Record(&providers.ChatResult{Provider: "mock", Success: true}, RecordOptions{Stage: "categorize", Attempt: i})
		}
		sink.Stop()

		scanner := bufio.NewScanner(&buf)
		var lines int
		for scanner.Scan() {
			var call Call
			if err := json.Unmarshal(scanner.Bytes(), &call); err != nil {
				t.Fatalf("invalid line %q: %v", scanner.Text(), err)
			}
			lines++
			if call.Attempt != lines {
				t.Errorf("line %d has attempt %d", lines, call.Attempt)
			}
		}
		if lines != 3 {
			t.Errorf("expected 3 lines, got %d", lines)
		}
	})

	t.Run("send after stop is dropped", func(t *testing.T) {
		var buf bytes.Buffer
		sink := NewSink(SinkConfig{Writer: &buf})
		sink.Stop()
		sink.Stop()
		sink.Send(&Call{ID: "late"})
		if buf.Len() != 0 {
			t.Errorf("expected nothing written, got %q", buf.String())
		}
	})
}
