package llmcall

import (
	"encoding/json"
	"io"
	"log/slog"
	"sync"
)

// SinkConfig configures the trace sink.
type SinkConfig struct {
	Writer    io.Writer
	QueueSize int // Buffer size (default: 256)
	Logger    *slog.Logger
}

// Sink serializes calls to a writer as JSON lines from a single goroutine.
type Sink struct {
	w      io.Writer
	logger *slog.Logger

	queue    chan *Call
	wg       sync.WaitGroup
	mu       sync.RWMutex
	closed   bool
	stopOnce sync.Once
}

// NewSink creates a sink and starts its writer goroutine.
func NewSink(cfg SinkConfig) *Sink {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Sink{
		w:      cfg.Writer,
		logger: cfg.Logger,
		queue:  make(chan *Call, cfg.QueueSize),
	}
	s.wg.Add(1)
	go s.run()
	return s
}

func (s *Sink) run() {
	defer s.wg.Done()
	enc := json.NewEncoder(s.w)
	for call := range s.queue {
		if err := enc.Encode(call); err != nil {
			s.logger.Warn("failed to write LLM call record", "id", call.ID, "error", err)
		}
	}
}

// Send queues a call (fire-and-forget). Calls are dropped with a warning
// when the queue is full or the sink is stopped.
func (s *Sink) Send(call *Call) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.logger.Warn("sink closed, dropping LLM call record", "id", call.ID)
		return
	}

	select {
	case s.queue <- call:
	default:
		s.logger.Warn("sink queue full, dropping LLM call record", "id", call.ID)
	}
}

// Stop flushes queued calls and stops the writer goroutine.
func (s *Sink) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.queue)
		s.mu.Unlock()
		s.wg.Wait()
	})
}
