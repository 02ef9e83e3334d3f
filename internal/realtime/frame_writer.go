package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// Frame is one push to a view. Data is always the full current value.
type Frame struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

const (
	FrameSession  = "session"
	FrameMessages = "messages"
	FrameSessions = "sessions"
	FrameMode     = "mode"
	FramePong     = "pong"
	FrameError    = "error"
)

type writeFunc func(ctx context.Context, data []byte) error

// FrameWriter decouples subscription callbacks from slow connections. Each
// frame type keeps only its latest pending payload, so a stalled client
// skips intermediate states instead of blocking the store's delivery
// goroutine.
type FrameWriter struct {
	write  writeFunc
	logger *slog.Logger

	mu      sync.Mutex
	pending map[string][]byte
	order   []string
	signal  chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewFrameWriter starts a writer that sends frames with write.
func NewFrameWriter(write writeFunc, logger *slog.Logger) *FrameWriter {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	w := &FrameWriter{
		write:   write,
		logger:  logger,
		pending: make(map[string][]byte),
		signal:  make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go w.run()
	return w
}

// Send queues a frame, replacing any unsent frame of the same type.
func (w *FrameWriter) Send(f Frame) {
	data, err := json.Marshal(f)
	if err != nil {
		w.logger.Error("Failed to encode frame", "type", f.Type, "error", err)
		return
	}

	w.mu.Lock()
	if _, queued := w.pending[f.Type]; queued {
		w.logger.Debug("Replacing unsent frame", "type", f.Type)
	} else {
		w.order = append(w.order, f.Type)
	}
	w.pending[f.Type] = data
	w.mu.Unlock()

	select {
	case w.signal <- struct{}{}:
	default:
	}
}

// Done is closed when the writer stops, either via Close or a write error.
func (w *FrameWriter) Done() <-chan struct{} {
	return w.done
}

func (w *FrameWriter) run() {
	defer close(w.done)
	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.signal:
		}

		for {
			data, ok := w.next()
			if !ok {
				break
			}
			start := time.Now()
			if err := w.write(w.ctx, data); err != nil {
				if w.ctx.Err() == nil {
					w.logger.Debug("Frame write failed", "error", err)
				}
				w.cancel()
				return
			}
			if d := time.Since(start); d > time.Second {
				w.logger.Warn("Slow realtime client", "duration_ms", d.Milliseconds())
			}
		}
	}
}

func (w *FrameWriter) next() ([]byte, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.order) == 0 {
		return nil, false
	}
	typ := w.order[0]
	w.order = w.order[1:]
	data := w.pending[typ]
	delete(w.pending, typ)
	return data, true
}

// Close stops the writer and waits for it to exit. Unsent frames are dropped.
func (w *FrameWriter) Close() {
	w.cancel()
	select {
	case <-w.done:
	case <-time.After(5 * time.Second):
		w.logger.Warn("Frame writer shutdown timeout")
	}
}
