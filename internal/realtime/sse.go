package realtime

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ashureev/designhaus/internal/domain"
	"github.com/ashureev/designhaus/internal/store"
)

const (
	defaultKeepalive  = 15 * time.Second
	defaultRetryDelay = 3 * time.Second
)

// SessionListStream pushes the admin sidebar's session list over SSE.
type SessionListStream struct {
	store     store.Store
	keepalive time.Duration
	logger    *slog.Logger
}

// NewSessionListStream creates the handler. keepalive <= 0 uses the default.
func NewSessionListStream(st store.Store, keepalive time.Duration) *SessionListStream {
	if keepalive <= 0 {
		keepalive = defaultKeepalive
	}
	return &SessionListStream{store: st, keepalive: keepalive, logger: slog.Default()}
}

func (h *SessionListStream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, `{"error": "streaming not supported"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	if _, err := fmt.Fprintf(w, "retry: %d\n\n", defaultRetryDelay.Milliseconds()); err != nil {
		return
	}
	flusher.Flush()

	// Callbacks run on the subscription goroutine, the keepalive on this one.
	// w must not be touched once the handler returns.
	var mu sync.Mutex
	var stopped bool
	defer func() {
		mu.Lock()
		stopped = true
		mu.Unlock()
	}()
	failed := make(chan struct{})
	var failOnce sync.Once
	var eventID int64

	emit := func(event string, data []byte) {
		mu.Lock()
		defer mu.Unlock()
		if stopped {
			return
		}
		eventID++
		if err := writeSSEWithID(w, eventID, event, string(data)); err != nil {
			failOnce.Do(func() { close(failed) })
			return
		}
		flusher.Flush()
	}

	cancel, err := h.store.SubscribeToAllSessions(r.Context(), func(sessions []domain.Session) {
		data, err := json.Marshal(sessions)
		if err != nil {
			h.logger.Error("Failed to encode session list", "error", err)
			return
		}
		emit(FrameSessions, data)
	})
	if err != nil {
		h.logger.Error("Failed to subscribe to session list", "error", err)
		mu.Lock()
		_ = writeSSE(w, FrameError, `{"error":"subscription_failed"}`)
		flusher.Flush()
		mu.Unlock()
		return
	}
	defer cancel()

	h.logger.Info("Session list stream connected", "ip", r.RemoteAddr)

	keepalive := time.NewTicker(h.keepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			h.logger.Info("Session list stream disconnected")
			return
		case <-failed:
			h.logger.Debug("Session list stream write failed")
			return
		case <-keepalive.C:
			mu.Lock()
			err := writeSSE(w, "ping", `{"status":"alive"}`)
			if err == nil {
				flusher.Flush()
			}
			mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func writeSSE(w io.Writer, event, data string) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

func writeSSEWithID(w io.Writer, id int64, event, data string) error {
	_, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", id, event, data)
	return err
}
