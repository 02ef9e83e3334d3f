package realtime

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/designhaus/internal/domain"
	"github.com/ashureev/designhaus/internal/identity"
	"github.com/ashureev/designhaus/internal/store"
	"github.com/coder/websocket"
)

func TestRegistry_RegisterUnregister(t *testing.T) {
	reg := NewRegistry()
	customer := &websocket.Conn{}
	admin := &websocket.Conn{}

	reg.Register("s-1", "customer", customer)
	reg.Register("s-1", "admin", admin)
	if reg.Count("s-1") != 2 {
		t.Fatalf("Expected 2 views, got %d", reg.Count("s-1"))
	}

	// Unregistering an unknown connection leaves the others alone.
	reg.Unregister("s-1", &websocket.Conn{})
	reg.Unregister("s-1", customer)
	if got := reg.Viewers("s-1"); len(got) != 1 || got[0] != "admin" {
		t.Errorf("Expected only the admin view, got %v", got)
	}

	reg.Unregister("s-1", admin)
	if reg.Count("s-1") != 0 {
		t.Errorf("Expected no views, got %d", reg.Count("s-1"))
	}
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	reg := NewRegistry()
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			reg.Register("s-"+strconv.Itoa(i%10), "customer", &websocket.Conn{})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			reg.Count("s-" + strconv.Itoa(i%10))
		}
	}()
	wg.Wait()
}

func TestFrameWriter_KeepsLatestPerType(t *testing.T) {
	release := make(chan struct{})
	var mu sync.Mutex
	var written []Frame

	fw := NewFrameWriter(func(_ context.Context, data []byte) error {
		<-release
		var f Frame
		_ = json.Unmarshal(data, &f)
		mu.Lock()
		written = append(written, f)
		mu.Unlock()
		return nil
	}, nil)
	defer fw.Close()

	fw.Send(Frame{Type: FrameMessages, Data: 1})
	// Give the writer time to pick up the first frame and block on it.
	time.Sleep(50 * time.Millisecond)
	fw.Send(Frame{Type: FrameMessages, Data: 2})
	fw.Send(Frame{Type: FrameSession, Data: "a"})
	fw.Send(Frame{Type: FrameMessages, Data: 3})
	close(release)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(written)
		mu.Unlock()
		if n >= 3 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(written) != 3 {
		t.Fatalf("Expected 3 frames, got %+v", written)
	}
	if written[1].Type != FrameMessages || written[1].Data != float64(3) {
		t.Errorf("Expected intermediate messages frame to be replaced, got %+v", written[1])
	}
	if written[2].Type != FrameSession {
		t.Errorf("Expected session frame last, got %+v", written[2])
	}
}

func TestFrameWriter_StopsOnWriteError(t *testing.T) {
	fw := NewFrameWriter(func(context.Context, []byte) error {
		return errors.New("broken pipe")
	}, nil)
	fw.Send(Frame{Type: FramePong})

	select {
	case <-fw.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Expected writer to stop after a write error")
	}
	fw.Close()
}

type fixedMode store.Mode

func (m fixedMode) Mode() store.Mode { return store.Mode(m) }

func newLocal(t *testing.T) *store.LocalStore {
	t.Helper()
	l := store.NewLocal(store.NewMemoryMedium(), store.LocalOptions{
		PollInterval:     50 * time.Millisecond,
		ListPollInterval: 50 * time.Millisecond,
	})
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func readFrame(t *testing.T, ctx context.Context, conn *websocket.Conn) Frame {
	t.Helper()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("Invalid frame %s: %v", data, err)
	}
	return f
}

func TestWebSocketHandler_StreamsSessionAndMessages(t *testing.T) {
	st := newLocal(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	id, err := st.CreateSession(ctx)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	reg := NewRegistry()
	h := NewWebSocketHandler(st, reg, fixedMode(store.ModeLocal), "", true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.ServeCustomer(w, r.WithContext(identity.WithSessionID(r.Context(), id)))
	}))
	defer srv.Close()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	seen := map[string]bool{}
	for len(seen) < 3 {
		seen[readFrame(t, ctx, conn).Type] = true
	}
	if !seen[FrameMode] || !seen[FrameSession] || !seen[FrameMessages] {
		t.Fatalf("Expected mode, session and messages frames, got %v", seen)
	}
	if reg.Count(id) != 1 {
		t.Errorf("Expected registered view, got %d", reg.Count(id))
	}

	if _, err := st.AddMessage(ctx, id, domain.Message{Role: domain.RoleUser, Content: "ice cream pint"}); err != nil {
		t.Fatalf("AddMessage failed: %v", err)
	}
	for {
		f := readFrame(t, ctx, conn)
		if f.Type != FrameMessages {
			continue
		}
		msgs, _ := f.Data.([]any)
		if len(msgs) == 1 {
			break
		}
	}

	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"ping"}`)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	for readFrame(t, ctx, conn).Type != FramePong {
	}
}

func TestWebSocketHandler_AdminUnknownSession(t *testing.T) {
	h := NewWebSocketHandler(newLocal(t), NewRegistry(), nil, "", true)
	req := httptest.NewRequest(http.MethodGet, "/ws/admin/sessions/missing", nil)
	w := httptest.NewRecorder()
	h.ServeAdmin(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}

func TestWebSocketHandler_RejectsForeignOrigin(t *testing.T) {
	h := NewWebSocketHandler(newLocal(t), NewRegistry(), nil, "https://designhaus.example", false)
	req := httptest.NewRequest(http.MethodGet, "/ws/session", nil)
	req.Header.Set("Origin", "https://evil.example")
	w := httptest.NewRecorder()
	h.ServeCustomer(w, req.WithContext(identity.WithSessionID(req.Context(), "s-1")))
	if w.Code != http.StatusForbidden {
		t.Errorf("Expected 403, got %d", w.Code)
	}
}

func TestSessionListStream(t *testing.T) {
	st := newLocal(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	srv := httptest.NewServer(NewSessionListStream(st, time.Minute))
	defer srv.Close()

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Expected event stream, got %q", ct)
	}

	lines := make(chan string, 64)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	waitForSessions := func(want int) {
		t.Helper()
		event := ""
		for {
			select {
			case line, ok := <-lines:
				if !ok {
					t.Fatal("Stream closed early")
				}
				if strings.HasPrefix(line, "event: ") {
					event = strings.TrimPrefix(line, "event: ")
					continue
				}
				if event == FrameSessions && strings.HasPrefix(line, "data: ") {
					var sessions []domain.Session
					if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &sessions); err != nil {
						t.Fatalf("Invalid payload: %v", err)
					}
					if len(sessions) == want {
						return
					}
				}
			case <-ctx.Done():
				t.Fatalf("Timed out waiting for %d sessions", want)
			}
		}
	}

	waitForSessions(0)
	if _, err := st.CreateSession(ctx); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	waitForSessions(1)
}
