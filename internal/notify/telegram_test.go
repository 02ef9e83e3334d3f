package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/ashureev/designhaus/internal/domain"
	"github.com/go-telegram/bot"
	"github.com/shopspring/decimal"
)

type sentMessage struct {
	path string
	text string
}

func newTelegramServer(t *testing.T) (*httptest.Server, func() []sentMessage) {
	t.Helper()
	var mu sync.Mutex
	var sent []sentMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseMultipartForm(1 << 20)
		mu.Lock()
		sent = append(sent, sentMessage{path: r.URL.Path, text: r.FormValue("text")})
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":1,"date":0,"chat":{"id":42,"type":"private"}}}`))
	}))
	t.Cleanup(srv.Close)
	return srv, func() []sentMessage {
		mu.Lock()
		defer mu.Unlock()
		return append([]sentMessage(nil), sent...)
	}
}

func TestTelegram_DesignGenerated(t *testing.T) {
	srv, sent := newTelegramServer(t)
	n, err := NewTelegram("123:abc", 42, nil, bot.WithServerURL(srv.URL))
	if err != nil {
		t.Fatalf("NewTelegram failed: %v", err)
	}

	n.DesignGenerated(context.Background(),
		domain.Session{ID: "s-1", ClientName: "Client-7"},
		domain.PendingDesign{OriginalPrompt: "kombucha bottle"},
	)

	got := sent()
	if len(got) != 1 {
		t.Fatalf("Expected one message, got %d", len(got))
	}
	if !strings.HasSuffix(got[0].path, "/sendMessage") {
		t.Errorf("Unexpected method path %q", got[0].path)
	}
	if !strings.Contains(got[0].text, "kombucha bottle") || !strings.Contains(got[0].text, "Client-7") {
		t.Errorf("Unexpected text %q", got[0].text)
	}
}

func TestTelegram_ProposalUnlocked(t *testing.T) {
	srv, sent := newTelegramServer(t)
	n, err := NewTelegram("123:abc", 42, nil, bot.WithServerURL(srv.URL))
	if err != nil {
		t.Fatalf("NewTelegram failed: %v", err)
	}

	amount := decimal.NewFromInt(25)
	n.ProposalUnlocked(context.Background(), "s-1", domain.Message{ProposalAmount: &amount})

	got := sent()
	if len(got) != 1 || !strings.Contains(got[0].text, "$25.00") {
		t.Fatalf("Unexpected messages %+v", got)
	}
}

func TestTelegram_NoChatConfigured(t *testing.T) {
	srv, sent := newTelegramServer(t)
	n, err := NewTelegram("123:abc", 0, nil, bot.WithServerURL(srv.URL))
	if err != nil {
		t.Fatalf("NewTelegram failed: %v", err)
	}
	n.DesignGenerated(context.Background(), domain.Session{}, domain.PendingDesign{})
	if len(sent()) != 0 {
		t.Error("Expected nothing to be sent without a chat id")
	}
}
