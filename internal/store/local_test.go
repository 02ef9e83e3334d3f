package store

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/designhaus/internal/domain"
	"github.com/shopspring/decimal"
)

func newTestLocal(t *testing.T, opts LocalOptions) *LocalStore {
	t.Helper()
	l := NewLocal(NewMemoryMedium(), opts)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestLocalStore_CreateAndVerify(t *testing.T) {
	ctx := context.Background()
	l := newTestLocal(t, LocalOptions{})

	id, err := l.CreateSession(ctx)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	ok, err := l.VerifySession(ctx, id)
	if err != nil || !ok {
		t.Fatalf("Expected session to verify, got ok=%v err=%v", ok, err)
	}

	s, err := l.GetSession(ctx, id)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if s.Started || s.PendingDesign != nil {
		t.Errorf("Expected fresh session, got %+v", s)
	}
	if !strings.HasPrefix(s.ClientName, "Client-") {
		t.Errorf("Expected generated client name, got %q", s.ClientName)
	}
}

func TestLocalStore_VerifyUnknown(t *testing.T) {
	l := newTestLocal(t, LocalOptions{})

	for _, id := range []string{"missing", "", "../../etc"} {
		ok, err := l.VerifySession(context.Background(), id)
		if err != nil || ok {
			t.Errorf("VerifySession(%q) = %v, %v; want false, nil", id, ok, err)
		}
	}

	s, err := l.GetSession(context.Background(), "missing")
	if s != nil || err != nil {
		t.Errorf("Expected nil, nil for absent session, got %v, %v", s, err)
	}
}

func TestLocalStore_StartSessionIdempotent(t *testing.T) {
	ctx := context.Background()
	l := newTestLocal(t, LocalOptions{})
	id, _ := l.CreateSession(ctx)

	for i := 0; i < 2; i++ {
		if err := l.StartSession(ctx, id); err != nil {
			t.Fatalf("StartSession #%d failed: %v", i+1, err)
		}
	}
	s, _ := l.GetSession(ctx, id)
	if !s.Started {
		t.Error("Expected session to be started")
	}

	if err := l.StartSession(ctx, "missing"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Errorf("Expected ErrSessionNotFound, got %v", err)
	}
}

func TestLocalStore_PendingDesignSetAndClear(t *testing.T) {
	ctx := context.Background()
	l := newTestLocal(t, LocalOptions{})
	id, _ := l.CreateSession(ctx)

	design := &domain.PendingDesign{
		OriginalPrompt: "matte black coffee pouch",
		ImageURL:       "https://cdn.example/pouch.png",
		Status:         domain.DesignStatusGenerated,
	}
	if err := l.UpdatePendingDesign(ctx, id, design); err != nil {
		t.Fatalf("UpdatePendingDesign failed: %v", err)
	}
	s, _ := l.GetSession(ctx, id)
	if s.PendingDesign == nil || s.PendingDesign.ImageURL != design.ImageURL {
		t.Fatalf("Expected pending design to be stored, got %+v", s.PendingDesign)
	}

	for i := 0; i < 2; i++ {
		if err := l.UpdatePendingDesign(ctx, id, nil); err != nil {
			t.Fatalf("clear #%d failed: %v", i+1, err)
		}
	}
	s, _ = l.GetSession(ctx, id)
	if s.PendingDesign != nil {
		t.Errorf("Expected pending design to be cleared, got %+v", s.PendingDesign)
	}
}

func TestLocalStore_MessagesReplayInOrder(t *testing.T) {
	ctx := context.Background()
	l := newTestLocal(t, LocalOptions{})
	id, _ := l.CreateSession(ctx)

	// A clock that never advances forces ties on timestamp.
	frozen := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return frozen }

	contents := []string{"first", "second", "third", "fourth"}
	for _, c := range contents {
		if _, err := l.AddMessage(ctx, id, domain.Message{Role: domain.RoleUser, Content: c}); err != nil {
			t.Fatalf("AddMessage failed: %v", err)
		}
	}

	got, err := l.ListMessages(ctx, id)
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	if len(got) != len(contents) {
		t.Fatalf("Expected %d messages, got %d", len(contents), len(got))
	}
	for i, m := range got {
		if m.Content != contents[i] {
			t.Errorf("message %d: expected %q, got %q", i, contents[i], m.Content)
		}
		if i > 0 && !got[i-1].Before(m) {
			t.Errorf("message %d is not ordered after its predecessor", i)
		}
	}
}

func TestLocalStore_TimestampsNeverGoBackwards(t *testing.T) {
	ctx := context.Background()
	l := newTestLocal(t, LocalOptions{})
	id, _ := l.CreateSession(ctx)

	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := []time.Time{base, base.Add(-time.Minute), base.Add(time.Second)}
	i := 0
	l.now = func() time.Time { ts := clock[i]; i++; return ts }

	for range clock {
		if _, err := l.AddMessage(ctx, id, domain.Message{Role: domain.RoleAI}); err != nil {
			t.Fatalf("AddMessage failed: %v", err)
		}
	}
	got, _ := l.ListMessages(ctx, id)
	if got[1].Timestamp.Before(got[0].Timestamp) {
		t.Errorf("Expected clamped timestamp, got %v after %v", got[1].Timestamp, got[0].Timestamp)
	}
}

func TestLocalStore_AddMessageErrors(t *testing.T) {
	ctx := context.Background()
	l := newTestLocal(t, LocalOptions{})
	id, _ := l.CreateSession(ctx)

	if _, err := l.AddMessage(ctx, "missing", domain.Message{Role: domain.RoleUser}); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Errorf("Expected ErrSessionNotFound, got %v", err)
	}
	if _, err := l.AddMessage(ctx, id, domain.Message{Role: "robot"}); !errors.Is(err, domain.ErrInvalidMessage) {
		t.Errorf("Expected ErrInvalidMessage, got %v", err)
	}
	if _, err := l.AddMessage(ctx, id, domain.Message{Role: domain.RoleUser, Content: "a\x00b"}); !errors.Is(err, domain.ErrInvalidMessage) {
		t.Errorf("Expected ErrInvalidMessage for NUL content, got %v", err)
	}
	withNUL := domain.Message{
		Role:        domain.RoleUser,
		Attachments: []domain.Attachment{{Type: domain.AttachmentImage, URL: "https://cdn.example/\x00.png"}},
	}
	if _, err := l.AddMessage(ctx, id, withNUL); !errors.Is(err, domain.ErrInvalidMessage) {
		t.Errorf("Expected ErrInvalidMessage for NUL attachment, got %v", err)
	}
	if _, err := l.AddMessage(ctx, id, domain.Message{Role: domain.RoleUser, IsPaid: true}); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("Expected ErrInvalidTransition for paid plain message, got %v", err)
	}
}

func TestLocalStore_UnlockProposal(t *testing.T) {
	ctx := context.Background()
	l := newTestLocal(t, LocalOptions{})
	id, _ := l.CreateSession(ctx)

	proposal, err := l.AddMessage(ctx, id, domain.NewProposal("offer", "https://cdn.example/a.png", decimal.NewFromInt(25)))
	if err != nil {
		t.Fatalf("AddMessage failed: %v", err)
	}

	f := false
	if _, err := l.UpdateMessage(ctx, id, proposal.ID, domain.MessageUpdate{IsLocked: &f}); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("Expected half unlock to be rejected, got %v", err)
	}

	if _, err := l.UpdateMessage(ctx, id, proposal.ID, domain.UnlockUpdate()); err != nil {
		t.Fatalf("UpdateMessage failed: %v", err)
	}
	got, _ := l.ListMessages(ctx, id)
	if got[0].IsLocked || !got[0].IsPaid {
		t.Errorf("Expected unlocked and paid in one read, got locked=%v paid=%v", got[0].IsLocked, got[0].IsPaid)
	}
	if !got[0].ProposalAmount.Equal(decimal.NewFromInt(25)) {
		t.Errorf("Expected amount to survive, got %v", got[0].ProposalAmount)
	}

	if _, err := l.UpdateMessage(ctx, id, "missing", domain.UnlockUpdate()); !errors.Is(err, domain.ErrMessageNotFound) {
		t.Errorf("Expected ErrMessageNotFound, got %v", err)
	}
}

func TestLocalStore_ListSessionsNewestFirst(t *testing.T) {
	ctx := context.Background()
	l := newTestLocal(t, LocalOptions{})

	var ids []string
	for i := 0; i < 3; i++ {
		id, _ := l.CreateSession(ctx)
		ids = append(ids, id)
	}

	sessions, err := l.ListSessions(ctx)
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	for i, s := range sessions {
		if want := ids[len(ids)-1-i]; s.ID != want {
			t.Errorf("position %d: expected %s, got %s", i, want, s.ID)
		}
	}
}

func TestLocalStore_EvictsOldestSessions(t *testing.T) {
	ctx := context.Background()
	medium := NewMemoryMedium()
	big := newTestLocalOn(t, medium, 1<<20)

	var ids []string
	for i := 0; i < 4; i++ {
		id, err := big.CreateSession(ctx)
		if err != nil {
			t.Fatalf("CreateSession failed: %v", err)
		}
		_, err = big.AddMessage(ctx, id, domain.Message{Role: domain.RoleUser, Content: strings.Repeat("x", 2000)})
		if err != nil {
			t.Fatalf("AddMessage failed: %v", err)
		}
		ids = append(ids, id)
	}

	// Reopen with room for roughly two sessions; the next write must evict.
	small := newTestLocalOn(t, medium, 5500)
	if _, err := small.AddMessage(ctx, ids[3], domain.Message{Role: domain.RoleAI, Content: "ok"}); err != nil {
		t.Fatalf("AddMessage under pressure failed: %v", err)
	}

	for _, id := range ids[:2] {
		if ok, _ := small.VerifySession(ctx, id); ok {
			t.Errorf("Expected oldest session %s to be evicted", id)
		}
		if msgs, _ := small.ListMessages(ctx, id); len(msgs) != 0 {
			t.Errorf("Expected messages of %s to be evicted with it", id)
		}
	}
	if ok, _ := small.VerifySession(ctx, ids[3]); !ok {
		t.Error("Expected written session to survive")
	}
}

func TestLocalStore_StorageFullWhenTargetAloneTooBig(t *testing.T) {
	ctx := context.Background()
	l := newTestLocal(t, LocalOptions{CapacityBytes: 2000})
	id, err := l.CreateSession(ctx)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	_, err = l.AddMessage(ctx, id, domain.Message{Role: domain.RoleUser, Content: strings.Repeat("x", 4000)})
	if !errors.Is(err, domain.ErrStorageFull) {
		t.Fatalf("Expected ErrStorageFull, got %v", err)
	}
	if msgs, _ := l.ListMessages(ctx, id); len(msgs) != 0 {
		t.Error("Expected failed write to leave no message behind")
	}
}

func newTestLocalOn(t *testing.T, medium Medium, capacity int) *LocalStore {
	t.Helper()
	return NewLocal(medium, LocalOptions{CapacityBytes: capacity})
}
