package store

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ashureev/designhaus/internal/domain"
)

// Mode names the backend a Selector is currently serving from.
type Mode string

const (
	ModeRemote   Mode = "remote"
	ModeLocal    Mode = "local"
	ModeFallback Mode = "fallback"
)

const resubscribeTimeout = 10 * time.Second

// Selector routes every operation to the remote backend until the remote
// fails once, then permanently to the local backend. It implements Store.
type Selector struct {
	remote   Store
	local    Store
	fallback atomic.Bool
	logger   *slog.Logger

	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]*selectorSub
}

// NewSelector builds a selector. A nil remote means local mode from start.
func NewSelector(remote, local Store, logger *slog.Logger) *Selector {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Selector{
		remote: remote,
		local:  local,
		logger: logger,
		subs:   make(map[uint64]*selectorSub),
	}
	if n, ok := remote.(FailureNotifier); ok {
		n.OnFailure(s.ReportFailure)
	}
	return s
}

// Mode reports which backend is serving.
func (s *Selector) Mode() Mode {
	switch {
	case s.remote == nil:
		return ModeLocal
	case s.fallback.Load():
		return ModeFallback
	default:
		return ModeRemote
	}
}

// InFallback reports whether the selector has switched away from the remote.
func (s *Selector) InFallback() bool {
	return s.fallback.Load()
}

// ReportFailure switches to the local backend. Only the first call has an
// effect; active subscriptions are moved to the local backend.
func (s *Selector) ReportFailure(err error) {
	if s.remote == nil || !s.fallback.CompareAndSwap(false, true) {
		return
	}
	s.logger.Warn("Remote backend failed, falling back to local storage", "error", err)

	s.mu.Lock()
	subs := make([]*selectorSub, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		sub.moveTo(s.local, s.logger)
	}
}

func (s *Selector) useRemote() bool {
	return s.remote != nil && !s.fallback.Load()
}

// shouldFallback reports whether err from the remote means the backend is
// unavailable, as opposed to a domain outcome or the caller giving up.
func shouldFallback(ctx context.Context, err error) bool {
	return err != nil && ctx.Err() == nil && !domain.IsDomainError(err)
}

// run executes op on the active backend. A remote backend failure flips the
// selector and op is re-run once against local.
func run[T any](ctx context.Context, s *Selector, op func(Store) (T, error)) (T, error) {
	if s.useRemote() {
		v, err := op(s.remote)
		if !shouldFallback(ctx, err) {
			return v, err
		}
		s.ReportFailure(err)
	}
	return op(s.local)
}

func (s *Selector) CreateSession(ctx context.Context) (string, error) {
	return run(ctx, s, func(st Store) (string, error) { return st.CreateSession(ctx) })
}

func (s *Selector) VerifySession(ctx context.Context, id string) (bool, error) {
	return run(ctx, s, func(st Store) (bool, error) { return st.VerifySession(ctx, id) })
}

func (s *Selector) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	return run(ctx, s, func(st Store) (*domain.Session, error) { return st.GetSession(ctx, id) })
}

func (s *Selector) ListSessions(ctx context.Context) ([]domain.Session, error) {
	return run(ctx, s, func(st Store) ([]domain.Session, error) { return st.ListSessions(ctx) })
}

func (s *Selector) StartSession(ctx context.Context, id string) error {
	_, err := run(ctx, s, func(st Store) (struct{}, error) { return struct{}{}, st.StartSession(ctx, id) })
	return err
}

func (s *Selector) UpdatePendingDesign(ctx context.Context, id string, design *domain.PendingDesign) error {
	_, err := run(ctx, s, func(st Store) (struct{}, error) {
		return struct{}{}, st.UpdatePendingDesign(ctx, id, design)
	})
	return err
}

func (s *Selector) AddMessage(ctx context.Context, sessionID string, msg domain.Message) (domain.Message, error) {
	return run(ctx, s, func(st Store) (domain.Message, error) { return st.AddMessage(ctx, sessionID, msg) })
}

func (s *Selector) UpdateMessage(ctx context.Context, sessionID, messageID string, update domain.MessageUpdate) (domain.Message, error) {
	return run(ctx, s, func(st Store) (domain.Message, error) {
		return st.UpdateMessage(ctx, sessionID, messageID, update)
	})
}

func (s *Selector) ListMessages(ctx context.Context, sessionID string) ([]domain.Message, error) {
	return run(ctx, s, func(st Store) ([]domain.Message, error) { return st.ListMessages(ctx, sessionID) })
}

func (s *Selector) SubscribeToSession(ctx context.Context, id string, fn func(domain.Session)) (CancelFunc, error) {
	return s.subscribe(ctx, func(ctx context.Context, st Store) (CancelFunc, error) {
		return st.SubscribeToSession(ctx, id, fn)
	})
}

func (s *Selector) SubscribeToMessages(ctx context.Context, sessionID string, fn func([]domain.Message)) (CancelFunc, error) {
	return s.subscribe(ctx, func(ctx context.Context, st Store) (CancelFunc, error) {
		return st.SubscribeToMessages(ctx, sessionID, fn)
	})
}

func (s *Selector) SubscribeToAllSessions(ctx context.Context, fn func([]domain.Session)) (CancelFunc, error) {
	return s.subscribe(ctx, func(ctx context.Context, st Store) (CancelFunc, error) {
		return st.SubscribeToAllSessions(ctx, fn)
	})
}

// Ping checks the active backend.
func (s *Selector) Ping(ctx context.Context) error {
	if s.useRemote() {
		return s.remote.Ping(ctx)
	}
	return s.local.Ping(ctx)
}

// Close closes both backends.
func (s *Selector) Close() error {
	var firstErr error
	if s.remote != nil {
		firstErr = s.remote.Close()
	}
	if err := s.local.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

type openFunc func(ctx context.Context, st Store) (CancelFunc, error)

// selectorSub is a subscription that can be re-established on another backend.
type selectorSub struct {
	open     openFunc
	mu       sync.Mutex
	cancel   CancelFunc
	onRemote bool
	closed   bool
}

func (s *Selector) subscribe(ctx context.Context, open openFunc) (CancelFunc, error) {
	sub := &selectorSub{open: open}

	if s.useRemote() {
		cancel, err := open(ctx, s.remote)
		switch {
		case err == nil:
			sub.cancel, sub.onRemote = cancel, true
		case shouldFallback(ctx, err):
			s.ReportFailure(err)
		default:
			return nil, err
		}
	}
	if sub.cancel == nil {
		cancel, err := open(ctx, s.local)
		if err != nil {
			return nil, err
		}
		sub.cancel = cancel
	}

	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.subs[id] = sub
	s.mu.Unlock()

	// A flip between opening on the remote and registering missed this sub.
	if s.fallback.Load() {
		sub.moveTo(s.local, s.logger)
	}

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
		sub.close()
	}, nil
}

// moveTo re-establishes a remote subscription on st. The new subscription
// replays the full current state.
func (sub *selectorSub) moveTo(st Store, logger *slog.Logger) {
	sub.mu.Lock()
	if sub.closed || !sub.onRemote {
		sub.mu.Unlock()
		return
	}
	old := sub.cancel
	sub.cancel, sub.onRemote = nil, false
	sub.mu.Unlock()

	if old != nil {
		old()
	}

	ctx, cancel := context.WithTimeout(context.Background(), resubscribeTimeout)
	defer cancel()
	next, err := sub.open(ctx, st)
	if err != nil {
		logger.Error("Failed to re-establish subscription on local storage", "error", err)
		return
	}

	sub.mu.Lock()
	if sub.closed {
		sub.mu.Unlock()
		next()
		return
	}
	sub.cancel = next
	sub.mu.Unlock()
}

func (sub *selectorSub) close() {
	sub.mu.Lock()
	if sub.closed {
		sub.mu.Unlock()
		return
	}
	sub.closed = true
	cancel := sub.cancel
	sub.cancel = nil
	sub.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}
