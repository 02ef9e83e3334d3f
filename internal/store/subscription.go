package store

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// fetchFunc reads the current value of a subscription. ok is false when the
// watched entity does not exist yet; nothing is delivered in that case.
type fetchFunc[T any] func(ctx context.Context) (value T, ok bool, err error)

type subscriptionConfig[T any] struct {
	hub      *hub
	topics   []string
	interval time.Duration // poll period, 0 disables polling
	fetch    fetchFunc[T]
	deliver  func(T)
	logger   *slog.Logger
	name     string
}

// subscription runs one callback stream on its own goroutine. Callbacks are
// serialized and only fire when the JSON encoding of the value changed.
type subscription[T any] struct {
	cfg     subscriptionConfig[T]
	trigger chan struct{}
	cancel  context.CancelFunc
	exited  chan struct{}

	closed     atomic.Bool
	inCallback atomic.Bool
	closeOnce  sync.Once
	unregister []func()
}

// subscribe registers on the hub, then performs the initial fetch
// synchronously so establishment errors reach the caller, then hands delivery
// to a goroutine. A change published during the initial fetch leaves a
// pending trigger, so it is re-read once the goroutine starts. ctx bounds only
// the initial fetch; the subscription lives until the returned CancelFunc runs.
func subscribe[T any](ctx context.Context, cfg subscriptionConfig[T]) (CancelFunc, error) {
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}

	subCtx, cancel := context.WithCancel(context.Background())
	s := &subscription[T]{
		cfg:     cfg,
		trigger: make(chan struct{}, 1),
		cancel:  cancel,
		exited:  make(chan struct{}),
	}
	for _, topic := range cfg.topics {
		s.unregister = append(s.unregister, cfg.hub.register(topic, s.notify))
	}

	initial, ok, err := cfg.fetch(ctx)
	if err != nil {
		for _, unregister := range s.unregister {
			unregister()
		}
		cancel()
		return nil, err
	}

	go s.run(subCtx, initial, ok)
	return s.close, nil
}

// notify coalesces change signals; a pending signal already covers this one.
func (s *subscription[T]) notify() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

func (s *subscription[T]) run(ctx context.Context, initial T, ok bool) {
	defer close(s.exited)

	var last []byte
	emit := func(v T) {
		data, err := json.Marshal(v)
		if err != nil {
			s.cfg.logger.Warn("Failed to encode subscription value", "subscription", s.cfg.name, "error", err)
			return
		}
		if last != nil && bytes.Equal(data, last) {
			return
		}
		last = data

		s.inCallback.Store(true)
		defer s.inCallback.Store(false)
		if s.closed.Load() {
			return
		}
		s.cfg.deliver(v)
	}

	if ok {
		emit(initial)
	}

	var tick <-chan time.Time
	if s.cfg.interval > 0 {
		ticker := time.NewTicker(s.cfg.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.trigger:
		case <-tick:
		}

		v, ok, err := s.cfg.fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.cfg.logger.Warn("Subscription fetch failed", "subscription", s.cfg.name, "error", err)
			continue
		}
		if ok {
			emit(v)
		}
	}
}

// close stops future callbacks. When called from another goroutine it waits
// for the delivery goroutine to exit; from inside a callback it returns
// immediately and the goroutine exits once the callback returns.
func (s *subscription[T]) close() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		for _, unregister := range s.unregister {
			unregister()
		}
		s.cancel()
	})
	if !s.inCallback.Load() {
		<-s.exited
	}
}
