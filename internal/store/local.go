package store

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/ashureev/designhaus/internal/domain"
	"github.com/google/uuid"
)

const (
	DefaultLocalCapacity    = 5 << 20
	DefaultPollInterval     = time.Second
	DefaultListPollInterval = 2 * time.Second
)

// LocalOptions configures a LocalStore.
type LocalOptions struct {
	CapacityBytes    int
	PollInterval     time.Duration
	ListPollInterval time.Duration
	Logger           *slog.Logger
}

// document is the persisted shape of all local state.
type document struct {
	Sessions map[string]domain.Session   `json:"sessions"`
	Messages map[string][]domain.Message `json:"messages"`
	Seq      int64                       `json:"seq"`
}

func newDocument() *document {
	return &document{
		Sessions: make(map[string]domain.Session),
		Messages: make(map[string][]domain.Message),
	}
}

func decodeDocument(data []byte) (*document, error) {
	doc := newDocument()
	if len(data) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	if doc.Sessions == nil {
		doc.Sessions = make(map[string]domain.Session)
	}
	if doc.Messages == nil {
		doc.Messages = make(map[string][]domain.Message)
	}
	return doc, nil
}

// LocalStore implements Store over a single JSON document held by a Medium.
// Every write is a read-modify-write of the whole document.
type LocalStore struct {
	medium           Medium
	hub              *hub
	capacity         int
	pollInterval     time.Duration
	listPollInterval time.Duration
	logger           *slog.Logger
	now              func() time.Time

	cacheMu  sync.Mutex
	cached   *document
	cacheRev int64
}

// NewLocal creates a local store on the given medium.
func NewLocal(medium Medium, opts LocalOptions) *LocalStore {
	if opts.CapacityBytes <= 0 {
		opts.CapacityBytes = DefaultLocalCapacity
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.ListPollInterval <= 0 {
		opts.ListPollInterval = DefaultListPollInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &LocalStore{
		medium:           medium,
		hub:              newHub(),
		capacity:         opts.CapacityBytes,
		pollInterval:     opts.PollInterval,
		listPollInterval: opts.ListPollInterval,
		logger:           opts.Logger,
		now:              func() time.Time { return time.Now().UTC() },
	}
}

// snapshot returns the current document. The result is shared and must not
// be modified; unchanged revisions skip the decode.
func (l *LocalStore) snapshot(ctx context.Context) (*document, error) {
	rev, err := l.medium.Revision(ctx)
	if err != nil {
		return nil, err
	}

	l.cacheMu.Lock()
	defer l.cacheMu.Unlock()
	if l.cached != nil && rev == l.cacheRev {
		return l.cached, nil
	}

	data, rev, err := l.medium.Load(ctx)
	if err != nil {
		return nil, err
	}
	doc, err := decodeDocument(data)
	if err != nil {
		return nil, err
	}
	l.cached, l.cacheRev = doc, rev
	return doc, nil
}

// mutate applies fn to a fresh copy of the document, evicts old sessions if
// the result exceeds capacity, stores it, then signals topics.
func (l *LocalStore) mutate(ctx context.Context, target string, fn func(doc *document) error, topics ...string) error {
	var evicted []string
	_, err := l.medium.Update(ctx, func(current []byte) ([]byte, error) {
		doc, err := decodeDocument(current)
		if err != nil {
			return nil, err
		}
		if err := fn(doc); err != nil {
			return nil, err
		}
		data, dropped, err := l.fit(doc, target)
		evicted = dropped
		return data, err
	})
	if err != nil {
		return err
	}

	for _, id := range evicted {
		l.logger.Info("Evicted session from local storage", "session_id", id)
		topics = append(topics, sessionTopic(id), messagesTopic(id))
	}
	if len(evicted) > 0 {
		topics = append(topics, sessionsTopic)
	}
	l.hub.publish(topics...)
	return nil
}

// fit encodes doc, evicting sessions oldest first until it fits within
// capacity. The target session is never evicted.
func (l *LocalStore) fit(doc *document, target string) ([]byte, []string, error) {
	var evicted []string
	for {
		data, err := json.Marshal(doc)
		if err != nil {
			return nil, nil, fmt.Errorf("encode document: %w", err)
		}
		if len(data) <= l.capacity {
			return data, evicted, nil
		}

		victim, ok := oldestSession(doc, target)
		if !ok {
			return nil, nil, domain.ErrStorageFull
		}
		delete(doc.Sessions, victim)
		delete(doc.Messages, victim)
		evicted = append(evicted, victim)
	}
}

func oldestSession(doc *document, exclude string) (string, bool) {
	var oldest *domain.Session
	for id := range doc.Sessions {
		if id == exclude {
			continue
		}
		s := doc.Sessions[id]
		if oldest == nil || compareCreated(s, *oldest) < 0 {
			oldest = &s
		}
	}
	if oldest == nil {
		return "", false
	}
	return oldest.ID, true
}

func compareCreated(a, b domain.Session) int {
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

// CreateSession creates a fresh session.
func (l *LocalStore) CreateSession(ctx context.Context) (string, error) {
	id := uuid.NewString()
	err := l.mutate(ctx, id, func(doc *document) error {
		createdAt := l.now()
		for _, s := range doc.Sessions {
			if !createdAt.After(s.CreatedAt) {
				createdAt = s.CreatedAt.Add(time.Nanosecond)
			}
		}
		doc.Sessions[id] = domain.Session{
			ID:         id,
			ClientName: newClientName(),
			CreatedAt:  createdAt,
		}
		return nil
	}, sessionTopic(id), sessionsTopic)
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	return id, nil
}

// VerifySession reports whether the session exists.
func (l *LocalStore) VerifySession(ctx context.Context, id string) (bool, error) {
	doc, err := l.snapshot(ctx)
	if err != nil {
		return false, fmt.Errorf("verify session: %w", err)
	}
	_, ok := doc.Sessions[id]
	return ok, nil
}

// GetSession retrieves a session, or nil when absent.
func (l *LocalStore) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	doc, err := l.snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	s, ok := doc.Sessions[id]
	if !ok {
		return nil, nil
	}
	s = s.Clone()
	return &s, nil
}

// ListSessions returns all sessions, newest first.
func (l *LocalStore) ListSessions(ctx context.Context) ([]domain.Session, error) {
	doc, err := l.snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	sessions := make([]domain.Session, 0, len(doc.Sessions))
	for _, s := range doc.Sessions {
		sessions = append(sessions, s.Clone())
	}
	slices.SortFunc(sessions, func(a, b domain.Session) int {
		return compareCreated(b, a)
	})
	return sessions, nil
}

// StartSession marks the session as started.
func (l *LocalStore) StartSession(ctx context.Context, id string) error {
	err := l.mutate(ctx, id, func(doc *document) error {
		s, ok := doc.Sessions[id]
		if !ok {
			return domain.ErrSessionNotFound
		}
		s.Started = true
		doc.Sessions[id] = s
		return nil
	}, sessionTopic(id), sessionsTopic)
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	return nil
}

// UpdatePendingDesign overwrites or clears the pending design.
func (l *LocalStore) UpdatePendingDesign(ctx context.Context, id string, design *domain.PendingDesign) error {
	err := l.mutate(ctx, id, func(doc *document) error {
		s, ok := doc.Sessions[id]
		if !ok {
			return domain.ErrSessionNotFound
		}
		if design == nil {
			s.PendingDesign = nil
		} else {
			pd := *design
			s.PendingDesign = &pd
		}
		doc.Sessions[id] = s
		return nil
	}, sessionTopic(id), sessionsTopic)
	if err != nil {
		return fmt.Errorf("update pending design: %w", err)
	}
	return nil
}

// AddMessage appends a message to the session log.
func (l *LocalStore) AddMessage(ctx context.Context, sessionID string, msg domain.Message) (domain.Message, error) {
	if err := validateMessage(msg); err != nil {
		return domain.Message{}, err
	}

	var stored domain.Message
	err := l.mutate(ctx, sessionID, func(doc *document) error {
		if _, ok := doc.Sessions[sessionID]; !ok {
			return domain.ErrSessionNotFound
		}
		log := doc.Messages[sessionID]

		ts := l.now()
		if n := len(log); n > 0 && ts.Before(log[n-1].Timestamp) {
			ts = log[n-1].Timestamp
		}
		doc.Seq++

		stored = msg.Clone()
		stored.ID = uuid.NewString()
		stored.Timestamp = ts
		stored.Seq = doc.Seq
		doc.Messages[sessionID] = append(log, stored)
		return nil
	}, messagesTopic(sessionID))
	if err != nil {
		return domain.Message{}, fmt.Errorf("add message: %w", err)
	}
	return stored.Clone(), nil
}

// UpdateMessage applies a patch to one message in a single document write.
func (l *LocalStore) UpdateMessage(ctx context.Context, sessionID, messageID string, update domain.MessageUpdate) (domain.Message, error) {
	var updated domain.Message
	err := l.mutate(ctx, sessionID, func(doc *document) error {
		log := doc.Messages[sessionID]
		for i := range log {
			if log[i].ID != messageID {
				continue
			}
			next, err := log[i].Apply(update)
			if err != nil {
				return err
			}
			log[i] = next
			updated = next
			return nil
		}
		return domain.ErrMessageNotFound
	}, messagesTopic(sessionID))
	if err != nil {
		return domain.Message{}, fmt.Errorf("update message: %w", err)
	}
	return updated.Clone(), nil
}

// ListMessages returns the session log in order.
func (l *LocalStore) ListMessages(ctx context.Context, sessionID string) ([]domain.Message, error) {
	doc, err := l.snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	log := doc.Messages[sessionID]
	messages := make([]domain.Message, 0, len(log))
	for _, m := range log {
		messages = append(messages, m.Clone())
	}
	slices.SortStableFunc(messages, func(a, b domain.Message) int {
		switch {
		case a.Before(b):
			return -1
		case b.Before(a):
			return 1
		}
		return 0
	})
	return messages, nil
}

// SubscribeToSession delivers the session on every local or polled change.
func (l *LocalStore) SubscribeToSession(ctx context.Context, id string, fn func(domain.Session)) (CancelFunc, error) {
	return subscribe(ctx, subscriptionConfig[domain.Session]{
		hub:      l.hub,
		topics:   []string{sessionTopic(id)},
		interval: l.pollInterval,
		logger:   l.logger,
		name:     sessionTopic(id),
		deliver:  fn,
		fetch: func(ctx context.Context) (domain.Session, bool, error) {
			s, err := l.GetSession(ctx, id)
			if err != nil || s == nil {
				return domain.Session{}, false, err
			}
			return *s, true, nil
		},
	})
}

// SubscribeToMessages delivers the session log on every change.
func (l *LocalStore) SubscribeToMessages(ctx context.Context, sessionID string, fn func([]domain.Message)) (CancelFunc, error) {
	return subscribe(ctx, subscriptionConfig[[]domain.Message]{
		hub:      l.hub,
		topics:   []string{messagesTopic(sessionID)},
		interval: l.pollInterval,
		logger:   l.logger,
		name:     messagesTopic(sessionID),
		deliver:  fn,
		fetch: func(ctx context.Context) ([]domain.Message, bool, error) {
			messages, err := l.ListMessages(ctx, sessionID)
			return messages, err == nil, err
		},
	})
}

// SubscribeToAllSessions delivers the session list on every change.
func (l *LocalStore) SubscribeToAllSessions(ctx context.Context, fn func([]domain.Session)) (CancelFunc, error) {
	return subscribe(ctx, subscriptionConfig[[]domain.Session]{
		hub:      l.hub,
		topics:   []string{sessionsTopic},
		interval: l.listPollInterval,
		logger:   l.logger,
		name:     sessionsTopic,
		deliver:  fn,
		fetch: func(ctx context.Context) ([]domain.Session, bool, error) {
			sessions, err := l.ListSessions(ctx)
			return sessions, err == nil, err
		},
	})
}

// Ping verifies the medium is readable.
func (l *LocalStore) Ping(ctx context.Context) error {
	_, err := l.medium.Revision(ctx)
	return err
}

// Close closes the underlying medium.
func (l *LocalStore) Close() error {
	return l.medium.Close()
}
