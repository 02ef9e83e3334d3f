package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/ashureev/designhaus/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// ChangeChannel is the LISTEN/NOTIFY channel the schema triggers publish on.
const ChangeChannel = "designhaus_changes"

// DefaultInlineLimit is the largest inline data URL the remote accepts.
const DefaultInlineLimit = 900 << 10

const pgForeignKeyViolation = "23503"

// wrapPgError wraps err with action. Data exceptions (class 22) and integrity
// violations (class 23) are reported as ErrInvalidData: the backend answered,
// it just refused the input.
func wrapPgError(action string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (strings.HasPrefix(pgErr.Code, "22") || strings.HasPrefix(pgErr.Code, "23")) {
		return fmt.Errorf("%s: %w: %s (%s)", action, domain.ErrInvalidData, pgErr.Message, pgErr.Code)
	}
	return fmt.Errorf("%s: %w", action, err)
}

// PostgresOptions configures a PostgresStore.
type PostgresOptions struct {
	InlineLimitBytes int
	MaxConns         int32
	Logger           *slog.Logger
}

// PostgresStore implements Store on Postgres. Change notifications arrive
// through a single LISTEN connection and are fanned out in process.
type PostgresStore struct {
	pool        *pgxpool.Pool
	hub         *hub
	inlineLimit int
	logger      *slog.Logger

	listenMu     sync.Mutex
	listening    bool
	listenCancel context.CancelFunc
	listenDone   chan struct{}

	failMu    sync.Mutex
	onFailure []func(error)
}

type changeNotification struct {
	Kind      string `json:"kind"`
	SessionID string `json:"session_id"`
}

// NewPostgres creates a store on a new connection pool. Connections are
// established lazily; call Ping to verify reachability.
func NewPostgres(ctx context.Context, databaseURL string, opts PostgresOptions) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	if opts.MaxConns > 0 {
		config.MaxConns = opts.MaxConns
	} else {
		config.MaxConns = 10
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	return NewPostgresWithPool(pool, opts), nil
}

// NewPostgresWithPool wraps an existing pool.
func NewPostgresWithPool(pool *pgxpool.Pool, opts PostgresOptions) *PostgresStore {
	if opts.InlineLimitBytes <= 0 {
		opts.InlineLimitBytes = DefaultInlineLimit
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &PostgresStore{
		pool:        pool,
		hub:         newHub(),
		inlineLimit: opts.InlineLimitBytes,
		logger:      opts.Logger,
	}
}

// OnFailure registers fn to be called when the notification listener dies.
func (p *PostgresStore) OnFailure(fn func(error)) {
	p.failMu.Lock()
	defer p.failMu.Unlock()
	p.onFailure = append(p.onFailure, fn)
}

func (p *PostgresStore) reportFailure(err error) {
	p.failMu.Lock()
	handlers := append([]func(error){}, p.onFailure...)
	p.failMu.Unlock()
	for _, fn := range handlers {
		fn(err)
	}
}

// Ping verifies database connectivity.
func (p *PostgresStore) Ping(ctx context.Context) error {
	if err := p.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	return nil
}

// Close stops the listener and closes the pool.
func (p *PostgresStore) Close() error {
	p.listenMu.Lock()
	cancel, done := p.listenCancel, p.listenDone
	p.listening = false
	p.listenMu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
	p.pool.Close()
	return nil
}

// CreateSession inserts a fresh session.
func (p *PostgresStore) CreateSession(ctx context.Context) (string, error) {
	id := uuid.NewString()
	_, err := p.pool.Exec(ctx,
		`INSERT INTO sessions (id, client_name) VALUES ($1, $2)`,
		id, newClientName(),
	)
	if err != nil {
		return "", wrapPgError("create session", err)
	}
	return id, nil
}

// VerifySession reports whether the session exists.
func (p *PostgresStore) VerifySession(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := p.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM sessions WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, wrapPgError("verify session", err)
	}
	return exists, nil
}

const sessionColumns = `id, client_name, created_at, started, pending_design`

func scanSession(row pgx.Row) (domain.Session, error) {
	var s domain.Session
	var pending []byte
	if err := row.Scan(&s.ID, &s.ClientName, &s.CreatedAt, &s.Started, &pending); err != nil {
		return domain.Session{}, err
	}
	s.CreatedAt = s.CreatedAt.UTC()
	if len(pending) > 0 && string(pending) != "null" {
		var pd domain.PendingDesign
		if err := json.Unmarshal(pending, &pd); err != nil {
			return domain.Session{}, fmt.Errorf("decode pending design: %w", err)
		}
		s.PendingDesign = &pd
	}
	return s, nil
}

// GetSession retrieves a session, or nil when absent.
func (p *PostgresStore) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id)
	s, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapPgError("scan session row", err)
	}
	return &s, nil
}

// ListSessions returns all sessions, newest first.
func (p *PostgresStore) ListSessions(ctx context.Context) ([]domain.Session, error) {
	rows, err := p.pool.Query(ctx, `SELECT `+sessionColumns+` FROM sessions ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, wrapPgError("query sessions", err)
	}
	defer rows.Close()

	sessions := []domain.Session{}
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// StartSession marks the session as started.
func (p *PostgresStore) StartSession(ctx context.Context, id string) error {
	tag, err := p.pool.Exec(ctx, `UPDATE sessions SET started = TRUE WHERE id = $1`, id)
	if err != nil {
		return wrapPgError("start session", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

// UpdatePendingDesign overwrites or clears the pending design.
func (p *PostgresStore) UpdatePendingDesign(ctx context.Context, id string, design *domain.PendingDesign) error {
	var pending []byte
	if design != nil {
		if domain.ExceedsInlineLimit(design.ImageURL, p.inlineLimit) {
			return domain.ErrPayloadTooLarge
		}
		var err error
		if pending, err = json.Marshal(design); err != nil {
			return fmt.Errorf("encode pending design: %w", err)
		}
	}

	tag, err := p.pool.Exec(ctx, `UPDATE sessions SET pending_design = $1 WHERE id = $2`, pending, id)
	if err != nil {
		return wrapPgError("update pending design", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

func (p *PostgresStore) checkInline(msg domain.Message) error {
	refs := []string{msg.ImageURL, msg.AudioURL}
	for _, a := range msg.Attachments {
		refs = append(refs, a.URL)
	}
	for _, ref := range refs {
		if domain.ExceedsInlineLimit(ref, p.inlineLimit) {
			return domain.ErrPayloadTooLarge
		}
	}
	return nil
}

// AddMessage appends a message; the database assigns timestamp and sequence.
func (p *PostgresStore) AddMessage(ctx context.Context, sessionID string, msg domain.Message) (domain.Message, error) {
	if err := validateMessage(msg); err != nil {
		return domain.Message{}, err
	}
	if err := p.checkInline(msg); err != nil {
		return domain.Message{}, err
	}

	var attachments []byte
	if len(msg.Attachments) > 0 {
		var err error
		if attachments, err = json.Marshal(msg.Attachments); err != nil {
			return domain.Message{}, fmt.Errorf("encode attachments: %w", err)
		}
	}
	amount := decimal.NullDecimal{}
	if msg.ProposalAmount != nil {
		amount = decimal.NullDecimal{Decimal: *msg.ProposalAmount, Valid: true}
	}

	stored := msg.Clone()
	stored.ID = uuid.NewString()
	err := p.pool.QueryRow(ctx, `
		INSERT INTO messages (
			id, session_id, role, content, attachments, audio_url,
			is_proposal, proposal_amount, is_locked, is_paid, image_url
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, seq`,
		stored.ID, sessionID, string(msg.Role), msg.Content, attachments, msg.AudioURL,
		msg.IsProposal, amount, msg.IsLocked, msg.IsPaid, msg.ImageURL,
	).Scan(&stored.Timestamp, &stored.Seq)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
			return domain.Message{}, domain.ErrSessionNotFound
		}
		return domain.Message{}, wrapPgError("insert message", err)
	}
	stored.Timestamp = stored.Timestamp.UTC()
	return stored, nil
}

const messageColumns = `id, role, content, attachments, audio_url, is_proposal,
	proposal_amount, is_locked, is_paid, image_url, created_at, seq`

func scanMessage(row pgx.Row) (domain.Message, error) {
	var m domain.Message
	var role string
	var attachments []byte
	var amount decimal.NullDecimal
	err := row.Scan(
		&m.ID, &role, &m.Content, &attachments, &m.AudioURL, &m.IsProposal,
		&amount, &m.IsLocked, &m.IsPaid, &m.ImageURL, &m.Timestamp, &m.Seq,
	)
	if err != nil {
		return domain.Message{}, err
	}
	m.Role = domain.Role(role)
	m.Timestamp = m.Timestamp.UTC()
	if amount.Valid {
		m.ProposalAmount = &amount.Decimal
	}
	if len(attachments) > 0 && string(attachments) != "null" {
		if err := json.Unmarshal(attachments, &m.Attachments); err != nil {
			return domain.Message{}, fmt.Errorf("decode attachments: %w", err)
		}
	}
	return m, nil
}

// UpdateMessage applies a patch under a row lock.
func (p *PostgresStore) UpdateMessage(ctx context.Context, sessionID, messageID string, update domain.MessageUpdate) (domain.Message, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return domain.Message{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	current, err := scanMessage(tx.QueryRow(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE id = $1 AND session_id = $2 FOR UPDATE`,
		messageID, sessionID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Message{}, domain.ErrMessageNotFound
	}
	if err != nil {
		return domain.Message{}, wrapPgError("lock message", err)
	}

	next, err := current.Apply(update)
	if err != nil {
		return domain.Message{}, err
	}

	_, err = tx.Exec(ctx,
		`UPDATE messages SET is_locked = $1, is_paid = $2 WHERE id = $3`,
		next.IsLocked, next.IsPaid, messageID,
	)
	if err != nil {
		return domain.Message{}, wrapPgError("update message", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Message{}, fmt.Errorf("commit: %w", err)
	}
	return next, nil
}

// ListMessages returns the session log in order.
func (p *PostgresStore) ListMessages(ctx context.Context, sessionID string) ([]domain.Message, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE session_id = $1 ORDER BY created_at, seq`,
		sessionID,
	)
	if err != nil {
		return nil, wrapPgError("query messages", err)
	}
	defer rows.Close()

	messages := []domain.Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return messages, nil
}

// ensureListening starts the notification listener once and waits until
// LISTEN is active, so every change committed after a subscription registers
// reaches the hub.
func (p *PostgresStore) ensureListening(ctx context.Context) error {
	p.listenMu.Lock()
	defer p.listenMu.Unlock()
	if p.listening {
		return nil
	}

	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listener connection: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+ChangeChannel); err != nil {
		conn.Release()
		return fmt.Errorf("listen: %w", err)
	}

	// The connection keeps LISTEN registered, so it leaves the pool for good.
	listenConn := conn.Hijack()

	listenCtx, cancel := context.WithCancel(context.Background())
	p.listening = true
	p.listenCancel = cancel
	p.listenDone = make(chan struct{})
	go p.listen(listenCtx, listenConn, p.listenDone)
	return nil
}

func (p *PostgresStore) listen(ctx context.Context, conn *pgx.Conn, done chan struct{}) {
	defer close(done)
	defer func() { _ = conn.Close(context.Background()) }()

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Error("Change listener failed", "error", err)
			p.listenMu.Lock()
			p.listening = false
			p.listenMu.Unlock()
			p.reportFailure(fmt.Errorf("change listener: %w", err))
			return
		}

		var change changeNotification
		if err := json.Unmarshal([]byte(n.Payload), &change); err != nil {
			p.logger.Warn("Ignoring malformed change notification", "payload", n.Payload, "error", err)
			continue
		}
		switch change.Kind {
		case "sessions":
			p.hub.publish(sessionTopic(change.SessionID), sessionsTopic)
		case "messages":
			p.hub.publish(messagesTopic(change.SessionID))
		}
	}
}

// SubscribeToSession delivers the committed session on every change.
func (p *PostgresStore) SubscribeToSession(ctx context.Context, id string, fn func(domain.Session)) (CancelFunc, error) {
	if err := p.ensureListening(ctx); err != nil {
		return nil, err
	}
	return subscribe(ctx, subscriptionConfig[domain.Session]{
		hub:     p.hub,
		topics:  []string{sessionTopic(id)},
		logger:  p.logger,
		name:    sessionTopic(id),
		deliver: fn,
		fetch: func(ctx context.Context) (domain.Session, bool, error) {
			s, err := p.GetSession(ctx, id)
			if err != nil || s == nil {
				return domain.Session{}, false, err
			}
			return *s, true, nil
		},
	})
}

// SubscribeToMessages delivers the committed log on every change.
func (p *PostgresStore) SubscribeToMessages(ctx context.Context, sessionID string, fn func([]domain.Message)) (CancelFunc, error) {
	if err := p.ensureListening(ctx); err != nil {
		return nil, err
	}
	return subscribe(ctx, subscriptionConfig[[]domain.Message]{
		hub:     p.hub,
		topics:  []string{messagesTopic(sessionID)},
		logger:  p.logger,
		name:    messagesTopic(sessionID),
		deliver: fn,
		fetch: func(ctx context.Context) ([]domain.Message, bool, error) {
			messages, err := p.ListMessages(ctx, sessionID)
			return messages, err == nil, err
		},
	})
}

// SubscribeToAllSessions delivers the session list on every change.
func (p *PostgresStore) SubscribeToAllSessions(ctx context.Context, fn func([]domain.Session)) (CancelFunc, error) {
	if err := p.ensureListening(ctx); err != nil {
		return nil, err
	}
	return subscribe(ctx, subscriptionConfig[[]domain.Session]{
		hub:     p.hub,
		topics:  []string{sessionsTopic},
		logger:  p.logger,
		name:    sessionsTopic,
		deliver: fn,
		fetch: func(ctx context.Context) ([]domain.Session, bool, error) {
			sessions, err := p.ListSessions(ctx)
			return sessions, err == nil, err
		},
	})
}
