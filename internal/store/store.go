// Package store provides session and message persistence with change
// subscriptions, backed by a remote Postgres database or a local document.
package store

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/ashureev/designhaus/internal/domain"
)

// CancelFunc ends a subscription. It is idempotent and may be called from
// inside the subscription's own callback.
type CancelFunc func()

// Store defines the operations shared by the remote and local backends.
type Store interface {
	// CreateSession creates a fresh, unstarted session and returns its id.
	CreateSession(ctx context.Context) (string, error)

	// VerifySession reports whether a session with the given id exists.
	VerifySession(ctx context.Context, id string) (bool, error)

	// GetSession retrieves a session. It returns nil, nil when absent.
	GetSession(ctx context.Context, id string) (*domain.Session, error)

	// ListSessions returns all sessions, newest first.
	ListSessions(ctx context.Context) ([]domain.Session, error)

	// StartSession marks a session as started. Repeated calls are no-ops.
	StartSession(ctx context.Context, id string) error

	// UpdatePendingDesign overwrites the pending design. A nil design clears it.
	UpdatePendingDesign(ctx context.Context, id string, design *domain.PendingDesign) error

	// AddMessage appends a message, assigning its id, timestamp and sequence.
	AddMessage(ctx context.Context, sessionID string, msg domain.Message) (domain.Message, error)

	// UpdateMessage merges the patch into an existing message in one write.
	UpdateMessage(ctx context.Context, sessionID, messageID string, update domain.MessageUpdate) (domain.Message, error)

	// ListMessages returns a session's log ordered by timestamp, then sequence.
	ListMessages(ctx context.Context, sessionID string) ([]domain.Message, error)

	// SubscribeToSession delivers the session now and on every change.
	SubscribeToSession(ctx context.Context, id string, fn func(domain.Session)) (CancelFunc, error)

	// SubscribeToMessages delivers the full ordered log now and on every change.
	SubscribeToMessages(ctx context.Context, sessionID string, fn func([]domain.Message)) (CancelFunc, error)

	// SubscribeToAllSessions delivers the session list now and on every change.
	SubscribeToAllSessions(ctx context.Context, fn func([]domain.Session)) (CancelFunc, error)

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}

// FailureNotifier is implemented by backends that can fail outside of a
// request, such as a broken notification listener.
type FailureNotifier interface {
	OnFailure(fn func(error))
}

func newClientName() string {
	return fmt.Sprintf("Client-%d", rand.IntN(10000))
}

func validateMessage(msg domain.Message) error {
	if !msg.Role.Valid() {
		return fmt.Errorf("%w: unknown role %q", domain.ErrInvalidMessage, msg.Role)
	}
	// Postgres text columns cannot hold NUL.
	fields := []string{msg.Content, msg.AudioURL, msg.ImageURL}
	for _, a := range msg.Attachments {
		fields = append(fields, string(a.Type), a.URL, a.Name)
	}
	for _, f := range fields {
		if strings.ContainsRune(f, 0) {
			return fmt.Errorf("%w: contains NUL byte", domain.ErrInvalidMessage)
		}
	}
	return msg.ValidateFlags()
}
