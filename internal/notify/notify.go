// Package notify pings the studio admin about workflow events.
package notify

import (
	"context"

	"github.com/ashureev/designhaus/internal/domain"
)

// Notifier is told about events the admin should act on.
type Notifier interface {
	DesignGenerated(ctx context.Context, session domain.Session, design domain.PendingDesign)
	ProposalUnlocked(ctx context.Context, sessionID string, msg domain.Message)
}

// Nop discards every notification.
type Nop struct{}

func (Nop) DesignGenerated(context.Context, domain.Session, domain.PendingDesign) {}
func (Nop) ProposalUnlocked(context.Context, string, domain.Message)             {}
