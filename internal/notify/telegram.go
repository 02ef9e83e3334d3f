package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/designhaus/internal/domain"
	"github.com/go-telegram/bot"
)

// MaxMessageLen is Telegram's limit for a text message.
const MaxMessageLen = 4096

const sendTimeout = 10 * time.Second

// Telegram sends notifications to an admin chat.
type Telegram struct {
	bot    *bot.Bot
	chatID int64
	logger *slog.Logger
}

// NewTelegram creates a notifier. Extra options are passed to the bot client.
func NewTelegram(token string, chatID int64, logger *slog.Logger, opts ...bot.Option) (*Telegram, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts = append([]bot.Option{bot.WithSkipGetMe()}, opts...)
	b, err := bot.New(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	return &Telegram{bot: b, chatID: chatID, logger: logger}, nil
}

func (t *Telegram) send(ctx context.Context, text string) {
	if t.chatID == 0 {
		return
	}
	if len([]rune(text)) > MaxMessageLen {
		text = string([]rune(text)[:MaxMessageLen-20]) + "\n\n... (truncated)"
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sendTimeout)
	defer cancel()

	_, err := t.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: t.chatID,
		Text:   text,
	})
	if err != nil {
		t.logger.Error("Failed to send telegram notification", "error", err)
	}
}

// DesignGenerated tells the admin a design is waiting for curation.
func (t *Telegram) DesignGenerated(ctx context.Context, session domain.Session, design domain.PendingDesign) {
	t.send(ctx, fmt.Sprintf("New design for %s\n\nPrompt: %s\nSession: %s",
		session.ClientName, design.OriginalPrompt, session.ID))
}

// ProposalUnlocked tells the admin a proposal was paid for and unlocked.
func (t *Telegram) ProposalUnlocked(ctx context.Context, sessionID string, msg domain.Message) {
	amount := "-"
	if msg.ProposalAmount != nil {
		amount = msg.ProposalAmount.StringFixed(2)
	}
	t.send(ctx, fmt.Sprintf("Proposal unlocked\n\nAmount: $%s\nSession: %s", amount, sessionID))
}
