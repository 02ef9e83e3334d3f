// Package studio implements the customer and admin design workflows on top
// of the session store.
package studio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/designhaus/internal/assets"
	"github.com/ashureev/designhaus/internal/domain"
	"github.com/ashureev/designhaus/internal/generator"
	"github.com/ashureev/designhaus/internal/notify"
	"github.com/ashureev/designhaus/internal/store"
	"github.com/shopspring/decimal"
)

const (
	WelcomeMessage  = "Welcome to DesignHaus. I am your packaging architect. Upload a reference or describe your product concept."
	ProposalContent = "I have generated a concept based on your specifications. Please unlock the high-resolution render below."
)

var (
	// ErrGenerationFailed is returned when the image generator reports failure.
	ErrGenerationFailed = errors.New("design generation failed")
	// ErrRelocationFailed wraps asset relocation errors.
	ErrRelocationFailed = errors.New("design relocation failed")
	// ErrGenerationInProgress is returned when another generation for the
	// same session is running.
	ErrGenerationInProgress = errors.New("generation_in_progress")
)

// Options configures a Service.
type Options struct {
	ProposalPrice     decimal.Decimal
	GenerationTimeout time.Duration
	Logger            *slog.Logger
}

// Service runs the studio workflows.
type Service struct {
	store     store.Store
	generator generator.Generator
	relocator assets.Relocator
	notifier  notify.Notifier

	price      decimal.Decimal
	genTimeout time.Duration
	logger     *slog.Logger
	now        func() time.Time

	clearRetries   int
	clearBaseDelay time.Duration

	bg sync.WaitGroup
	// genLocks holds one mutex per session. Entries are never removed, so two
	// callers can never hold different mutexes for the same session.
	genLocks sync.Map
}

// NewService wires the workflows. A nil notifier disables notifications.
func NewService(st store.Store, gen generator.Generator, relocator assets.Relocator, notifier notify.Notifier, opts Options) *Service {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.GenerationTimeout <= 0 {
		opts.GenerationTimeout = 90 * time.Second
	}
	if !opts.ProposalPrice.IsPositive() {
		opts.ProposalPrice = decimal.NewFromInt(25)
	}
	return &Service{
		store:          st,
		generator:      gen,
		relocator:      relocator,
		notifier:       notifier,
		price:          opts.ProposalPrice,
		genTimeout:     opts.GenerationTimeout,
		logger:         opts.Logger,
		now:            func() time.Time { return time.Now().UTC() },
		clearRetries:   3,
		clearBaseDelay: 100 * time.Millisecond,
	}
}

// ProposalPrice returns the default proposal amount.
func (s *Service) ProposalPrice() decimal.Decimal { return s.price }

// EnsureSession returns cachedID when it still exists, otherwise a new
// session id. created reports whether a session was created.
func (s *Service) EnsureSession(ctx context.Context, cachedID string) (id string, created bool, err error) {
	if cachedID != "" {
		ok, err := s.store.VerifySession(ctx, cachedID)
		if err != nil {
			return "", false, fmt.Errorf("verify session: %w", err)
		}
		if ok {
			return cachedID, false, nil
		}
	}

	id, err = s.store.CreateSession(ctx)
	if err != nil {
		return "", false, fmt.Errorf("create session: %w", err)
	}
	s.logger.Info("Session created", "session_id", id)
	return id, true, nil
}

// Start marks the session as started and posts the welcome message unless
// introSent is set or the log already has messages. It reports whether the
// welcome message was posted.
func (s *Service) Start(ctx context.Context, sessionID string, introSent bool) (bool, error) {
	if err := s.store.StartSession(ctx, sessionID); err != nil {
		return false, fmt.Errorf("start session: %w", err)
	}
	if introSent {
		return false, nil
	}

	existing, err := s.store.ListMessages(ctx, sessionID)
	if err != nil {
		return false, fmt.Errorf("list messages: %w", err)
	}
	if len(existing) > 0 {
		return false, nil
	}

	if _, err := s.store.AddMessage(ctx, sessionID, domain.Message{Role: domain.RoleAI, Content: WelcomeMessage}); err != nil {
		return false, fmt.Errorf("add welcome message: %w", err)
	}
	return true, nil
}

// SendMessage appends a customer message and starts generating a design from
// its text in the background.
func (s *Service) SendMessage(ctx context.Context, sessionID, content string, attachments []domain.Attachment, audioURL string) (domain.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" && len(attachments) == 0 && audioURL == "" {
		return domain.Message{}, fmt.Errorf("%w: empty message", domain.ErrInvalidMessage)
	}

	msg, err := s.store.AddMessage(ctx, sessionID, domain.Message{
		Role:        domain.RoleUser,
		Content:     content,
		Attachments: attachments,
		AudioURL:    audioURL,
	})
	if err != nil {
		return domain.Message{}, fmt.Errorf("send message: %w", err)
	}

	if content != "" {
		s.generateInBackground(sessionID, content)
	}
	return msg, nil
}

// generateInBackground runs a customer-triggered generation without holding
// up the request. Failures are logged only.
func (s *Service) generateInBackground(sessionID, prompt string) {
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		mu := s.generationLock(sessionID)
		mu.Lock()
		defer mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), s.genTimeout)
		defer cancel()

		if _, err := s.generate(ctx, sessionID, prompt); err != nil {
			level := slog.LevelWarn
			if !errors.Is(err, ErrGenerationFailed) {
				level = slog.LevelError
			}
			s.logger.Log(ctx, level, "Background design generation failed", "session_id", sessionID, "error", err)
		}
	}()
}

// Wait blocks until background generations have finished.
func (s *Service) Wait() {
	s.bg.Wait()
}

// generationLock returns the mutex serializing generations for a session.
func (s *Service) generationLock(sessionID string) *sync.Mutex {
	lock, _ := s.genLocks.LoadOrStore(sessionID, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

// GenerateDesign generates, relocates and stores a pending design. On
// failure the current pending design is left untouched. It returns
// ErrGenerationInProgress instead of waiting for a running generation.
func (s *Service) GenerateDesign(ctx context.Context, sessionID, prompt string) (*domain.PendingDesign, error) {
	mu := s.generationLock(sessionID)
	if !mu.TryLock() {
		return nil, ErrGenerationInProgress
	}
	defer mu.Unlock()
	return s.generate(ctx, sessionID, prompt)
}

func (s *Service) generate(ctx context.Context, sessionID, prompt string) (*domain.PendingDesign, error) {
	design, err := s.render(ctx, sessionID, prompt)
	if err != nil {
		return nil, err
	}
	design.OriginalPrompt = prompt
	design.Status = domain.DesignStatusGenerated

	if err := s.store.UpdatePendingDesign(ctx, sessionID, design); err != nil {
		return nil, fmt.Errorf("store pending design: %w", err)
	}
	s.logger.Info("Pending design generated", "session_id", sessionID)

	if session, err := s.store.GetSession(ctx, sessionID); err == nil && session != nil {
		s.notifier.DesignGenerated(ctx, *session, *design)
	}
	return design, nil
}

// render calls the generator and relocates the result. The returned design
// carries only the image and timestamp.
func (s *Service) render(ctx context.Context, sessionID, prompt string) (*domain.PendingDesign, error) {
	res := s.generator.Generate(ctx, prompt)
	if !res.Success || res.ImageURL == "" {
		return nil, fmt.Errorf("%w: %s", ErrGenerationFailed, res.Error)
	}

	at := s.now()
	url, err := s.relocator.Relocate(ctx, assets.Target{SessionID: sessionID, At: at}, res.ImageURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRelocationFailed, err)
	}
	return &domain.PendingDesign{ImageURL: url, Timestamp: &at}, nil
}

// Refine marks the pending design as refined. With instructions the design
// is regenerated from the original prompt plus the instructions first.
func (s *Service) Refine(ctx context.Context, sessionID, instructions string) (*domain.PendingDesign, error) {
	mu := s.generationLock(sessionID)
	if !mu.TryLock() {
		return nil, ErrGenerationInProgress
	}
	defer mu.Unlock()

	current, err := s.pendingDesign(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	next := *current
	if instructions = strings.TrimSpace(instructions); instructions != "" {
		rendered, err := s.render(ctx, sessionID, current.OriginalPrompt+". Refinement: "+instructions)
		if err != nil {
			return nil, err
		}
		next.ImageURL, next.Timestamp = rendered.ImageURL, rendered.Timestamp
	}
	next.Status = domain.DesignStatusRefined

	if err := s.store.UpdatePendingDesign(ctx, sessionID, &next); err != nil {
		return nil, fmt.Errorf("store refined design: %w", err)
	}
	return &next, nil
}

// Discard drops the pending design.
func (s *Service) Discard(ctx context.Context, sessionID string) error {
	if err := s.store.UpdatePendingDesign(ctx, sessionID, nil); err != nil {
		return fmt.Errorf("discard design: %w", err)
	}
	return nil
}

// SendProposal appends a locked, priced proposal for the pending design and
// then clears the design. A nil amount uses the default price.
func (s *Service) SendProposal(ctx context.Context, sessionID string, amount *decimal.Decimal) (domain.Message, error) {
	design, err := s.pendingDesign(ctx, sessionID)
	if err != nil {
		return domain.Message{}, err
	}

	price := s.price
	if amount != nil {
		if !amount.IsPositive() {
			return domain.Message{}, fmt.Errorf("%w: proposal amount must be positive", domain.ErrInvalidMessage)
		}
		price = *amount
	}

	msg, err := s.store.AddMessage(ctx, sessionID, domain.NewProposal(ProposalContent, design.ImageURL, price))
	if err != nil {
		return domain.Message{}, fmt.Errorf("add proposal: %w", err)
	}

	// The proposal is already visible; a stale pending design is cosmetic.
	if err := s.clearPendingDesign(ctx, sessionID); err != nil {
		s.logger.Error("Failed to clear pending design after proposal", "session_id", sessionID, "error", err)
	}
	return msg, nil
}

// clearPendingDesign retries the clear with exponential backoff.
func (s *Service) clearPendingDesign(ctx context.Context, sessionID string) error {
	var err error
	for i := 0; i < s.clearRetries; i++ {
		if err = s.store.UpdatePendingDesign(ctx, sessionID, nil); err == nil {
			return nil
		}
		if i < s.clearRetries-1 {
			delay := s.clearBaseDelay * time.Duration(1<<i)
			s.logger.Debug("Clearing pending design failed, retrying", "session_id", sessionID, "attempt", i+1, "delay", delay)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return fmt.Errorf("clear pending design after %d attempts: %w", s.clearRetries, err)
}

// AdminMessage appends a reply written by the admin. The customer sees it as
// coming from the designer, so it is stored with the ai role.
func (s *Service) AdminMessage(ctx context.Context, sessionID, content string) (domain.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return domain.Message{}, fmt.Errorf("%w: empty message", domain.ErrInvalidMessage)
	}
	msg, err := s.store.AddMessage(ctx, sessionID, domain.Message{Role: domain.RoleAI, Content: content})
	if err != nil {
		return domain.Message{}, fmt.Errorf("add admin message: %w", err)
	}
	return msg, nil
}

// Unlock reveals a paid proposal. Unlocking an already paid proposal returns
// it unchanged and sends no notification.
func (s *Service) Unlock(ctx context.Context, sessionID, messageID string) (domain.Message, error) {
	current, err := s.findMessage(ctx, sessionID, messageID)
	if err != nil {
		return domain.Message{}, fmt.Errorf("unlock proposal: %w", err)
	}
	if !current.IsProposal {
		return domain.Message{}, fmt.Errorf("unlock proposal: %w: not a proposal", domain.ErrInvalidTransition)
	}
	if current.IsPaid {
		return current, nil
	}

	msg, err := s.store.UpdateMessage(ctx, sessionID, messageID, domain.UnlockUpdate())
	if err != nil {
		return domain.Message{}, fmt.Errorf("unlock proposal: %w", err)
	}
	s.logger.Info("Proposal unlocked", "session_id", sessionID, "message_id", messageID)
	s.notifier.ProposalUnlocked(ctx, sessionID, msg)
	return msg, nil
}

func (s *Service) findMessage(ctx context.Context, sessionID, messageID string) (domain.Message, error) {
	messages, err := s.store.ListMessages(ctx, sessionID)
	if err != nil {
		return domain.Message{}, fmt.Errorf("list messages: %w", err)
	}
	for _, m := range messages {
		if m.ID == messageID {
			return m, nil
		}
	}
	return domain.Message{}, domain.ErrMessageNotFound
}

func (s *Service) pendingDesign(ctx context.Context, sessionID string) (*domain.PendingDesign, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if session == nil {
		return nil, domain.ErrSessionNotFound
	}
	if session.PendingDesign == nil {
		return nil, domain.ErrNoPendingDesign
	}
	return session.PendingDesign, nil
}
