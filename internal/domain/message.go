package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Role identifies the author of a chat message.
type Role string

const (
	RoleUser  Role = "user"
	RoleAI    Role = "ai"
	RoleAdmin Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAI, RoleAdmin:
		return true
	}
	return false
}

// AttachmentType is the kind of customer-supplied reference material.
type AttachmentType string

const (
	AttachmentImage AttachmentType = "image"
	AttachmentFile  AttachmentType = "file"
)

// Attachment is a reference file sent along with a message.
type Attachment struct {
	Type AttachmentType `json:"type"`
	URL  string         `json:"url"`
	Name string         `json:"name,omitempty"`
}

// Message is a single entry of a session's chat log.
type Message struct {
	ID          string       `json:"id"`
	Role        Role         `json:"role"`
	Content     string       `json:"content"`
	Timestamp   time.Time    `json:"timestamp"`
	Seq         int64        `json:"seq"`
	Attachments []Attachment `json:"attachments,omitempty"`
	AudioURL    string       `json:"audioUrl,omitempty"`

	// Proposal fields, set when the admin turns a pending design into an offer.
	IsProposal     bool             `json:"isProposal,omitempty"`
	ProposalAmount *decimal.Decimal `json:"proposalAmount,omitempty"`
	IsLocked       bool             `json:"isLocked,omitempty"`
	IsPaid         bool             `json:"isPaid,omitempty"`
	ImageURL       string           `json:"imageUrl,omitempty"`
}

// MessageUpdate is a merge patch for an existing message. Nil fields are left alone.
type MessageUpdate struct {
	IsLocked *bool `json:"isLocked,omitempty"`
	IsPaid   *bool `json:"isPaid,omitempty"`
}

// UnlockUpdate is the patch applied once a proposal has been paid for.
func UnlockUpdate() MessageUpdate {
	locked, paid := false, true
	return MessageUpdate{IsLocked: &locked, IsPaid: &paid}
}

// Apply returns m with u merged in. For proposals the locked and paid flags
// must stay opposite, so a patch touching only one of them is rejected.
// Plain messages are never locked or paid.
func (m Message) Apply(u MessageUpdate) (Message, error) {
	if u.IsLocked != nil {
		m.IsLocked = *u.IsLocked
	}
	if u.IsPaid != nil {
		m.IsPaid = *u.IsPaid
	}
	if err := m.ValidateFlags(); err != nil {
		return Message{}, err
	}
	return m, nil
}

// ValidateFlags reports ErrInvalidTransition when the lock flags break the
// proposal invariant.
func (m Message) ValidateFlags() error {
	if m.IsProposal && m.IsLocked == m.IsPaid {
		return ErrInvalidTransition
	}
	if !m.IsProposal && (m.IsLocked || m.IsPaid) {
		return ErrInvalidTransition
	}
	return nil
}

// NewProposal builds a locked, unpaid offer for the given design image.
func NewProposal(content, imageURL string, amount decimal.Decimal) Message {
	return Message{
		Role:           RoleAI,
		Content:        content,
		ImageURL:       imageURL,
		IsProposal:     true,
		ProposalAmount: &amount,
		IsLocked:       true,
		IsPaid:         false,
	}
}

// Clone returns a deep copy of the message.
func (m Message) Clone() Message {
	if m.Attachments != nil {
		m.Attachments = append([]Attachment(nil), m.Attachments...)
	}
	if m.ProposalAmount != nil {
		amount := *m.ProposalAmount
		m.ProposalAmount = &amount
	}
	return m
}

// Before reports whether m sorts before other in a session log.
func (m Message) Before(other Message) bool {
	if m.Timestamp.Equal(other.Timestamp) {
		return m.Seq < other.Seq
	}
	return m.Timestamp.Before(other.Timestamp)
}
