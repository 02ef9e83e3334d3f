// Package domain contains core domain types for the DesignHaus studio.
package domain

import (
	"time"
)

// DesignStatus tracks where a pending design is in the admin curation flow.
type DesignStatus string

const (
	DesignStatusGenerated DesignStatus = "generated"
	DesignStatusRefined   DesignStatus = "refined"
)

// PendingDesign is a generated design awaiting admin curation.
type PendingDesign struct {
	OriginalPrompt string       `json:"originalPrompt"`
	ImageURL       string       `json:"imageUrl"`
	Status         DesignStatus `json:"status"`
	Timestamp      *time.Time   `json:"timestamp,omitempty"`
}

// Session is one customer engagement.
type Session struct {
	ID            string         `json:"id"`
	ClientName    string         `json:"clientName"`
	CreatedAt     time.Time      `json:"createdAt"`
	Started       bool           `json:"started"`
	PendingDesign *PendingDesign `json:"pendingDesign"`
}

// HasPendingDesign returns true if a design is waiting for the admin.
func (s *Session) HasPendingDesign() bool {
	return s.PendingDesign != nil
}

// Clone returns a deep copy so callers cannot mutate shared store state.
func (s Session) Clone() Session {
	if s.PendingDesign != nil {
		pd := *s.PendingDesign
		if pd.Timestamp != nil {
			ts := *pd.Timestamp
			pd.Timestamp = &ts
		}
		s.PendingDesign = &pd
	}
	return s
}
