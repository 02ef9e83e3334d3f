// Package assets moves generated images into durable storage.
package assets

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrUnsupportedReference is returned for references that are neither an
// http(s) URL nor a data URL.
var ErrUnsupportedReference = errors.New("unsupported image reference")

// Target scopes a relocated object to a session and a point in time.
type Target struct {
	SessionID string
	At        time.Time
}

// ObjectPath returns designs/<session>/<unix-ms>.<ext>.
func (t Target) ObjectPath(ext string) string {
	return fmt.Sprintf("designs/%s/%d.%s", t.SessionID, t.At.UnixMilli(), ext)
}

// Relocator turns an image reference into a durable, directly fetchable URL.
type Relocator interface {
	Relocate(ctx context.Context, target Target, ref string) (string, error)
}

// ModeSource reports whether the persistence layer is running on remote storage.
type ModeSource interface {
	InFallback() bool
}

// ModeRelocator uploads while the remote backend serves and keeps assets
// inline once it does not.
type ModeRelocator struct {
	remote Relocator
	local  Relocator
	mode   ModeSource
}

// NewModeRelocator picks remote or local per call. A nil remote always
// relocates locally.
func NewModeRelocator(mode ModeSource, remote, local Relocator) *ModeRelocator {
	return &ModeRelocator{remote: remote, local: local, mode: mode}
}

func (m *ModeRelocator) Relocate(ctx context.Context, target Target, ref string) (string, error) {
	if m.remote == nil || m.mode == nil || m.mode.InFallback() {
		return m.local.Relocate(ctx, target, ref)
	}
	return m.remote.Relocate(ctx, target, ref)
}
