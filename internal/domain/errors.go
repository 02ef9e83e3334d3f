package domain

import "errors"

var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrMessageNotFound   = errors.New("message not found")
	ErrNoPendingDesign   = errors.New("no pending design")
	ErrPayloadTooLarge   = errors.New("inline payload exceeds remote limit")
	ErrInvalidTransition = errors.New("proposal must be either locked and unpaid or unlocked and paid")
	ErrStorageFull       = errors.New("local storage capacity exhausted")
	ErrInvalidMessage    = errors.New("invalid message")
	ErrInvalidData       = errors.New("data rejected by storage")
)

// IsDomainError reports whether err is one of the sentinel errors above, as
// opposed to a backend or transport failure.
func IsDomainError(err error) bool {
	for _, target := range []error{
		ErrSessionNotFound,
		ErrMessageNotFound,
		ErrNoPendingDesign,
		ErrPayloadTooLarge,
		ErrInvalidTransition,
		ErrStorageFull,
		ErrInvalidMessage,
		ErrInvalidData,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
