package keys

import (
	"errors"

	"github.com/kiranshivaraju/keyguard/internal/store"
)

var (
	// ErrInvalidInput is returned for malformed create parameters.
	ErrInvalidInput = errors.New("invalid input")
	// ErrStoreUnavailable is retryable; the caller may try again later.
	ErrStoreUnavailable = store.ErrUnavailable
	// ErrUnauthorized is the only rejection callers ever see.
	ErrUnauthorized = errors.New("unauthorized")
)

// Reason is the internal cause of a rejected validation. It is logged and
// counted but never returned to the presenting client.
type Reason string

const (
	ReasonUnknownKey   Reason = "unknown_key"
	ReasonRevoked      Reason = "revoked"
	ReasonExpired      Reason = "expired"
	ReasonIPNotAllowed Reason = "ip_not_allowed"
)

// RejectedError carries the rejection reason for logging and metrics.
// Its message is the same for every reason.
type RejectedError struct {
	Reason       Reason
	CredentialID int64 // zero for unknown_key
}

func (e *RejectedError) Error() string { return ErrUnauthorized.Error() }

func (e *RejectedError) Is(target error) bool { return target == ErrUnauthorized }

func reject(reason Reason, id int64) error {
	return &RejectedError{Reason: reason, CredentialID: id}
}
