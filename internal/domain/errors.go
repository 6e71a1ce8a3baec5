package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks requests rejected before any side effect.
	ErrValidation = errors.New("validation failed")
	// ErrForbidden marks operations attempted by a non-owner.
	ErrForbidden = errors.New("forbidden")
	// ErrMessageNotFound is returned when a message id does not exist or was removed.
	ErrMessageNotFound = errors.New("message not found")
	// ErrUserNotFound is returned when a user id does not exist.
	ErrUserNotFound = errors.New("user not found")
	// ErrAttachmentNotFound is returned when no upload was recorded for a reference.
	ErrAttachmentNotFound = errors.New("attachment not found")
	// ErrDeliveryFailed marks a push that could not reach a live connection.
	// It is never surfaced to the sender of a message.
	ErrDeliveryFailed = errors.New("delivery to connection failed")

	ErrEmailExists        = errors.New("email already exists")
	ErrUsernameExists     = errors.New("username already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// ValidationError describes which field was rejected and why.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Unwrap lets errors.Is(err, ErrValidation) match.
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// NewValidationError builds a ValidationError.
func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
