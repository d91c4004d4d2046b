package domain

import (
	"errors"
	"fmt"
)

// Whole-call configuration errors. These are surfaced before any per-recipient
// work starts and are never folded into a MessageResult.
var (
	ErrEmptyMessage = errors.New("message body must not be empty")
	ErrNoRecipients = errors.New("recipient list must not be empty")
	ErrNoSender     = errors.New("no sender number provided and no default configured")
)

// CapabilityError indicates the request asked for a feature the underlying
// provider does not support. It is fatal to the whole call (misconfiguration),
// deliberately distinct from per-recipient failures.
type CapabilityError struct {
	Feature string
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("provider does not support %s", e.Feature)
}

// IsCapabilityError reports whether err (or anything it wraps) is a
// CapabilityError.
func IsCapabilityError(err error) bool {
	var capErr *CapabilityError
	return errors.As(err, &capErr)
}
