package quota

import (
	"errors"
	"fmt"
)

// Reasons a reservation can be refused.
const (
	ReasonMemory   = "memory"
	ReasonAPICalls = "api-calls"
)

// ErrRecordNotFound signals the owner has no quota record.
var ErrRecordNotFound = errors.New("quota record not found")

// ExceededError is returned when a reservation would pass an allocation.
type ExceededError struct {
	Reason string
}

func (e *ExceededError) Error() string {
	switch e.Reason {
	case ReasonMemory:
		return "memory limit exceeded"
	case ReasonAPICalls:
		return "api call limit exceeded"
	default:
		return fmt.Sprintf("quota exceeded: %s", e.Reason)
	}
}

// IsExceeded reports whether err is a quota refusal.
func IsExceeded(err error) bool {
	var e *ExceededError
	return errors.As(err, &e)
}
