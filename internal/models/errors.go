package models

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across the store and checkout layers
var (
	ErrOrderNotFound    = errors.New("order not found")
	ErrCartItemNotFound = errors.New("cart item not found")
	ErrSessionNotFound  = errors.New("checkout session not found")
	ErrSessionActive    = errors.New("checkout session already active")
)

// ValidationError reports checkout input rejected before any network or
// storage call is made.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// InitiationError reports a gateway handshake that did not produce a usable
// checkout URL. The pending order may still exist, so the attempt can be
// retried or reconciled later.
type InitiationError struct {
	Reason string
	Err    error
}

func (e *InitiationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("payment initiation failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("payment initiation failed: %s", e.Reason)
}

func (e *InitiationError) Unwrap() error {
	return e.Err
}
