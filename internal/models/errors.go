package models

import (
	"errors"
	"fmt"
)

var (
	ErrAccountNotFound     = errors.New("account not found")
	ErrInsufficientCredits = errors.New("insufficient credits")
	// ErrAuthentication marks payment notifications that failed signature checks.
	ErrAuthentication = errors.New("notification authentication failed")
)

// PersistenceError wraps a ledger I/O failure.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// GatewayError wraps a failed call to an external collaborator
// (image generation, publishing, payments).
type GatewayError struct {
	Gateway string
	Err     error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("%s gateway: %v", e.Gateway, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

func IsPersistence(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}

func IsGateway(err error) bool {
	var ge *GatewayError
	return errors.As(err, &ge)
}
