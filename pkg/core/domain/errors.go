package domain

import (
	"errors"
	"fmt"
)

// Causes of a failed credential refresh.
var (
	ErrMissingLocalToken      = errors.New("missing local token")
	ErrLocalAgentUnreachable  = errors.New("local agent unreachable")
	ErrCredentialFieldsAbsent = errors.New("keyindex or clientkey absent")
	ErrRedirectNotFound       = errors.New("redirect url not found")
	ErrSessionKeyMissing      = errors.New("session key cookie missing")
)

// ErrNoCredential is returned by a credential store that holds nothing yet.
var ErrNoCredential = errors.New("no stored credential")

// CredentialError reports which handshake step failed and why.
type CredentialError struct {
	Step  string
	Cause error
}

func (e *CredentialError) Error() string {
	return fmt.Sprintf("credential refresh failed at %s: %v", e.Step, e.Cause)
}

func (e *CredentialError) Unwrap() error { return e.Cause }

// TransientFetchError is a network or timeout failure on the data endpoint.
// It is not a credential problem.
type TransientFetchError struct {
	Err error
}

func (e *TransientFetchError) Error() string { return "fetching visitors: " + e.Err.Error() }

func (e *TransientFetchError) Unwrap() error { return e.Err }

// MalformedResponseError means the callback envelope could not be parsed.
type MalformedResponseError struct {
	Reason string
}

func (e *MalformedResponseError) Error() string { return "malformed visitor response: " + e.Reason }

// APIStatusError carries a non-zero status code from the origin API.
type APIStatusError struct {
	Code    int
	Message string
}

func (e *APIStatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("visitor api returned code %d", e.Code)
	}
	return fmt.Sprintf("visitor api returned code %d: %s", e.Code, e.Message)
}

// PersistenceError is a failed write to one of the record sinks.
type PersistenceError struct {
	Sink string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("writing %s: %v", e.Sink, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// IsCredentialFailure reports whether err suggests the stored credential
// has gone stale, which is worth a refresh.
func IsCredentialFailure(err error) bool {
	var malformed *MalformedResponseError
	var status *APIStatusError
	return errors.As(err, &malformed) || errors.As(err, &status)
}

// IsTransient reports whether err is a network-level fetch failure.
func IsTransient(err error) bool {
	var transient *TransientFetchError
	return errors.As(err, &transient)
}
