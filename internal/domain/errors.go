// Package domain holds the shared value types used across the gateway:
// error kinds, capability descriptors, and the message/tool-call shapes
// that flow between the turn runtime, the provider router, and tool
// dispatch.
package domain

import (
	"errors"
	"fmt"
)

// ErrorKind is a closed taxonomy of failure categories. It is attached to
// errors returned from any gateway subsystem so the HTTP boundary can map
// a failure to a precise status code without string-sniffing messages.
type ErrorKind string

const (
	ErrIO             ErrorKind = "io"
	ErrHTTP           ErrorKind = "http"
	ErrTimeout        ErrorKind = "timeout"
	ErrProvider       ErrorKind = "provider"
	ErrMemory         ErrorKind = "memory"
	ErrAuth           ErrorKind = "auth"
	ErrConfig         ErrorKind = "config"
	ErrSkillNotFound  ErrorKind = "skill_not_found"
	ErrToolNotFound   ErrorKind = "tool_not_found"
	ErrQuotaExceeded  ErrorKind = "quota_exceeded"
	ErrSessionBusy    ErrorKind = "session_busy"
	ErrCancelled      ErrorKind = "cancelled"
	ErrInternal       ErrorKind = "internal"
)

// Error is the concrete error type carrying a Kind alongside the usual
// wrapped cause. Callers construct it with New or Wrap and recover the kind
// with errors.As at the HTTP boundary.
type Error struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error with no wrapped cause.
func New(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an Error carrying a wrapped cause.
func Wrap(kind ErrorKind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// ProviderError is a specialization of Error carrying the offending
// provider id, matching spec's Provider{id,message} kind.
type ProviderError struct {
	ProviderID string
	Message    string
	Cause      error
}

func (e *ProviderError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("provider %s: %s: %v", e.ProviderID, e.Message, e.Cause)
	}
	return fmt.Sprintf("provider %s: %s", e.ProviderID, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Cause }

func (e *ProviderError) Kind() ErrorKind { return ErrProvider }

// Kind extracts the ErrorKind of err, defaulting to ErrInternal when err
// does not carry one of the gateway's typed errors.
func Kind(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return ErrProvider
	}
	return ErrInternal
}
