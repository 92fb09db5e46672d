// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"errors"
	"fmt"
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// ErrorType categorizes generation failures so callers can branch on the
// failure mode rather than parse message strings.
type ErrorType string

const (
	// ErrTypeBusy: a second exchange was requested while one was in flight
	// for the same backend identity.
	ErrTypeBusy ErrorType = "busy"

	// ErrTypeTransport: the HTTP request to the backend failed or the stream
	// broke mid-flight.
	ErrTypeTransport ErrorType = "transport"

	// ErrTypeEmptyResult: the backend answered successfully with no content.
	// Distinct from transport failure so it can be diagnosed separately.
	ErrTypeEmptyResult ErrorType = "empty_result"

	// ErrTypeUnavailable: the backend could not be reached at all.
	ErrTypeUnavailable ErrorType = "unavailable"

	// ErrTypeStorage: a session save or load failed beneath an exchange.
	ErrTypeStorage ErrorType = "storage"
)

// Error is a categorized backend error.
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a categorized error.
func NewError(errType ErrorType, message string, cause error) *Error {
	return &Error{Type: errType, Message: message, Cause: cause}
}

// =============================================================================
// SENTINELS & HELPERS
// =============================================================================

// ErrBusy is the admission-control rejection for a concurrent exchange.
var ErrBusy = &Error{Type: ErrTypeBusy, Message: "generation already in progress"}

// ErrEmptyResult signals a successful response with no content.
var ErrEmptyResult = &Error{Type: ErrTypeEmptyResult, Message: "no response from model"}

// IsBusy reports whether err is a busy rejection.
func IsBusy(err error) bool {
	return hasType(err, ErrTypeBusy)
}

// IsTransport reports whether err is a transport failure.
func IsTransport(err error) bool {
	return hasType(err, ErrTypeTransport)
}

// IsEmptyResult reports whether err signals an empty model response.
func IsEmptyResult(err error) bool {
	return hasType(err, ErrTypeEmptyResult)
}

// IsUnavailable reports whether err signals an unreachable backend.
func IsUnavailable(err error) bool {
	return hasType(err, ErrTypeUnavailable)
}

func hasType(err error, t ErrorType) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Type == t
	}
	return false
}
