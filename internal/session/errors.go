/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package session

import "errors"

var (
	ErrQuotaExceeded      = errors.New("session quota exceeded")
	ErrResourceExhausted  = errors.New("resource exhausted")
	ErrNotFound           = errors.New("session not found")
	ErrSessionUnavailable = errors.New("session unavailable")
	ErrInvalidState       = errors.New("invalid session state")
	ErrForbidden          = errors.New("forbidden")

	// Store-level conflicts. The manager translates these before they
	// reach callers.
	ErrCodeConflict  = errors.New("session code held by a live session")
	ErrStateConflict = errors.New("session not in an expected state")
)

// Kind classifies an error for transport mapping.
type Kind string

const (
	KindQuotaExceeded      Kind = "quota_exceeded"
	KindResourceExhausted  Kind = "resource_exhausted"
	KindNotFound           Kind = "not_found"
	KindSessionUnavailable Kind = "session_unavailable"
	KindInvalidState       Kind = "invalid_state"
	KindForbidden          Kind = "forbidden"
	KindStoreError         Kind = "store_error"
)

// KindOf returns the kind of err. Anything unrecognised is a store error.
func KindOf(err error) Kind {
	switch {
	case errors.Is(err, ErrQuotaExceeded):
		return KindQuotaExceeded
	case errors.Is(err, ErrResourceExhausted):
		return KindResourceExhausted
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrSessionUnavailable):
		return KindSessionUnavailable
	case errors.Is(err, ErrInvalidState), errors.Is(err, ErrStateConflict):
		return KindInvalidState
	case errors.Is(err, ErrForbidden):
		return KindForbidden
	default:
		return KindStoreError
	}
}
