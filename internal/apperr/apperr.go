// Copyright 2026 The Proofwork Authors
// This file is part of the Proofwork library.
//
// The Proofwork library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The Proofwork library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the Proofwork library. If not, see <http://www.gnu.org/licenses/>.

// Package apperr closes the error-kind taxonomy used across the engine:
// ValidationFailure, Conflict, Transient and PermanentBusiness. The outbox
// dispatcher and the HTTP layer both switch on an error's Kind (KindOf, As) instead of doing
// type assertions against concrete error types scattered through the code.
package apperr

import (
	pkgerrors "github.com/pkg/errors"
)

type Kind int

const (
	Unknown Kind = iota
	ValidationFailure
	Conflict
	Transient
	PermanentBusiness
)

func (k Kind) String() string {
	switch k {
	case ValidationFailure:
		return "validation_failure"
	case Conflict:
		return "conflict"
	case Transient:
		return "transient"
	case PermanentBusiness:
		return "permanent_business"
	default:
		return "unknown"
	}
}

// Error is an application error carrying a Kind, a machine-readable Code
// and a human message, matching the API payload shape {error:{code,
// message}} from the error handling design.
type Error struct {
	K       Kind
	Code    string
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.Code + ": " + e.Message + ": " + e.cause.Error()
	}
	return e.Code + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.cause }

func New(k Kind, code, message string) *Error {
	return &Error{K: k, Code: code, Message: message}
}

// Wrap attaches stack context to cause via github.com/pkg/errors, matching
// the teacher's error-wrapping idiom in node/service.go.
func Wrap(k Kind, code, message string, cause error) *Error {
	return &Error{K: k, Code: code, Message: message, cause: pkgerrors.WithStack(cause)}
}

// KindOf extracts the Kind of err, defaulting to Transient for any error
// that isn't an *Error: unrecognized errors from external collaborators
// (RPC, HTTP, DB) are assumed retryable rather than silently swallowed.
func KindOf(err error) Kind {
	var e *Error
	if As(err, &e) {
		return e.K
	}
	return Transient
}

// As walks err's Unwrap chain looking for an *Error, mirroring the
// standard library's errors.As without requiring Go's generic any-target
// signature.
func As(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

var (
	ErrStaleJob = New(Conflict, "stale_job", "job is past its freshness deadline")
	ErrLostRace = New(Conflict, "lost_race", "another worker claimed this job first")
)
