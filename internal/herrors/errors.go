// Copyright (c) 2015 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

// Package herrors defines the error taxonomy shared by every component of
// heartystore. Every failure that can terminate a command belongs to one
// of the kinds below. The command surface prints any error as a one-line
// stderr diagnostic and exits 1, whatever its kind.
package herrors

import "errors"

// Kind classifies a failure into one of the categories named in the error
// handling design: input-invalid, precondition-violated, not-found,
// io-failed, reconstruction-impossible.
type Kind int

const (
	// KindInputInvalid covers bad arguments: malformed ids, missing files,
	// payloads over the block size limit.
	KindInputInvalid Kind = iota

	// KindPrecondition covers state that should have held but didn't: a
	// store that already exists, a store already in an HA group, a
	// duplicate member id.
	KindPrecondition

	// KindNotFound covers missing stores, groups, or object ids.
	KindNotFound

	// KindIO covers open/read/write/seek errors against the filesystem.
	KindIO

	// KindReconstruction covers a degraded read that could not be served:
	// missing parity, an unreadable peer, or more than one lost member.
	KindReconstruction
)

func (k Kind) String() string {
	switch k {
	case KindInputInvalid:
		return "input-invalid"
	case KindPrecondition:
		return "precondition-violated"
	case KindNotFound:
		return "not-found"
	case KindIO:
		return "io-failed"
	case KindReconstruction:
		return "reconstruction-impossible"
	default:
		return "unknown"
	}
}

// Error pairs a Kind with a human-readable message. It implements the
// standard error interface and supports errors.Is/errors.As via Unwrap.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, herrors.ErrNotFound) work by comparing Kinds
// through a sentinel wrapper; see the Err* sentinels below.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// New constructs an *Error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap constructs an *Error of the given kind, wrapping an underlying cause.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// Sentinels usable with errors.Is to test the kind of an error without
// caring about its message, e.g. errors.Is(err, herrors.ErrNotFound).
var (
	ErrInputInvalid  = &Error{Kind: KindInputInvalid}
	ErrPrecondition  = &Error{Kind: KindPrecondition}
	ErrNotFound      = &Error{Kind: KindNotFound}
	ErrIO            = &Error{Kind: KindIO}
	ErrReconstructFailed = &Error{Kind: KindReconstruction}
)

// KindOf extracts the Kind of err if it is (or wraps) an *Error, and ok=false
// otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}
