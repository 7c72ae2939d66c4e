// Plumage - Personalized Feed Ranking and Serving Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/plumage

package store

import (
	"context"
	"errors"
	"fmt"
)

// ApplyErrorKind classifies apply failures so callers can choose between
// retrying and quarantining.
type ApplyErrorKind int

const (
	// ApplyTransient signals temporary store unavailability (connection
	// loss, timeout). The caller retries; the event is never dropped.
	ApplyTransient ApplyErrorKind = iota

	// ApplyFatal signals an unrecoverable problem with the event itself
	// (malformed payload, unknown entity type, schema mismatch). The
	// offending event is quarantined on the poison topic, never retried.
	ApplyFatal
)

// ApplyError wraps an apply failure with its retry classification.
type ApplyError struct {
	Kind ApplyErrorKind
	Err  error
}

func (e *ApplyError) Error() string {
	if e.Kind == ApplyFatal {
		return fmt.Sprintf("fatal apply error: %v", e.Err)
	}
	return fmt.Sprintf("transient apply error: %v", e.Err)
}

func (e *ApplyError) Unwrap() error {
	return e.Err
}

// fatalf builds a fatal ApplyError.
func fatalf(format string, args ...interface{}) error {
	return &ApplyError{Kind: ApplyFatal, Err: fmt.Errorf(format, args...)}
}

// transientf builds a transient ApplyError.
func transientf(format string, args ...interface{}) error {
	return &ApplyError{Kind: ApplyTransient, Err: fmt.Errorf(format, args...)}
}

// IsFatal reports whether err is a fatal (quarantine, don't retry) apply
// error. Context cancellation and deadline expiry are never fatal.
func IsFatal(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var ae *ApplyError
	return errors.As(err, &ae) && ae.Kind == ApplyFatal
}
