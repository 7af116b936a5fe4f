// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package taskerr defines the four error kinds a lifecycle task hook
// or the resource solver can signal, and how the coordinator reacts
// to each: Infeasible is returned rather than thrown, HookFailure
// marks the job failed but still lets it drain and finalize, Fatal
// tears down abruptly with no finalize pass, and Interrupted unwinds
// cleanly in response to cooperative cancellation.
package taskerr

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies a task error by how the coordinator must react to it.
type Kind string

const (
	// KindInfeasible means the resource solver could not place the
	// task's requirement on the cluster; the job never starts.
	KindInfeasible Kind = "INFEASIBLE"
	// KindHookFailure means a lifecycle hook returned an error; the
	// job is marked failed but in-flight subtasks still drain and
	// MasterFinalize still runs.
	KindHookFailure Kind = "HOOK_FAILURE"
	// KindFatal means the runtime itself broke (lost transport,
	// corrupt frame); teardown is immediate, no finalize hook runs.
	KindFatal Kind = "FATAL"
	// KindInterrupted means a caller-requested cancellation unwound
	// the job cleanly.
	KindInterrupted Kind = "INTERRUPTED"
)

// Error is the concrete error type returned by components A through F
// for every failure mode spec.md distinguishes by reaction, not just
// by cause.
type Error struct {
	Kind      Kind
	Message   string
	Timestamp time.Time
	Cause     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap returns the wrapped cause, if any.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches another *Error by Kind, ignoring message and cause, so
// callers can write errors.Is(err, taskerr.Fatal("", nil)) style checks.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

func newError(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Timestamp: time.Now(), Cause: cause}
}

// Infeasible reports that the solver found no valid placement for a
// requirement. The coordinator returns this to the caller without
// ever starting a job.
func Infeasible(message string) *Error {
	return newError(KindInfeasible, message, nil)
}

// HookFailure wraps an error returned by one of the seven lifecycle
// hooks. The job is marked failed but MasterFinalize still runs.
func HookFailure(hook string, cause error) *Error {
	return newError(KindHookFailure, fmt.Sprintf("hook %q failed", hook), cause)
}

// Fatal reports a runtime failure with no recoverable continuation:
// a broken transport, a corrupt frame, a lost worker mid-protocol.
func Fatal(message string, cause error) *Error {
	return newError(KindFatal, message, cause)
}

// Interrupted reports a cooperative cancellation, typically
// originating from a context cancellation or a CLI Ctrl-C.
func Interrupted(message string) *Error {
	return newError(KindInterrupted, message, nil)
}

// WrapTransportError classifies an error surfaced by internal/transport
// as Fatal, since a broken connection mid-protocol has no recoverable
// continuation for the runtime layer.
func WrapTransportError(err error) *Error {
	if err == nil {
		return nil
	}
	var te *Error
	if errors.As(err, &te) {
		return te
	}
	return Fatal("transport error", err)
}

// Is reports whether err is a *Error of the given kind.
func Is(err error, kind Kind) bool {
	var te *Error
	if !errors.As(err, &te) {
		return false
	}
	return te.Kind == kind
}
