// Package apperr defines the business error kinds surfaced by the enrollment and
// attendance engine.
package apperr

import (
	"errors"
)

// Kind identifies a class of failure that callers can render differently.
type Kind string

const (
	KindNotFound            Kind = "not_found"
	KindInactive            Kind = "inactive"
	KindShiftMismatch       Kind = "shift_mismatch"
	KindCapacityExceeded    Kind = "capacity_exceeded"
	KindDuplicateEnrollment Kind = "duplicate_enrollment"
	KindMissingPrerequisite Kind = "missing_prerequisite_enrollment"
	KindNotEnrolled         Kind = "not_enrolled"
	KindInvalidCredential   Kind = "invalid_credential"
	KindOutsideWindow       Kind = "outside_validity_window"
	KindAlreadyPresent      Kind = "already_present"
	KindUnauthorized        Kind = "unauthorized"
	KindConflict            Kind = "conflict"
	KindInvalidInput        Kind = "invalid_input"
	KindInternal            Kind = "internal"
)

// Category groups kinds by how a client should react.
type Category string

const (
	// CategoryInformational means the requested outcome already holds.
	CategoryInformational Category = "informational"
	// CategoryRejected means a business rule refused the request.
	CategoryRejected Category = "rejected"
	// CategoryTransient means the system was busy; retrying may succeed.
	CategoryTransient Category = "transient"
	// CategoryFailure is an unexpected infrastructure failure.
	CategoryFailure Category = "failure"
)

// Category returns the client-facing category of the kind.
func (k Kind) Category() Category {
	switch k {
	case KindDuplicateEnrollment, KindAlreadyPresent:
		return CategoryInformational
	case KindConflict:
		return CategoryTransient
	case KindInternal:
		return CategoryFailure
	default:
		return CategoryRejected
	}
}

// Retryable reports whether a client is expected to retry.
func (k Kind) Retryable() bool { return k == KindConflict }

// Error is a business error with a user-facing message.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

// New creates an error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Wrap creates an error of the given kind carrying an underlying cause.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error with the same kind and message, so wrapped copies of a
// sentinel still satisfy errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Message == t.Message
}

// KindOf returns the kind of err, KindInternal for foreign errors and "" for nil.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Message returns the user-facing message for err.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal error"
}

var (
	ErrEventNotFound         = New(KindNotFound, "event not found")
	ErrTalkNotFound          = New(KindNotFound, "talk not found")
	ErrEnrollmentNotFound    = New(KindNotFound, "enrollment not found")
	ErrCertificateNotFound   = New(KindNotFound, "certificate not found or invalid")
	ErrUserNotFound          = New(KindNotFound, "user not found")
	ErrEventInactive         = New(KindInactive, "event is not active")
	ErrShiftMismatch         = New(KindShiftMismatch, "event is not offered for your shift")
	ErrEventFull             = New(KindCapacityExceeded, "no seats available for this event")
	ErrTalkFull              = New(KindCapacityExceeded, "no seats available for this talk")
	ErrAlreadyEnrolled       = New(KindDuplicateEnrollment, "already enrolled")
	ErrEventEnrollmentNeeded = New(KindMissingPrerequisite, "enroll in the event before enrolling in its talks")
	ErrNotEnrolled           = New(KindNotEnrolled, "not enrolled in this talk")
	ErrInvalidCredential     = New(KindInvalidCredential, "invalid or expired QR code, scan again")
	ErrOutsideWindow         = New(KindOutsideWindow, "attendance is not open for this talk right now")
	ErrAlreadyPresent        = New(KindAlreadyPresent, "attendance already confirmed")
	ErrForbidden             = New(KindUnauthorized, "insufficient permissions")
	ErrBusy                  = New(KindConflict, "system busy, please retry")
	ErrRegenerationInFlight  = New(KindConflict, "credential regeneration already in progress")
)
