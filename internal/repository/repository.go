// Package repository owns all SQL against the registrar database. State
// transitions that carry side effects run as single transactions with
// row-level locks on the entity being transitioned.
package repository

import "errors"

// ErrStateConflict is returned when a transition is attempted against a row
// whose locked status disallows it. Services translate it into the typed
// conflict error for the caller.
var ErrStateConflict = errors.New("state conflict")

// ErrDuplicateEnrollment is returned when an insert would violate the
// one-non-rejected-enrollment-per-(student, period) invariant.
var ErrDuplicateEnrollment = errors.New("duplicate enrollment")
