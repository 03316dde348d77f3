// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist, or belongs to a
// different owner. The two cases are deliberately indistinguishable so the
// existence of another user's data cannot be probed.
var ErrNotFound = errors.New("not found")

// ErrInvalidTransition indicates the requested lifecycle operation is illegal
// for the instance's current status.
var ErrInvalidTransition = errors.New("invalid state transition")

// ErrBackendUnavailable indicates the storage backend failed after exhausting
// its local recovery budget.
var ErrBackendUnavailable = errors.New("backend unavailable")

// ErrValidation indicates malformed caller input.
var ErrValidation = errors.New("validation failed")
