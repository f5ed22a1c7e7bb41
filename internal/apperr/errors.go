// Package apperr holds the sentinel errors shared across Othala's layers.
package apperr

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrAlreadyExists = errors.New("already exists")

	// ErrIdentityImmutable is returned when a write attempts to change the id
	// header field of an existing note.
	ErrIdentityImmutable = errors.New("note identity is immutable")

	// ErrOutsideVault is returned for paths escaping the vault root.
	ErrOutsideVault = errors.New("path outside vault")
)
