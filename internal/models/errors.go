// Package models holds the typed records shared across shot-o-matic and the
// error taxonomy every layer reports in.
//
// Sentinel errors are wrapped with fmt.Errorf("%w") when returned and are
// checked with errors.Is. User-facing ones end up as a flash message plus a
// redirect; StorageError is reported distinctly from "not found".
package models

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidName indicates a user name or filename failed sanitization.
	ErrInvalidName = errors.New("invalid name")

	// ErrExtensionNotAllowed indicates an upload whose extension is not in the allow-list.
	ErrExtensionNotAllowed = errors.New("file extension not allowed")

	// ErrNotFound indicates a missing user or screenshot.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateUser indicates create was called for an existing name.
	ErrDuplicateUser = errors.New("user already exists")

	// ErrInvalidCredentials is returned for both unknown users and wrong
	// passwords so callers cannot enumerate accounts.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrNamespaceExists is carried by a StorageError when a new user's
	// directory is already on disk, e.g. left over from an earlier account.
	ErrNamespaceExists = errors.New("namespace already exists")

	// ErrInvalidPassword indicates a password that fails the minimum policy.
	ErrInvalidPassword = errors.New("invalid password")
)

// StorageError reports a filesystem failure while creating, moving or
// removing a namespace or a screenshot.
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// IsUserFacing reports whether err should be shown to the user as a flash
// message instead of failing the request.
func IsUserFacing(err error) bool {
	return errors.Is(err, ErrInvalidName) ||
		errors.Is(err, ErrExtensionNotAllowed) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrDuplicateUser) ||
		errors.Is(err, ErrInvalidCredentials) ||
		errors.Is(err, ErrInvalidPassword)
}
