package repository

import "errors"

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("repository: not found")
	// ErrAlreadyExists indicates a unique constraint (username or email) was violated.
	ErrAlreadyExists = errors.New("repository: already exists")
	// ErrConflict indicates a concurrent writer kept winning the optimistic transaction.
	ErrConflict = errors.New("repository: concurrent update conflict")
	// ErrStalePassword indicates the stored password hash no longer matches the one a
	// password change was validated against.
	ErrStalePassword = errors.New("repository: password changed concurrently")
)
