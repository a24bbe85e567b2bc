package grantbook

import "errors"

var (
	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConcurrencyConflict is returned when an optimistic locking check fails.
	ErrConcurrencyConflict = errors.New("concurrency conflict")

	// ErrDuplicateID is returned when inserting a document with an ID that already exists.
	ErrDuplicateID = errors.New("duplicate id")
)
