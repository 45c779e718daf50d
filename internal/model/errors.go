package model

import "errors"

var (
	// ErrStorage marks I/O or serialization failures on the record table or an index file.
	ErrStorage = errors.New("storage error")
	// ErrNotFound marks operations that reference a nonexistent memory.
	ErrNotFound = errors.New("memory not found")
	// ErrDuplicateID marks an insert whose id already exists.
	ErrDuplicateID = errors.New("duplicate memory id")
	// ErrParse marks a corrupt index file or a malformed import entry.
	ErrParse = errors.New("parse error")
)
