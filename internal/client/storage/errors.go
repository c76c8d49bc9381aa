package storage

import "errors"

// Common client storage errors
var (
	// ErrEntryNotFound indicates that entity is not present in local cache
	ErrEntryNotFound = errors.New("entity not found in local cache")

	// ErrStorageClosed indicates that storage is closed
	ErrStorageClosed = errors.New("storage is closed")
)
