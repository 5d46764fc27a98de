// Package store defines the backing store interface and implementations.
package store

import (
	"fmt"
)

// Store is the interface that all backing stores must implement.
//
// Every request loads the document, mutates the copy it got back and
// persists it. Load never hands out a document that another caller holds,
// so two overlapping writers race on the backing medium only: the later
// Persist wins and the earlier change is lost.
type Store interface {
	// Load reads the backing medium and returns a freshly parsed document.
	// A missing or empty medium yields an empty document.
	Load() (*Document, error)

	// Persist replaces the backing medium with doc.
	Persist(doc *Document) error

	// Close releases any resources held by the store.
	Close() error
}

// StorageError reports a failure reading, parsing or writing the backing
// medium.
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
