package store

import (
	"sync"
)

// MemoryStore keeps the serialized document in memory. Data is lost on
// restart. Load always parses a fresh copy, so callers never share a
// document, same as the file-backed stores.
type MemoryStore struct {
	mu   sync.RWMutex
	data []byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// NewMemoryStoreFrom returns a store whose medium starts out as raw.
// raw is not validated until the first Load.
func NewMemoryStoreFrom(raw []byte) *MemoryStore {
	return &MemoryStore{data: append([]byte(nil), raw...)}
}

func (m *MemoryStore) Load() (*Document, error) {
	m.mu.RLock()
	data := m.data
	m.mu.RUnlock()

	doc, err := DecodeDocument(data)
	if err != nil {
		return nil, &StorageError{Op: "parse", Path: ":memory:", Err: err}
	}
	return doc, nil
}

func (m *MemoryStore) Persist(doc *Document) error {
	b, err := doc.MarshalJSON()
	if err != nil {
		return &StorageError{Op: "encode", Path: ":memory:", Err: err}
	}
	m.mu.Lock()
	m.data = b
	m.mu.Unlock()
	return nil
}

// Bytes returns a copy of the last persisted document.
func (m *MemoryStore) Bytes() []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]byte(nil), m.data...)
}

func (m *MemoryStore) Close() error {
	return nil
}
