package keystore

import (
	"sync"

	"github.com/backkem/cloudconnector/pkg/crypto"
	"github.com/backkem/cloudconnector/pkg/encryption"
)

type recordKey struct {
	class    crypto.TransportClass
	dataType encryption.DataType
}

// MemoryStore is an in-memory Store implementation.
// Useful for testing and development. Data is lost when the process exits.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[recordKey][]byte
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[recordKey][]byte),
	}
}

// Load returns a copy of the record or encryption.ErrNotFound.
func (m *MemoryStore) Load(class crypto.TransportClass, dataType encryption.DataType) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.records[recordKey{class, dataType}]
	if !ok {
		return nil, encryption.ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

// Store saves a copy of data. Empty data removes the record.
func (m *MemoryStore) Store(class crypto.TransportClass, dataType encryption.DataType, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := recordKey{class, dataType}
	if len(data) == 0 {
		delete(m.records, k)
		return nil
	}
	m.records[k] = append([]byte(nil), data...)
	return nil
}

// Len returns the number of stored records.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// Close implements io.Closer. It is a no-op.
func (m *MemoryStore) Close() error {
	return nil
}

var _ encryption.Store = (*MemoryStore)(nil)
