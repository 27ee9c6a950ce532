package encryption

import (
	"fmt"

	"github.com/backkem/cloudconnector/pkg/crypto"
)

// Provider performs the host-side cryptographic and persistence
// operations for the engine. All calls are synchronous: they complete or
// fail before the calling operation proceeds.
type Provider interface {
	// EncryptGCM seals plaintext and returns the ciphertext and detached tag.
	EncryptGCM(key, iv, aad, plaintext []byte) (ciphertext, tag []byte, err error)

	// DecryptGCM opens ciphertext, failing if the tag does not verify.
	DecryptGCM(key, iv, aad, ciphertext, tag []byte) ([]byte, error)

	// Load returns the record for (class, dataType). size is the required
	// length; ErrNotFound and ErrSizeMismatch report absent or unusable data.
	Load(class crypto.TransportClass, dataType DataType, size int) ([]byte, error)

	// Store persists data for (class, dataType). An empty slice erases it.
	Store(class crypto.TransportClass, dataType DataType, data []byte) error
}

// Store is a persistent record store keyed by (transport class, data type).
// Implementations must be safe for concurrent use.
type Store interface {
	Load(class crypto.TransportClass, dataType DataType) ([]byte, error)
	Store(class crypto.TransportClass, dataType DataType, data []byte) error
}

// SoftwareProvider implements Provider with the AES-GCM primitives of
// pkg/crypto and a Store for persistence.
type SoftwareProvider struct {
	store Store
}

// NewSoftwareProvider creates a provider backed by store.
func NewSoftwareProvider(store Store) *SoftwareProvider {
	return &SoftwareProvider{store: store}
}

// EncryptGCM implements Provider.
func (p *SoftwareProvider) EncryptGCM(key, iv, aad, plaintext []byte) ([]byte, []byte, error) {
	return crypto.EncryptGCM(key, iv, aad, plaintext)
}

// DecryptGCM implements Provider.
func (p *SoftwareProvider) DecryptGCM(key, iv, aad, ciphertext, tag []byte) ([]byte, error) {
	return crypto.DecryptGCM(key, iv, aad, ciphertext, tag)
}

// Load implements Provider.
func (p *SoftwareProvider) Load(class crypto.TransportClass, dataType DataType, size int) ([]byte, error) {
	data, err := p.store.Load(class, dataType)
	if err != nil {
		return nil, err
	}
	if len(data) != size {
		return nil, fmt.Errorf("%w: %s/%s has %d bytes, want %d", ErrSizeMismatch, class, dataType, len(data), size)
	}
	return data, nil
}

// Store implements Provider.
func (p *SoftwareProvider) Store(class crypto.TransportClass, dataType DataType, data []byte) error {
	return p.store.Store(class, dataType, data)
}

var _ Provider = (*SoftwareProvider)(nil)
