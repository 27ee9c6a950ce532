package keystore

import (
	"io"

	"github.com/backkem/cloudconnector/pkg/encryption"
)

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Store is an encryption.Store that owns resources.
type Store interface {
	encryption.Store
	io.Closer
}

// Options selects and configures a backend.
type Options struct {
	// Backend is one of BackendMemory, BackendFile or BackendSQLite.
	// Empty selects BackendMemory.
	Backend string

	// Path is the file or database path for persistent backends.
	Path string

	// Secret seals the file backend.
	Secret []byte

	// DeviceID salts the file backend's sealing key.
	DeviceID []byte
}

// Open creates the store described by opts.
func Open(opts Options) (Store, error) {
	switch opts.Backend {
	case "", BackendMemory:
		return NewMemoryStore(), nil
	case BackendFile:
		return OpenFileStore(opts.Path, opts.Secret, opts.DeviceID)
	case BackendSQLite:
		return OpenSQLiteStore(opts.Path)
	default:
		return nil, ErrUnknownBackend
	}
}
