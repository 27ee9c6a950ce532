package keystore

import (
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/backkem/cloudconnector/pkg/crypto"
	"github.com/backkem/cloudconnector/pkg/encryption"
	"github.com/fxamacker/cbor/v2"
)

// fileVersion is the image format written by FileStore.
const fileVersion = 1

// fileAAD binds the sealed image to its format.
var fileAAD = []byte("cloudconnector keystore")

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	// Core deterministic encoding keeps the image byte-identical for the
	// same record set.
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("keystore: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("keystore: CBOR decoder initialization failed: " + err.Error())
	}
}

type fileRecord struct {
	Class    uint8  `cbor:"1,keyasint"`
	DataType int    `cbor:"2,keyasint"`
	Data     []byte `cbor:"3,keyasint"`
}

type fileImage struct {
	Version int          `cbor:"1,keyasint"`
	Records []fileRecord `cbor:"2,keyasint"`
}

// FileStore keeps all records in one file. The file holds a CBOR image
// sealed with AES-GCM:
//
//	iv (12) || ciphertext || tag (16)
//
// Every Store rewrites the file through a temporary file and rename.
type FileStore struct {
	path string
	key  []byte

	mu      sync.Mutex
	records map[recordKey][]byte
}

// OpenFileStore opens or creates the store at path. The sealing key is
// derived from secret and deviceID.
func OpenFileStore(path string, secret, deviceID []byte) (*FileStore, error) {
	if len(secret) == 0 {
		return nil, ErrNoSecret
	}
	key, err := crypto.DeriveStorageKey(secret, deviceID)
	if err != nil {
		return nil, err
	}

	f := &FileStore{
		path:    path,
		key:     key,
		records: make(map[recordKey][]byte),
	}

	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return f, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read keystore: %w", err)
	}
	if err := f.decode(raw); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *FileStore) decode(raw []byte) error {
	if len(raw) < crypto.IVSize+crypto.TagSize {
		return ErrCorrupt
	}
	iv := raw[:crypto.IVSize]
	ct := raw[crypto.IVSize : len(raw)-crypto.TagSize]
	tag := raw[len(raw)-crypto.TagSize:]

	plain, err := crypto.DecryptGCM(f.key, iv, fileAAD, ct, tag)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	var img fileImage
	if err := decMode.Unmarshal(plain, &img); err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if img.Version != fileVersion {
		return fmt.Errorf("%w: unsupported version %d", ErrCorrupt, img.Version)
	}
	for _, r := range img.Records {
		f.records[recordKey{crypto.TransportClass(r.Class), encryption.DataType(r.DataType)}] = r.Data
	}
	return nil
}

// Load returns a copy of the record or encryption.ErrNotFound.
func (f *FileStore) Load(class crypto.TransportClass, dataType encryption.DataType) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, ok := f.records[recordKey{class, dataType}]
	if !ok {
		return nil, encryption.ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

// Store saves data and rewrites the file. Empty data removes the record.
// On a write failure the in-memory record set is rolled back.
func (f *FileStore) Store(class crypto.TransportClass, dataType encryption.DataType, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	k := recordKey{class, dataType}
	old, had := f.records[k]
	if len(data) == 0 {
		delete(f.records, k)
	} else {
		f.records[k] = append([]byte(nil), data...)
	}

	if err := f.flushLocked(); err != nil {
		if had {
			f.records[k] = old
		} else {
			delete(f.records, k)
		}
		return err
	}
	return nil
}

func (f *FileStore) flushLocked() error {
	img := fileImage{Version: fileVersion}
	for k, data := range f.records {
		img.Records = append(img.Records, fileRecord{
			Class:    uint8(k.class),
			DataType: int(k.dataType),
			Data:     data,
		})
	}
	sort.Slice(img.Records, func(i, j int) bool {
		a, b := img.Records[i], img.Records[j]
		if a.Class != b.Class {
			return a.Class < b.Class
		}
		return a.DataType < b.DataType
	})

	plain, err := encMode.Marshal(img)
	if err != nil {
		return fmt.Errorf("encode keystore: %w", err)
	}

	iv := make([]byte, crypto.IVSize)
	if _, err := rand.Read(iv); err != nil {
		return fmt.Errorf("keystore iv: %w", err)
	}
	ct, tag, err := crypto.EncryptGCM(f.key, iv, fileAAD, plain)
	if err != nil {
		return fmt.Errorf("seal keystore: %w", err)
	}

	out := make([]byte, 0, len(iv)+len(ct)+len(tag))
	out = append(out, iv...)
	out = append(out, ct...)
	out = append(out, tag...)

	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".keystore-*")
	if err != nil {
		return fmt.Errorf("write keystore: %w", err)
	}
	if _, err := tmp.Write(out); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write keystore: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("sync keystore: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write keystore: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace keystore: %w", err)
	}
	return nil
}

// Path returns the file path of the store.
func (f *FileStore) Path() string {
	return f.path
}

// Close implements io.Closer. Every Store is already durable.
func (f *FileStore) Close() error {
	return nil
}

var _ encryption.Store = (*FileStore)(nil)
