package encryption

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/backkem/cloudconnector/pkg/crypto"
	"github.com/pion/logging"
)

// LastRequestID is the all-ones 10-bit request id. It is never issued;
// reaching it on an encrypting transport means a new key is required.
const LastRequestID uint16 = RequestIDSpace - 1

// Config configures an Engine.
type Config struct {
	// Provider performs cryptography and persistence. Required.
	Provider Provider

	// DeviceID is the 16-byte device identifier. If nil it is loaded from
	// the provider by Load.
	DeviceID []byte

	// Classes lists the encrypting short-message transports. Each gets a
	// tracking record and a persisted request id counter.
	Classes []crypto.TransportClass

	// Role selects the IV pools used for sealing and opening.
	Role Role

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Engine encrypts and decrypts short-message payloads and owns the keyring.
//
// The keyring is only changed through KeyUpdate and InvalidateKey. All
// methods are safe for concurrent use.
type Engine struct {
	provider Provider
	role     Role
	classes  []crypto.TransportClass
	log      logging.LeveledLogger

	mu       sync.Mutex
	keyring  Keyring
	tracking map[crypto.TransportClass]*TrackingRecord
	nextID   map[crypto.TransportClass]uint16
	update   *KeyUpdate
}

// NewEngine creates an engine. Call Load before use to restore persisted
// key material.
func NewEngine(config Config) (*Engine, error) {
	if config.Provider == nil {
		return nil, ErrNoProvider
	}
	if config.DeviceID != nil && len(config.DeviceID) != crypto.DeviceIDSize {
		return nil, crypto.ErrInvalidDeviceIDSize
	}

	e := &Engine{
		provider: config.Provider,
		role:     config.Role,
		classes:  append([]crypto.TransportClass(nil), config.Classes...),
		tracking: make(map[crypto.TransportClass]*TrackingRecord),
		nextID:   make(map[crypto.TransportClass]uint16),
	}
	if config.DeviceID != nil {
		e.keyring.DeviceID = append([]byte(nil), config.DeviceID...)
	}
	for _, class := range e.classes {
		e.tracking[class] = &TrackingRecord{}
		e.nextID[class] = 0
	}

	if config.LoggerFactory != nil {
		e.log = config.LoggerFactory.NewLogger("sm-crypto")
	}

	return e, nil
}

// Load restores the device id, keys, tracking records and request id
// counters from the provider. Missing records leave defaults in place.
func (e *Engine) Load() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.keyring.DeviceID == nil {
		id, err := e.provider.Load(crypto.ClassAll, DataTypeDeviceID, crypto.DeviceIDSize)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrNoDeviceID, err)
		}
		e.keyring.DeviceID = id
	}

	e.keyring.Current = e.loadKey(DataTypeCurrentKey)
	e.keyring.Previous = e.loadKey(DataTypePreviousKey)

	for _, class := range e.classes {
		if b, err := e.provider.Load(class, DataTypeTracking, TrackingSize); err == nil {
			e.tracking[class].load(b)
		} else {
			e.logLoadError(class, DataTypeTracking, err)
		}
		if b, err := e.provider.Load(class, DataTypeRequestID, 2); err == nil {
			e.nextID[class] = binary.BigEndian.Uint16(b)
		} else {
			e.logLoadError(class, DataTypeRequestID, err)
		}
	}

	if e.log != nil {
		e.log.Infof("loaded keyring: current=%t previous=%t", e.keyring.Current.Valid, e.keyring.Previous.Valid)
	}
	return nil
}

func (e *Engine) loadKey(dataType DataType) Key {
	b, err := e.provider.Load(crypto.ClassAll, dataType, crypto.KeySize)
	if err != nil {
		e.logLoadError(crypto.ClassAll, dataType, err)
		return Key{}
	}
	return Key{Bytes: b, Valid: usableKey(b, crypto.KeySize)}
}

func (e *Engine) logLoadError(class crypto.TransportClass, dataType DataType, err error) {
	if e.log == nil || errors.Is(err, ErrNotFound) {
		return
	}
	e.log.Warnf("load %s/%s: %v", class, dataType, err)
}

// HaveKey reports whether the current key is valid.
func (e *Engine) HaveKey() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.keyring.Current.Valid
}

// DeviceID returns a copy of the device identifier.
func (e *Engine) DeviceID() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]byte(nil), e.keyring.DeviceID...)
}

// Keyring returns a snapshot of the keyring.
func (e *Engine) Keyring() Keyring {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.keyring.Clone()
}

// Tracking returns a copy of the tracking record for class.
func (e *Engine) Tracking(class crypto.TransportClass) (TrackingRecord, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	tr, ok := e.tracking[class]
	if !ok {
		return TrackingRecord{}, false
	}
	return *tr, true
}

// InvalidateKey marks the current key unusable. The next capability
// advertisement omits the have-key flag so the cloud issues a new key.
func (e *Engine) InvalidateKey() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.keyring.Current.Valid = false
	if e.log != nil {
		e.log.Info("current key invalidated")
	}
}

func (e *Engine) pools() (seal, open crypto.Pool) {
	if e.role == RoleCloud {
		return crypto.PoolCloud, crypto.PoolDevice
	}
	return crypto.PoolDevice, crypto.PoolCloud
}

// Encrypt seals plaintext under the current key.
func (e *Engine) Encrypt(class crypto.TransportClass, typ crypto.MessageType, requestID uint16, plaintext []byte) (ciphertext, tag []byte, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.keyring.Current.Valid {
		return nil, nil, ErrNoKey
	}
	seal, _ := e.pools()
	iv, err := crypto.DeriveIV(e.keyring.DeviceID, class, typ, seal, requestID)
	if err != nil {
		return nil, nil, err
	}
	return e.provider.EncryptGCM(e.keyring.Current.Bytes, iv, e.keyring.DeviceID, plaintext)
}

// Decrypt opens a message from the peer. The current key is tried first,
// then the previous key for messages sent before the last rotation. The
// first success under the current key retires the previous key and
// resets the transport's tracking record.
//
// Requests are checked against the tracking record: a request id already
// accepted under the current key yields ErrReplay.
//
// Authentication failures never invalidate the current key.
func (e *Engine) Decrypt(class crypto.TransportClass, typ crypto.MessageType, requestID uint16, ciphertext, tag []byte) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.keyring.Current.Valid {
		return nil, ErrNoKey
	}
	_, open := e.pools()
	iv, err := crypto.DeriveIV(e.keyring.DeviceID, class, typ, open, requestID)
	if err != nil {
		return nil, err
	}
	aad := e.keyring.DeviceID

	plaintext, err := e.provider.DecryptGCM(e.keyring.Current.Bytes, iv, aad, ciphertext, tag)
	if err == nil {
		if e.keyring.Previous.Valid {
			e.retirePrevious(class)
		}
	} else if e.keyring.Previous.Valid {
		plaintext, err = e.provider.DecryptGCM(e.keyring.Previous.Bytes, iv, aad, ciphertext, tag)
	}
	if err != nil {
		if e.log != nil {
			e.log.Debugf("decrypt %s request id %d failed: %v", class, requestID, err)
		}
		return nil, ErrAuthFailure
	}

	tr, tracked := e.tracking[class]
	if typ != crypto.TypeRequest || !tracked {
		return plaintext, nil
	}
	if tr.Seen(requestID) {
		if e.log != nil {
			e.log.Warnf("duplicate %s request %d", class, requestID)
		}
		return nil, ErrReplay
	}
	tr.Mark(requestID)
	if err := e.provider.Store(class, DataTypeTracking, tr.Bytes()); err != nil {
		return nil, fmt.Errorf("%w: %s tracking: %v", ErrStore, class, err)
	}
	return plaintext, nil
}

// retirePrevious drops the previous key once the current one is proven.
func (e *Engine) retirePrevious(class crypto.TransportClass) {
	e.keyring.Previous = Key{}
	if err := e.provider.Store(crypto.ClassAll, DataTypePreviousKey, nil); err != nil && e.log != nil {
		e.log.Warnf("erase previous key: %v", err)
	}
	if tr, ok := e.tracking[class]; ok {
		tr.Clear()
		if err := e.provider.Store(class, DataTypeTracking, tr.Bytes()); err != nil && e.log != nil {
			e.log.Warnf("clear %s tracking: %v", class, err)
		}
	}
}

// KeyTag returns the authentication tag of a zero-length message sealed
// under the current key. A failure clears the current key's valid flag.
func (e *Engine) KeyTag() ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.keyring.Current.Valid {
		return nil, ErrNoKey
	}
	tag, err := e.tagFor(e.keyring.Current.Bytes)
	if err != nil {
		e.keyring.Current.Valid = false
		if e.log != nil {
			e.log.Warnf("key self-test failed, key invalidated: %v", err)
		}
		return nil, fmt.Errorf("%w: %v", ErrTagGeneration, err)
	}
	return tag, nil
}

// tagFor seals an empty message with request id 0 on the primary
// transport class. Both sides compute it in the device pool.
func (e *Engine) tagFor(key []byte) ([]byte, error) {
	iv, err := crypto.DeriveIV(e.keyring.DeviceID, crypto.ClassEDP, crypto.TypeRequest, crypto.PoolDevice, 0)
	if err != nil {
		return nil, err
	}
	_, tag, err := e.provider.EncryptGCM(key, iv, e.keyring.DeviceID, nil)
	if err != nil {
		return nil, err
	}
	return tag, nil
}

// NextRequestID issues the next device request id for class and persists
// its successor. Ids never wrap under one key: once LastRequestID is
// reached ErrRekeyRequired is returned until a new key is committed. A
// failed store poisons the counter because ids can no longer be trusted.
func (e *Engine) NextRequestID(class crypto.TransportClass) (uint16, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	id, ok := e.nextID[class]
	if !ok {
		return 0, ErrUnknownClass
	}
	if id >= LastRequestID {
		return 0, ErrRekeyRequired
	}

	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], id+1)
	if err := e.provider.Store(class, DataTypeRequestID, buf[:]); err != nil {
		e.nextID[class] = LastRequestID
		return 0, fmt.Errorf("%w: %s request id: %v", ErrStore, class, err)
	}
	e.nextID[class] = id + 1
	return id, nil
}

// RequestIDs returns an allocator that issues persisted request ids for
// class.
func (e *Engine) RequestIDs(class crypto.TransportClass) *RequestIDAllocator {
	return &RequestIDAllocator{engine: e, class: class}
}

// RequestIDAllocator issues request ids from the engine's persisted
// counter for one transport class.
type RequestIDAllocator struct {
	engine *Engine
	class  crypto.TransportClass
}

// Next returns the next request id that is not in use. A key change
// restarts the counter at 0 while sessions opened under the previous key
// may still hold low ids; those are skipped. Skipped ids are consumed,
// so no id is issued twice under one key.
func (a *RequestIDAllocator) Next(inUse func(uint16) bool) (uint16, error) {
	for {
		id, err := a.engine.NextRequestID(a.class)
		if err != nil || inUse == nil || !inUse(id) {
			return id, err
		}
	}
}
