package encryption

import (
	"encoding/binary"
	"fmt"

	"github.com/backkem/cloudconnector/pkg/crypto"
)

// KeyUpdate is a staged key rotation. The new key is persisted when the
// update begins but the in-memory keyring only switches on Commit. Abort
// restores the persisted records so a failed rotation leaves the device
// on its old key.
type KeyUpdate struct {
	engine *Engine
	key    []byte
	oldKey Key
	oldIDs map[crypto.TransportClass]uint16
	done   bool
}

// BeginKeyUpdate stores key as the persisted current key and resets the
// persisted request id counters of every encrypting transport.
func (e *Engine) BeginKeyUpdate(key []byte) (*KeyUpdate, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.update != nil {
		return nil, ErrUpdateInProgress
	}
	if len(key) != crypto.KeySize {
		return nil, ErrInvalidKey
	}

	u := &KeyUpdate{
		engine: e,
		key:    append([]byte(nil), key...),
		oldKey: e.keyring.Current.clone(),
		oldIDs: make(map[crypto.TransportClass]uint16, len(e.nextID)),
	}
	for class, id := range e.nextID {
		u.oldIDs[class] = id
	}

	if err := e.provider.Store(crypto.ClassAll, DataTypeCurrentKey, u.key); err != nil {
		return nil, fmt.Errorf("%w: current key: %v", ErrStore, err)
	}

	zero := []byte{0, 0}
	for _, class := range e.classes {
		if err := e.provider.Store(class, DataTypeRequestID, zero); err != nil {
			u.restoreLocked()
			return nil, fmt.Errorf("%w: reset %s request id: %v", ErrStore, class, err)
		}
	}

	e.update = u
	return u, nil
}

// WriteTracking persists the tracking record of class.
func (u *KeyUpdate) WriteTracking(class crypto.TransportClass) error {
	e := u.engine
	e.mu.Lock()
	defer e.mu.Unlock()

	if u.done {
		return ErrUpdateDone
	}
	tr, ok := e.tracking[class]
	if !ok {
		return ErrUnknownClass
	}
	if err := e.provider.Store(class, DataTypeTracking, tr.Bytes()); err != nil {
		return fmt.Errorf("%w: %s tracking: %v", ErrStore, class, err)
	}
	return nil
}

// Tag computes the key tag under the staged key.
func (u *KeyUpdate) Tag() ([]byte, error) {
	e := u.engine
	e.mu.Lock()
	defer e.mu.Unlock()

	if u.done {
		return nil, ErrUpdateDone
	}
	tag, err := e.tagFor(u.key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTagGeneration, err)
	}
	return tag, nil
}

// Commit installs the staged key. The old current key, if valid, becomes
// the previous key.
func (u *KeyUpdate) Commit() error {
	e := u.engine
	e.mu.Lock()
	defer e.mu.Unlock()

	if u.done {
		return ErrUpdateDone
	}
	u.done = true
	e.update = nil

	if e.keyring.Current.Valid {
		e.keyring.Previous = e.keyring.Current.clone()
		if err := e.provider.Store(crypto.ClassAll, DataTypePreviousKey, e.keyring.Previous.Bytes); err != nil && e.log != nil {
			e.log.Warnf("store previous key: %v", err)
		}
	} else {
		// Nothing can still be in flight under an unusable key, so the
		// tracking records start over with the new one.
		for class, tr := range e.tracking {
			tr.Clear()
			if err := e.provider.Store(class, DataTypeTracking, tr.Bytes()); err != nil && e.log != nil {
				e.log.Warnf("clear %s tracking: %v", class, err)
			}
		}
	}

	e.keyring.Current = Key{Bytes: u.key, Valid: true}
	for class := range e.nextID {
		e.nextID[class] = 0
	}

	if e.log != nil {
		e.log.Info("new key installed")
	}
	return nil
}

// Abort discards the staged key and restores the persisted records.
// Calling Abort after Commit or a previous Abort has no effect.
func (u *KeyUpdate) Abort() {
	e := u.engine
	e.mu.Lock()
	defer e.mu.Unlock()

	if u.done {
		return
	}
	u.done = true
	e.update = nil
	u.restoreLocked()

	if e.log != nil {
		e.log.Info("key update aborted")
	}
}

func (u *KeyUpdate) restoreLocked() {
	e := u.engine

	var old []byte
	if u.oldKey.Valid {
		old = u.oldKey.Bytes
	}
	if err := e.provider.Store(crypto.ClassAll, DataTypeCurrentKey, old); err != nil && e.log != nil {
		e.log.Warnf("restore current key: %v", err)
	}

	var buf [2]byte
	for class, id := range u.oldIDs {
		binary.BigEndian.PutUint16(buf[:], id)
		if err := e.provider.Store(class, DataTypeRequestID, buf[:]); err != nil && e.log != nil {
			e.log.Warnf("restore %s request id: %v", class, err)
		}
	}
}

// SetKey installs key in one step: it persists the key, writes the
// tracking record of every encrypting transport and commits. On failure
// the previous key stays in place.
func (e *Engine) SetKey(key []byte) error {
	u, err := e.BeginKeyUpdate(key)
	if err != nil {
		return err
	}
	for _, class := range e.classes {
		if err := u.WriteTracking(class); err != nil {
			u.Abort()
			return err
		}
	}
	return u.Commit()
}
