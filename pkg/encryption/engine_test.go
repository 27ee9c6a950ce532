package encryption

import (
	"bytes"
	"encoding/binary"
	"errors"
	"sync"
	"testing"

	"github.com/backkem/cloudconnector/pkg/crypto"
)

var (
	testDeviceID = bytes.Repeat([]byte{0xD1}, crypto.DeviceIDSize)
	keyA         = bytes.Repeat([]byte{0xAA}, crypto.KeySize)
	keyB         = bytes.Repeat([]byte{0xBB}, crypto.KeySize)
	testClasses  = []crypto.TransportClass{crypto.ClassUDP, crypto.ClassSMS}
)

type storeKey struct {
	class    crypto.TransportClass
	dataType DataType
}

// testStore is an in-memory Store that can be told to fail writes.
type testStore struct {
	mu      sync.Mutex
	records map[storeKey][]byte
	fail    map[storeKey]bool
}

func newTestStore() *testStore {
	return &testStore{
		records: make(map[storeKey][]byte),
		fail:    make(map[storeKey]bool),
	}
}

func (s *testStore) Load(class crypto.TransportClass, dataType DataType) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.records[storeKey{class, dataType}]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

func (s *testStore) Store(class crypto.TransportClass, dataType DataType, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := storeKey{class, dataType}
	if s.fail[k] {
		return errors.New("write failed")
	}
	if len(data) == 0 {
		delete(s.records, k)
		return nil
	}
	s.records[k] = append([]byte(nil), data...)
	return nil
}

func (s *testStore) failWrites(class crypto.TransportClass, dataType DataType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail[storeKey{class, dataType}] = true
}

func newTestEngine(t *testing.T, store Store, role Role) *Engine {
	t.Helper()
	e, err := NewEngine(Config{
		Provider: NewSoftwareProvider(store),
		DeviceID: testDeviceID,
		Classes:  testClasses,
		Role:     role,
	})
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	if err := e.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	return e
}

func installKey(t *testing.T, e *Engine, key []byte) {
	t.Helper()
	u, err := e.BeginKeyUpdate(key)
	if err != nil {
		t.Fatalf("BeginKeyUpdate() error = %v", err)
	}
	if err := u.Commit(); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
}

func TestNewEngine(t *testing.T) {
	t.Run("provider required", func(t *testing.T) {
		if _, err := NewEngine(Config{}); err != ErrNoProvider {
			t.Errorf("NewEngine() error = %v, want ErrNoProvider", err)
		}
	})

	t.Run("bad device id", func(t *testing.T) {
		_, err := NewEngine(Config{Provider: NewSoftwareProvider(newTestStore()), DeviceID: []byte{1}})
		if err != crypto.ErrInvalidDeviceIDSize {
			t.Errorf("NewEngine() error = %v, want ErrInvalidDeviceIDSize", err)
		}
	})

	t.Run("device id loaded from store", func(t *testing.T) {
		store := newTestStore()
		store.Store(crypto.ClassAll, DataTypeDeviceID, testDeviceID)
		e, _ := NewEngine(Config{Provider: NewSoftwareProvider(store)})
		if err := e.Load(); err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if !bytes.Equal(e.DeviceID(), testDeviceID) {
			t.Errorf("DeviceID() = %x, want %x", e.DeviceID(), testDeviceID)
		}
	})

	t.Run("no device id", func(t *testing.T) {
		e, _ := NewEngine(Config{Provider: NewSoftwareProvider(newTestStore())})
		if err := e.Load(); !errors.Is(err, ErrNoDeviceID) {
			t.Errorf("Load() error = %v, want ErrNoDeviceID", err)
		}
	})
}

func TestEngine_NoKey(t *testing.T) {
	e := newTestEngine(t, newTestStore(), RoleDevice)

	if e.HaveKey() {
		t.Error("HaveKey() = true for fresh engine")
	}
	if _, _, err := e.Encrypt(crypto.ClassUDP, crypto.TypeRequest, 1, []byte("x")); err != ErrNoKey {
		t.Errorf("Encrypt() error = %v, want ErrNoKey", err)
	}
	if _, err := e.KeyTag(); err != ErrNoKey {
		t.Errorf("KeyTag() error = %v, want ErrNoKey", err)
	}
}

func TestEngine_DeviceCloudRoundTrip(t *testing.T) {
	device := newTestEngine(t, newTestStore(), RoleDevice)
	cloud := newTestEngine(t, newTestStore(), RoleCloud)
	installKey(t, device, keyA)
	installKey(t, cloud, keyA)

	t.Run("device to cloud", func(t *testing.T) {
		msg := []byte("device request")
		ct, tag, err := device.Encrypt(crypto.ClassUDP, crypto.TypeRequest, 7, msg)
		if err != nil {
			t.Fatalf("Encrypt() error = %v", err)
		}
		got, err := cloud.Decrypt(crypto.ClassUDP, crypto.TypeRequest, 7, ct, tag)
		if err != nil {
			t.Fatalf("Decrypt() error = %v", err)
		}
		if !bytes.Equal(got, msg) {
			t.Errorf("Decrypt() = %q, want %q", got, msg)
		}
	})

	t.Run("cloud response", func(t *testing.T) {
		msg := []byte("cloud response")
		ct, tag, _ := cloud.Encrypt(crypto.ClassUDP, crypto.TypeResponse, 7, msg)
		got, err := device.Decrypt(crypto.ClassUDP, crypto.TypeResponse, 7, ct, tag)
		if err != nil {
			t.Fatalf("Decrypt() error = %v", err)
		}
		if !bytes.Equal(got, msg) {
			t.Errorf("Decrypt() = %q, want %q", got, msg)
		}
	})

	t.Run("pools keep directions apart", func(t *testing.T) {
		// A device message reflected back at the device must not verify.
		ct, tag, _ := device.Encrypt(crypto.ClassUDP, crypto.TypeRequest, 9, []byte("echo"))
		if _, err := device.Decrypt(crypto.ClassUDP, crypto.TypeRequest, 9, ct, tag); err != ErrAuthFailure {
			t.Errorf("Decrypt(reflected) error = %v, want ErrAuthFailure", err)
		}
	})

	t.Run("wrong transport class", func(t *testing.T) {
		ct, tag, _ := cloud.Encrypt(crypto.ClassUDP, crypto.TypeRequest, 11, []byte("udp only"))
		if _, err := device.Decrypt(crypto.ClassSMS, crypto.TypeRequest, 11, ct, tag); err != ErrAuthFailure {
			t.Errorf("Decrypt(sms) error = %v, want ErrAuthFailure", err)
		}
	})
}

func TestEngine_Replay(t *testing.T) {
	store := newTestStore()
	device := newTestEngine(t, store, RoleDevice)
	cloud := newTestEngine(t, newTestStore(), RoleCloud)
	installKey(t, device, keyA)
	installKey(t, cloud, keyA)

	ct, tag, _ := cloud.Encrypt(crypto.ClassSMS, crypto.TypeRequest, 5, []byte("reboot"))

	if _, err := device.Decrypt(crypto.ClassSMS, crypto.TypeRequest, 5, ct, tag); err != nil {
		t.Fatalf("first Decrypt() error = %v", err)
	}
	if _, err := device.Decrypt(crypto.ClassSMS, crypto.TypeRequest, 5, ct, tag); err != ErrReplay {
		t.Errorf("second Decrypt() error = %v, want ErrReplay", err)
	}

	tr, _ := device.Tracking(crypto.ClassSMS)
	if !tr.Seen(5) {
		t.Error("tracking record does not mark request 5")
	}

	persisted, err := store.Load(crypto.ClassSMS, DataTypeTracking)
	if err != nil {
		t.Fatalf("tracking not persisted: %v", err)
	}
	var restored TrackingRecord
	restored.load(persisted)
	if !restored.Seen(5) {
		t.Error("persisted tracking does not mark request 5")
	}
}

func TestEngine_AuthFailureKeepsKey(t *testing.T) {
	device := newTestEngine(t, newTestStore(), RoleDevice)
	cloud := newTestEngine(t, newTestStore(), RoleCloud)
	installKey(t, device, keyA)
	installKey(t, cloud, keyA)

	ct, tag, _ := cloud.Encrypt(crypto.ClassUDP, crypto.TypeRequest, 1, []byte("payload"))
	tag[0] ^= 0xFF

	if _, err := device.Decrypt(crypto.ClassUDP, crypto.TypeRequest, 1, ct, tag); err != ErrAuthFailure {
		t.Fatalf("Decrypt() error = %v, want ErrAuthFailure", err)
	}
	if !device.HaveKey() {
		t.Error("authentication failure invalidated the current key")
	}

	tr, _ := device.Tracking(crypto.ClassUDP)
	if tr.Seen(1) {
		t.Error("failed message was marked as seen")
	}
}

func TestEngine_RotationContinuity(t *testing.T) {
	device := newTestEngine(t, newTestStore(), RoleDevice)
	cloudA := newTestEngine(t, newTestStore(), RoleCloud)
	cloudB := newTestEngine(t, newTestStore(), RoleCloud)
	installKey(t, device, keyA)
	installKey(t, cloudA, keyA)
	installKey(t, cloudB, keyB)

	// In flight under A while the device rotates to B.
	ct1, tag1, _ := cloudA.Encrypt(crypto.ClassUDP, crypto.TypeRequest, 1, []byte("old key"))
	installKey(t, device, keyB)

	ring := device.Keyring()
	if !ring.Previous.Valid || !bytes.Equal(ring.Previous.Bytes, keyA) {
		t.Fatalf("previous key = %x (valid=%t), want %x", ring.Previous.Bytes, ring.Previous.Valid, keyA)
	}

	got, err := device.Decrypt(crypto.ClassUDP, crypto.TypeRequest, 1, ct1, tag1)
	if err != nil {
		t.Fatalf("Decrypt(previous key) error = %v", err)
	}
	if string(got) != "old key" {
		t.Errorf("Decrypt() = %q, want %q", got, "old key")
	}

	// First message under B retires A and resets tracking.
	ct2, tag2, _ := cloudB.Encrypt(crypto.ClassUDP, crypto.TypeRequest, 1, []byte("new key"))
	if _, err := device.Decrypt(crypto.ClassUDP, crypto.TypeRequest, 1, ct2, tag2); err != nil {
		t.Fatalf("Decrypt(current key) error = %v", err)
	}
	if device.Keyring().Previous.Valid {
		t.Error("previous key still valid after current key was proven")
	}

	ct3, tag3, _ := cloudA.Encrypt(crypto.ClassUDP, crypto.TypeRequest, 2, []byte("late"))
	if _, err := device.Decrypt(crypto.ClassUDP, crypto.TypeRequest, 2, ct3, tag3); err != ErrAuthFailure {
		t.Errorf("Decrypt(retired key) error = %v, want ErrAuthFailure", err)
	}
}

func TestEngine_KeyTag(t *testing.T) {
	device := newTestEngine(t, newTestStore(), RoleDevice)
	cloud := newTestEngine(t, newTestStore(), RoleCloud)

	u, err := device.BeginKeyUpdate(keyA)
	if err != nil {
		t.Fatalf("BeginKeyUpdate() error = %v", err)
	}
	staged, err := u.Tag()
	if err != nil {
		t.Fatalf("Tag() error = %v", err)
	}
	u.Commit()
	installKey(t, cloud, keyA)

	tag, err := device.KeyTag()
	if err != nil {
		t.Fatalf("KeyTag() error = %v", err)
	}
	if len(tag) != crypto.TagSize {
		t.Errorf("len(KeyTag()) = %d, want %d", len(tag), crypto.TagSize)
	}
	if !bytes.Equal(tag, staged) {
		t.Errorf("KeyTag() = %x, staged tag %x", tag, staged)
	}

	// The cloud computes the same tag regardless of its role.
	cloudTag, _ := cloud.KeyTag()
	if !bytes.Equal(tag, cloudTag) {
		t.Errorf("cloud KeyTag() = %x, want %x", cloudTag, tag)
	}
}

// brokenProvider fails every encryption.
type brokenProvider struct {
	*SoftwareProvider
}

func (brokenProvider) EncryptGCM(key, iv, aad, plaintext []byte) ([]byte, []byte, error) {
	return nil, nil, errors.New("secure element unavailable")
}

func TestEngine_KeyTagFailureInvalidatesKey(t *testing.T) {
	store := newTestStore()
	store.Store(crypto.ClassAll, DataTypeCurrentKey, keyA)

	e, _ := NewEngine(Config{
		Provider: brokenProvider{NewSoftwareProvider(store)},
		DeviceID: testDeviceID,
	})
	e.Load()
	if !e.HaveKey() {
		t.Fatal("HaveKey() = false after loading a stored key")
	}

	if _, err := e.KeyTag(); !errors.Is(err, ErrTagGeneration) {
		t.Fatalf("KeyTag() error = %v, want ErrTagGeneration", err)
	}
	if e.HaveKey() {
		t.Error("HaveKey() = true after failed self-test")
	}
}

func TestKeyUpdate_Abort(t *testing.T) {
	store := newTestStore()
	e := newTestEngine(t, store, RoleDevice)
	installKey(t, e, keyA)

	if _, err := e.NextRequestID(crypto.ClassUDP); err != nil {
		t.Fatalf("NextRequestID() error = %v", err)
	}
	before, _ := store.Load(crypto.ClassUDP, DataTypeRequestID)

	u, err := e.BeginKeyUpdate(keyB)
	if err != nil {
		t.Fatalf("BeginKeyUpdate() error = %v", err)
	}
	if _, err := e.BeginKeyUpdate(keyB); err != ErrUpdateInProgress {
		t.Errorf("second BeginKeyUpdate() error = %v, want ErrUpdateInProgress", err)
	}
	u.Abort()
	u.Abort()

	if !bytes.Equal(e.Keyring().Current.Bytes, keyA) {
		t.Errorf("current key = %x after abort, want %x", e.Keyring().Current.Bytes, keyA)
	}
	persisted, _ := store.Load(crypto.ClassAll, DataTypeCurrentKey)
	if !bytes.Equal(persisted, keyA) {
		t.Errorf("persisted current key = %x after abort, want %x", persisted, keyA)
	}
	after, _ := store.Load(crypto.ClassUDP, DataTypeRequestID)
	if !bytes.Equal(before, after) {
		t.Errorf("persisted request id = %x after abort, want %x", after, before)
	}
	if err := u.Commit(); err != ErrUpdateDone {
		t.Errorf("Commit() after Abort error = %v, want ErrUpdateDone", err)
	}

	// A new update may start once the old one is finished.
	if _, err := e.BeginKeyUpdate(keyB); err != nil {
		t.Errorf("BeginKeyUpdate() after abort error = %v", err)
	}
}

func TestKeyUpdate_Failures(t *testing.T) {
	t.Run("invalid key", func(t *testing.T) {
		e := newTestEngine(t, newTestStore(), RoleDevice)
		if _, err := e.BeginKeyUpdate(make([]byte, 8)); err != ErrInvalidKey {
			t.Errorf("BeginKeyUpdate() error = %v, want ErrInvalidKey", err)
		}
	})

	t.Run("current key store fails", func(t *testing.T) {
		store := newTestStore()
		e := newTestEngine(t, store, RoleDevice)
		store.failWrites(crypto.ClassAll, DataTypeCurrentKey)
		if _, err := e.BeginKeyUpdate(keyA); !errors.Is(err, ErrStore) {
			t.Errorf("BeginKeyUpdate() error = %v, want ErrStore", err)
		}
	})

	t.Run("tracking write fails", func(t *testing.T) {
		store := newTestStore()
		e := newTestEngine(t, store, RoleDevice)
		store.failWrites(crypto.ClassSMS, DataTypeTracking)

		u, err := e.BeginKeyUpdate(keyA)
		if err != nil {
			t.Fatalf("BeginKeyUpdate() error = %v", err)
		}
		if err := u.WriteTracking(crypto.ClassUDP); err != nil {
			t.Errorf("WriteTracking(udp) error = %v", err)
		}
		if err := u.WriteTracking(crypto.ClassSMS); !errors.Is(err, ErrStore) {
			t.Errorf("WriteTracking(sms) error = %v, want ErrStore", err)
		}
		if err := u.WriteTracking(crypto.ClassEDP); err != ErrUnknownClass {
			t.Errorf("WriteTracking(edp) error = %v, want ErrUnknownClass", err)
		}
		u.Abort()
		if e.HaveKey() {
			t.Error("HaveKey() = true after aborted first key")
		}
	})
}

func TestEngine_NextRequestID(t *testing.T) {
	t.Run("sequential and persisted", func(t *testing.T) {
		store := newTestStore()
		e := newTestEngine(t, store, RoleDevice)
		installKey(t, e, keyA)

		for want := uint16(0); want < 3; want++ {
			id, err := e.NextRequestID(crypto.ClassUDP)
			if err != nil {
				t.Fatalf("NextRequestID() error = %v", err)
			}
			if id != want {
				t.Errorf("NextRequestID() = %d, want %d", id, want)
			}
		}
		raw, _ := store.Load(crypto.ClassUDP, DataTypeRequestID)
		if got := binary.BigEndian.Uint16(raw); got != 3 {
			t.Errorf("persisted next id = %d, want 3", got)
		}

		// The other transport has its own counter.
		if id, _ := e.NextRequestID(crypto.ClassSMS); id != 0 {
			t.Errorf("NextRequestID(sms) = %d, want 0", id)
		}
	})

	t.Run("restored after restart", func(t *testing.T) {
		store := newTestStore()
		e := newTestEngine(t, store, RoleDevice)
		installKey(t, e, keyA)
		e.NextRequestID(crypto.ClassUDP)
		e.NextRequestID(crypto.ClassUDP)

		restarted := newTestEngine(t, store, RoleDevice)
		if !restarted.HaveKey() {
			t.Fatal("HaveKey() = false after restart")
		}
		if id, _ := restarted.NextRequestID(crypto.ClassUDP); id != 2 {
			t.Errorf("NextRequestID() after restart = %d, want 2", id)
		}
	})

	t.Run("exhaustion requires rekey", func(t *testing.T) {
		e := newTestEngine(t, newTestStore(), RoleDevice)
		installKey(t, e, keyA)
		e.nextID[crypto.ClassUDP] = LastRequestID - 1

		id, err := e.NextRequestID(crypto.ClassUDP)
		if err != nil || id != LastRequestID-1 {
			t.Fatalf("NextRequestID() = %d, %v; want %d", id, err, LastRequestID-1)
		}
		if _, err := e.NextRequestID(crypto.ClassUDP); err != ErrRekeyRequired {
			t.Errorf("NextRequestID() error = %v, want ErrRekeyRequired", err)
		}

		installKey(t, e, keyB)
		if id, err := e.NextRequestID(crypto.ClassUDP); err != nil || id != 0 {
			t.Errorf("NextRequestID() after rekey = %d, %v; want 0", id, err)
		}
	})

	t.Run("store failure poisons counter", func(t *testing.T) {
		store := newTestStore()
		e := newTestEngine(t, store, RoleDevice)
		installKey(t, e, keyA)
		store.failWrites(crypto.ClassUDP, DataTypeRequestID)

		if _, err := e.NextRequestID(crypto.ClassUDP); !errors.Is(err, ErrStore) {
			t.Fatalf("NextRequestID() error = %v, want ErrStore", err)
		}
		if _, err := e.NextRequestID(crypto.ClassUDP); err != ErrRekeyRequired {
			t.Errorf("NextRequestID() error = %v, want ErrRekeyRequired", err)
		}
	})

	t.Run("unknown class", func(t *testing.T) {
		e := newTestEngine(t, newTestStore(), RoleDevice)
		if _, err := e.NextRequestID(crypto.ClassEDP); err != ErrUnknownClass {
			t.Errorf("NextRequestID(edp) error = %v, want ErrUnknownClass", err)
		}
	})
}

func TestRequestIDAllocator_SkipsIDsInUse(t *testing.T) {
	e := newTestEngine(t, newTestStore(), RoleDevice)
	installKey(t, e, keyA)
	a := e.RequestIDs(crypto.ClassUDP)

	held := map[uint16]bool{}
	for range 2 {
		id, err := a.Next(func(id uint16) bool { return held[id] })
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		held[id] = true
	}

	// The new key restarts the counter below the ids still held.
	installKey(t, e, keyB)
	id, err := a.Next(func(id uint16) bool { return held[id] })
	if err != nil {
		t.Fatalf("Next() after rekey error = %v", err)
	}
	if id != 2 {
		t.Errorf("Next() after rekey = %d, want 2", id)
	}
	if next, _ := a.Next(nil); next != 3 {
		t.Errorf("Next() = %d, want 3", next)
	}
}

func TestEngine_InvalidateKey(t *testing.T) {
	e := newTestEngine(t, newTestStore(), RoleDevice)
	installKey(t, e, keyA)
	e.InvalidateKey()
	if e.HaveKey() {
		t.Error("HaveKey() = true after InvalidateKey")
	}

	// A new key after an unusable one starts a fresh tracking record and
	// does not keep the unusable key as previous.
	installKey(t, e, keyB)
	if e.Keyring().Previous.Valid {
		t.Error("previous key valid after rotating from an invalid key")
	}
}

func TestTrackingRecord(t *testing.T) {
	var r TrackingRecord

	for _, id := range []uint16{0, 7, 8, 1023} {
		if r.Seen(id) {
			t.Errorf("Seen(%d) = true on empty record", id)
		}
		r.Mark(id)
		if !r.Seen(id) {
			t.Errorf("Seen(%d) = false after Mark", id)
		}
	}
	if r.Seen(9) {
		t.Error("Seen(9) = true, never marked")
	}

	b := r.Bytes()
	if len(b) != TrackingSize {
		t.Fatalf("len(Bytes()) = %d, want %d", len(b), TrackingSize)
	}
	if b[0] != 0x81 || b[1] != 0x01 || b[127] != 0x80 {
		t.Errorf("Bytes() = %x..%x, unexpected bit layout", b[:2], b[127])
	}

	r.Clear()
	if r.Seen(7) {
		t.Error("Seen(7) = true after Clear")
	}
}

func TestEngine_SetKey(t *testing.T) {
	store := newTestStore()
	e := newTestEngine(t, store, RoleDevice)

	if err := e.SetKey(keyA); err != nil {
		t.Fatalf("SetKey() error = %v", err)
	}
	if !e.HaveKey() {
		t.Error("HaveKey() = false after SetKey")
	}

	store.failWrites(crypto.ClassUDP, DataTypeTracking)
	if err := e.SetKey(keyB); !errors.Is(err, ErrStore) {
		t.Fatalf("SetKey() error = %v, want ErrStore", err)
	}
	if got := e.Keyring().Current.Bytes; !bytes.Equal(got, keyA) {
		t.Errorf("current key = %x after failed SetKey, want %x", got, keyA)
	}
}
