package encryption

import "bytes"

// Key is a symmetric key with a validity flag.
type Key struct {
	Bytes []byte
	Valid bool
}

func (k Key) clone() Key {
	return Key{Bytes: append([]byte(nil), k.Bytes...), Valid: k.Valid}
}

// Keyring holds the device key material.
type Keyring struct {
	Current  Key
	Previous Key
	DeviceID []byte
}

// Clone returns a deep copy of the keyring.
func (k *Keyring) Clone() Keyring {
	return Keyring{
		Current:  k.Current.clone(),
		Previous: k.Previous.clone(),
		DeviceID: append([]byte(nil), k.DeviceID...),
	}
}

// usableKey reports whether b has the right length and is not all zero.
// Erased flash and empty records both load as unusable.
func usableKey(b []byte, size int) bool {
	return len(b) == size && !bytes.Equal(b, make([]byte, size))
}
