package crypto

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"
)

// storageKeyInfo separates the at-rest sealing key from any other use of
// the same secret.
var storageKeyInfo = []byte("cloudconnector keystore v1")

// HKDFSHA256 derives key material using HKDF-SHA256 (RFC 5869).
//
// Parameters:
//   - inputKey: Input keying material (IKM)
//   - salt: Optional salt value (can be nil or empty)
//   - info: Optional context/application-specific info (can be nil or empty)
//   - length: Number of bytes to derive
func HKDFSHA256(inputKey, salt, info []byte, length int) ([]byte, error) {
	reader := hkdf.New(sha256.New, inputKey, salt, info)
	result := make([]byte, length)
	if _, err := io.ReadFull(reader, result); err != nil {
		return nil, err
	}
	return result, nil
}

// DeriveStorageKey derives the AES key used to seal persisted encryption
// records. The device id salts the derivation so a secret shared across a
// fleet still yields a per-device key.
func DeriveStorageKey(secret, deviceID []byte) ([]byte, error) {
	return HKDFSHA256(secret, deviceID, storageKeyInfo, KeySize)
}
