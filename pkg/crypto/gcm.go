// AES-GCM authenticated encryption for short-message payloads.
// Keys are AES-128, IVs are 12 bytes and tags are carried detached
// from the ciphertext so they can be placed after the payload on the wire.

package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
)

// Cipher parameters shared by the device and the cloud.
const (
	// KeySize is the AES-128 key length in bytes.
	KeySize = 16

	// TagSize is the GCM authentication tag length in bytes.
	TagSize = 16

	// IVSize is the GCM initialization vector length in bytes.
	IVSize = 12

	// DeviceIDSize is the length of the device identifier used as AAD.
	DeviceIDSize = 16
)

// Errors
var (
	ErrInvalidKeySize      = errors.New("gcm: invalid key size, must be 16 bytes")
	ErrInvalidIVSize       = errors.New("gcm: invalid iv size, must be 12 bytes")
	ErrInvalidTagSize      = errors.New("gcm: invalid tag size, must be 16 bytes")
	ErrInvalidDeviceIDSize = errors.New("gcm: invalid device id size, must be 16 bytes")
	ErrAuthFailure         = errors.New("gcm: message authentication failed")
)

func newGCM(key, iv []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKeySize
	}
	if len(iv) != IVSize {
		return nil, ErrInvalidIVSize
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// EncryptGCM encrypts plaintext under key and returns the ciphertext and
// the detached authentication tag. The ciphertext has the same length as
// the plaintext; a zero-length plaintext still yields a valid tag.
func EncryptGCM(key, iv, aad, plaintext []byte) (ciphertext, tag []byte, err error) {
	aead, err := newGCM(key, iv)
	if err != nil {
		return nil, nil, err
	}

	sealed := aead.Seal(nil, iv, plaintext, aad)
	split := len(sealed) - TagSize

	ciphertext = make([]byte, split)
	copy(ciphertext, sealed[:split])
	tag = make([]byte, TagSize)
	copy(tag, sealed[split:])

	return ciphertext, tag, nil
}

// DecryptGCM verifies tag and decrypts ciphertext. Any mismatch in key,
// iv, aad, ciphertext or tag yields ErrAuthFailure.
func DecryptGCM(key, iv, aad, ciphertext, tag []byte) ([]byte, error) {
	if len(tag) != TagSize {
		return nil, ErrInvalidTagSize
	}
	aead, err := newGCM(key, iv)
	if err != nil {
		return nil, err
	}

	sealed := make([]byte, 0, len(ciphertext)+TagSize)
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := aead.Open(nil, iv, sealed, aad)
	if err != nil {
		return nil, ErrAuthFailure
	}
	if plaintext == nil {
		plaintext = []byte{}
	}
	return plaintext, nil
}
