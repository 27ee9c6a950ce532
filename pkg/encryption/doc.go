// Package encryption implements the short-message encryption engine.
//
// The engine owns the device keyring (current key, previous key and device
// id), the per-transport anti-replay tracking records and the persisted
// request id counters of encrypting transports. Every message is sealed
// with AES-128-GCM using the device id as additional authenticated data and
// an IV derived from the transport class, message type, sender pool and
// request id.
//
// Cryptographic operations and persistence are delegated to a Provider so
// a host can route them to a secure element or an HSM. SoftwareProvider
// implements the Provider contract over pkg/crypto and a Store.
//
// Key rotation is staged through KeyUpdate: the new key is persisted,
// tracking data is written and a key tag is generated before the keyring
// switches over. An aborted update leaves the keyring unchanged.
package encryption
