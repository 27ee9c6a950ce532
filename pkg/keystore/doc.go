// Package keystore provides persistent stores for encryption records.
//
// Records are keyed by (transport class, data type) and hold keys, the
// device id, tracking bitmaps and request id counters. Three backends are
// available:
//   - MemoryStore: process lifetime only, for tests and development
//   - FileStore: a single CBOR file sealed with AES-GCM under a key
//     derived from a host secret and the device id
//   - SQLiteStore: one row per record in an SQLite database
//
// All stores implement encryption.Store and are safe for concurrent use.
package keystore
