package keystore

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/backkem/cloudconnector/pkg/crypto"
	"github.com/backkem/cloudconnector/pkg/encryption"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS encryption_records (
    class      INTEGER NOT NULL,
    data_type  INTEGER NOT NULL,
    data       BLOB NOT NULL,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (class, data_type)
);
`

// SQLiteStore keeps one row per record in an SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens or creates the database at path and ensures the
// schema exists.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// A single connection serializes writers and keeps ":memory:"
	// databases shared across calls.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init keystore schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Load returns the record or encryption.ErrNotFound.
func (s *SQLiteStore) Load(class crypto.TransportClass, dataType encryption.DataType) ([]byte, error) {
	var data []byte
	err := s.db.QueryRow(
		`SELECT data FROM encryption_records WHERE class = ? AND data_type = ?`,
		int(class), int(dataType),
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, encryption.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load %s/%s: %w", class, dataType, err)
	}
	return data, nil
}

// Store upserts the record. Empty data deletes it.
func (s *SQLiteStore) Store(class crypto.TransportClass, dataType encryption.DataType, data []byte) error {
	if len(data) == 0 {
		_, err := s.db.Exec(
			`DELETE FROM encryption_records WHERE class = ? AND data_type = ?`,
			int(class), int(dataType),
		)
		if err != nil {
			return fmt.Errorf("delete %s/%s: %w", class, dataType, err)
		}
		return nil
	}

	_, err := s.db.Exec(`
        INSERT INTO encryption_records (class, data_type, data, updated_at)
        VALUES (?, ?, ?, CURRENT_TIMESTAMP)
        ON CONFLICT(class, data_type) DO UPDATE SET
            data = excluded.data,
            updated_at = CURRENT_TIMESTAMP`,
		int(class), int(dataType), data,
	)
	if err != nil {
		return fmt.Errorf("store %s/%s: %w", class, dataType, err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var _ encryption.Store = (*SQLiteStore)(nil)
