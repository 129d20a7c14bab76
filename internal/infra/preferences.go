package infra

import (
	"database/sql"
	"fmt"
	"sort"

	"github.com/eliteGoblin/focusd/app_lock/internal/domain"
)

// SQLPreferenceStore implements domain.PreferenceStore on the preferences table.
type SQLPreferenceStore struct {
	db *sql.DB
}

// NewPreferenceStore creates a key-value store backed by d.
func NewPreferenceStore(d *Database) *SQLPreferenceStore {
	return &SQLPreferenceStore{db: d.db}
}

// Get returns the value for key and whether it was present.
func (s *SQLPreferenceStore) Get(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM preferences WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read preference %q: %w", key, err)
	}
	return value, true, nil
}

// SetMany writes all values in a single transaction.
func (s *SQLPreferenceStore) SetMany(values map[string]string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// Deterministic write order keeps lock contention predictable.
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if _, err := tx.Exec(`INSERT OR REPLACE INTO preferences (key, value) VALUES (?, ?)`, k, values[k]); err != nil {
			return fmt.Errorf("failed to write preference %q: %w", k, err)
		}
	}
	return tx.Commit()
}

// Ensure SQLPreferenceStore implements domain.PreferenceStore.
var _ domain.PreferenceStore = (*SQLPreferenceStore)(nil)
