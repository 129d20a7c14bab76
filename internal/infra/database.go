package infra

import (
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	// Ensure sqlcipher driver is registered.
	_ "github.com/mutecomm/go-sqlcipher/v4"
)

const (
	databaseName = "applock.db"
)

// Database is the SQLCipher encrypted SQLite database holding preferences,
// locked apps and usage statistics.
type Database struct {
	db     *sql.DB
	dbPath string
}

// OpenDatabase opens (or creates) the encrypted database in dataDir.
// The key is used as the SQLCipher passphrase via PRAGMA key.
func OpenDatabase(dataDir string, key []byte) (*Database, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, databaseName)
	keyHex := hex.EncodeToString(key)

	dsn := fmt.Sprintf("%s?_pragma_key=x'%s'&_pragma_cipher_page_size=4096&_busy_timeout=5000", dbPath, keyHex)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open encrypted database: %w", err)
	}

	// A wrong key only surfaces on first access.
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to encrypted database: %w", err)
	}

	// One connection serializes writers inside the process; SQLite would
	// otherwise return SQLITE_BUSY under concurrent event handling.
	db.SetMaxOpenConns(1)

	d := &Database{db: db, dbPath: dbPath}
	if err := d.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return d, nil
}

// createTables creates the schema if it doesn't exist.
func (d *Database) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS preferences (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS locked_apps (
		packageName TEXT PRIMARY KEY,
		appName TEXT NOT NULL,
		isLocked INTEGER NOT NULL DEFAULT 1,
		addedTimestamp INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS usage_statistics (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		packageName TEXT NOT NULL,
		appName TEXT NOT NULL,
		eventType TEXT NOT NULL,
		timestamp INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS unlock_requests (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		packageName TEXT NOT NULL,
		pinVerified INTEGER NOT NULL,
		requestedAt INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_usage_statistics_timestamp ON usage_statistics (timestamp);
	CREATE INDEX IF NOT EXISTS idx_usage_statistics_package ON usage_statistics (packageName);
	`
	_, err := d.db.Exec(schema)
	return err
}

// Path returns the database file path.
func (d *Database) Path() string {
	return d.dbPath
}

// Close releases the database connection.
func (d *Database) Close() error {
	if d.db != nil {
		return d.db.Close()
	}
	return nil
}
