package infra

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/eliteGoblin/focusd/app_lock/internal/domain"
)

// SQLLockedAppRepository implements domain.LockedAppRepository on the locked_apps table.
type SQLLockedAppRepository struct {
	db *sql.DB
}

// NewLockedAppRepository creates a repository backed by d.
func NewLockedAppRepository(d *Database) *SQLLockedAppRepository {
	return &SQLLockedAppRepository{db: d.db}
}

// Insert adds or replaces an entry.
func (r *SQLLockedAppRepository) Insert(app domain.LockedApp) error {
	_, err := r.db.Exec(`
		INSERT OR REPLACE INTO locked_apps (packageName, appName, isLocked, addedTimestamp)
		VALUES (?, ?, 1, ?)`,
		app.PackageName, app.AppName, app.AddedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert locked app %s: %w", app.PackageName, err)
	}
	return nil
}

// Delete removes an entry.
func (r *SQLLockedAppRepository) Delete(packageName string) error {
	_, err := r.db.Exec(`DELETE FROM locked_apps WHERE packageName = ?`, packageName)
	return err
}

// Get returns the entry or domain.ErrAppNotFound.
func (r *SQLLockedAppRepository) Get(packageName string) (*domain.LockedApp, error) {
	var app domain.LockedApp
	var added int64
	err := r.db.QueryRow(`SELECT packageName, appName, addedTimestamp FROM locked_apps WHERE packageName = ?`,
		packageName).Scan(&app.PackageName, &app.AppName, &added)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", domain.ErrAppNotFound, packageName)
	}
	if err != nil {
		return nil, err
	}
	app.AddedAt = time.UnixMilli(added)
	return &app, nil
}

// Exists reports whether the package is registered.
func (r *SQLLockedAppRepository) Exists(packageName string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(`SELECT EXISTS(SELECT 1 FROM locked_apps WHERE packageName = ? LIMIT 1)`,
		packageName).Scan(&exists)
	return exists, err
}

// List returns all entries ordered by appName ascending.
func (r *SQLLockedAppRepository) List() ([]domain.LockedApp, error) {
	rows, err := r.db.Query(`SELECT packageName, appName, addedTimestamp FROM locked_apps ORDER BY appName ASC, packageName ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	apps := make([]domain.LockedApp, 0)
	for rows.Next() {
		var app domain.LockedApp
		var added int64
		if err := rows.Scan(&app.PackageName, &app.AppName, &added); err != nil {
			return nil, err
		}
		app.AddedAt = time.UnixMilli(added)
		apps = append(apps, app)
	}
	return apps, rows.Err()
}

// Count returns the number of entries.
func (r *SQLLockedAppRepository) Count() (int, error) {
	var n int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM locked_apps`).Scan(&n)
	return n, err
}

// DeleteAll empties the registry.
func (r *SQLLockedAppRepository) DeleteAll() error {
	_, err := r.db.Exec(`DELETE FROM locked_apps`)
	return err
}

// Ensure SQLLockedAppRepository implements domain.LockedAppRepository.
var _ domain.LockedAppRepository = (*SQLLockedAppRepository)(nil)
