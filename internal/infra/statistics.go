package infra

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/eliteGoblin/focusd/app_lock/internal/domain"
)

// SQLStatisticsRepository implements domain.StatisticsRepository on the
// usage_statistics table. Rows are never updated.
type SQLStatisticsRepository struct {
	db *sql.DB
}

// NewStatisticsRepository creates a repository backed by d.
func NewStatisticsRepository(d *Database) *SQLStatisticsRepository {
	return &SQLStatisticsRepository{db: d.db}
}

// Insert appends an event and returns its AUTOINCREMENT id.
func (r *SQLStatisticsRepository) Insert(event domain.StatisticEvent) (int64, error) {
	result, err := r.db.Exec(`
		INSERT INTO usage_statistics (packageName, appName, eventType, timestamp)
		VALUES (?, ?, ?, ?)`,
		event.PackageName, event.AppName, string(event.EventType), event.Timestamp.UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert statistic: %w", err)
	}
	return result.LastInsertId()
}

// Recent returns up to limit events, newest first.
func (r *SQLStatisticsRepository) Recent(limit int) ([]domain.StatisticEvent, error) {
	return r.query(`
		SELECT id, packageName, appName, eventType, timestamp FROM usage_statistics
		ORDER BY timestamp DESC, id DESC LIMIT ?`, limit)
}

// CountByType counts events of one type.
func (r *SQLStatisticsRepository) CountByType(eventType domain.EventType) (int, error) {
	var n int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM usage_statistics WHERE eventType = ?`,
		string(eventType)).Scan(&n)
	return n, err
}

// ForPackage returns every event of one package, newest first.
func (r *SQLStatisticsRepository) ForPackage(packageName string) ([]domain.StatisticEvent, error) {
	return r.query(`
		SELECT id, packageName, appName, eventType, timestamp FROM usage_statistics
		WHERE packageName = ? ORDER BY timestamp DESC, id DESC`, packageName)
}

// DeleteBefore removes events older than cutoff and returns how many went.
func (r *SQLStatisticsRepository) DeleteBefore(cutoff time.Time) (int64, error) {
	result, err := r.db.Exec(`DELETE FROM usage_statistics WHERE timestamp < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// DeleteAll empties the log.
func (r *SQLStatisticsRepository) DeleteAll() error {
	_, err := r.db.Exec(`DELETE FROM usage_statistics`)
	return err
}

func (r *SQLStatisticsRepository) query(q string, args ...any) ([]domain.StatisticEvent, error) {
	rows, err := r.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := make([]domain.StatisticEvent, 0)
	for rows.Next() {
		var ev domain.StatisticEvent
		var eventType string
		var ts int64
		if err := rows.Scan(&ev.ID, &ev.PackageName, &ev.AppName, &eventType, &ts); err != nil {
			return nil, err
		}
		if ev.EventType, err = domain.ParseEventType(eventType); err != nil {
			return nil, err
		}
		ev.Timestamp = time.UnixMilli(ts)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Ensure SQLStatisticsRepository implements domain.StatisticsRepository.
var _ domain.StatisticsRepository = (*SQLStatisticsRepository)(nil)
