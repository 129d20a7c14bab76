package infra

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/eliteGoblin/focusd/app_lock/internal/domain"
)

// SQLUnlockRequestQueue implements domain.UnlockRequestQueue on the unlock_requests table.
type SQLUnlockRequestQueue struct {
	db *sql.DB
}

// NewUnlockRequestQueue creates a queue backed by d.
func NewUnlockRequestQueue(d *Database) *SQLUnlockRequestQueue {
	return &SQLUnlockRequestQueue{db: d.db}
}

// Push appends a request.
func (q *SQLUnlockRequestQueue) Push(req domain.UnlockRequest) (int64, error) {
	res, err := q.db.Exec(`
		INSERT INTO unlock_requests (packageName, pinVerified, requestedAt)
		VALUES (?, ?, ?)`,
		req.PackageName, req.PinVerified, req.RequestedAt.UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to queue unlock for %s: %w", req.PackageName, err)
	}
	return res.LastInsertId()
}

// PopAll reads and deletes the queue in one transaction.
func (q *SQLUnlockRequestQueue) PopAll() ([]domain.UnlockRequest, error) {
	tx, err := q.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.Query(`SELECT id, packageName, pinVerified, requestedAt FROM unlock_requests ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to read unlock requests: %w", err)
	}

	var reqs []domain.UnlockRequest
	for rows.Next() {
		var req domain.UnlockRequest
		var requested int64
		if err := rows.Scan(&req.ID, &req.PackageName, &req.PinVerified, &requested); err != nil {
			rows.Close()
			return nil, err
		}
		req.RequestedAt = time.UnixMilli(requested)
		reqs = append(reqs, req)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if len(reqs) == 0 {
		return nil, nil
	}
	if _, err := tx.Exec(`DELETE FROM unlock_requests WHERE id <= ?`, reqs[len(reqs)-1].ID); err != nil {
		return nil, fmt.Errorf("failed to clear unlock requests: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return reqs, nil
}

var _ domain.UnlockRequestQueue = (*SQLUnlockRequestQueue)(nil)
