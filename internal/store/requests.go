package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ilisteam/ilis/internal/model"
)

const requestColumns = `r.id, r.item_id, r.user_id, r.status, r.count,
        r.rent_starts_at, r.rent_ends_at, r.notification_sent_at,
        r.created_at, r.updated_at,
        i.name_en AS item_name_en, u.username`

func scanRequest(row *sql.Row) (*model.Request, error) {
	r := &model.Request{}
	err := row.Scan(&r.ID, &r.ItemID, &r.UserID, &r.Status, &r.Count,
		&r.RentStartsAt, &r.RentEndsAt, &r.NotificationSentAt,
		&r.CreatedAt, &r.UpdatedAt, &r.ItemNameEn, &r.Username)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting request: %w", err)
	}
	return r, nil
}

// GetRequest returns a request by ID.
func GetRequest(ctx context.Context, db *sql.DB, id int64) (*model.Request, error) {
	return scanRequest(db.QueryRowContext(ctx,
		`SELECT `+requestColumns+`
		 FROM requests r
		 JOIN items i ON i.id = r.item_id
		 JOIN users u ON u.id = r.user_id
		 WHERE r.id = ?`, id,
	))
}

// ListRequests returns requests, optionally filtered by item, user or status.
func ListRequests(ctx context.Context, db *sql.DB, itemID, userID int64, status model.Status) ([]model.Request, error) {
	query := `SELECT ` + requestColumns + `
	          FROM requests r
	          JOIN items i ON i.id = r.item_id
	          JOIN users u ON u.id = r.user_id
	          WHERE 1=1`
	var args []any

	if itemID > 0 {
		query += ` AND r.item_id = ?`
		args = append(args, itemID)
	}
	if userID > 0 {
		query += ` AND r.user_id = ?`
		args = append(args, userID)
	}
	if status != "" {
		query += ` AND r.status = ?`
		args = append(args, status)
	}

	query += ` ORDER BY r.id`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing requests: %w", err)
	}
	defer rows.Close()

	return scanRequests(rows)
}

func scanRequests(rows *sql.Rows) ([]model.Request, error) {
	var requests []model.Request
	for rows.Next() {
		var r model.Request
		if err := rows.Scan(&r.ID, &r.ItemID, &r.UserID, &r.Status, &r.Count,
			&r.RentStartsAt, &r.RentEndsAt, &r.NotificationSentAt,
			&r.CreatedAt, &r.UpdatedAt, &r.ItemNameEn, &r.Username); err != nil {
			return nil, fmt.Errorf("scanning request: %w", err)
		}
		requests = append(requests, r)
	}
	return requests, rows.Err()
}

// MarkRequestNotified stamps notification_sent_at on a request. This is a
// plain field write that bypasses the status state machine.
func MarkRequestNotified(ctx context.Context, db *sql.DB, id int64, sentAt time.Time) error {
	_, err := db.ExecContext(ctx,
		`UPDATE requests SET notification_sent_at = ?, updated_at = ? WHERE id = ?`,
		sentAt, sentAt, id,
	)
	if err != nil {
		return fmt.Errorf("marking request notified: %w", err)
	}
	return nil
}
