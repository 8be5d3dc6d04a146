package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ilisteam/ilis/internal/model"
)

// CreateStorage creates a new storage for a user.
func CreateStorage(ctx context.Context, db *sql.DB, userID int64, name string, latitude, longitude float64, address string) (*model.Storage, error) {
	result, err := db.ExecContext(ctx,
		`INSERT INTO storages (user_id, name, latitude, longitude, address)
		 VALUES (?, ?, ?, ?, ?)`,
		userID, name, latitude, longitude, address,
	)
	if err != nil {
		return nil, fmt.Errorf("creating storage: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("getting storage id: %w", err)
	}

	return GetStorage(ctx, db, id)
}

// GetStorage returns a storage by ID.
func GetStorage(ctx context.Context, db *sql.DB, id int64) (*model.Storage, error) {
	s := &model.Storage{}
	err := db.QueryRowContext(ctx,
		`SELECT s.id, s.user_id, s.name, s.latitude, s.longitude, s.address,
		        s.created_at, s.updated_at, u.username AS owner_name
		 FROM storages s
		 JOIN users u ON u.id = s.user_id
		 WHERE s.id = ?`, id,
	).Scan(&s.ID, &s.UserID, &s.Name, &s.Latitude, &s.Longitude, &s.Address,
		&s.CreatedAt, &s.UpdatedAt, &s.OwnerName)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting storage: %w", err)
	}
	return s, nil
}

// ListStorages returns all storages, optionally filtered by owner.
func ListStorages(ctx context.Context, db *sql.DB, userID int64) ([]model.Storage, error) {
	query := `SELECT s.id, s.user_id, s.name, s.latitude, s.longitude, s.address,
	                 s.created_at, s.updated_at, u.username AS owner_name
	          FROM storages s
	          JOIN users u ON u.id = s.user_id`
	var args []any

	if userID > 0 {
		query += ` WHERE s.user_id = ?`
		args = append(args, userID)
	}

	query += ` ORDER BY s.name`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing storages: %w", err)
	}
	defer rows.Close()

	var storages []model.Storage
	for rows.Next() {
		var s model.Storage
		if err := rows.Scan(&s.ID, &s.UserID, &s.Name, &s.Latitude, &s.Longitude, &s.Address,
			&s.CreatedAt, &s.UpdatedAt, &s.OwnerName); err != nil {
			return nil, fmt.Errorf("scanning storage: %w", err)
		}
		storages = append(storages, s)
	}
	return storages, rows.Err()
}

// UpdateStorage updates a storage's name, coordinates and address.
func UpdateStorage(ctx context.Context, db *sql.DB, id int64, name string, latitude, longitude float64, address string) error {
	_, err := db.ExecContext(ctx,
		`UPDATE storages SET name = ?, latitude = ?, longitude = ?, address = ?,
		        updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		name, latitude, longitude, address, id,
	)
	if err != nil {
		return fmt.Errorf("updating storage: %w", err)
	}
	return nil
}

// DeleteStorage deletes a storage with all its items and their requests.
// Fails with model.ErrDeletionNotAllowed if any request against the storage's
// items is currently booked or lent.
func DeleteStorage(ctx context.Context, db *sql.DB, id int64) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM storages WHERE id = ?`, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("checking storage: %w", err)
	}
	if exists == 0 {
		return model.ErrStorageNotFound
	}

	var inLending int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM requests
		 WHERE status IN ('BOOKED', 'LENT')
		   AND item_id IN (SELECT id FROM items WHERE storage_id = ?)`, id,
	).Scan(&inLending)
	if err != nil {
		return fmt.Errorf("checking storage requests: %w", err)
	}
	if inLending > 0 {
		return model.ErrDeletionNotAllowed
	}

	_, err = tx.ExecContext(ctx,
		`DELETE FROM requests WHERE item_id IN (SELECT id FROM items WHERE storage_id = ?)`, id,
	)
	if err != nil {
		return fmt.Errorf("deleting storage requests: %w", err)
	}

	_, err = tx.ExecContext(ctx, `DELETE FROM items WHERE storage_id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting storage items: %w", err)
	}

	_, err = tx.ExecContext(ctx, `DELETE FROM storages WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting storage: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing storage deletion: %w", err)
	}
	return nil
}
