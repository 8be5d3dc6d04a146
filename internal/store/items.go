package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ilisteam/ilis/internal/model"
)

// CreateItem creates a new item in a storage.
func CreateItem(ctx context.Context, db *sql.DB, storageID int64, nameRu, nameEn, descRu, descEn string, count int) (*model.Item, error) {
	if count < 1 {
		return nil, fmt.Errorf("count must be at least 1")
	}

	result, err := db.ExecContext(ctx,
		`INSERT INTO items (storage_id, name_ru, name_en, desc_ru, desc_en, count)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		storageID, nameRu, nameEn, descRu, descEn, count,
	)
	if err != nil {
		return nil, fmt.Errorf("creating item: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("getting item id: %w", err)
	}

	return GetItem(ctx, db, id)
}

// GetItem returns an item by ID, with its storage name and owner ID joined.
func GetItem(ctx context.Context, db *sql.DB, id int64) (*model.Item, error) {
	item := &model.Item{}
	err := db.QueryRowContext(ctx,
		`SELECT i.id, i.storage_id, i.name_ru, i.name_en, i.desc_ru, i.desc_en, i.count,
		        i.created_at, i.updated_at, s.name AS storage_name, s.user_id AS owner_id
		 FROM items i
		 JOIN storages s ON s.id = i.storage_id
		 WHERE i.id = ?`, id,
	).Scan(&item.ID, &item.StorageID, &item.NameRu, &item.NameEn, &item.DescRu, &item.DescEn,
		&item.Count, &item.CreatedAt, &item.UpdatedAt, &item.StorageName, &item.OwnerID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting item: %w", err)
	}
	return item, nil
}

// ListItems returns all items, optionally filtered by storage.
func ListItems(ctx context.Context, db *sql.DB, storageID int64) ([]model.Item, error) {
	query := `SELECT i.id, i.storage_id, i.name_ru, i.name_en, i.desc_ru, i.desc_en, i.count,
	                 i.created_at, i.updated_at, s.name AS storage_name, s.user_id AS owner_id
	          FROM items i
	          JOIN storages s ON s.id = i.storage_id`
	var args []any

	if storageID > 0 {
		query += ` WHERE i.storage_id = ?`
		args = append(args, storageID)
	}

	query += ` ORDER BY i.name_en`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing items: %w", err)
	}
	defer rows.Close()

	var items []model.Item
	for rows.Next() {
		var item model.Item
		if err := rows.Scan(&item.ID, &item.StorageID, &item.NameRu, &item.NameEn, &item.DescRu, &item.DescEn,
			&item.Count, &item.CreatedAt, &item.UpdatedAt, &item.StorageName, &item.OwnerID); err != nil {
			return nil, fmt.Errorf("scanning item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// UpdateItem updates an item's names, descriptions and count. The count
// cannot drop below the units already committed to booked or lent requests,
// or the item's remaining count would go negative.
func UpdateItem(ctx context.Context, db *sql.DB, id int64, nameRu, nameEn, descRu, descEn string, count int) error {
	if count < 1 {
		return fmt.Errorf("count must be at least 1")
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var committed int
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(count), 0) FROM requests
		 WHERE item_id = ? AND status IN ('BOOKED', 'LENT')`, id,
	).Scan(&committed)
	if err != nil {
		return fmt.Errorf("checking item requests: %w", err)
	}
	if count < committed {
		return fmt.Errorf("count %d is below the %d units currently booked or lent", count, committed)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE items SET name_ru = ?, name_en = ?, desc_ru = ?, desc_en = ?, count = ?,
		        updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		nameRu, nameEn, descRu, descEn, count, id,
	)
	if err != nil {
		return fmt.Errorf("updating item: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing item update: %w", err)
	}
	return nil
}

// DeleteItem deletes an item and its requests. Fails with
// model.ErrDeletionNotAllowed if any request against the item is currently
// booked or lent.
func DeleteItem(ctx context.Context, db *sql.DB, id int64) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var inLending int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM requests WHERE item_id = ? AND status IN ('BOOKED', 'LENT')`, id,
	).Scan(&inLending)
	if err != nil {
		return fmt.Errorf("checking item requests: %w", err)
	}
	if inLending > 0 {
		return model.ErrDeletionNotAllowed
	}

	_, err = tx.ExecContext(ctx, `DELETE FROM requests WHERE item_id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting item requests: %w", err)
	}

	_, err = tx.ExecContext(ctx, `DELETE FROM items WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting item: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing item deletion: %w", err)
	}
	return nil
}
