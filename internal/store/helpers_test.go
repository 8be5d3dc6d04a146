package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/ilisteam/ilis/internal/model"
)

// seedLending creates an owner with a storage and an item, plus a second user
// who can rent the item.
func seedLending(t *testing.T, db *sql.DB) (owner, renter *model.User, storage *model.Storage, item *model.Item) {
	t.Helper()
	ctx := context.Background()

	owner, err := CreateUser(ctx, db, "owner", "hash", model.RoleUser, "Olga", "Ivanova", "olga@example.com", "+70000000001")
	if err != nil {
		t.Fatalf("creating owner: %v", err)
	}
	renter, err = CreateUser(ctx, db, "renter", "hash", model.RoleUser, "Roman", "Petrov", "roman@example.com", "+70000000002")
	if err != nil {
		t.Fatalf("creating renter: %v", err)
	}
	storage, err = CreateStorage(ctx, db, owner.ID, "Garage", 59.93, 30.33, "Nevsky 1")
	if err != nil {
		t.Fatalf("creating storage: %v", err)
	}
	item, err = CreateItem(ctx, db, storage.ID, "Дрель", "Drill", "", "", 3)
	if err != nil {
		t.Fatalf("creating item: %v", err)
	}
	return owner, renter, storage, item
}

// insertRequest inserts a request row directly, bypassing lifecycle
// validation, so store queries can be exercised in isolation.
func insertRequest(t *testing.T, db *sql.DB, itemID, userID int64, status model.Status, count int, startsAt, endsAt time.Time) int64 {
	t.Helper()

	result, err := db.Exec(
		`INSERT INTO requests (item_id, user_id, status, count, rent_starts_at, rent_ends_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		itemID, userID, status, count, startsAt, endsAt, startsAt, startsAt,
	)
	if err != nil {
		t.Fatalf("inserting request: %v", err)
	}
	id, _ := result.LastInsertId()
	return id
}
