package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ilisteam/ilis/internal/model"
)

// CreateUser creates a new user.
func CreateUser(ctx context.Context, db *sql.DB, username, passwordHash, role, name, surname, email, phone string) (*model.User, error) {
	result, err := db.ExecContext(ctx,
		`INSERT INTO users (username, password_hash, role, name, surname, email, phone)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		username, passwordHash, role, name, surname, email, phone,
	)
	if err != nil {
		return nil, fmt.Errorf("creating user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("getting user id: %w", err)
	}

	return GetUser(ctx, db, id)
}

// GetUser returns a user by ID.
func GetUser(ctx context.Context, db *sql.DB, id int64) (*model.User, error) {
	u := &model.User{}
	err := db.QueryRowContext(ctx,
		`SELECT id, username, password_hash, role, name, surname, email, phone, created_at, deleted_at
		 FROM users WHERE id = ?`, id,
	).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Role, &u.Name, &u.Surname, &u.Email, &u.Phone, &u.CreatedAt, &u.DeletedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting user: %w", err)
	}
	return u, nil
}

// GetUserByUsername returns a user by username (including soft-deleted for auth checks).
func GetUserByUsername(ctx context.Context, db *sql.DB, username string) (*model.User, error) {
	u := &model.User{}
	err := db.QueryRowContext(ctx,
		`SELECT id, username, password_hash, role, name, surname, email, phone, created_at, deleted_at
		 FROM users WHERE username = ?`, username,
	).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Role, &u.Name, &u.Surname, &u.Email, &u.Phone, &u.CreatedAt, &u.DeletedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting user by username: %w", err)
	}
	return u, nil
}

// ListUsers returns all non-deleted users.
func ListUsers(ctx context.Context, db *sql.DB) ([]model.User, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, username, password_hash, role, name, surname, email, phone, created_at, deleted_at
		 FROM users WHERE deleted_at IS NULL ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		var u model.User
		if err := rows.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Role, &u.Name, &u.Surname, &u.Email, &u.Phone, &u.CreatedAt, &u.DeletedAt); err != nil {
			return nil, fmt.Errorf("scanning user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// UpdateUser updates a user's role and profile fields.
func UpdateUser(ctx context.Context, db *sql.DB, id int64, role, name, surname, email, phone string) error {
	_, err := db.ExecContext(ctx,
		`UPDATE users SET role = ?, name = ?, surname = ?, email = ?, phone = ?
		 WHERE id = ? AND deleted_at IS NULL`,
		role, name, surname, email, phone, id,
	)
	if err != nil {
		return fmt.Errorf("updating user: %w", err)
	}
	return nil
}

// UpdateUserPassword updates a user's password hash.
func UpdateUserPassword(ctx context.Context, db *sql.DB, id int64, passwordHash string) error {
	_, err := db.ExecContext(ctx,
		`UPDATE users SET password_hash = ? WHERE id = ? AND deleted_at IS NULL`,
		passwordHash, id,
	)
	if err != nil {
		return fmt.Errorf("updating user password: %w", err)
	}
	return nil
}

// DeleteUser soft-deletes a user together with their storages, items and
// requests. Fails with model.ErrDeletionNotAllowed if any request involving
// the user (as requester or as item owner) is currently booked or lent.
func DeleteUser(ctx context.Context, db *sql.DB, id int64) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var inLending int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM requests
		 WHERE status IN ('BOOKED', 'LENT')
		   AND (user_id = ?
		        OR item_id IN (SELECT i.id FROM items i
		                       JOIN storages s ON s.id = i.storage_id
		                       WHERE s.user_id = ?))`,
		id, id,
	).Scan(&inLending)
	if err != nil {
		return fmt.Errorf("checking user requests: %w", err)
	}
	if inLending > 0 {
		return model.ErrDeletionNotAllowed
	}

	// Remove the user's own requests and all requests against their items.
	_, err = tx.ExecContext(ctx,
		`DELETE FROM requests
		 WHERE user_id = ?
		    OR item_id IN (SELECT i.id FROM items i
		                   JOIN storages s ON s.id = i.storage_id
		                   WHERE s.user_id = ?)`,
		id, id,
	)
	if err != nil {
		return fmt.Errorf("deleting user requests: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`DELETE FROM items WHERE storage_id IN (SELECT id FROM storages WHERE user_id = ?)`, id,
	)
	if err != nil {
		return fmt.Errorf("deleting user items: %w", err)
	}

	_, err = tx.ExecContext(ctx, `DELETE FROM storages WHERE user_id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting user storages: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE users SET deleted_at = CURRENT_TIMESTAMP WHERE id = ? AND deleted_at IS NULL`, id,
	)
	if err != nil {
		return fmt.Errorf("deleting user: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing user deletion: %w", err)
	}
	return nil
}
