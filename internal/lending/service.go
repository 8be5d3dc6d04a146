// Package lending implements the rental request lifecycle: creation-time
// validation, the status state machine with its availability-gated Booked
// transition, and the handoff to the reminder scheduler.
package lending

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/ilisteam/ilis/internal/cache"
	"github.com/ilisteam/ilis/internal/clock"
	"github.com/ilisteam/ilis/internal/model"
	"github.com/ilisteam/ilis/internal/store"
)

// DefaultMinDuration is the minimum rental duration accepted at creation.
const DefaultMinDuration = time.Hour

// ReminderScheduler schedules a deferred return reminder for a lent request.
type ReminderScheduler interface {
	ScheduleReturnReminder(ctx context.Context, userID, itemID, requestID int64, rentStartsAt, rentEndsAt time.Time) error
}

// Service executes request lifecycle operations. Every check-then-write
// sequence runs in a single write transaction; with the database configured
// for immediate transactions, two concurrent bookings can never both pass the
// availability check against a stale read.
type Service struct {
	DB          *sql.DB
	Clock       clock.Clock
	Reminders   ReminderScheduler // optional
	Cache       *cache.Cache      // optional, invalidated on every write
	MinDuration time.Duration     // zero means DefaultMinDuration
}

func (s *Service) minDuration() time.Duration {
	if s.MinDuration > 0 {
		return s.MinDuration
	}
	return DefaultMinDuration
}

func (s *Service) invalidate() {
	if s.Cache != nil {
		s.Cache.InvalidatePrefix("items:")
		s.Cache.InvalidatePrefix("requests:")
	}
}

// RemainingCount returns how many units of an item are not currently
// committed to a booked or lent request.
func (s *Service) RemainingCount(ctx context.Context, itemID int64) (int, error) {
	return remainingCount(ctx, s.DB, itemID)
}

// querier lets the availability query run either on the pool or inside a
// transaction, so the Booked gate sees the same snapshot it writes to.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func remainingCount(ctx context.Context, q querier, itemID int64) (int, error) {
	var remaining int
	err := q.QueryRowContext(ctx,
		`SELECT i.count - COALESCE(
		            (SELECT SUM(r.count) FROM requests r
		             WHERE r.item_id = i.id AND r.status IN ('BOOKED', 'LENT')), 0)
		 FROM items i WHERE i.id = ?`, itemID,
	).Scan(&remaining)
	if err == sql.ErrNoRows {
		return 0, model.ErrItemNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("computing remaining count: %w", err)
	}
	return remaining, nil
}

// CreateRequest validates and creates a rental request in the Applied state.
// Checks, in order: item exists, user exists, requester does not own the item,
// duration meets the minimum, and the interval does not overlap an active
// request for the same item and user. Availability is deliberately not
// checked here; it gates the Booked transition instead.
func (s *Service) CreateRequest(ctx context.Context, itemID, userID int64, count int, rentStartsAt, rentEndsAt time.Time) (*model.Request, error) {
	if count < 1 {
		return nil, fmt.Errorf("count must be at least 1")
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var ownerID int64
	err = tx.QueryRowContext(ctx,
		`SELECT s.user_id FROM items i JOIN storages s ON s.id = i.storage_id WHERE i.id = ?`,
		itemID,
	).Scan(&ownerID)
	if err == sql.ErrNoRows {
		return nil, model.ErrItemNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("checking item: %w", err)
	}

	var exists int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM users WHERE id = ? AND deleted_at IS NULL`, userID,
	).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("checking user: %w", err)
	}
	if exists == 0 {
		return nil, model.ErrUserNotFound
	}

	if ownerID == userID {
		return nil, model.ErrRequestOnOwnItem
	}

	if rentEndsAt.Sub(rentStartsAt) < s.minDuration() {
		return nil, model.ErrRequestDurationTooShort
	}

	// Active requests by the same user for the same item must not overlap
	// the new interval.
	rows, err := tx.QueryContext(ctx,
		`SELECT rent_starts_at, rent_ends_at FROM requests
		 WHERE item_id = ? AND user_id = ? AND status IN ('BOOKED', 'DELAYED', 'LENT')`,
		itemID, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("checking existing requests: %w", err)
	}

	for rows.Next() {
		var existingStart, existingEnd time.Time
		if err := rows.Scan(&existingStart, &existingEnd); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning existing request: %w", err)
		}
		if model.Overlaps(existingStart, existingEnd, rentStartsAt, rentEndsAt) {
			rows.Close()
			return nil, model.ErrRequestIntervalConflict
		}
	}
	if err := rows.Close(); err != nil {
		return nil, fmt.Errorf("checking existing requests: %w", err)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("checking existing requests: %w", err)
	}

	now := s.Clock.Now()
	result, err := tx.ExecContext(ctx,
		`INSERT INTO requests (item_id, user_id, status, count, rent_starts_at, rent_ends_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		itemID, userID, model.StatusApplied, count, rentStartsAt, rentEndsAt, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing request: %w", err)
	}
	s.invalidate()

	id, _ := result.LastInsertId()
	return store.GetRequest(ctx, s.DB, id)
}

// UpdateStatus applies a status transition to a request. A same-status update
// is a successful no-op. A transition to Booked must be allowed by the table
// and additionally requires the item to have enough remaining units; a failed
// availability check is reported as an illegal transition. On entering Lent
// the return reminder is scheduled.
func (s *Service) UpdateStatus(ctx context.Context, requestID int64, to model.Status) (*model.Request, error) {
	if !to.Valid() {
		return nil, fmt.Errorf("unknown status %q", to)
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	r := &model.Request{}
	err = tx.QueryRowContext(ctx,
		`SELECT id, item_id, user_id, status, count, rent_starts_at, rent_ends_at
		 FROM requests WHERE id = ?`, requestID,
	).Scan(&r.ID, &r.ItemID, &r.UserID, &r.Status, &r.Count, &r.RentStartsAt, &r.RentEndsAt)
	if err == sql.ErrNoRows {
		return nil, model.ErrRequestNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting request: %w", err)
	}

	if to == r.Status {
		// Idempotent no-op; nothing is written. The transaction must be
		// released before re-reading, or the pool query below would starve
		// on a single-connection pool.
		tx.Rollback()
		return store.GetRequest(ctx, s.DB, requestID)
	}

	if !model.CanTransition(r.Status, to) {
		return nil, fmt.Errorf("%w: %s -> %s", model.ErrIllegalStatusTransition, r.Status, to)
	}

	if to == model.StatusBooked {
		// The request itself is Applied or Delayed at this point, so its own
		// count is not part of the in-lending sum.
		remaining, err := remainingCount(ctx, tx, r.ItemID)
		if err != nil {
			return nil, err
		}
		if r.Count > remaining {
			return nil, fmt.Errorf("%w: %d units requested, %d remaining",
				model.ErrIllegalStatusTransition, r.Count, remaining)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE requests SET status = ?, updated_at = ? WHERE id = ?`,
		to, s.Clock.Now(), requestID,
	); err != nil {
		return nil, fmt.Errorf("updating request status: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing status update: %w", err)
	}
	s.invalidate()

	if to == model.StatusLent && s.Reminders != nil {
		// Scheduling failure does not undo the committed transition; the
		// periodic sweep re-arms any lent request that has no reminder yet.
		err := s.Reminders.ScheduleReturnReminder(ctx, r.UserID, r.ItemID, r.ID, r.RentStartsAt, r.RentEndsAt)
		if err != nil {
			slog.Error("scheduling return reminder failed", "request", r.ID, "error", err)
		}
	}

	return store.GetRequest(ctx, s.DB, requestID)
}

// DeleteRequest deletes a request unless it is currently booked or lent.
func (s *Service) DeleteRequest(ctx context.Context, requestID int64) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var status model.Status
	err = tx.QueryRowContext(ctx,
		`SELECT status FROM requests WHERE id = ?`, requestID,
	).Scan(&status)
	if err == sql.ErrNoRows {
		return model.ErrRequestNotFound
	}
	if err != nil {
		return fmt.Errorf("getting request: %w", err)
	}

	if status == model.StatusBooked || status == model.StatusLent {
		return model.ErrDeletionNotAllowed
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM requests WHERE id = ?`, requestID); err != nil {
		return fmt.Errorf("deleting request: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing request deletion: %w", err)
	}
	s.invalidate()
	return nil
}
