package model

import "errors"

// Domain errors. The API layer maps these to HTTP status codes with errors.Is;
// everything else is treated as an internal error.
var (
	ErrUserNotFound    = errors.New("user not found")
	ErrStorageNotFound = errors.New("storage not found")
	ErrItemNotFound    = errors.New("item not found")
	ErrRequestNotFound = errors.New("request not found")

	// ErrRequestOnOwnItem rejects a request against an item in the
	// requester's own storage.
	ErrRequestOnOwnItem = errors.New("cannot request an item from own storage")

	// ErrRequestDurationTooShort rejects a rental interval below the
	// configured minimum duration.
	ErrRequestDurationTooShort = errors.New("rental duration below minimum")

	// ErrRequestIntervalConflict rejects a rental interval that overlaps an
	// active request for the same item by the same user.
	ErrRequestIntervalConflict = errors.New("overlapping active request for this item")

	// ErrIllegalStatusTransition rejects a status change not allowed by the
	// transition table, including a Booked transition that fails the
	// availability check.
	ErrIllegalStatusTransition = errors.New("illegal status transition")

	// ErrDeletionNotAllowed protects entities referenced by a request that is
	// currently booked or lent.
	ErrDeletionNotAllowed = errors.New("entity has requests in lending")
)
