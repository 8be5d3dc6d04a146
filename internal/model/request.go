package model

import "time"

// Status is the lifecycle state of a rental request.
type Status string

// Request statuses. Applied is the only initial state; Canceled, Completed
// and Denied are terminal.
const (
	StatusApplied   Status = "APPLIED"
	StatusBooked    Status = "BOOKED"
	StatusCanceled  Status = "CANCELED"
	StatusCompleted Status = "COMPLETED"
	StatusDelayed   Status = "DELAYED"
	StatusDenied    Status = "DENIED"
	StatusLent      Status = "LENT"
)

// transitions lists the reachable statuses for each source status. Transitions
// to Booked are listed here for table purposes, but the actual Booked
// transition is additionally gated by item availability (see lending.Service).
var transitions = map[Status][]Status{
	StatusApplied:   {StatusBooked, StatusCanceled, StatusDelayed, StatusDenied},
	StatusBooked:    {StatusCanceled, StatusDenied, StatusLent},
	StatusCanceled:  {},
	StatusCompleted: {},
	StatusDelayed:   {StatusBooked, StatusCanceled, StatusDenied},
	StatusDenied:    {},
	StatusLent:      {StatusCompleted},
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// AllowedTransitions returns the statuses reachable from the given status.
func AllowedTransitions(from Status) []Status {
	return transitions[from]
}

// CanTransition reports whether the plain transition table allows from -> to.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Request represents a time-bounded claim by a user on some count of an item.
type Request struct {
	ID                 int64      `json:"id"`
	ItemID             int64      `json:"item_id"`
	UserID             int64      `json:"user_id"`
	Status             Status     `json:"status"`
	Count              int        `json:"count"`
	RentStartsAt       time.Time  `json:"rent_starts_at"`
	RentEndsAt         time.Time  `json:"rent_ends_at"`
	NotificationSentAt *time.Time `json:"notification_sent_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`

	// Joined fields (not always populated).
	ItemNameEn string `json:"item_name_en,omitempty"`
	Username   string `json:"username,omitempty"`
}

// InLending reports whether the request currently consumes item availability.
func (r *Request) InLending() bool {
	return r.Status == StatusBooked || r.Status == StatusLent
}

// Overlaps reports whether the half-open intervals [aStart, aEnd) and
// [bStart, bEnd) overlap: aStart <= bStart < aEnd, or aStart <= bEnd < aEnd,
// or b fully encloses a.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	if !bStart.Before(aStart) && bStart.Before(aEnd) {
		return true
	}
	if !bEnd.Before(aStart) && bEnd.Before(aEnd) {
		return true
	}
	return bStart.Before(aStart) && !aEnd.After(bEnd)
}
