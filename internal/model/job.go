package model

import "time"

// ScheduledJob is a deferred task stored in the database so that pending work
// is queryable and survives restarts.
type ScheduledJob struct {
	ID        string    `json:"id"`
	Task      string    `json:"task"`
	ArgsKey   string    `json:"args_key"`
	RunAt     time.Time `json:"run_at"`
	CreatedAt time.Time `json:"created_at"`
}
