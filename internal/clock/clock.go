// Package clock supplies the system's notion of current time. All timestamps
// in the application carry a fixed offset from UTC, matching the deployment
// timezone convention.
package clock

import (
	"sync"
	"time"
)

// DefaultOffset is the system-wide offset applied to UTC (UTC+3).
const DefaultOffset = 3 * time.Hour

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// System is a wall clock with a fixed offset applied.
type System struct {
	Offset time.Duration
}

func (s System) Now() time.Time {
	return time.Now().UTC().Add(s.Offset).Truncate(time.Second)
}

// Fake is a settable clock for tests.
type Fake struct {
	mu sync.Mutex
	t  time.Time
}

// NewFake returns a fake clock starting at t.
func NewFake(t time.Time) *Fake {
	return &Fake{t: t}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

// Advance moves the fake clock forward by d.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.t = f.t.Add(d)
}

// Set moves the fake clock to t.
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.t = t
}
