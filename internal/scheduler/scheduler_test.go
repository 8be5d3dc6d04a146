package scheduler

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ilisteam/ilis/internal/clock"
	"github.com/ilisteam/ilis/internal/db"
	"github.com/ilisteam/ilis/internal/model"
	"github.com/ilisteam/ilis/internal/store"
)

type sentMail struct {
	recipient string
	subject   string
	body      string
}

// captureNotifier records sent mail.
type captureNotifier struct {
	mu    sync.Mutex
	sends []sentMail
}

func (c *captureNotifier) Send(_ context.Context, recipient, subject, body string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sends = append(c.sends, sentMail{recipient, subject, body})
	return nil
}

func (c *captureNotifier) sent() []sentMail {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]sentMail(nil), c.sends...)
}

type fixture struct {
	db       *sql.DB
	clk      *clock.Fake
	notifier *captureNotifier
	sched    *Scheduler

	renter *model.User
	item   *model.Item
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	database := db.NewTestDB(t)
	ctx := context.Background()

	owner, err := store.CreateUser(ctx, database, "owner", "hash", model.RoleUser, "", "", "", "")
	require.NoError(t, err)
	renter, err := store.CreateUser(ctx, database, "renter", "hash", model.RoleUser, "Roman", "Petrov", "roman@example.com", "")
	require.NoError(t, err)
	storage, err := store.CreateStorage(ctx, database, owner.ID, "Garage", 0, 0, "")
	require.NoError(t, err)
	item, err := store.CreateItem(ctx, database, storage.ID, "Дрель", "Drill", "", "", 3)
	require.NoError(t, err)

	clk := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	notifier := &captureNotifier{}
	sched := &Scheduler{DB: database, Clock: clk, Notifier: notifier}

	return &fixture{db: database, clk: clk, notifier: notifier, sched: sched,
		renter: renter, item: item}
}

// lentRequest inserts a request in the lent state covering the given window.
func (f *fixture) lentRequest(t *testing.T, start time.Time, duration time.Duration) int64 {
	t.Helper()
	result, err := f.db.Exec(
		`INSERT INTO requests (item_id, user_id, status, count, rent_starts_at, rent_ends_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		f.item.ID, f.renter.ID, model.StatusLent, 1, start, start.Add(duration), start, start,
	)
	require.NoError(t, err)
	id, _ := result.LastInsertId()
	return id
}

func TestScheduleReturnReminder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	start := f.clk.Now()
	requestID := f.lentRequest(t, start, 48*time.Hour)

	err := f.sched.ScheduleReturnReminder(ctx, f.renter.ID, f.item.ID, requestID, start, start.Add(48*time.Hour))
	require.NoError(t, err)

	pending, err := f.sched.HasPending(ctx, TaskReturnReminder, ArgsKey(f.renter.ID, f.item.ID, requestID))
	require.NoError(t, err)
	assert.True(t, pending)

	// The reminder fires five sixths of the way through the window: 40 hours
	// into a 48 hour rental.
	var runAt time.Time
	err = f.db.QueryRow(`SELECT run_at FROM scheduled_jobs`).Scan(&runAt)
	require.NoError(t, err)
	assert.True(t, runAt.Equal(start.Add(40*time.Hour)), "got %v", runAt)
}

func TestScheduleReturnReminderDedup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	start := f.clk.Now()
	requestID := f.lentRequest(t, start, 48*time.Hour)
	end := start.Add(48 * time.Hour)

	// Concurrent scheduling for the same request yields exactly one job.
	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := f.sched.ScheduleReturnReminder(ctx, f.renter.ID, f.item.ID, requestID, start, end)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	var jobs int
	require.NoError(t, f.db.QueryRow(`SELECT COUNT(*) FROM scheduled_jobs`).Scan(&jobs))
	assert.Equal(t, 1, jobs)
}

func TestRunDueDeliversReminder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	start := f.clk.Now()
	requestID := f.lentRequest(t, start, 48*time.Hour)
	require.NoError(t, f.sched.ScheduleReturnReminder(ctx, f.renter.ID, f.item.ID, requestID, start, start.Add(48*time.Hour)))

	// Not due yet.
	f.clk.Advance(39 * time.Hour)
	require.NoError(t, f.sched.RunDue(ctx))
	assert.Empty(t, f.notifier.sent())

	// Due now.
	f.clk.Advance(time.Hour)
	require.NoError(t, f.sched.RunDue(ctx))

	sent := f.notifier.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "roman@example.com", sent[0].recipient)
	assert.Equal(t, "[ILIS] item return reminder", sent[0].subject)
	assert.Contains(t, sent[0].body, "Drill")

	// The job is consumed and the request stamped.
	pending, _ := f.sched.HasPending(ctx, TaskReturnReminder, ArgsKey(f.renter.ID, f.item.ID, requestID))
	assert.False(t, pending)
	request, _ := store.GetRequest(ctx, f.db, requestID)
	require.NotNil(t, request.NotificationSentAt)
	assert.True(t, request.NotificationSentAt.Equal(f.clk.Now()))

	// Running again sends nothing.
	require.NoError(t, f.sched.RunDue(ctx))
	assert.Len(t, f.notifier.sent(), 1)
}

func TestRunDueStaleRequestIsDropped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	start := f.clk.Now()
	requestID := f.lentRequest(t, start, 48*time.Hour)
	require.NoError(t, f.sched.ScheduleReturnReminder(ctx, f.renter.ID, f.item.ID, requestID, start, start.Add(48*time.Hour)))

	// The rental completes before the reminder fires.
	_, err := f.db.Exec(`UPDATE requests SET status = ? WHERE id = ?`, model.StatusCompleted, requestID)
	require.NoError(t, err)

	f.clk.Advance(48 * time.Hour)
	require.NoError(t, f.sched.RunDue(ctx))

	assert.Empty(t, f.notifier.sent())
	pending, _ := f.sched.HasPending(ctx, TaskReturnReminder, ArgsKey(f.renter.ID, f.item.ID, requestID))
	assert.False(t, pending, "stale job must still be consumed")
}

func TestRunDueDeletedRequestIsDropped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	start := f.clk.Now()
	requestID := f.lentRequest(t, start, 48*time.Hour)
	require.NoError(t, f.sched.ScheduleReturnReminder(ctx, f.renter.ID, f.item.ID, requestID, start, start.Add(48*time.Hour)))

	_, err := f.db.Exec(`DELETE FROM requests WHERE id = ?`, requestID)
	require.NoError(t, err)

	f.clk.Advance(48 * time.Hour)
	require.NoError(t, f.sched.RunDue(ctx))
	assert.Empty(t, f.notifier.sent())
}

func TestSweepReArmsLentRequests(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	start := f.clk.Now()
	f.lentRequest(t, start, 48*time.Hour)

	// Simulates a restart: the request is lent but no job survives.
	require.NoError(t, f.sched.Sweep(ctx))

	var jobs int
	require.NoError(t, f.db.QueryRow(`SELECT COUNT(*) FROM scheduled_jobs`).Scan(&jobs))
	assert.Equal(t, 1, jobs)

	// Sweeping again does not duplicate the job.
	require.NoError(t, f.sched.Sweep(ctx))
	require.NoError(t, f.db.QueryRow(`SELECT COUNT(*) FROM scheduled_jobs`).Scan(&jobs))
	assert.Equal(t, 1, jobs)
}

// flakyNotifier fails a number of sends before delivering normally.
type flakyNotifier struct {
	captureNotifier
	failures int
}

func (f *flakyNotifier) Send(ctx context.Context, recipient, subject, body string) error {
	if f.failures > 0 {
		f.failures--
		return errors.New("smtp unavailable")
	}
	return f.captureNotifier.Send(ctx, recipient, subject, body)
}

func TestSweepReArmsAfterDeliveryFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	flaky := &flakyNotifier{failures: 1}
	f.sched.Notifier = flaky

	start := f.clk.Now()
	requestID := f.lentRequest(t, start, 48*time.Hour)
	require.NoError(t, f.sched.ScheduleReturnReminder(ctx, f.renter.ID, f.item.ID, requestID, start, start.Add(48*time.Hour)))

	// The first delivery attempt fails, the request stays unnotified, and
	// the job is consumed.
	f.clk.Advance(40 * time.Hour)
	require.NoError(t, f.sched.RunDue(ctx))
	assert.Empty(t, flaky.sent())
	request, _ := store.GetRequest(ctx, f.db, requestID)
	assert.Nil(t, request.NotificationSentAt)
	pending, _ := f.sched.HasPending(ctx, TaskReturnReminder, ArgsKey(f.renter.ID, f.item.ID, requestID))
	require.False(t, pending)

	// The sweep re-arms the reminder and the next pass delivers it.
	require.NoError(t, f.sched.Sweep(ctx))
	pending, _ = f.sched.HasPending(ctx, TaskReturnReminder, ArgsKey(f.renter.ID, f.item.ID, requestID))
	require.True(t, pending)

	require.NoError(t, f.sched.RunDue(ctx))
	require.Len(t, flaky.sent(), 1)
	request, _ = store.GetRequest(ctx, f.db, requestID)
	assert.NotNil(t, request.NotificationSentAt)
}

func TestSweepSkipsNotifiedRequests(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	start := f.clk.Now()
	requestID := f.lentRequest(t, start, 48*time.Hour)
	require.NoError(t, store.MarkRequestNotified(ctx, f.db, requestID, start.Add(40*time.Hour)))

	require.NoError(t, f.sched.Sweep(ctx))

	var jobs int
	require.NoError(t, f.db.QueryRow(`SELECT COUNT(*) FROM scheduled_jobs`).Scan(&jobs))
	assert.Equal(t, 0, jobs)
}
