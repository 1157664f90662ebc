package sync_test

import (
	"context"
	"errors"
	gosync "sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mensabot/internal/lookup"
	"github.com/nhle/mensabot/internal/menu"
	"github.com/nhle/mensabot/internal/model"
	"github.com/nhle/mensabot/internal/normalize"
	"github.com/nhle/mensabot/internal/notify"
	"github.com/nhle/mensabot/internal/source"
	"github.com/nhle/mensabot/internal/store"
	"github.com/nhle/mensabot/internal/sync"
	"github.com/nhle/mensabot/internal/testutil"
)

const curryDay = `
<div class="row splGroup">Essen</div>
<div class="row splMeal">
  <div><span class="bold">Linsen Curry</span></div>
  <div class="text-right">€ 1,00/2,00/3,00</div>
</div>
<div class="row splMeal">
  <div><span class="bold">Pasta</span></div>
  <div class="text-right">€ 1,50/2,50/3,50</div>
</div>`

type fakeDispatcher struct {
	mu       gosync.Mutex
	requests []model.DeliveryRequest
	notices  []string
}

func (f *fakeDispatcher) Dispatch(_ context.Context, reqs []model.DeliveryRequest) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, reqs...)
	return len(reqs), nil
}

func (f *fakeDispatcher) NotifyAdmin(_ context.Context, subject, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notices = append(f.notices, subject)
	return nil
}

type fixture struct {
	sched      *sync.Scheduler
	menus      *menu.Store
	db         *store.SQLiteStore
	dispatcher *fakeDispatcher
	clock      *testutil.Clock
	calls      *atomic.Int32
	fail       *atomic.Pointer[error]
}

// monday is 2024-03-04 07:00 UTC.
var monday = time.Date(2024, 3, 4, 7, 0, 0, 0, time.UTC)

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		db:         testutil.NewTestStore(t),
		dispatcher: &fakeDispatcher{},
		clock:      testutil.NewClock(monday),
		calls:      &atomic.Int32{},
		fail:       &atomic.Pointer[error]{},
	}
	f.menus = menu.NewStore(f.db, menu.Options{Location: time.UTC, Now: f.clock.Now}, nil)

	fetcher := source.FetcherFunc(func(_ context.Context, r source.DateRange) (*source.RawContent, error) {
		f.calls.Add(1)
		if errp := f.fail.Load(); errp != nil {
			return nil, *errp
		}
		raw := &source.RawContent{FetchedAt: f.clock.Now()}
		for _, d := range r.Dates {
			raw.Days = append(raw.Days, source.RawDay{Date: d, Body: []byte(curryDay)})
		}
		return raw, nil
	})

	f.sched = sync.New(sync.Config{
		RefreshAt:    model.TimeOfDay{Hour: 6},
		AlertCheckAt: model.TimeOfDay{Hour: 6, Minute: 30},
		Location:     time.UTC,
		WindowDays:   2,
		GuardWindow:  20 * time.Millisecond,
	}, sync.Deps{
		Fetcher:    fetcher,
		Normalizer: normalize.New(nil),
		Lookups:    lookup.NewStaticRegistry(lookup.Empty(nil)),
		Menus:      f.menus,
		Users:      f.db,
		Engine:     notify.NewEngine(f.db, nil),
		Dispatcher: f.dispatcher,
		Now:        f.clock.Now,
	}, nil)
	return f
}

func (f *fixture) failWith(err error) {
	if err == nil {
		f.fail.Store(nil)
		return
	}
	f.fail.Store(&err)
}

func TestRefreshIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	report, err := f.sched.RunRefresh(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Requested)
	assert.Equal(t, 2, report.Days)
	first := f.menus.Window(2)

	_, err = f.sched.RunRefresh(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, first, f.menus.Window(2))
	assert.Equal(t, []model.Date{"2024-03-04", "2024-03-05"}, f.menus.Dates())

	st, ok := f.sched.Status(sync.JobRefresh)
	require.True(t, ok)
	assert.Equal(t, sync.JobIdle, st.State)
	assert.Equal(t, monday, st.LastSuccess)
}

func TestTransientFailureKeepsCommittedDays(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.sched.RunRefresh(ctx, false)
	require.NoError(t, err)

	f.failWith(&source.FetchError{Kind: source.Transient, Date: "2024-03-05", StatusCode: 503})
	_, err = f.sched.RunRefresh(ctx, false)
	require.Error(t, err)
	assert.True(t, source.IsTransient(err))

	st, _ := f.sched.Status(sync.JobRefresh)
	assert.Equal(t, sync.JobFailed, st.State)
	assert.False(t, st.Halted)
	assert.Len(t, f.menus.Window(2), 2, "previous content stays readable")
	assert.Empty(t, f.dispatcher.notices)
}

func TestPermanentFailureHaltsUntilManualRun(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.failWith(&source.FetchError{Kind: source.Permanent, Date: "2024-03-04", StatusCode: 404})
	_, err := f.sched.RunRefresh(ctx, false)
	require.Error(t, err)
	assert.True(t, source.IsPermanent(err))

	st, _ := f.sched.Status(sync.JobRefresh)
	assert.True(t, st.Halted)
	assert.Equal(t, sync.JobFailed, st.State)
	assert.Equal(t, []string{"Menu refresh halted"}, f.dispatcher.notices)

	f.failWith(nil)
	calls := f.calls.Load()
	_, err = f.sched.RunRefresh(ctx, false)
	assert.ErrorIs(t, err, sync.ErrHalted)
	assert.Equal(t, calls, f.calls.Load(), "halted job does not fetch")

	report, err := f.sched.Refetch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Refresh.Days)

	st, _ = f.sched.Status(sync.JobRefresh)
	assert.False(t, st.Halted)
	assert.Equal(t, sync.JobIdle, st.State)
}

func TestAlertCheckDeliversOncePerDate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	testutil.SeedUser(t, f.db, model.User{ID: 1, Status: model.StatusStudent}, "curry")

	report, err := f.sched.Refetch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Check.Requests)
	assert.Equal(t, 2, report.Check.Delivered)
	require.Len(t, f.dispatcher.requests, 2)
	assert.Equal(t, "Linsen Curry", f.dispatcher.requests[0].Meal.Name)
	assert.Equal(t, model.Date("2024-03-04"), f.dispatcher.requests[0].Date)

	again, err := f.sched.Recheck(ctx)
	require.NoError(t, err)
	assert.Zero(t, again.Requests)
	assert.Len(t, f.dispatcher.requests, 2)
}

func TestRecheckLimitsToGivenUsers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	testutil.SeedUser(t, f.db, model.User{ID: 1}, "curry")
	testutil.SeedUser(t, f.db, model.User{ID: 2}, "pasta")

	_, err := f.sched.RunRefresh(ctx, false)
	require.NoError(t, err)

	report, err := f.sched.Recheck(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Requests)
	for _, req := range f.dispatcher.requests {
		assert.Equal(t, int64(2), req.UserID)
	}
}

func TestAlertCheckProceedsAfterGuardWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	testutil.SeedUser(t, f.db, model.User{ID: 1}, "curry")

	_, err := f.sched.RunRefresh(ctx, false)
	require.NoError(t, err)

	release, err := f.menus.AcquireCommit(ctx)
	require.NoError(t, err)
	defer release()

	report, err := f.sched.RunAlertCheck(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Requests, "committed days are evaluated")
}

func TestAlertCheckMarksExpiredDaysStale(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.sched.RunRefresh(ctx, false)
	require.NoError(t, err)

	f.clock.Advance(25 * time.Hour)
	report, err := f.sched.RunAlertCheck(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Stale)
}

func TestRunSchedulesNextWeekday(t *testing.T) {
	f := newFixture(t)
	// Friday after both schedule points.
	f.clock.Set(time.Date(2024, 3, 8, 9, 0, 0, 0, time.UTC))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.sched.Run(ctx) }()

	require.Eventually(t, func() bool {
		for _, st := range f.sched.Statuses() {
			if st.NextRun.IsZero() {
				return false
			}
		}
		return true
	}, time.Second, 5*time.Millisecond)

	statuses := f.sched.Statuses()
	require.Len(t, statuses, 2)
	assert.Equal(t, sync.JobAlertCheck, statuses[0].Name)
	assert.Equal(t, time.Date(2024, 3, 11, 6, 30, 0, 0, time.UTC), statuses[0].NextRun)
	assert.Equal(t, sync.JobRefresh, statuses[1].Name)
	assert.Equal(t, time.Date(2024, 3, 11, 6, 0, 0, 0, time.UTC), statuses[1].NextRun)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestRequestRecheckRunsInBackground(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	testutil.SeedUser(t, f.db, model.User{ID: 5}, "curry")

	_, err := f.sched.RunRefresh(ctx, false)
	require.NoError(t, err)

	go func() { _ = f.sched.Run(ctx) }()
	f.sched.RequestRecheck(5)

	require.Eventually(t, func() bool {
		f.dispatcher.mu.Lock()
		defer f.dispatcher.mu.Unlock()
		return len(f.dispatcher.requests) == 2
	}, time.Second, 5*time.Millisecond)
}

func TestRefreshCancelled(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f.failWith(context.Canceled)

	_, err := f.sched.RunRefresh(ctx, false)
	assert.True(t, errors.Is(err, context.Canceled))
	st, _ := f.sched.Status(sync.JobRefresh)
	assert.Equal(t, sync.JobIdle, st.State)
	assert.False(t, st.Halted)
}
