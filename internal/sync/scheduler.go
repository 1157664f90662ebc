// Package sync drives the recurring menu refresh and alert check jobs.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	gosync "sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nhle/mensabot/internal/lookup"
	"github.com/nhle/mensabot/internal/menu"
	"github.com/nhle/mensabot/internal/model"
	"github.com/nhle/mensabot/internal/normalize"
	"github.com/nhle/mensabot/internal/notify"
	"github.com/nhle/mensabot/internal/source"
)

// JobState is the state of one recurring job.
type JobState int

const (
	JobIdle JobState = iota
	JobRunning
	JobFailed
)

func (s JobState) String() string {
	switch s {
	case JobRunning:
		return "running"
	case JobFailed:
		return "failed"
	default:
		return "idle"
	}
}

// Job names.
const (
	JobRefresh    = "refresh"
	JobAlertCheck = "alert_check"
)

// JobStatus holds the state of a single job.
type JobStatus struct {
	Name        string
	State       JobState
	LastRun     time.Time
	LastSuccess time.Time
	NextRun     time.Time
	Err         error

	// Halted is set after a permanent failure. Scheduled runs are skipped
	// until a manual run succeeds.
	Halted bool
}

// ErrHalted is returned by a scheduled refresh while the job is halted.
var ErrHalted = errors.New("refresh halted after permanent failure")

// fetchTimeout bounds one whole fetch of the window, retries included.
const fetchTimeout = 3 * time.Minute

// historyDays is how long past days are kept before pruning.
const historyDays = 7

// Users lists the registered users with their alerts.
type Users interface {
	ListUsers(ctx context.Context) ([]model.User, error)
}

// Dispatcher sends what the engine decided.
type Dispatcher interface {
	Dispatch(ctx context.Context, reqs []model.DeliveryRequest) (int, error)
	NotifyAdmin(ctx context.Context, subject, body string) error
}

// Config holds the calendar of both jobs.
type Config struct {
	RefreshAt    model.TimeOfDay
	AlertCheckAt model.TimeOfDay
	Location     *time.Location

	// WindowDays is the number of weekdays fetched and evaluated.
	WindowDays int

	// GuardWindow is how long the alert check waits for a running refresh
	// before evaluating whatever is committed.
	GuardWindow time.Duration
}

// RefreshReport summarizes a successful refresh.
type RefreshReport struct {
	Requested int `json:"requested"`
	Days      int `json:"days"`
	Issues    int `json:"issues"`
	Pruned    int `json:"pruned"`
}

// CheckReport summarizes an alert check.
type CheckReport struct {
	Requests  int `json:"requests"`
	Delivered int `json:"delivered"`
	Stale     int `json:"stale"`
}

// RefetchReport is the outcome of a manual refetch.
type RefetchReport struct {
	Refresh RefreshReport `json:"refresh"`
	Check   CheckReport   `json:"check"`
}

// Scheduler owns the two jobs. Each job runs at most once at a time;
// scheduled and manual runs of the same job queue behind each other.
type Scheduler struct {
	cfg        Config
	fetcher    source.Fetcher
	normalizer *normalize.Normalizer
	lookups    *lookup.Registry
	menus      *menu.Store
	users      Users
	engine     *notify.Engine
	dispatcher Dispatcher
	now        func() time.Time
	logger     *slog.Logger

	mu       gosync.Mutex
	statuses map[string]*JobStatus

	refreshRun gosync.Mutex
	checkRun   gosync.Mutex

	triggerCh chan int64
}

// Deps are the collaborators of a Scheduler.
type Deps struct {
	Fetcher    source.Fetcher
	Normalizer *normalize.Normalizer
	Lookups    *lookup.Registry
	Menus      *menu.Store
	Users      Users
	Engine     *notify.Engine
	Dispatcher Dispatcher

	// Now defaults to time.Now.
	Now func() time.Time
}

// New creates a Scheduler.
func New(cfg Config, deps Deps, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.WindowDays <= 0 {
		cfg.WindowDays = 7
	}
	return &Scheduler{
		cfg:        cfg,
		fetcher:    deps.Fetcher,
		normalizer: deps.Normalizer,
		lookups:    deps.Lookups,
		menus:      deps.Menus,
		users:      deps.Users,
		engine:     deps.Engine,
		dispatcher: deps.Dispatcher,
		now:        deps.Now,
		logger:     logger.With("component", "scheduler"),
		statuses: map[string]*JobStatus{
			JobRefresh:    {Name: JobRefresh, State: JobIdle},
			JobAlertCheck: {Name: JobAlertCheck, State: JobIdle},
		},
		triggerCh: make(chan int64, 16),
	}
}

// Run starts the job timers and blocks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.loop(gctx, JobRefresh, s.cfg.RefreshAt, func(ctx context.Context) {
			_, _ = s.RunRefresh(ctx, false)
		})
	})
	g.Go(func() error {
		return s.loop(gctx, JobAlertCheck, s.cfg.AlertCheckAt, func(ctx context.Context) {
			_, _ = s.RunAlertCheck(ctx)
		})
	})
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case id := <-s.triggerCh:
				if _, err := s.RunAlertCheck(gctx, id); err != nil && gctx.Err() == nil {
					s.logger.Error("triggered recheck failed", "user", id, "error", err)
				}
			}
		}
	})

	s.logger.Info("scheduler started",
		"refresh_at", s.cfg.RefreshAt, "alert_check_at", s.cfg.AlertCheckAt, "location", s.cfg.Location)
	err := g.Wait()
	s.logger.Info("scheduler stopped")
	return err
}

// loop runs job at the given time on every weekday.
func (s *Scheduler) loop(ctx context.Context, name string, at model.TimeOfDay, job func(context.Context)) error {
	for {
		now := s.now()
		next := model.NextWeekdayAt(now, at, s.cfg.Location)
		s.setNextRun(name, next)

		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
			job(ctx)
		}
	}
}

// RequestRecheck queues an alert check for one user without waiting.
func (s *Scheduler) RequestRecheck(userID int64) {
	select {
	case s.triggerCh <- userID:
	default:
		s.logger.Warn("recheck queue full, dropping request", "user", userID)
	}
}

// RunRefresh fetches the rolling window, normalizes it and replaces the
// returned days in the menu store. A scheduled run (manual false) is
// skipped while the job is halted; a manual run clears the halt.
func (s *Scheduler) RunRefresh(ctx context.Context, manual bool) (RefreshReport, error) {
	s.refreshRun.Lock()
	defer s.refreshRun.Unlock()

	if !manual && s.isHalted() {
		s.logger.Warn("scheduled refresh skipped, job halted")
		return RefreshReport{}, ErrHalted
	}

	s.setStatus(JobRefresh, JobRunning, nil)
	log := s.logger.With("job", JobRefresh, "manual", manual)

	today := model.DateOf(s.now().In(s.cfg.Location))
	dates := source.NewDateRange(today, s.cfg.WindowDays)
	report := RefreshReport{Requested: len(dates.Dates)}

	// No lock is held while fetching.
	fctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	raw, err := s.fetcher.Fetch(fctx, dates)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			s.setStatus(JobRefresh, JobIdle, nil)
			return report, ctx.Err()
		}
		return report, s.failRefresh(ctx, log, fmt.Errorf("fetching menu: %w", err))
	}

	res, err := s.normalizer.Normalize(raw, s.lookups.Current())
	if err != nil {
		return report, s.failRefresh(ctx, log, err)
	}
	report.Days = len(res.Days)
	report.Issues = len(res.Issues)

	release, err := s.menus.AcquireCommit(ctx)
	if err != nil {
		s.setStatus(JobRefresh, JobIdle, nil)
		return report, err
	}
	err = s.menus.ReplaceAll(ctx, res.Days)
	if err == nil {
		report.Pruned, err = s.menus.PruneBefore(ctx, today.AddDays(-historyDays))
	}
	release()
	if err != nil {
		return report, s.failRefresh(ctx, log, err)
	}

	s.succeed(JobRefresh)
	log.Info("menu refreshed", "requested", report.Requested, "days", report.Days, "issues", report.Issues, "pruned", report.Pruned)
	return report, nil
}

// failRefresh records a failed refresh. Permanent fetch failures halt the
// job and are reported to the admin.
func (s *Scheduler) failRefresh(ctx context.Context, log *slog.Logger, err error) error {
	s.setStatus(JobRefresh, JobFailed, err)
	if !source.IsPermanent(err) {
		log.Warn("refresh failed, retrying at next tick", "error", err)
		return err
	}

	s.mu.Lock()
	s.statuses[JobRefresh].Halted = true
	s.mu.Unlock()
	log.Error("refresh failed permanently, halting until manual refetch", "error", err)

	if nErr := s.dispatcher.NotifyAdmin(ctx, "Menu refresh halted",
		fmt.Sprintf("The menu refresh failed permanently and is halted until a manual refetch.\n\n%v", err)); nErr != nil {
		log.Error("admin notification failed", "error", nErr)
	}
	return err
}

// RunAlertCheck evaluates alerts against the current window and dispatches
// the resulting deliveries. With userIDs, only those users are checked.
// A refresh holding the commit lock is waited for at most GuardWindow.
func (s *Scheduler) RunAlertCheck(ctx context.Context, userIDs ...int64) (CheckReport, error) {
	s.checkRun.Lock()
	defer s.checkRun.Unlock()

	s.setStatus(JobAlertCheck, JobRunning, nil)
	log := s.logger.With("job", JobAlertCheck)
	var report CheckReport

	release, locked, err := s.menus.TryCommitWithin(ctx, s.cfg.GuardWindow)
	if err != nil {
		s.setStatus(JobAlertCheck, JobIdle, nil)
		return report, err
	}
	if !locked {
		log.Warn("guard window elapsed, evaluating committed state")
	}

	reqs, err := s.evaluate(ctx, &report, userIDs)
	release()
	if err != nil {
		if ctx.Err() != nil {
			s.setStatus(JobAlertCheck, JobIdle, nil)
			return report, ctx.Err()
		}
		s.setStatus(JobAlertCheck, JobFailed, err)
		log.Error("alert check failed", "error", err)
		return report, err
	}
	report.Requests = len(reqs)

	report.Delivered, err = s.dispatcher.Dispatch(ctx, reqs)
	if err != nil {
		s.setStatus(JobAlertCheck, JobIdle, nil)
		return report, err
	}

	s.succeed(JobAlertCheck)
	log.Info("alert check complete", "requests", report.Requests, "delivered", report.Delivered, "stale_days", report.Stale)
	return report, nil
}

func (s *Scheduler) evaluate(ctx context.Context, report *CheckReport, userIDs []int64) ([]model.DeliveryRequest, error) {
	report.Stale = s.menus.MarkStaleIfExpired(s.now())
	days := s.menus.Window(s.cfg.WindowDays)

	users, err := s.users.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	if len(userIDs) > 0 {
		want := make(map[int64]bool, len(userIDs))
		for _, id := range userIDs {
			want[id] = true
		}
		filtered := users[:0]
		for _, u := range users {
			if want[u.ID] {
				filtered = append(filtered, u)
			}
		}
		users = filtered
	}

	return s.engine.Evaluate(ctx, days, users)
}

// Refetch is the administrative trigger: a manual refresh followed by an
// alert check, both run synchronously.
func (s *Scheduler) Refetch(ctx context.Context) (RefetchReport, error) {
	var report RefetchReport
	var err error

	report.Refresh, err = s.RunRefresh(ctx, true)
	if err != nil {
		return report, fmt.Errorf("refreshing menu: %w", err)
	}
	report.Check, err = s.RunAlertCheck(ctx)
	if err != nil {
		return report, fmt.Errorf("checking alerts: %w", err)
	}
	return report, nil
}

// Recheck runs the alert check now, for the given users or everyone.
func (s *Scheduler) Recheck(ctx context.Context, userIDs ...int64) (CheckReport, error) {
	return s.RunAlertCheck(ctx, userIDs...)
}

// Statuses returns the status of both jobs ordered by name.
func (s *Scheduler) Statuses() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	statuses := make([]JobStatus, 0, len(s.statuses))
	for _, st := range s.statuses {
		statuses = append(statuses, *st)
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Name < statuses[j].Name })
	return statuses
}

// Status returns the status of one job.
func (s *Scheduler) Status(name string) (JobStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.statuses[name]
	if !ok {
		return JobStatus{}, false
	}
	return *st, true
}

func (s *Scheduler) isHalted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statuses[JobRefresh].Halted
}

func (s *Scheduler) setNextRun(name string, next time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.statuses[name]; ok {
		st.NextRun = next
	}
}

// setStatus updates the state of a job.
func (s *Scheduler) setStatus(name string, state JobState, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	status, ok := s.statuses[name]
	if !ok {
		return
	}

	if status.State != state {
		s.logger.Info("job state changed", "job", name, "from", status.State, "to", state)
	}
	status.State = state
	status.Err = err
	if state == JobRunning {
		status.LastRun = s.now()
	}
}

// succeed marks a completed run.
func (s *Scheduler) succeed(name string) {
	s.setStatus(name, JobIdle, nil)

	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.statuses[name]
	st.LastSuccess = s.now()
	if name == JobRefresh {
		st.Halted = false
	}
}
