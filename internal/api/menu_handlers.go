package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nhle/mensabot/internal/menu"
	"github.com/nhle/mensabot/internal/model"
)

type personalDay struct {
	Date      model.Date          `json:"date"`
	IsStale   bool                `json:"is_stale"`
	FetchedAt time.Time           `json:"fetched_at"`
	Meals     []menu.Personalized `json:"meals"`
}

type personalSnapshot struct {
	User        int64         `json:"user"`
	Days        []personalDay `json:"days"`
	Stale       bool          `json:"stale"`
	GeneratedAt time.Time     `json:"generated_at"`
}

func personalize(day model.MenuDay, u model.User) personalDay {
	return personalDay{Date: day.Date, IsStale: day.IsStale, FetchedAt: day.FetchedAt, Meals: menu.PersonalizeDay(day, u)}
}

// viewer returns the user named by the "user" query parameter, if any.
func (s *Server) viewer(c *gin.Context) (*model.User, bool) {
	raw := c.Query("user")
	if raw == "" {
		return nil, true
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		fail(c, http.StatusBadRequest, "invalid user id")
		return nil, false
	}
	u, err := s.users.GetUser(c.Request.Context(), id)
	if err != nil {
		failErr(c, err)
		return nil, false
	}
	return u, true
}

// getMenu returns the upcoming weekdays. ?days limits the window.
func (s *Server) getMenu(c *gin.Context) {
	n := s.opts.WindowDays
	if raw := c.Query("days"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 || v > s.opts.WindowDays {
			fail(c, http.StatusBadRequest, "days must be between 1 and "+strconv.Itoa(s.opts.WindowDays))
			return
		}
		n = v
	}

	u, okUser := s.viewer(c)
	if !okUser {
		return
	}

	snap := s.menus.Snapshot(n)
	if u == nil {
		ok(c, http.StatusOK, snap)
		return
	}

	view := personalSnapshot{User: u.ID, Days: make([]personalDay, 0, len(snap.Days)), Stale: snap.Stale, GeneratedAt: snap.GeneratedAt}
	for _, d := range snap.Days {
		view.Days = append(view.Days, personalize(d, *u))
	}
	ok(c, http.StatusOK, view)
}

// getMenuDay returns one date; "today" is accepted.
func (s *Server) getMenuDay(c *gin.Context) {
	raw := c.Param("date")
	date := s.menus.Today()
	if raw != "today" {
		var err error
		if date, err = model.ParseDate(raw); err != nil {
			fail(c, http.StatusBadRequest, err.Error())
			return
		}
	}

	u, okUser := s.viewer(c)
	if !okUser {
		return
	}

	day, err := s.menus.Get(date)
	if errors.Is(err, menu.ErrNotFound) {
		fail(c, http.StatusNotFound, "no menu for "+date.String())
		return
	}
	if err != nil {
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}

	if u == nil {
		ok(c, http.StatusOK, day)
		return
	}
	ok(c, http.StatusOK, personalize(day, *u))
}

func (s *Server) listLookup(c *gin.Context) {
	ok(c, http.StatusOK, s.lookups.Current().Entries())
}

func (s *Server) getLookup(c *gin.Context) {
	ok(c, http.StatusOK, s.lookups.Current().Resolve(c.Param("code")))
}

type jobView struct {
	Name        string     `json:"name"`
	State       string     `json:"state"`
	Halted      bool       `json:"halted"`
	Error       string     `json:"error,omitempty"`
	LastRun     *time.Time `json:"last_run,omitempty"`
	LastSuccess *time.Time `json:"last_success,omitempty"`
	NextRun     *time.Time `json:"next_run,omitempty"`
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func (s *Server) stats(c *gin.Context) {
	jobs := make([]jobView, 0, 2)
	for _, st := range s.jobs.Statuses() {
		v := jobView{
			Name:        st.Name,
			State:       st.State.String(),
			Halted:      st.Halted,
			LastRun:     timePtr(st.LastRun),
			LastSuccess: timePtr(st.LastSuccess),
			NextRun:     timePtr(st.NextRun),
		}
		if st.Err != nil {
			v.Error = st.Err.Error()
		}
		jobs = append(jobs, v)
	}

	users, err := s.users.ListUsers(c.Request.Context())
	if err != nil {
		failErr(c, err)
		return
	}
	alerts := 0
	for _, u := range users {
		alerts += len(u.Alerts)
	}

	ok(c, http.StatusOK, gin.H{
		"menu":    s.menus.Stats(),
		"jobs":    jobs,
		"users":   len(users),
		"alerts":  alerts,
		"lookups": s.lookups.Current().Len(),
	})
}

func (s *Server) refetch(c *gin.Context) {
	report, err := s.jobs.Refetch(c.Request.Context())
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusGatewayTimeout
		}
		fail(c, status, err.Error())
		return
	}
	ok(c, http.StatusOK, report)
}

func (s *Server) recheckAll(c *gin.Context) {
	report, err := s.jobs.Recheck(c.Request.Context())
	if err != nil {
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	ok(c, http.StatusOK, report)
}

func (s *Server) reloadLookup(c *gin.Context) {
	if err := s.lookups.Reload(); err != nil {
		s.reportConfigError(c.Request.Context(), "Lookup table reload failed", err)
		fail(c, http.StatusUnprocessableEntity, err.Error())
		return
	}
	ok(c, http.StatusOK, gin.H{"entries": s.lookups.Current().Len()})
}

// reportConfigError forwards a configuration error to the administrator.
func (s *Server) reportConfigError(ctx context.Context, subject string, err error) {
	if s.admin == nil || !model.IsConfigError(err) {
		return
	}
	if nerr := s.admin.NotifyAdmin(ctx, subject, err.Error()); nerr != nil {
		s.logger.Error("notifying admin failed", "subject", subject, "error", nerr)
	}
}
