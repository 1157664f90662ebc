// Package api serves the menu read views and the user and admin triggers
// over HTTP.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nhle/mensabot/internal/lookup"
	"github.com/nhle/mensabot/internal/menu"
	"github.com/nhle/mensabot/internal/store"
	appsync "github.com/nhle/mensabot/internal/sync"
)

// Jobs is the part of the scheduler the API triggers.
type Jobs interface {
	Refetch(ctx context.Context) (appsync.RefetchReport, error)
	Recheck(ctx context.Context, userIDs ...int64) (appsync.CheckReport, error)
	RequestRecheck(userID int64)
	Statuses() []appsync.JobStatus
}

// Notifier reaches the administrator.
type Notifier interface {
	NotifyAdmin(ctx context.Context, subject, body string) error
}

// Directory is the user and alert storage the API edits.
type Directory interface {
	store.UserDirectory
	store.AlertStore
}

// Options configures the server.
type Options struct {
	AdminID    int64
	WindowDays int
	MensaName  string

	// HandlerTimeout bounds the synchronous trigger endpoints.
	HandlerTimeout time.Duration
}

// Deps are the collaborators behind the handlers.
type Deps struct {
	Menus   *menu.Store
	Lookups *lookup.Registry
	Users   Directory
	Jobs    Jobs

	// Admin receives configuration errors raised by admin triggers. Optional.
	Admin Notifier
}

// Server holds the handlers.
type Server struct {
	opts    Options
	menus   *menu.Store
	lookups *lookup.Registry
	users   Directory
	jobs    Jobs
	admin   Notifier
	logger  *slog.Logger
}

// NewServer creates a Server.
func NewServer(opts Options, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.WindowDays <= 0 {
		opts.WindowDays = 7
	}
	if opts.HandlerTimeout <= 0 {
		opts.HandlerTimeout = 5 * time.Minute
	}
	return &Server{
		opts:    opts,
		menus:   deps.Menus,
		lookups: deps.Lookups,
		users:   deps.Users,
		jobs:    deps.Jobs,
		admin:   deps.Admin,
		logger:  logger.With("component", "api"),
	}
}

// Routes builds the gin engine.
func (s *Server) Routes() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery(), requestLogger(s.logger))

	g.GET("/health", func(c *gin.Context) {
		ok(c, http.StatusOK, gin.H{"status": "OK", "mensa": s.opts.MensaName})
	})

	v1 := g.Group("/v1")
	{
		v1.GET("/menu", s.getMenu)
		v1.GET("/menu/:date", s.getMenuDay)
		v1.GET("/lookup", s.listLookup)
		v1.GET("/lookup/:code", s.getLookup)
	}

	users := v1.Group("/users/:id")
	{
		users.GET("", s.getUser)
		users.PUT("", s.putUser)
		users.DELETE("", s.deleteUser)
		users.PUT("/mute", s.muteUser)
		users.GET("/alerts", s.listAlerts)
		users.POST("/alerts", s.createAlert)
		users.DELETE("/alerts/:alertID", s.deleteAlert)
		users.PUT("/alerts/:alertID/mute", s.muteAlert)
		users.POST("/recheck", withTimeout(s.opts.HandlerTimeout, s.recheckUser))
	}

	admin := v1.Group("/admin")
	admin.Use(requireAdmin(s.opts.AdminID))
	{
		admin.GET("/stats", s.stats)
		admin.POST("/refetch", withTimeout(s.opts.HandlerTimeout, s.refetch))
		admin.POST("/recheck", withTimeout(s.opts.HandlerTimeout, s.recheckAll))
		admin.POST("/lookup/reload", s.reloadLookup)
	}

	return g
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api listening", "addr", addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
