package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/nhle/mensabot/internal/model"
	"github.com/nhle/mensabot/internal/store"
)

type userRequest struct {
	Name               string   `json:"name"`
	Status             string   `json:"status"`
	DietaryPreferences []string `json:"dietary_preferences"`
	AllergyCodes       []string `json:"allergy_codes"`
}

type alertRequest struct {
	Keyword string `json:"keyword" binding:"required"`
}

type muteRequest struct {
	Muted *bool `json:"muted" binding:"required"`
}

func userID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		fail(c, http.StatusBadRequest, "invalid user id")
		return 0, false
	}
	return id, true
}

func (s *Server) getUser(c *gin.Context) {
	id, valid := userID(c)
	if !valid {
		return
	}
	u, err := s.users.GetUser(c.Request.Context(), id)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, u)
}

// putUser registers the user or updates their profile.
func (s *Server) putUser(c *gin.Context) {
	id, valid := userID(c)
	if !valid {
		return
	}
	var req userRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}

	u := model.User{ID: id, Name: strings.TrimSpace(req.Name), Status: model.StatusStudent, AllergyCodes: req.AllergyCodes}
	if req.Status != "" {
		status, err := model.ParseStatus(req.Status)
		if err != nil {
			fail(c, http.StatusBadRequest, err.Error())
			return
		}
		u.Status = status
	}
	for _, p := range req.DietaryPreferences {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			u.DietaryPreferences = append(u.DietaryPreferences, model.Tag(p))
		}
	}

	ctx := c.Request.Context()
	if existing, err := s.users.GetUser(ctx, id); err == nil {
		u.Muted = existing.Muted
	} else if !errors.Is(err, store.ErrNotFound) {
		failErr(c, err)
		return
	}

	if err := s.users.UpsertUser(ctx, u); err != nil {
		failErr(c, err)
		return
	}
	saved, err := s.users.GetUser(ctx, id)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, saved)
}

func (s *Server) deleteUser(c *gin.Context) {
	id, valid := userID(c)
	if !valid {
		return
	}
	if err := s.users.DeleteUser(c.Request.Context(), id); err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, nil)
}

func (s *Server) muteUser(c *gin.Context) {
	id, valid := userID(c)
	if !valid {
		return
	}
	var req muteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.users.SetUserMuted(c.Request.Context(), id, *req.Muted); err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"muted": *req.Muted})
}

func (s *Server) listAlerts(c *gin.Context) {
	id, valid := userID(c)
	if !valid {
		return
	}
	alerts, err := s.users.ListAlerts(c.Request.Context(), id)
	if err != nil {
		failErr(c, err)
		return
	}
	if alerts == nil {
		alerts = []model.Alert{}
	}
	ok(c, http.StatusOK, alerts)
}

// createAlert adds an alert and queues a recheck for the user so matches
// already on the menu are reported right away.
func (s *Server) createAlert(c *gin.Context) {
	id, valid := userID(c)
	if !valid {
		return
	}
	var req alertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}

	a, err := s.users.CreateAlert(c.Request.Context(), id, req.Keyword)
	if errors.Is(err, store.ErrEmptyKeyword) {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		failErr(c, err)
		return
	}

	s.jobs.RequestRecheck(id)
	ok(c, http.StatusCreated, a)
}

func (s *Server) deleteAlert(c *gin.Context) {
	id, valid := userID(c)
	if !valid {
		return
	}
	if err := s.users.DeleteAlert(c.Request.Context(), id, c.Param("alertID")); err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, nil)
}

func (s *Server) muteAlert(c *gin.Context) {
	id, valid := userID(c)
	if !valid {
		return
	}
	var req muteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.users.SetAlertMuted(c.Request.Context(), id, c.Param("alertID"), *req.Muted); err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"muted": *req.Muted})
}

// recheckUser runs the alert check for one user and waits for it.
func (s *Server) recheckUser(c *gin.Context) {
	id, valid := userID(c)
	if !valid {
		return
	}
	if _, err := s.users.GetUser(c.Request.Context(), id); err != nil {
		failErr(c, err)
		return
	}
	report, err := s.jobs.Recheck(c.Request.Context(), id)
	if err != nil {
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	ok(c, http.StatusOK, report)
}
