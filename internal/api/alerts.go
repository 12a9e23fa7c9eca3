package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/netmon/internal/models"
	"github.com/netmon/internal/repository"
)

type alertRequest struct {
	HostID  uint              `json:"host_id" binding:"required"`
	Title   string            `json:"title" binding:"required"`
	Message string            `json:"message"`
	Level   models.AlertLevel `json:"level" binding:"required"`
}

func (s *Server) listAlerts(c *gin.Context) {
	hostID, ok := queryUint(c, "host_id")
	if !ok {
		return
	}
	limit, ok := queryInt(c, "limit", 100)
	if !ok {
		return
	}
	status := models.AlertStatus(c.Query("status"))
	if status != "" && status != models.AlertStatusActive && status != models.AlertStatusResolved {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
		return
	}
	level := models.AlertLevel(c.Query("level"))
	if level != "" && !level.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid level"})
		return
	}
	scope, ok := s.scope(c)
	if !ok {
		return
	}

	alerts, err := s.repo.ListAlerts(c.Request.Context(), scope, repository.AlertFilter{
		HostID: hostID,
		Status: status,
		Level:  level,
		Limit:  limit,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, alerts)
}

// createAlert opens an operator alert that is not tied to a trigger.
func (s *Server) createAlert(c *gin.Context) {
	var req alertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !req.Level.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid level"})
		return
	}
	if _, ok := s.visibleHost(c, req.HostID); !ok {
		return
	}

	a, err := s.engine.Manager.OpenManual(c.Request.Context(), req.HostID, req.Title, req.Message, req.Level, s.now())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, a)
}

func (s *Server) getAlert(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	scope, ok := s.scope(c)
	if !ok {
		return
	}
	a, err := s.repo.AlertByID(c.Request.Context(), scope, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

// resolveAlert resolves an active alert through the lifecycle manager. An
// alert that is already resolved is reported as not found.
func (s *Server) resolveAlert(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	scope, ok := s.scope(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if _, err := s.repo.AlertByID(ctx, scope, id); err != nil {
		respondError(c, err)
		return
	}

	a, err := s.engine.Manager.Resolve(ctx, id, s.now())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}
