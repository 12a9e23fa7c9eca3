package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/netmon/internal/auth"
	"github.com/netmon/internal/models"
	"github.com/netmon/internal/repository"
)

type hostRequest struct {
	Name      string   `json:"name" binding:"required"`
	IPAddress string   `json:"ip_address" binding:"required,ip"`
	Tags      []string `json:"tags"`
}

type hostPatch struct {
	Name      *string   `json:"name"`
	IPAddress *string   `json:"ip_address" binding:"omitempty,ip"`
	Status    *string   `json:"status" binding:"omitempty,oneof=online offline unknown"`
	Tags      *[]string `json:"tags"`
}

func (s *Server) listHosts(c *gin.Context) {
	offset, ok := queryInt(c, "skip", 0)
	if !ok {
		return
	}
	limit, ok := queryInt(c, "limit", 100)
	if !ok {
		return
	}

	user := auth.CurrentUser(c)
	owner := user.ID
	if user.Role == models.RoleAdmin {
		owner = 0
	}
	hosts, err := s.repo.ListHosts(c.Request.Context(), owner, offset, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, hosts)
}

func (s *Server) createHost(c *gin.Context) {
	var req hostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	if _, err := s.repo.HostByName(ctx, req.Name); err == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "host name already registered"})
		return
	} else if !errors.Is(err, repository.ErrNotFound) {
		respondError(c, err)
		return
	}

	now := s.now()
	host := models.Host{
		Name:      req.Name,
		IPAddress: req.IPAddress,
		Status:    models.HostStatusOnline,
		Tags:      req.Tags,
		UserID:    auth.CurrentUser(c).ID,
		LastSeen:  &now,
	}
	if err := s.repo.CreateHost(ctx, &host); err != nil {
		respondError(c, err)
		return
	}

	if s.defaultTriggers {
		if err := s.engine.Registry.CreateDefaults(ctx, host.ID); err != nil {
			s.log.Error().Err(err).Uint("host_id", host.ID).Msg("failed to create default triggers")
		}
	}

	c.JSON(http.StatusCreated, host)
}

func (s *Server) getHost(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	host, ok := s.visibleHost(c, id)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, host)
}

func (s *Server) updateHost(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req hostPatch
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	host, ok := s.visibleHost(c, id)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	if req.Name != nil && *req.Name != host.Name {
		if _, err := s.repo.HostByName(ctx, *req.Name); err == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "host name already registered"})
			return
		}
		host.Name = *req.Name
	}
	if req.IPAddress != nil {
		host.IPAddress = *req.IPAddress
	}
	if req.Status != nil {
		host.Status = *req.Status
	}
	if req.Tags != nil {
		host.Tags = *req.Tags
	}
	if err := s.repo.UpdateHost(ctx, host); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, host)
}

// deleteHost removes the host and everything the engine holds for it. Its
// active alerts are resolved so they do not stay open forever.
func (s *Server) deleteHost(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	if _, ok := s.visibleHost(c, id); !ok {
		return
	}

	ctx := c.Request.Context()
	if err := s.repo.DeleteHost(ctx, id); err != nil {
		respondError(c, err)
		return
	}

	now := s.now()
	for _, a := range s.engine.Manager.Active() {
		if a.HostID != id || a.TriggerID == nil {
			continue
		}
		if _, err := s.engine.Manager.ResolveTrigger(ctx, *a.TriggerID, now); err != nil {
			s.log.Warn().Err(err).Str("ref", a.Ref).Msg("failed to resolve alert of deleted host")
		}
	}
	s.engine.Registry.ForgetHost(id)
	s.engine.Windows.Forget(id)

	c.JSON(http.StatusOK, gin.H{"message": "host deleted successfully"})
}

func (s *Server) heartbeat(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	if _, ok := s.visibleHost(c, id); !ok {
		return
	}
	now := s.now()
	if err := s.repo.Heartbeat(c.Request.Context(), id, now); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": models.HostStatusOnline, "last_seen": now})
}
