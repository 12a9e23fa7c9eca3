package api

import (
	"bytes"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/netmon/internal/alert"
	"github.com/netmon/internal/models"
)

// triggerRequest is the create/validate body. Duration and Enabled are
// pointers so that omitted fields get their defaults.
type triggerRequest struct {
	HostID      uint              `json:"host_id" binding:"required"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Key         string            `json:"key" binding:"required"`
	Condition   models.Condition  `json:"condition"`
	Threshold   float64           `json:"threshold"`
	Duration    *int              `json:"duration"`
	AlertLevel  models.AlertLevel `json:"alert_level"`
	Enabled     *bool             `json:"enabled"`
}

func (r triggerRequest) trigger() models.Trigger {
	t := models.Trigger{
		HostID:      r.HostID,
		Name:        r.Name,
		Description: r.Description,
		Key:         r.Key,
		Condition:   r.Condition,
		Threshold:   r.Threshold,
		Duration:    models.DefaultTriggerDuration,
		AlertLevel:  r.AlertLevel,
		Enabled:     true,
	}
	if r.Duration != nil {
		t.Duration = *r.Duration
	}
	if r.Enabled != nil {
		t.Enabled = *r.Enabled
	}
	if t.AlertLevel == "" {
		t.AlertLevel = models.AlertLevelWarning
	}
	return t
}

type testSample struct {
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// testRequest simulates a trigger against explicit samples, or against the
// stored history of its key between StartTime and EndTime.
type testRequest struct {
	Trigger   triggerRequest `json:"trigger"`
	Samples   []testSample   `json:"samples"`
	StartTime *time.Time     `json:"start_time"`
	EndTime   *time.Time     `json:"end_time"`
}

// visibleTrigger loads trigger id if the caller may see its host.
func (s *Server) visibleTrigger(c *gin.Context) (*models.Trigger, bool) {
	id, ok := parseID(c, "id")
	if !ok {
		return nil, false
	}
	scope, ok := s.scope(c)
	if !ok {
		return nil, false
	}
	t, err := s.engine.Registry.Get(id)
	if err != nil || !scope.Allows(t.HostID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "trigger not found"})
		return nil, false
	}
	return t, true
}

func (s *Server) listTriggers(c *gin.Context) {
	hostID, ok := queryUint(c, "host_id")
	if !ok {
		return
	}
	scope, ok := s.scope(c)
	if !ok {
		return
	}

	all := s.engine.Registry.List(hostID)
	triggers := make([]models.Trigger, 0, len(all))
	for _, t := range all {
		if scope.Allows(t.HostID) {
			triggers = append(triggers, t)
		}
	}
	c.JSON(http.StatusOK, triggers)
}

func (s *Server) createTrigger(c *gin.Context) {
	var req triggerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if _, ok := s.visibleHost(c, req.HostID); !ok {
		return
	}

	t := req.trigger()
	if err := s.engine.Registry.Register(c.Request.Context(), &t); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, t)
}

func (s *Server) getTrigger(c *gin.Context) {
	t, ok := s.visibleTrigger(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, t)
}

func (s *Server) updateTrigger(c *gin.Context) {
	var patch models.TriggerPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	t, ok := s.visibleTrigger(c)
	if !ok {
		return
	}

	updated, err := s.engine.Registry.Update(c.Request.Context(), t.ID, patch)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

// deleteTrigger removes the trigger and resolves its active alert, if any.
func (s *Server) deleteTrigger(c *gin.Context) {
	t, ok := s.visibleTrigger(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	if err := s.engine.Registry.Delete(ctx, t.ID); err != nil {
		respondError(c, err)
		return
	}
	if _, err := s.engine.Manager.ResolveTrigger(ctx, t.ID, s.now()); err != nil && !errors.Is(err, alert.ErrNotFound) {
		s.log.Warn().Err(err).Uint("trigger_id", t.ID).Msg("failed to resolve alert of deleted trigger")
	}
	c.JSON(http.StatusOK, gin.H{"message": "trigger deleted successfully"})
}

func (s *Server) enableTrigger(c *gin.Context) {
	s.setEnabled(c, true)
}

func (s *Server) disableTrigger(c *gin.Context) {
	s.setEnabled(c, false)
}

func (s *Server) setEnabled(c *gin.Context, enabled bool) {
	t, ok := s.visibleTrigger(c)
	if !ok {
		return
	}

	var (
		updated *models.Trigger
		err     error
	)
	if enabled {
		updated, err = s.engine.Registry.Enable(c.Request.Context(), t.ID)
	} else {
		updated, err = s.engine.Registry.Disable(c.Request.Context(), t.ID)
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (s *Server) validateTrigger(c *gin.Context) {
	var req triggerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	t := req.trigger()
	if err := alert.Validate(&t); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"valid": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": true, "trigger": t})
}

func (s *Server) testTrigger(c *gin.Context) {
	var req testRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	t := req.Trigger.trigger()

	var samples []alert.Sample
	switch {
	case len(req.Samples) > 0:
		samples = make([]alert.Sample, len(req.Samples))
		for i, smp := range req.Samples {
			samples[i] = alert.Sample{Value: smp.Value, Timestamp: smp.Timestamp.UTC()}
		}
	case req.StartTime != nil && req.EndTime != nil:
		if !req.EndTime.After(*req.StartTime) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "end_time must be after start_time"})
			return
		}
		if _, ok := s.visibleHost(c, t.HostID); !ok {
			return
		}
		stored, err := s.repo.MetricsBetween(c.Request.Context(), t.HostID, t.Key, req.StartTime.UTC(), req.EndTime.UTC())
		if err != nil {
			respondError(c, err)
			return
		}
		samples = make([]alert.Sample, len(stored))
		for i, m := range stored {
			samples[i] = alert.Sample{Value: m.Value, Timestamp: m.Timestamp}
		}
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "samples or start_time and end_time are required"})
		return
	}

	transitions, err := alert.Simulate(c.Request.Context(), t, samples)
	if err != nil {
		respondError(c, err)
		return
	}

	opened, resolved := 0, 0
	for _, tr := range transitions {
		if tr.Status == models.AlertStatusActive {
			opened++
		} else {
			resolved++
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"trigger":     t,
		"transitions": transitions,
		"summary": gin.H{
			"samples":  len(samples),
			"opened":   opened,
			"resolved": resolved,
		},
	})
}

// exportTriggers downloads the triggers of one host, or of every host for
// administrators.
func (s *Server) exportTriggers(c *gin.Context) {
	hostID, ok := queryUint(c, "host_id")
	if !ok {
		return
	}
	if hostID == 0 {
		scope, ok := s.scope(c)
		if !ok {
			return
		}
		if scope.HostIDs != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "host_id is required"})
			return
		}
	} else if _, ok := s.visibleHost(c, hostID); !ok {
		return
	}

	var buf bytes.Buffer
	if err := s.engine.Registry.Export(&buf, hostID); err != nil {
		respondError(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="triggers.json"`)
	c.Data(http.StatusOK, "application/json; charset=utf-8", buf.Bytes())
}

// importTriggers registers every trigger of an exported list on host_id.
func (s *Server) importTriggers(c *gin.Context) {
	hostID, ok := queryUint(c, "host_id")
	if !ok {
		return
	}
	if hostID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "host_id is required"})
		return
	}
	if _, ok := s.visibleHost(c, hostID); !ok {
		return
	}

	triggers, err := s.engine.Registry.Import(c.Request.Context(), c.Request.Body, hostID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"imported": len(triggers), "triggers": triggers})
}
