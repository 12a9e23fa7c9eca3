package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/netmon/internal/alert"
	"github.com/netmon/internal/metrics"
	"github.com/netmon/internal/repository"
)

const maxBatchSize = 1000

type sampleRequest struct {
	HostID    uint       `json:"host_id" binding:"required"`
	Key       string     `json:"key" binding:"required"`
	Value     *float64   `json:"value" binding:"required"`
	Timestamp *time.Time `json:"timestamp"`
}

func (r sampleRequest) sample(now time.Time) alert.Sample {
	ts := now
	if r.Timestamp != nil {
		ts = r.Timestamp.UTC()
	}
	return alert.Sample{HostID: r.HostID, Key: r.Key, Value: *r.Value, Timestamp: ts}
}

type batchRequest struct {
	Samples []sampleRequest `json:"samples" binding:"required,min=1,dive"`
}

// sampleResult reports the fate of one sample of a batch.
type sampleResult struct {
	Index  int    `json:"index"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func (s *Server) listMetrics(c *gin.Context) {
	hostID, ok := queryUint(c, "host_id")
	if !ok {
		return
	}
	limit, ok := queryInt(c, "limit", 100)
	if !ok {
		return
	}
	scope, ok := s.scope(c)
	if !ok {
		return
	}

	samples, err := s.repo.ListMetrics(c.Request.Context(), scope, repository.MetricFilter{
		HostID: hostID,
		Key:    c.Query("key"),
		Limit:  limit,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, samples)
}

// createMetric queues one sample for evaluation. Acceptance is asynchronous:
// 202 means the sample was queued, not that it has been evaluated.
func (s *Server) createMetric(c *gin.Context) {
	var req sampleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if _, ok := s.visibleHost(c, req.HostID); !ok {
		return
	}
	if !s.allowIngest(c, req.HostID) {
		return
	}

	smp := req.sample(s.now())
	if err := s.pipeline.Submit(smp); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted", "sample": smp})
}

// createMetricBatch queues many samples and reports a result for each. The
// request itself succeeds even when some samples are rejected.
func (s *Server) createMetricBatch(c *gin.Context) {
	var req batchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(req.Samples) > maxBatchSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "too many samples in batch"})
		return
	}
	scope, ok := s.scope(c)
	if !ok {
		return
	}

	now := s.now()
	results := make([]sampleResult, len(req.Samples))
	accepted := 0
	for i, r := range req.Samples {
		results[i] = sampleResult{Index: i, Status: "accepted"}
		if !scope.Allows(r.HostID) {
			results[i].Status, results[i].Error = "rejected", "host not found"
			continue
		}
		if !s.allowHost(r.HostID).Allowed {
			metrics.RateLimitHits.WithLabelValues(c.FullPath()).Inc()
			results[i].Status, results[i].Error = "rate_limited", "rate limit exceeded"
			continue
		}
		if err := s.pipeline.Submit(r.sample(now)); err != nil {
			results[i].Status, results[i].Error = statusLabel(statusFor(err)), err.Error()
			continue
		}
		accepted++
	}

	c.JSON(http.StatusAccepted, gin.H{
		"accepted": accepted,
		"rejected": len(req.Samples) - accepted,
		"results":  results,
	})
}

func statusLabel(status int) string {
	switch status {
	case http.StatusConflict:
		return "stale"
	case http.StatusTooManyRequests:
		return "queue_full"
	case http.StatusBadRequest:
		return "invalid"
	default:
		return "failed"
	}
}

func (s *Server) latestMetrics(c *gin.Context) {
	hostID, ok := parseID(c, "host_id")
	if !ok {
		return
	}
	if _, ok := s.visibleHost(c, hostID); !ok {
		return
	}
	samples, err := s.repo.LatestMetrics(c.Request.Context(), hostID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, samples)
}
