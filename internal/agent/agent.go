package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/netmon/internal/api/client"
	"github.com/netmon/internal/logger"
	"github.com/netmon/internal/models"
)

const (
	maxBatchSize  = 100
	retryAttempts = 3
	retryDelay    = 5 * time.Second
)

// API is the part of the server API the agent talks to.
type API interface {
	ListHosts(ctx context.Context) ([]models.Host, error)
	CreateHost(ctx context.Context, name, ip string, tags []string) (*models.Host, error)
	PushBatch(ctx context.Context, samples []client.Sample) (*client.BatchResult, error)
	Heartbeat(ctx context.Context, hostID uint) error
}

type Config struct {
	HostName    string
	HostIP      string
	Tags        []string
	Interval    time.Duration
	Concurrency int

	RetryAttempts int
	RetryDelay    time.Duration
}

// Agent registers its host with the server, then periodically collects
// readings from its sources and pushes them as one batch per tick.
type Agent struct {
	api     API
	cfg     Config
	sources []Source
	sem     *semaphore.Weighted
	log     zerolog.Logger
	now     func() time.Time

	mu     sync.RWMutex
	hostID uint
	stats  Stats
}

// Stats counts what the agent has done since it started.
type Stats struct {
	Ticks          uint64
	FailedTicks    uint64
	SamplesPushed  uint64
	SamplesDropped uint64
	SourceErrors   uint64
}

func New(api API, cfg Config, sources ...Source) *Agent {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = retryAttempts
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = 0
	} else if cfg.RetryDelay == 0 {
		cfg.RetryDelay = retryDelay
	}
	return &Agent{
		api:     api,
		cfg:     cfg,
		sources: sources,
		sem:     semaphore.NewWeighted(int64(cfg.Concurrency)),
		log:     logger.WithComponent("agent"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// HostID is the id the server assigned to this host, or 0 before Register.
func (a *Agent) HostID() uint {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.hostID
}

func (a *Agent) Stats() Stats {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.stats
}

// Register finds the host by name or creates it.
func (a *Agent) Register(ctx context.Context) (uint, error) {
	hosts, err := a.api.ListHosts(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list hosts: %w", err)
	}
	for _, h := range hosts {
		if h.Name == a.cfg.HostName {
			a.setHost(h.ID)
			return h.ID, nil
		}
	}

	h, err := a.api.CreateHost(ctx, a.cfg.HostName, a.cfg.HostIP, a.cfg.Tags)
	if err != nil {
		return 0, fmt.Errorf("failed to create host %q: %w", a.cfg.HostName, err)
	}
	a.setHost(h.ID)
	return h.ID, nil
}

func (a *Agent) setHost(id uint) {
	a.mu.Lock()
	a.hostID = id
	a.mu.Unlock()
}

// Run registers the host, retrying until it succeeds, then ticks until ctx
// is done.
func (a *Agent) Run(ctx context.Context) error {
	for {
		id, err := a.Register(ctx)
		if err == nil {
			a.log.Info().Uint("host_id", id).Str("host", a.cfg.HostName).Msg("host registered")
			break
		}
		a.log.Error().Err(err).Msg("failed to register host, retrying")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(a.cfg.RetryDelay):
		}
	}

	ticker := time.NewTicker(a.cfg.Interval)
	defer ticker.Stop()

	for {
		if err := a.Tick(ctx); err != nil {
			a.log.Error().Err(err).Msg("tick failed")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Tick collects from every source, pushes the readings and sends a heartbeat.
func (a *Agent) Tick(ctx context.Context) error {
	hostID := a.HostID()
	if hostID == 0 {
		return errors.New("host is not registered")
	}

	samples := a.Collect(ctx, hostID)
	pushed, dropped, pushErr := a.push(ctx, samples)
	hbErr := a.api.Heartbeat(ctx, hostID)

	a.mu.Lock()
	a.stats.Ticks++
	a.stats.SamplesPushed += uint64(pushed)
	a.stats.SamplesDropped += uint64(dropped)
	if pushErr != nil || hbErr != nil {
		a.stats.FailedTicks++
	}
	a.mu.Unlock()

	a.log.Debug().
		Uint("host_id", hostID).
		Int("pushed", pushed).
		Int("dropped", dropped).
		Msg("heartbeat sent")

	if pushErr != nil {
		return pushErr
	}
	if hbErr != nil {
		return fmt.Errorf("failed to send heartbeat: %w", hbErr)
	}
	return nil
}

// Collect runs every source concurrently, bounded by the configured
// concurrency. Readings of failed sources are skipped.
func (a *Agent) Collect(ctx context.Context, hostID uint) []client.Sample {
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		samples []client.Sample
	)
	ts := a.now()

	for _, src := range a.sources {
		if err := a.sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(src Source) {
			defer wg.Done()
			defer a.sem.Release(1)

			readings, err := a.collectWithRetry(ctx, src)
			if err != nil {
				a.mu.Lock()
				a.stats.SourceErrors++
				a.mu.Unlock()
				a.log.Warn().Err(err).Str("source", src.Name()).Msg("source failed")
				return
			}

			mu.Lock()
			for _, r := range readings {
				t := ts
				samples = append(samples, client.Sample{HostID: hostID, Key: r.Key, Value: r.Value, Timestamp: &t})
			}
			mu.Unlock()
		}(src)
	}
	wg.Wait()
	return samples
}

func (a *Agent) collectWithRetry(ctx context.Context, src Source) ([]Reading, error) {
	var lastErr error
	for attempt := 0; attempt < a.cfg.RetryAttempts; attempt++ {
		readings, err := src.Collect(ctx)
		if err == nil {
			return readings, nil
		}
		lastErr = err
		if attempt == a.cfg.RetryAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(a.cfg.RetryDelay):
		}
	}
	return nil, fmt.Errorf("failed after %d attempts: %w", a.cfg.RetryAttempts, lastErr)
}

// push sends samples in batches of at most maxBatchSize.
func (a *Agent) push(ctx context.Context, samples []client.Sample) (pushed, dropped int, err error) {
	for i := 0; i < len(samples); i += maxBatchSize {
		end := i + maxBatchSize
		if end > len(samples) {
			end = len(samples)
		}
		res, perr := a.api.PushBatch(ctx, samples[i:end])
		if perr != nil {
			dropped += end - i
			err = errors.Join(err, fmt.Errorf("failed to push samples: %w", perr))
			continue
		}
		pushed += res.Accepted
		dropped += res.Rejected
	}
	return pushed, dropped, err
}
