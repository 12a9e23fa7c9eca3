package ingest

import (
	"context"
	"errors"
	"hash/fnv"
	"runtime/debug"
	"strconv"
	"sync"

	"github.com/rs/zerolog"

	"github.com/netmon/internal/alert"
	"github.com/netmon/internal/logger"
	"github.com/netmon/internal/metrics"
)

// Pipeline routes samples to a fixed set of shards. Each shard has a bounded
// queue drained by a single worker, so samples of one (host, key) are
// processed in arrival order while different keys proceed in parallel.
type Pipeline struct {
	ingress *Ingress
	shards  []chan alert.Sample
	log     zerolog.Logger

	mu      sync.RWMutex
	started bool
	closed  bool
	wg      sync.WaitGroup
}

// Config holds pipeline sizing.
type Config struct {
	Shards    int
	QueueSize int
}

func NewPipeline(ingress *Ingress, cfg Config) *Pipeline {
	if cfg.Shards <= 0 {
		cfg.Shards = 8
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	p := &Pipeline{
		ingress: ingress,
		shards:  make([]chan alert.Sample, cfg.Shards),
		log:     logger.WithComponent("ingest_pipeline"),
	}
	for i := range p.shards {
		p.shards[i] = make(chan alert.Sample, cfg.QueueSize)
	}
	return p
}

// Start launches one worker per shard.
func (p *Pipeline) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.closed {
		return
	}
	p.started = true

	p.log.Info().
		Int("shards", len(p.shards)).
		Int("queue_size", cap(p.shards[0])).
		Msg("starting ingest pipeline")

	for i := range p.shards {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

// Stop closes the queues and waits until every queued sample is processed.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	for _, ch := range p.shards {
		close(ch)
	}
	p.mu.Unlock()

	p.wg.Wait()
	p.log.Info().Msg("ingest pipeline stopped")
}

// Submit validates s, rejects it early when stale and queues it on its shard.
// It never blocks: a full shard returns ErrQueueFull.
func (p *Pipeline) Submit(s alert.Sample) error {
	if err := p.ingress.Check(s); err != nil {
		if errors.Is(err, alert.ErrStaleSample) {
			metrics.IngestSamplesTotal.WithLabelValues("stale").Inc()
		} else {
			metrics.IngestSamplesTotal.WithLabelValues("invalid").Inc()
		}
		return err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPipelineClosed
	}

	idx := p.shardFor(s.HostID, s.Key)
	select {
	case p.shards[idx] <- s:
		metrics.IngestQueueDepth.WithLabelValues(strconv.Itoa(idx)).Set(float64(len(p.shards[idx])))
		return nil
	default:
		metrics.IngestDroppedTotal.Inc()
		return ErrQueueFull
	}
}

// Depth returns the number of queued samples across all shards.
func (p *Pipeline) Depth() int {
	n := 0
	for _, ch := range p.shards {
		n += len(ch)
	}
	return n
}

func (p *Pipeline) shardFor(hostID uint, key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(strconv.FormatUint(uint64(hostID), 10)))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(p.shards)))
}

func (p *Pipeline) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	log := p.log.With().Int("shard", id).Logger()
	label := strconv.Itoa(id)
	queue := p.shards[id]

	for s := range queue {
		metrics.IngestQueueDepth.WithLabelValues(label).Set(float64(len(queue)))
		p.process(ctx, log, s)
	}
}

func (p *Pipeline) process(ctx context.Context, log zerolog.Logger, s alert.Sample) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Uint("host_id", s.HostID).
				Str("key", s.Key).
				Msg("ingest worker panic recovered")
			metrics.PanicsRecovered.WithLabelValues("ingest_worker").Inc()
		}
	}()

	if _, err := p.ingress.Ingest(ctx, s); err != nil {
		ev := log.Error()
		if errors.Is(err, alert.ErrStaleSample) {
			ev = log.Debug()
		}
		ev.Err(err).
			Uint("host_id", s.HostID).
			Str("key", s.Key).
			Time("timestamp", s.Timestamp).
			Msg("sample rejected")
	}
}
