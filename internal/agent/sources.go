package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/client"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/net"
)

// Reading is one collected value, before it is tagged with host and time.
type Reading struct {
	Key   string
	Value float64
}

// Source produces readings for one tick.
type Source interface {
	Name() string
	Collect(ctx context.Context) ([]Reading, error)
}

// NewSource builds a source by name: random, system or docker.
func NewSource(name string) (Source, error) {
	switch name {
	case "random":
		return NewRandomSource(time.Now().UnixNano()), nil
	case "system":
		return NewSystemSource("/"), nil
	case "docker":
		return NewDockerSource()
	default:
		return nil, fmt.Errorf("unknown source %q", name)
	}
}

// RandomSource emits synthetic values, for demos and load tests.
type RandomSource struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

func NewRandomSource(seed int64) *RandomSource {
	return &RandomSource{rnd: rand.New(rand.NewSource(seed))}
}

func (s *RandomSource) Name() string { return "random" }

func (s *RandomSource) Collect(_ context.Context) ([]Reading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return []Reading{
		{Key: "cpu_usage", Value: s.rnd.Float64() * 100},
		{Key: "memory_usage", Value: s.rnd.Float64() * 100},
		{Key: "disk_usage", Value: s.rnd.Float64() * 100},
		{Key: "network_in", Value: s.rnd.Float64() * 1000},
		{Key: "network_out", Value: s.rnd.Float64() * 1000},
	}, nil
}

// SystemSource reads the local machine through gopsutil. Network values are
// bytes per second since the previous collection.
type SystemSource struct {
	diskPath string

	mu       sync.Mutex
	lastNet  *net.IOCountersStat
	lastTime time.Time
}

func NewSystemSource(diskPath string) *SystemSource {
	return &SystemSource{diskPath: diskPath}
}

func (s *SystemSource) Name() string { return "system" }

func (s *SystemSource) Collect(ctx context.Context) ([]Reading, error) {
	var out []Reading

	percents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return nil, fmt.Errorf("failed to read cpu: %w", err)
	}
	if len(percents) > 0 {
		out = append(out, Reading{Key: "cpu_usage", Value: percents[0]})
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read memory: %w", err)
	}
	out = append(out, Reading{Key: "memory_usage", Value: vm.UsedPercent})

	usage, err := disk.UsageWithContext(ctx, s.diskPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read disk usage of %s: %w", s.diskPath, err)
	}
	out = append(out, Reading{Key: "disk_usage", Value: usage.UsedPercent})

	if avg, err := load.AvgWithContext(ctx); err == nil {
		out = append(out, Reading{Key: "load_1", Value: avg.Load1})
	}

	counters, err := net.IOCountersWithContext(ctx, false)
	if err == nil && len(counters) > 0 {
		out = append(out, s.networkRates(counters[0], time.Now())...)
	}
	return out, nil
}

func (s *SystemSource) networkRates(cur net.IOCountersStat, now time.Time) []Reading {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer func() {
		s.lastNet = &cur
		s.lastTime = now
	}()

	if s.lastNet == nil {
		return nil
	}
	elapsed := now.Sub(s.lastTime).Seconds()
	if elapsed <= 0 || cur.BytesRecv < s.lastNet.BytesRecv || cur.BytesSent < s.lastNet.BytesSent {
		return nil
	}
	return []Reading{
		{Key: "network_in", Value: float64(cur.BytesRecv-s.lastNet.BytesRecv) / elapsed},
		{Key: "network_out", Value: float64(cur.BytesSent-s.lastNet.BytesSent) / elapsed},
	}
}

type dockerAPI interface {
	ContainerList(ctx context.Context, options types.ContainerListOptions) ([]types.Container, error)
	ContainerStats(ctx context.Context, containerID string, stream bool) (types.ContainerStats, error)
}

// DockerSource reports how many containers exist and run, plus cpu and memory
// usage of every running container under keys of the form
// container.<name>.<metric>.
type DockerSource struct {
	docker dockerAPI
}

func NewDockerSource() (*DockerSource, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &DockerSource{docker: cli}, nil
}

func (s *DockerSource) Name() string { return "docker" }

func (s *DockerSource) Collect(ctx context.Context) ([]Reading, error) {
	containers, err := s.docker.ContainerList(ctx, types.ContainerListOptions{All: true})
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}

	out := make([]Reading, 0, 2*len(containers)+2)
	running := 0
	for _, c := range containers {
		if c.State != "running" {
			continue
		}
		running++
		stats, err := s.containerStats(ctx, c.ID)
		if err != nil {
			return out, fmt.Errorf("error collecting stats for container %s: %w", c.ID, err)
		}
		prefix := "container." + containerName(c) + "."
		out = append(out,
			Reading{Key: prefix + "cpu_usage", Value: calculateCPUPercentUnix(stats)},
			Reading{Key: prefix + "memory_usage", Value: memoryPercent(stats)},
		)
	}
	out = append(out,
		Reading{Key: "containers_running", Value: float64(running)},
		Reading{Key: "containers_total", Value: float64(len(containers))},
	)
	return out, nil
}

func (s *DockerSource) containerStats(ctx context.Context, id string) (types.StatsJSON, error) {
	var stats types.StatsJSON
	resp, err := s.docker.ContainerStats(ctx, id, false)
	if err != nil {
		return stats, err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return stats, err
	}
	return stats, nil
}

func containerName(c types.Container) string {
	if len(c.Names) > 0 {
		return strings.TrimPrefix(c.Names[0], "/")
	}
	if len(c.ID) > 12 {
		return c.ID[:12]
	}
	return c.ID
}

func calculateCPUPercentUnix(stats types.StatsJSON) float64 {
	cpuPercent := 0.0
	cpuDelta := float64(stats.CPUStats.CPUUsage.TotalUsage) - float64(stats.PreCPUStats.CPUUsage.TotalUsage)
	systemDelta := float64(stats.CPUStats.SystemUsage) - float64(stats.PreCPUStats.SystemUsage)

	cpus := float64(stats.CPUStats.OnlineCPUs)
	if cpus == 0 {
		cpus = float64(len(stats.CPUStats.CPUUsage.PercpuUsage))
	}
	if systemDelta > 0.0 && cpuDelta > 0.0 {
		cpuPercent = (cpuDelta / systemDelta) * cpus * 100.0
	}
	return cpuPercent
}

func memoryPercent(stats types.StatsJSON) float64 {
	if stats.MemoryStats.Limit == 0 {
		return 0
	}
	return float64(stats.MemoryStats.Usage) / float64(stats.MemoryStats.Limit) * 100.0
}
