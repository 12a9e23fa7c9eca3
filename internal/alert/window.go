package alert

import (
	"sort"
	"sync"
	"time"
)

// Sample is one timestamped metric value for a host/key.
type Sample struct {
	HostID    uint      `json:"host_id"`
	Key       string    `json:"key"`
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

type seriesKey struct {
	hostID uint
	key    string
}

type window struct {
	mu      sync.Mutex
	samples []Sample
}

// WindowStore retains, per (host, key), the recent samples needed to evaluate
// duration-based triggers. Samples are kept ordered by timestamp.
type WindowStore struct {
	mu      sync.RWMutex
	windows map[seriesKey]*window
}

func NewWindowStore() *WindowStore {
	return &WindowStore{
		windows: make(map[seriesKey]*window),
	}
}

func (s *WindowStore) lookup(hostID uint, key string) *window {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.windows[seriesKey{hostID, key}]
}

func (s *WindowStore) getOrCreate(hostID uint, key string) *window {
	if w := s.lookup(hostID, key); w != nil {
		return w
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	k := seriesKey{hostID, key}
	w, ok := s.windows[k]
	if !ok {
		w = &window{}
		s.windows[k] = w
	}
	return w
}

// Append inserts sample in timestamp order and evicts everything older than
// horizon before the newest sample, keeping one sample before that cutoff.
// It returns false without error when an identical sample (same timestamp and
// value) is already present, and ErrStaleSample when the sample is older than
// the oldest retained one.
func (s *WindowStore) Append(sample Sample, horizon time.Duration) (bool, error) {
	w := s.getOrCreate(sample.HostID, sample.Key)
	w.mu.Lock()
	defer w.mu.Unlock()

	n := len(w.samples)
	if n > 0 && sample.Timestamp.Before(w.samples[0].Timestamp) {
		return false, ErrStaleSample
	}

	// Insert after any samples sharing the same timestamp.
	i := sort.Search(n, func(i int) bool {
		return w.samples[i].Timestamp.After(sample.Timestamp)
	})
	for j := i - 1; j >= 0 && w.samples[j].Timestamp.Equal(sample.Timestamp); j-- {
		if w.samples[j].Value == sample.Value {
			return false, nil
		}
	}

	w.samples = append(w.samples, Sample{})
	copy(w.samples[i+1:], w.samples[i:])
	w.samples[i] = sample

	w.evict(horizon)
	return true, nil
}

func (w *window) evict(horizon time.Duration) {
	if horizon < 0 {
		horizon = 0
	}
	latest := w.samples[len(w.samples)-1].Timestamp
	cutoff := latest.Add(-horizon)
	first := sort.Search(len(w.samples), func(i int) bool {
		return !w.samples[i].Timestamp.Before(cutoff)
	})
	// Keep one sample before the cutoff so edges can be detected.
	keep := first - 1
	if keep <= 0 {
		return
	}
	w.samples = append(w.samples[:0], w.samples[keep:]...)
}

// Query returns the samples with timestamp >= since, oldest first.
func (s *WindowStore) Query(hostID uint, key string, since time.Time) []Sample {
	w := s.lookup(hostID, key)
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	i := sort.Search(len(w.samples), func(i int) bool {
		return !w.samples[i].Timestamp.Before(since)
	})
	out := make([]Sample, len(w.samples)-i)
	copy(out, w.samples[i:])
	return out
}

// Snapshot returns a copy of every retained sample for (host, key).
func (s *WindowStore) Snapshot(hostID uint, key string) []Sample {
	return s.Query(hostID, key, time.Time{})
}

// Oldest returns the timestamp of the oldest retained sample.
func (s *WindowStore) Oldest(hostID uint, key string) (time.Time, bool) {
	w := s.lookup(hostID, key)
	if w == nil {
		return time.Time{}, false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.samples) == 0 {
		return time.Time{}, false
	}
	return w.samples[0].Timestamp, true
}

// Admit reports whether a sample with timestamp ts would be accepted for
// (host, key) right now.
func (s *WindowStore) Admit(hostID uint, key string, ts time.Time) error {
	if oldest, ok := s.Oldest(hostID, key); ok && ts.Before(oldest) {
		return ErrStaleSample
	}
	return nil
}

// Forget drops every window belonging to hostID.
func (s *WindowStore) Forget(hostID uint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.windows {
		if k.hostID == hostID {
			delete(s.windows, k)
		}
	}
}

// Len returns the number of tracked (host, key) series.
func (s *WindowStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.windows)
}
