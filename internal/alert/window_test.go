package alert

import (
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func timestamps(samples []Sample) []int {
	out := make([]int, len(samples))
	for i, s := range samples {
		out[i] = int(s.Timestamp.Sub(t0) / time.Second)
	}
	return out
}

func TestWindowStore_AppendKeepsOrder(t *testing.T) {
	s := NewWindowStore()
	horizon := time.Hour

	for _, sec := range []int{0, 20, 40} {
		added, err := s.Append(sample(1, "cpu", sec, 1), horizon)
		require.NoError(t, err)
		assert.True(t, added)
	}

	// Out of order but newer than the oldest retained sample.
	added, err := s.Append(sample(1, "cpu", 30, 2), horizon)
	require.NoError(t, err)
	assert.True(t, added)

	assert.Equal(t, []int{0, 20, 30, 40}, timestamps(s.Snapshot(1, "cpu")))
}

func TestWindowStore_StaleSample(t *testing.T) {
	s := NewWindowStore()
	_, err := s.Append(sample(1, "cpu", 10, 1), time.Hour)
	require.NoError(t, err)

	_, err = s.Append(sample(1, "cpu", 5, 1), time.Hour)
	assert.ErrorIs(t, err, ErrStaleSample)
	assert.Equal(t, []int{10}, timestamps(s.Snapshot(1, "cpu")), "window must be unchanged")

	assert.ErrorIs(t, s.Admit(1, "cpu", at(5)), ErrStaleSample)
	assert.NoError(t, s.Admit(1, "cpu", at(10)))
	assert.NoError(t, s.Admit(2, "cpu", at(0)), "unknown series accepts anything")
}

func TestWindowStore_Duplicate(t *testing.T) {
	s := NewWindowStore()
	_, err := s.Append(sample(1, "cpu", 10, 1), time.Hour)
	require.NoError(t, err)

	added, err := s.Append(sample(1, "cpu", 10, 1), time.Hour)
	require.NoError(t, err)
	assert.False(t, added)

	// Same timestamp, different value is kept.
	added, err = s.Append(sample(1, "cpu", 10, 2), time.Hour)
	require.NoError(t, err)
	assert.True(t, added)
	assert.Len(t, s.Snapshot(1, "cpu"), 2)
}

func TestWindowStore_RetentionKeepsOneBeforeCutoff(t *testing.T) {
	s := NewWindowStore()
	horizon := 60 * time.Second

	for sec := 0; sec <= 200; sec += 20 {
		_, err := s.Append(sample(1, "cpu", sec, 1), horizon)
		require.NoError(t, err)
	}

	// latest=200, cutoff=140: keep 140..200 plus 120.
	assert.Equal(t, []int{120, 140, 160, 180, 200}, timestamps(s.Snapshot(1, "cpu")))

	oldest, ok := s.Oldest(1, "cpu")
	require.True(t, ok)
	assert.Equal(t, at(120), oldest)
}

func TestWindowStore_ZeroHorizon(t *testing.T) {
	s := NewWindowStore()
	for sec := 0; sec <= 30; sec += 10 {
		_, err := s.Append(sample(1, "cpu", sec, 1), 0)
		require.NoError(t, err)
	}
	assert.Equal(t, []int{20, 30}, timestamps(s.Snapshot(1, "cpu")))
}

func TestWindowStore_MaximalHorizon(t *testing.T) {
	s := NewWindowStore()
	for _, sec := range []int{0, 5_000_000, 10_000_000} {
		_, err := s.Append(sample(1, "cpu", sec, 1), time.Duration(math.MaxInt64))
		require.NoError(t, err)
	}
	assert.Equal(t, []int{0, 5_000_000, 10_000_000}, timestamps(s.Snapshot(1, "cpu")))
}

func TestWindowStore_Query(t *testing.T) {
	s := NewWindowStore()
	for sec := 0; sec <= 50; sec += 10 {
		_, err := s.Append(sample(1, "cpu", sec, float64(sec)), time.Hour)
		require.NoError(t, err)
	}

	assert.Equal(t, []int{30, 40, 50}, timestamps(s.Query(1, "cpu", at(30))))
	assert.Empty(t, s.Query(1, "cpu", at(60)))
	assert.Nil(t, s.Query(9, "cpu", t0))
}

func TestWindowStore_Forget(t *testing.T) {
	s := NewWindowStore()
	_, _ = s.Append(sample(1, "cpu", 0, 1), time.Hour)
	_, _ = s.Append(sample(1, "mem", 0, 1), time.Hour)
	_, _ = s.Append(sample(2, "cpu", 0, 1), time.Hour)
	require.Equal(t, 3, s.Len())

	s.Forget(1)
	assert.Equal(t, 1, s.Len())
	_, ok := s.Oldest(1, "cpu")
	assert.False(t, ok)
}

func TestWindowStore_ConcurrentKeys(t *testing.T) {
	s := NewWindowStore()
	var wg sync.WaitGroup
	for k := 0; k < 8; k++ {
		wg.Add(1)
		go func(k int) {
			defer wg.Done()
			key := fmt.Sprintf("key-%d", k)
			for sec := 0; sec < 200; sec++ {
				_, err := s.Append(sample(1, key, sec, float64(sec)), 50*time.Second)
				assert.NoError(t, err)
				_ = s.Snapshot(1, key)
			}
		}(k)
	}
	wg.Wait()

	for k := 0; k < 8; k++ {
		got := s.Snapshot(1, fmt.Sprintf("key-%d", k))
		require.NotEmpty(t, got)
		assert.Equal(t, at(199), got[len(got)-1].Timestamp)
		assert.Equal(t, at(148), got[0].Timestamp)
	}
}
