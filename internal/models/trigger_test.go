package models

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTrigger_Window(t *testing.T) {
	cases := []struct {
		duration int
		want     time.Duration
	}{
		{0, 0},
		{60, time.Minute},
		{int(MaxTriggerDuration), time.Duration(MaxTriggerDuration) * time.Second},
		{int(MaxTriggerDuration + 1), time.Duration(math.MaxInt64)},
	}
	for _, c := range cases {
		tr := Trigger{Duration: c.duration}
		got := tr.Window()
		assert.Equal(t, c.want, got, "duration %d", c.duration)
		assert.GreaterOrEqual(t, got, time.Duration(0))
	}
}
