package transition

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestComputeMarquee(t *testing.T) {
	tests := []struct {
		name         string
		text         float64
		container    float64
		wantEnabled  bool
		wantDistance float64
		wantDuration time.Duration
	}{
		{"Fits", 150, 200, false, 0, 0},
		{"Overflow below minimum", 205, 200, false, 0, 0},
		{"Overflow at minimum", 212, 200, false, 0, 0},
		{"Overflow above minimum", 220, 200, true, 20, 12 * time.Second},
		{"Percentage threshold on wide container", 1050, 1000, false, 0, 0},
		{"Wide container overflow", 1061, 1000, true, 61, 12 * time.Second},
		{"Huge overflow clamps", 2000, 200, true, 1800, 40 * time.Second},
		{"Fractional widths", 219.2, 200.9, true, 20, 12 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := ComputeMarquee(tt.text, tt.container)
			assert.Equal(t, tt.wantEnabled, m.Enabled)
			assert.Equal(t, tt.wantDistance, m.Distance)
			assert.Equal(t, tt.wantDuration, m.Duration)
		})
	}
}

func TestComputeMarquee_DurationScalesWithDistance(t *testing.T) {
	m := ComputeMarquee(380, 200)

	assert.True(t, m.Enabled)
	assert.Equal(t, 180.0, m.Distance)
	assert.InDelta(t, 20.0, m.Duration.Seconds(), 0.001)
}
