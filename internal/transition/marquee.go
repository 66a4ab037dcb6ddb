package transition

import (
	"math"
	"time"

	"github.com/genricoloni/nowplaying/internal/domain"
)

const (
	marqueeMinOverflow = 12.0 // px
	marqueeOverflowPct = 0.06
	marqueeSpeed       = 30.0 // px/s while moving
	marqueeTravelShare = 0.30 // share of the cycle spent moving
	marqueeMinDuration = 12 * time.Second
	marqueeMaxDuration = 40 * time.Second
)

// ComputeMarquee decides whether text overflowing its container should scroll
func ComputeMarquee(textWidth, containerWidth float64) domain.Marquee {
	if math.IsNaN(textWidth) || math.IsNaN(containerWidth) {
		return domain.Marquee{}
	}
	container := math.Floor(containerWidth)
	overflow := math.Ceil(textWidth) - container
	threshold := math.Max(marqueeMinOverflow, math.Floor(container*marqueeOverflowPct))
	if !(overflow > threshold) {
		return domain.Marquee{}
	}

	d := time.Duration(overflow / marqueeSpeed / marqueeTravelShare * float64(time.Second))
	if d < marqueeMinDuration {
		d = marqueeMinDuration
	}
	if d > marqueeMaxDuration {
		d = marqueeMaxDuration
	}
	return domain.Marquee{Enabled: true, Distance: overflow, Duration: d}
}
