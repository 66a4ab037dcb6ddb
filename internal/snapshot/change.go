package snapshot

import (
	"math"

	"github.com/genricoloni/nowplaying/internal/domain"
)

// RewindTolerance is how far (ms) playback may jump backwards on the same
// track before it is treated as a restart
const RewindTolerance = 2000.0

// DetectChange reports whether curr shows a different track than prev.
// A nil prev, or a prev without a track, always counts as a change.
// It never mutates its arguments.
func DetectChange(prev, curr *domain.PlayerSnapshot) bool {
	if curr == nil || curr.Track == nil {
		return false
	}
	if prev == nil || prev.Track == nil {
		return true
	}

	p, c := prev.Track, curr.Track
	if p.Identity() != c.Identity() ||
		p.Title != c.Title ||
		p.DisplayAuthor() != c.DisplayAuthor() {
		return true
	}

	if prev.Time == nil || curr.Time == nil {
		return false
	}
	if !sameNumber(prev.Time.Total, curr.Time.Total) {
		return true
	}
	return curr.Time.Current+RewindTolerance < prev.Time.Current
}

// Classify derives the change classification between two snapshots
func Classify(prev, curr *domain.PlayerSnapshot) domain.Change {
	if DetectChange(prev, curr) {
		return domain.ChangeTrack
	}
	if curr == nil || curr.Track == nil {
		return domain.ChangeNone
	}
	if timeDiffers(prev.Time, curr.Time) {
		return domain.ChangeTimeOnly
	}
	return domain.ChangeNone
}

func timeDiffers(a, b *domain.TimeWindow) bool {
	if a == nil || b == nil {
		return a != b
	}
	return !sameNumber(a.Total, b.Total) || !sameNumber(a.Current, b.Current)
}

// sameNumber treats two NaNs as equal so a consistently malformed duration
// does not look like a new track on every update
func sameNumber(a, b float64) bool {
	if math.IsNaN(a) && math.IsNaN(b) {
		return true
	}
	return a == b
}
