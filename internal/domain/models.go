package domain

import (
	"math"
	"strings"
	"time"
)

// Track describes the media item reported by the player
type Track struct {
	// Identity candidates, first non-empty wins (see Identity)
	VideoID  string
	ID       string
	EntityID string
	URL      string

	Title   string
	Author  string
	Artists []string
	Channel string

	// AlbumID, Thumbnails and Cover feed the cover art resolver
	AlbumID    string
	Thumbnails []string
	Cover      string
}

// Identity returns the first non-empty identifier of the track
func (t *Track) Identity() string {
	if t == nil {
		return ""
	}
	for _, id := range []string{t.VideoID, t.ID, t.EntityID, t.URL} {
		if id != "" {
			return id
		}
	}
	return ""
}

// DisplayAuthor returns the explicit author, else the joined artist names,
// else the channel name
func (t *Track) DisplayAuthor() string {
	if t == nil {
		return ""
	}
	if t.Author != "" {
		return t.Author
	}
	if len(t.Artists) > 0 {
		return strings.Join(t.Artists, ", ")
	}
	return t.Channel
}

// DisplayTitle returns the title, nil-safe
func (t *Track) DisplayTitle() string {
	if t == nil {
		return ""
	}
	return t.Title
}

// TimeWindow holds duration and elapsed position in milliseconds.
// Malformed provider values are carried as NaN.
type TimeWindow struct {
	Total   float64
	Current float64
}

// Valid reports whether both fields are finite numbers
func (w *TimeWindow) Valid() bool {
	if w == nil {
		return false
	}
	return !math.IsNaN(w.Total) && !math.IsInf(w.Total, 0) &&
		!math.IsNaN(w.Current) && !math.IsInf(w.Current, 0)
}

// PlayerSnapshot is one capture of remote player state
type PlayerSnapshot struct {
	Track   *Track
	Time    *TimeWindow
	Playing bool
	// Volume is passed through untouched
	Volume float64
}

// Change classifies the difference between two consecutive snapshots
type Change int

const (
	// ChangeNone means nothing visible differs
	ChangeNone Change = iota
	// ChangeTimeOnly means the same track moved in time
	ChangeTimeOnly
	// ChangeTrack means a different media item is playing
	ChangeTrack
)

func (c Change) String() string {
	switch c {
	case ChangeTimeOnly:
		return "time-only"
	case ChangeTrack:
		return "track-changed"
	default:
		return "unchanged"
	}
}

// Region names a text area of the overlay
type Region string

const (
	RegionTitle  Region = "title"
	RegionArtist Region = "artist"
)

// Flag names a boolean state class on the overlay root
type Flag string

const (
	FlagPaused           Flag = "paused"
	FlagOffline          Flag = "offline"
	FlagExternalWaveform Flag = "has-external-waveform"
)

// Marquee describes the scrolling state of a text region
type Marquee struct {
	Enabled  bool
	Distance float64
	Duration time.Duration
}

// ArtLayer is a visual cover art layer ready to be shown
type ArtLayer struct {
	ID        uint64
	SourceURL string
	// Image is the raw cover bytes, Backdrop the pre-blurred background
	Image    []byte
	Backdrop []byte
}

// PreloadRequest asks the engine to load cover art for a transition
type PreloadRequest struct {
	Token uint64
	Key   string
	URL   string
}

// PreloadResult is the outcome of a PreloadRequest, tagged with its token
type PreloadResult struct {
	Token uint64
	Key   string
	URL   string
	Layer ArtLayer
	Err   error
}

// ScreenResolution holds the backdrop dimensions
type ScreenResolution struct {
	Width  int
	Height int
}
