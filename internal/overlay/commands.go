package overlay

import (
	"math"
	"strconv"
)

// Command is one render instruction pushed to overlay clients
type Command struct {
	Op   string `json:"op"`
	Data any    `json:"data"`
}

const (
	OpText     = "text"
	OpFlag     = "flag"
	OpMarquee  = "marquee"
	OpBlur     = "blur"
	OpProgress = "progress"
	OpClock    = "clock"
	OpArt      = "art"
	OpRetire   = "retire"
	OpWaveform = "waveform"
)

type textData struct {
	Region string `json:"region"`
	Text   string `json:"text"`
}

type flagData struct {
	Flag string `json:"flag"`
	On   bool   `json:"on"`
}

type marqueeData struct {
	Region   string  `json:"region"`
	Enabled  bool    `json:"enabled"`
	Distance float64 `json:"distance"`
	// Seconds for one scroll cycle
	Duration float64 `json:"duration"`
}

type blurData struct {
	Radius float64 `json:"radius"`
}

type progressData struct {
	Current float64 `json:"current"`
	Total   float64 `json:"total"`
}

type clockData struct {
	Elapsed string `json:"elapsed"`
	Total   string `json:"total"`
}

type artData struct {
	ID       uint64 `json:"id"`
	Image    string `json:"image"`
	Backdrop string `json:"backdrop,omitempty"`
	Source   string `json:"source"`
}

type retireData struct {
	ID uint64 `json:"id"`
}

type waveformData struct {
	Levels []float64 `json:"levels"`
}

// Report is a message sent by an overlay client
type Report struct {
	Op     string  `json:"op"`
	Region string  `json:"region"`
	Width  float64 `json:"width"`
}

// OpViewport reports the rendered width of a text container
const OpViewport = "viewport"

func artPath(id uint64) string {
	return "/art/" + strconv.FormatUint(id, 10)
}

func backdropPath(id uint64) string {
	return "/backdrop/" + strconv.FormatUint(id, 10)
}

// JSON has no NaN or Inf
func finiteOr(v, fallback float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fallback
	}
	return v
}
