package domain

import "context"

// SnapshotSource defines the Session Provider contract.
// Implementations authenticate, keep the transport alive and emit
// normalized snapshots in arrival order.
type SnapshotSource interface {
	// Start begins producing snapshots.
	// It should block until context is cancelled or an error occurs
	Start(ctx context.Context) error

	// Stop gracefully stops the source
	Stop(ctx context.Context) error

	// Snapshots returns a read-only channel of player snapshots
	Snapshots() <-chan PlayerSnapshot
}

// Presenter is the write-only presentation sink.
// Implementations must be safe for concurrent use.
type Presenter interface {
	SetText(region Region, text string)
	SetFlag(flag Flag, on bool)
	SetMarquee(region Region, m Marquee)
	SetBlur(radius float64)
	// SetProgress updates the progress bar attributes in milliseconds
	SetProgress(current, total float64)
	// SetClock updates the elapsed and total clock strings
	SetClock(elapsed, total string)
	AddArtLayer(layer ArtLayer)
	RetireLayer(id uint64)
	SetWaveform(levels []float64)
}

// Measurer answers width queries for rendered text, in pixels
type Measurer interface {
	TextWidth(region Region, text string) float64
	ContainerWidth(region Region) float64
}

// ArtLoader loads cover art for a preload request.
// Load is expected to block; the engine runs it off the event loop.
type ArtLoader interface {
	Load(ctx context.Context, req PreloadRequest) (ArtLayer, error)
}

// Fetcher defines the interface for retrieving album artwork
type Fetcher interface {
	// Fetch downloads or reads image data from a URL or local path
	// Returns the raw image bytes or an error
	Fetch(ctx context.Context, url string) ([]byte, error)
}
