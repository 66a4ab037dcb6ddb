// Package transition sequences the visible effects of a track change:
// text refresh, cover art crossfade, blur hold and marquee.
package transition

import (
	"time"

	"github.com/genricoloni/nowplaying/internal/domain"
	"go.uber.org/zap"
)

// DefaultFadeDelay is how long a replaced art layer stays for its fade-out
const DefaultFadeDelay = 260 * time.Millisecond

// Resolver maps a track to its cover cache key and display URL
type Resolver interface {
	Resolve(track *domain.Track) (key, url string)
}

// Progress is the part of the progress engine a transition drives
type Progress interface {
	Hold()
	Release()
	SetBaseline()
	ResetToBaseline()
	ResetBaseline()
}

// Orchestrator owns the displayed art and issues supersession tokens.
// It is not safe for concurrent use; the engine loop owns it.
type Orchestrator struct {
	logger    *zap.Logger
	presenter domain.Presenter
	measurer  domain.Measurer
	resolver  Resolver
	progress  Progress
	fadeDelay time.Duration
	afterFunc func(time.Duration, func())

	token    uint64
	shownKey string
	shownURL string
	layerID  uint64
	title    string
	artist   string
}

// NewOrchestrator creates a transition orchestrator
func NewOrchestrator(
	logger *zap.Logger,
	presenter domain.Presenter,
	measurer domain.Measurer,
	resolver Resolver,
	progress Progress,
	fadeDelay time.Duration,
) *Orchestrator {
	if fadeDelay <= 0 {
		fadeDelay = DefaultFadeDelay
	}
	return &Orchestrator{
		logger:    logger,
		presenter: presenter,
		measurer:  measurer,
		resolver:  resolver,
		progress:  progress,
		fadeDelay: fadeDelay,
		afterFunc: func(d time.Duration, f func()) { time.AfterFunc(d, f) },
	}
}

// Begin applies a track change. When new cover art must be loaded it
// returns a preload request the caller runs asynchronously and reports
// back through Complete.
func (o *Orchestrator) Begin(snap domain.PlayerSnapshot) (domain.PreloadRequest, bool) {
	track := snap.Track
	o.title = track.DisplayTitle()
	o.artist = track.DisplayAuthor()
	o.presenter.SetText(domain.RegionTitle, o.title)
	o.presenter.SetText(domain.RegionArtist, o.artist)

	req, ok := o.beginArt(track)

	o.Remeasure()
	o.progress.ResetBaseline()
	return req, ok
}

func (o *Orchestrator) beginArt(track *domain.Track) (domain.PreloadRequest, bool) {
	key, url := o.resolver.Resolve(track)

	if url == "" {
		// Nothing to show: supersede any in-flight load for the previous track
		o.token++
		o.settle()
		o.logger.Debug("No cover art for track",
			zap.String("title", o.title),
			zap.Uint64("token", o.token))
		return domain.PreloadRequest{}, false
	}

	if key == o.shownKey && url == o.shownURL {
		o.token++
		o.settle()
		return domain.PreloadRequest{}, false
	}

	o.progress.Hold()
	o.token++
	o.logger.Debug("Cover preload issued",
		zap.Uint64("token", o.token),
		zap.String("key", key),
		zap.String("url", url))
	return domain.PreloadRequest{Token: o.token, Key: key, URL: url}, true
}

// Complete commits a finished preload if it is still the latest request.
// It reports whether the visible art changed.
func (o *Orchestrator) Complete(res domain.PreloadResult) bool {
	if res.Token != o.token {
		o.logger.Debug("Discarding superseded cover load",
			zap.Uint64("token", res.Token),
			zap.Uint64("latest", o.token))
		return false
	}

	if res.Err != nil {
		o.logger.Warn("Cover art load failed",
			zap.String("url", res.URL),
			zap.Error(res.Err))
		o.settle()
		return false
	}

	layer := res.Layer
	layer.ID = res.Token
	layer.SourceURL = res.URL
	o.presenter.AddArtLayer(layer)

	if prev := o.layerID; prev != 0 {
		o.afterFunc(o.fadeDelay, func() { o.presenter.RetireLayer(prev) })
	}

	o.layerID = layer.ID
	o.shownKey = res.Key
	o.shownURL = res.URL
	o.progress.Release()
	o.progress.SetBaseline()

	o.logger.Info("Cover art updated",
		zap.String("key", res.Key),
		zap.Uint64("layer", layer.ID))
	return true
}

// Remeasure recomputes marquee state for title and artist
func (o *Orchestrator) Remeasure() {
	o.presenter.SetMarquee(domain.RegionTitle, o.marquee(domain.RegionTitle, o.title))
	o.presenter.SetMarquee(domain.RegionArtist, o.marquee(domain.RegionArtist, o.artist))
}

func (o *Orchestrator) marquee(region domain.Region, text string) domain.Marquee {
	if text == "" {
		return domain.Marquee{}
	}
	return ComputeMarquee(o.measurer.TextWidth(region, text), o.measurer.ContainerWidth(region))
}

// Token returns the latest issued supersession token
func (o *Orchestrator) Token() uint64 {
	return o.token
}

// Shown returns the key and URL of the displayed art
func (o *Orchestrator) Shown() (key, url string) {
	return o.shownKey, o.shownURL
}

func (o *Orchestrator) settle() {
	o.progress.Release()
	o.progress.ResetToBaseline()
}
