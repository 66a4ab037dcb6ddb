// Package progress keeps the elapsed-time display and the end-of-track blur
// in step with the player position.
package progress

import (
	"fmt"
	"math"

	"github.com/genricoloni/nowplaying/internal/domain"
	"go.uber.org/zap"
)

const (
	DefaultBlurBase      = 4.0
	DefaultBlurThreshold = 8000.0 // ms before the end where blur starts ramping

	// jitterMs filters sub-threshold position updates from the clock
	jitterMs = 100.0
	hourMs   = 3600000.0
)

// Config holds the blur curve parameters. A BlurMax that is not greater
// than BlurBase is replaced by BlurBase*3.
type Config struct {
	BlurBase      float64
	BlurMax       float64
	BlurThreshold float64
}

// Engine updates the progress display and blur radius on every snapshot.
// It is not safe for concurrent use; the engine loop owns it.
type Engine struct {
	logger    *zap.Logger
	presenter domain.Presenter

	base      float64
	max       float64
	threshold float64

	hold       bool
	blur       float64
	blurSet    bool
	elapsed    float64
	elapsedSet bool
}

// NewEngine creates a progress engine and pushes the baseline blur
func NewEngine(logger *zap.Logger, presenter domain.Presenter, cfg Config) *Engine {
	e := &Engine{
		logger:    logger,
		presenter: presenter,
		threshold: cfg.BlurThreshold,
	}
	if e.threshold == 0 {
		e.threshold = DefaultBlurThreshold
	}
	e.SetBounds(cfg.BlurBase, cfg.BlurMax)
	return e
}

// SetBounds overrides the blur baseline and maximum, then applies the baseline
func (e *Engine) SetBounds(base, max float64) {
	if math.IsNaN(base) || math.IsInf(base, 0) || base <= 0 {
		base = DefaultBlurBase
	}
	if !(max > base) {
		max = base * 3
	}
	e.base = base
	e.max = max
	e.logger.Debug("Blur bounds set",
		zap.Float64("base", e.base),
		zap.Float64("max", e.max),
		zap.Float64("thresholdMs", e.threshold))
	e.setBlur(e.base)
}

// Bounds returns the effective blur baseline and maximum
func (e *Engine) Bounds() (base, max float64) {
	return e.base, e.max
}

// Update refreshes progress and blur for a snapshot
func (e *Engine) Update(snap domain.PlayerSnapshot) {
	if snap.Time != nil {
		e.presenter.SetProgress(snap.Time.Current, snap.Time.Total)
		e.updateClock(snap.Time.Current, snap.Time.Total)
	}
	e.updateBlur(snap.Time)
}

// ResetBaseline forgets the last displayed elapsed time so the next
// update is shown unconditionally
func (e *Engine) ResetBaseline() {
	e.elapsedSet = false
}

func (e *Engine) updateClock(current, total float64) {
	if !finite(current) {
		return
	}
	if !e.elapsedSet {
		e.elapsed = current
		e.elapsedSet = true
	} else if math.Abs(e.elapsed-current) > jitterMs {
		e.elapsed = current
	}

	if !finite(total) || e.elapsed > total {
		return
	}
	e.presenter.SetClock(FormatClock(e.elapsed, total), FormatClock(total, total))
}

// FormatClock renders ms as mm:ss, or hh:mm:ss when total is an hour or more
func FormatClock(ms, total float64) string {
	if !finite(ms) || ms < 0 {
		ms = 0
	}
	secs := int64(ms / 1000)
	h := secs / 3600
	m := (secs / 60) % 60
	s := secs % 60
	if total >= hourMs {
		return fmt.Sprintf("%02d:%02d:%02d", h%24, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}

func (e *Engine) updateBlur(w *domain.TimeWindow) {
	if e.hold {
		return
	}
	if w == nil || !finite(w.Total) || w.Total <= 0 || !finite(w.Current) || w.Current < 0 {
		e.ResetToBaseline()
		return
	}
	remaining := w.Total - w.Current
	if !finite(e.threshold) || e.threshold <= 0 || remaining >= e.threshold {
		e.ResetToBaseline()
		return
	}
	e.setBlur(BlurAt(remaining, e.base, e.max, e.threshold))
}

// BlurAt interpolates the blur radius for the remaining playback time
func BlurAt(remaining, base, max, threshold float64) float64 {
	if remaining >= threshold {
		return base
	}
	t := 1 - remaining/threshold
	if t < 0 {
		t = 0
	}
	if t > 1 {
		t = 1
	}
	return base + t*(max-base)
}

// Hold suspends automatic blur recomputation
func (e *Engine) Hold() {
	e.hold = true
}

// Release resumes automatic blur recomputation
func (e *Engine) Release() {
	e.hold = false
}

// Held reports whether blur recomputation is suspended
func (e *Engine) Held() bool {
	return e.hold
}

// SetBaseline pushes the baseline radius unconditionally
func (e *Engine) SetBaseline() {
	e.setBlur(e.base)
}

// ResetToBaseline pushes the baseline radius only if it is not already shown
func (e *Engine) ResetToBaseline() {
	if e.blurSet && e.blur == e.base {
		return
	}
	e.setBlur(e.base)
}

// Blur returns the last radius pushed to the presenter
func (e *Engine) Blur() float64 {
	return e.blur
}

func (e *Engine) setBlur(v float64) {
	if !finite(v) || v < 0 {
		v = 0
	}
	e.presenter.SetBlur(v)
	e.blur = v
	e.blurSet = true
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
