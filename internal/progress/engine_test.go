package progress

import (
	"math"
	"testing"

	"github.com/genricoloni/nowplaying/internal/domain"
	"github.com/genricoloni/nowplaying/internal/testsupport"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func newTestEngine(cfg Config) (*Engine, *testsupport.Presenter) {
	p := testsupport.NewPresenter()
	return NewEngine(zap.NewNop(), p, cfg), p
}

func at(total, current float64) domain.PlayerSnapshot {
	return domain.PlayerSnapshot{Time: &domain.TimeWindow{Total: total, Current: current}}
}

func TestNewEngine_Defaults(t *testing.T) {
	e, p := newTestEngine(Config{})
	base, max := e.Bounds()

	assert.Equal(t, DefaultBlurBase, base)
	assert.Equal(t, DefaultBlurBase*3, max)
	assert.Equal(t, DefaultBlurBase, p.LastBlur())
}

func TestSetBounds(t *testing.T) {
	tests := []struct {
		name     string
		base     float64
		max      float64
		wantBase float64
		wantMax  float64
	}{
		{"Explicit max above base", 4, 24, 4, 24},
		{"Max equal to base", 5, 5, 5, 15},
		{"Max below base", 6, 2, 6, 18},
		{"Invalid base", math.NaN(), 0, DefaultBlurBase, DefaultBlurBase * 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, p := newTestEngine(Config{})
			e.SetBounds(tt.base, tt.max)
			base, max := e.Bounds()
			assert.Equal(t, tt.wantBase, base)
			assert.Equal(t, tt.wantMax, max)
			assert.Equal(t, tt.wantBase, p.LastBlur())
		})
	}
}

func TestBlurCurveBoundaries(t *testing.T) {
	e, p := newTestEngine(Config{BlurBase: 4, BlurMax: 24})
	total := 200000.0

	e.Update(at(total, total-8000))
	assert.Equal(t, 4.0, p.LastBlur(), "remaining == threshold is baseline")

	e.Update(at(total, total-4000))
	assert.Equal(t, 4+0.5*(24-4), p.LastBlur(), "half way")

	e.Update(at(total, total))
	assert.Equal(t, 24.0, p.LastBlur(), "end of track is max")

	assert.Equal(t, 4.0, BlurAt(8000, 4, 24, 8000))
	assert.Equal(t, 24.0, BlurAt(0, 4, 24, 8000))
	assert.Equal(t, 14.0, BlurAt(4000, 4, 24, 8000))
}

func TestBlur_InvalidInputsUseBaseline(t *testing.T) {
	tests := []struct {
		name string
		snap domain.PlayerSnapshot
	}{
		{"No time", domain.PlayerSnapshot{}},
		{"NaN total", at(math.NaN(), 1000)},
		{"Zero total", at(0, 0)},
		{"Negative current", at(5000, -1)},
		{"Infinite current", at(5000, math.Inf(1))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, p := newTestEngine(Config{BlurBase: 4, BlurMax: 24})
			e.Update(at(10000, 9000)) // pushes a non-baseline value first
			assert.NotEqual(t, 4.0, p.LastBlur())

			e.Update(tt.snap)
			assert.Equal(t, 4.0, p.LastBlur())
		})
	}
}

func TestBlur_BaselineNotRepushed(t *testing.T) {
	e, p := newTestEngine(Config{BlurBase: 4, BlurMax: 24})
	before := len(p.Blurs)

	e.Update(at(200000, 1000))
	e.Update(at(200000, 2000))

	assert.Len(t, p.Blurs, before)
}

func TestBlur_HoldSuspendsRecompute(t *testing.T) {
	e, p := newTestEngine(Config{BlurBase: 4, BlurMax: 24})
	e.Hold()
	before := len(p.Blurs)

	e.Update(at(10000, 9000))
	assert.Len(t, p.Blurs, before)
	assert.True(t, e.Held())

	e.Release()
	e.Update(at(10000, 9000))
	assert.Greater(t, p.LastBlur(), 4.0)
}

func TestFormatClock(t *testing.T) {
	tests := []struct {
		name  string
		ms    float64
		total float64
		want  string
	}{
		{"Short track", 65000, 3599999, "01:05"},
		{"Total just below an hour", 3599999, 3599999, "59:59"},
		{"Total of one hour", 0, 3600000, "00:00:00"},
		{"Long track", 3725000, 7200000, "01:02:05"},
		{"Sub-second truncated", 1999, 10000, "00:01"},
		{"NaN", math.NaN(), 10000, "00:00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatClock(tt.ms, tt.total))
		})
	}
}

func TestClock_JitterFilter(t *testing.T) {
	e, p := newTestEngine(Config{})

	e.Update(at(200000, 10950))
	elapsed, total := p.LastClock()
	assert.Equal(t, "00:10", elapsed)
	assert.Equal(t, "03:20", total)

	// Within 100ms of the displayed value: the displayed value is kept
	e.Update(at(200000, 11020))
	elapsed, _ = p.LastClock()
	assert.Equal(t, "00:10", elapsed)

	e.Update(at(200000, 11100))
	elapsed, _ = p.LastClock()
	assert.Equal(t, "00:11", elapsed)
}

func TestClock_NeverPastTotal(t *testing.T) {
	e, p := newTestEngine(Config{})

	e.Update(at(60000, 59000))
	count := len(p.Clocks)
	e.Update(at(60000, 61000))

	assert.Len(t, p.Clocks, count)
	assert.Len(t, p.Progress, 2)
}

func TestClock_ResetBaseline(t *testing.T) {
	e, p := newTestEngine(Config{})

	e.Update(at(200000, 10000))
	e.ResetBaseline()
	e.Update(at(100000, 50))

	elapsed, total := p.LastClock()
	assert.Equal(t, "00:00", elapsed)
	assert.Equal(t, "01:40", total)
}

func TestClock_HourFormat(t *testing.T) {
	e, p := newTestEngine(Config{})

	e.Update(at(3600000, 61000))
	elapsed, total := p.LastClock()
	assert.Equal(t, "00:01:01", elapsed)
	assert.Equal(t, "01:00:00", total)
}
