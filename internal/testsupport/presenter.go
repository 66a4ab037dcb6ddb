package testsupport

import (
	"sync"

	"github.com/genricoloni/nowplaying/internal/domain"
)

// Presenter records every presentation command for assertions.
// It is safe for concurrent use.
type Presenter struct {
	mu sync.Mutex

	Texts     map[domain.Region]string
	Flags     map[domain.Flag]bool
	Marquees  map[domain.Region]domain.Marquee
	Blurs     []float64
	Progress  [][2]float64
	Clocks    [][2]string
	Layers    []domain.ArtLayer
	Retired   []uint64
	Waveforms [][]float64
}

// NewPresenter creates an empty recording presenter
func NewPresenter() *Presenter {
	return &Presenter{
		Texts:    make(map[domain.Region]string),
		Flags:    make(map[domain.Flag]bool),
		Marquees: make(map[domain.Region]domain.Marquee),
	}
}

func (p *Presenter) SetText(region domain.Region, text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Texts[region] = text
}

func (p *Presenter) SetFlag(flag domain.Flag, on bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Flags[flag] = on
}

func (p *Presenter) SetMarquee(region domain.Region, m domain.Marquee) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Marquees[region] = m
}

func (p *Presenter) SetBlur(radius float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Blurs = append(p.Blurs, radius)
}

func (p *Presenter) SetProgress(current, total float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Progress = append(p.Progress, [2]float64{current, total})
}

func (p *Presenter) SetClock(elapsed, total string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Clocks = append(p.Clocks, [2]string{elapsed, total})
}

func (p *Presenter) AddArtLayer(layer domain.ArtLayer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Layers = append(p.Layers, layer)
}

func (p *Presenter) RetireLayer(id uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Retired = append(p.Retired, id)
}

func (p *Presenter) SetWaveform(levels []float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Waveforms = append(p.Waveforms, append([]float64(nil), levels...))
}

// LastBlur returns the most recent blur radius, or -1 when none was set
func (p *Presenter) LastBlur() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Blurs) == 0 {
		return -1
	}
	return p.Blurs[len(p.Blurs)-1]
}

// LastClock returns the most recent clock strings
func (p *Presenter) LastClock() (string, string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Clocks) == 0 {
		return "", ""
	}
	c := p.Clocks[len(p.Clocks)-1]
	return c[0], c[1]
}

// LastLayer returns the most recently added art layer
func (p *Presenter) LastLayer() (domain.ArtLayer, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Layers) == 0 {
		return domain.ArtLayer{}, false
	}
	return p.Layers[len(p.Layers)-1], true
}

// LastWaveform returns the most recent waveform levels
func (p *Presenter) LastWaveform() []float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Waveforms) == 0 {
		return nil
	}
	return p.Waveforms[len(p.Waveforms)-1]
}

// Text returns the text shown in a region
func (p *Presenter) Text(region domain.Region) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Texts[region]
}

// Flag returns the state of a flag
func (p *Presenter) Flag(flag domain.Flag) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Flags[flag]
}

// Marquee returns the marquee state of a region
func (p *Presenter) Marquee(region domain.Region) domain.Marquee {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Marquees[region]
}

// LayerCount returns how many art layers were added
func (p *Presenter) LayerCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Layers)
}

// RetiredIDs returns a copy of the retired layer ids
func (p *Presenter) RetiredIDs() []uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]uint64(nil), p.Retired...)
}

// Measurer returns fixed widths per region; text width is len(text)*CharWidth
// unless an explicit width is registered for the text
type Measurer struct {
	mu         sync.Mutex
	CharWidth  float64
	Containers map[domain.Region]float64
	Widths     map[string]float64
}

// NewMeasurer creates a measurer with the given container widths
func NewMeasurer(title, artist float64) *Measurer {
	return &Measurer{
		CharWidth: 10,
		Containers: map[domain.Region]float64{
			domain.RegionTitle:  title,
			domain.RegionArtist: artist,
		},
		Widths: make(map[string]float64),
	}
}

func (m *Measurer) TextWidth(_ domain.Region, text string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.Widths[text]; ok {
		return w
	}
	return float64(len(text)) * m.CharWidth
}

func (m *Measurer) ContainerWidth(region domain.Region) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Containers[region]
}

// SetContainer changes a container width and reports whether it differed
func (m *Measurer) SetContainer(region domain.Region, width float64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	changed := m.Containers[region] != width
	m.Containers[region] = width
	return changed
}
