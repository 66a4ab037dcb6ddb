package measure

import (
	"fmt"
	"sync"

	"github.com/fogleman/gg"
	"github.com/genricoloni/nowplaying/internal/config"
	"github.com/genricoloni/nowplaying/internal/domain"
	"github.com/golang/freetype/truetype"
	"go.uber.org/zap"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
)

const maxCached = 256

// FontMeasurer measures text with real font metrics. Container widths start
// from configuration and follow the viewport sizes reported by the overlay.
type FontMeasurer struct {
	logger *zap.Logger

	mu         sync.Mutex
	dc         *gg.Context
	faces      map[domain.Region]font.Face
	containers map[domain.Region]float64
	// Key: region + text
	cache map[string]float64
}

// NewFontMeasurer loads the configured font, or Go Regular when none is set
func NewFontMeasurer(logger *zap.Logger, cfg *config.AppConfig) (*FontMeasurer, error) {
	title, err := loadFace(cfg.Text.FontFile, cfg.Text.TitleSize)
	if err != nil {
		return nil, err
	}
	artist, err := loadFace(cfg.Text.FontFile, cfg.Text.ArtistSize)
	if err != nil {
		return nil, err
	}

	width := cfg.Text.ContainerWidth
	return &FontMeasurer{
		logger: logger,
		dc:     gg.NewContext(1, 1),
		faces: map[domain.Region]font.Face{
			domain.RegionTitle:  title,
			domain.RegionArtist: artist,
		},
		containers: map[domain.Region]float64{
			domain.RegionTitle:  width,
			domain.RegionArtist: width,
		},
		cache: make(map[string]float64),
	}, nil
}

func loadFace(path string, size float64) (font.Face, error) {
	if path != "" {
		face, err := gg.LoadFontFace(path, size)
		if err != nil {
			return nil, fmt.Errorf("failed to load font %s: %w", path, err)
		}
		return face, nil
	}

	f, err := truetype.Parse(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("failed to parse builtin font: %w", err)
	}
	return truetype.NewFace(f, &truetype.Options{Size: size}), nil
}

// TextWidth returns the rendered width of text in the region's font
func (m *FontMeasurer) TextWidth(region domain.Region, text string) float64 {
	if text == "" {
		return 0
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := string(region) + "|" + text
	if width, ok := m.cache[key]; ok {
		return width
	}

	face, ok := m.faces[region]
	if !ok {
		return 0
	}
	// Must set font face before measuring
	m.dc.SetFontFace(face)
	width, _ := m.dc.MeasureString(text)
	if len(m.cache) >= maxCached {
		clear(m.cache)
	}
	m.cache[key] = width
	return width
}

// ContainerWidth returns the last known width of the region's container
func (m *FontMeasurer) ContainerWidth(region domain.Region) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.containers[region]
}

// SetContainer records a viewport report. Non-positive widths are ignored.
// Returns true when the width actually changed.
func (m *FontMeasurer) SetContainer(region domain.Region, width float64) bool {
	if !(width > 0) {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.faces[region]; !ok || m.containers[region] == width {
		return false
	}
	m.containers[region] = width
	m.logger.Debug("Container width updated",
		zap.String("region", string(region)),
		zap.Float64("width", width))
	return true
}
