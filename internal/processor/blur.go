package processor

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png" // PNG format support

	"github.com/disintegration/imaging"
	"github.com/genricoloni/nowplaying/internal/domain"
	"go.uber.org/zap"
)

const (
	defaultBlurRadius    = 15.0
	defaultBackdropScale = 0.25 // backdrop size relative to the display
	defaultArtSize       = 420
	jpegQuality          = 90
)

// ProcessorConfig holds configuration for image processing
type ProcessorConfig struct {
	BlurRadius float64
	// BackdropScale shrinks the display resolution for the backdrop (0-1]
	BackdropScale float64
	// ArtSize is the edge of the square box the cover is fitted into
	ArtSize int
}

// BlurProcessor renders the cover layer and its pre-blurred backdrop
type BlurProcessor struct {
	logger *zap.Logger
	res    *domain.ScreenResolution
	config ProcessorConfig
}

// NewBlurProcessor creates a new blur-based image processor
func NewBlurProcessor(logger *zap.Logger, res *domain.ScreenResolution, cfg ProcessorConfig) *BlurProcessor {
	if cfg.BlurRadius <= 0 {
		cfg.BlurRadius = defaultBlurRadius
	}
	if cfg.BackdropScale <= 0 || cfg.BackdropScale > 1 {
		cfg.BackdropScale = defaultBackdropScale
	}
	if cfg.ArtSize <= 0 {
		cfg.ArtSize = defaultArtSize
	}
	return &BlurProcessor{
		logger: logger,
		res:    res,
		config: cfg,
	}
}

// Render decodes once and produces both the cover and the backdrop.
// A cancelled context stops it between the two steps.
func (p *BlurProcessor) Render(ctx context.Context, imageData []byte) (cover, backdrop []byte, err error) {
	img, err := decode(imageData)
	if err != nil {
		return nil, nil, err
	}
	if cover, err = p.cover(img); err != nil {
		return nil, nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	if backdrop, err = p.backdrop(img); err != nil {
		return nil, nil, err
	}
	return cover, backdrop, nil
}

func decode(imageData []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(imageData))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	// Guard against zero-sized images before any scaling math
	bounds := img.Bounds()
	if bounds.Dy() == 0 || bounds.Dx() == 0 {
		return nil, fmt.Errorf("invalid image dimensions: %dx%d", bounds.Dx(), bounds.Dy())
	}
	return img, nil
}

func (p *BlurProcessor) cover(img image.Image) ([]byte, error) {
	size := p.config.ArtSize
	fitted := imaging.Fit(img, size, size, imaging.Lanczos)
	p.logger.Debug("Cover fitted",
		zap.Int("w", fitted.Bounds().Dx()),
		zap.Int("h", fitted.Bounds().Dy()))
	return encode(fitted)
}

func (p *BlurProcessor) backdrop(img image.Image) ([]byte, error) {
	w, h := p.backdropSize()
	p.logger.Debug("Creating blurred backdrop", zap.Int("w", w), zap.Int("h", h))

	background := imaging.Fill(img, w, h, imaging.Center, imaging.Lanczos)
	// The radius is defined for a full-size display; scale it with the canvas
	background = imaging.Blur(background, p.config.BlurRadius*p.config.BackdropScale)
	return encode(background)
}

func (p *BlurProcessor) backdropSize() (int, int) {
	w := int(float64(p.res.Width) * p.config.BackdropScale)
	h := int(float64(p.res.Height) * p.config.BackdropScale)
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	return w, h
}

func encode(img image.Image) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := jpeg.Encode(buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}
	return buf.Bytes(), nil
}
