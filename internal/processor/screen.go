package processor

import (
	"github.com/genricoloni/nowplaying/internal/config"
	"github.com/genricoloni/nowplaying/internal/domain"
	"github.com/kbinani/screenshot"
	"go.uber.org/zap"
)

// NewScreenResolution returns the backdrop canvas size: the configured
// dimensions when both are set, otherwise the primary display
func NewScreenResolution(logger *zap.Logger, cfg *config.AppConfig) *domain.ScreenResolution {
	if cfg.Art.BackdropWidth > 0 && cfg.Art.BackdropHeight > 0 {
		return &domain.ScreenResolution{Width: cfg.Art.BackdropWidth, Height: cfg.Art.BackdropHeight}
	}

	n := screenshot.NumActiveDisplays()
	if n <= 0 {
		logger.Warn("No active displays detected, falling back to 1920x1080")
		return &domain.ScreenResolution{Width: 1920, Height: 1080}
	}

	// Use primary monitor (index 0)
	bounds := screenshot.GetDisplayBounds(0)
	res := &domain.ScreenResolution{
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
	}

	logger.Info("Screen resolution detected",
		zap.Int("width", res.Width),
		zap.Int("height", res.Height))

	return res
}

// NewProcessorConfig maps the art section of the app config
func NewProcessorConfig(cfg *config.AppConfig) ProcessorConfig {
	return ProcessorConfig{
		BlurRadius:    cfg.Art.BackdropBlur,
		BackdropScale: cfg.Art.BackdropScale,
		ArtSize:       cfg.Art.Size,
	}
}
