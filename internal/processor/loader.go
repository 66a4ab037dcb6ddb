package processor

import (
	"context"
	"fmt"

	"github.com/genricoloni/nowplaying/internal/domain"
	"go.uber.org/zap"
)

// ArtLoader preloads cover art: fetch, decode, render. A load only
// succeeds when the image decodes, like an <img> onload.
type ArtLoader struct {
	logger    *zap.Logger
	fetcher   domain.Fetcher
	processor *BlurProcessor
}

// NewArtLoader creates a cover art loader
func NewArtLoader(logger *zap.Logger, fetcher domain.Fetcher, processor *BlurProcessor) *ArtLoader {
	return &ArtLoader{
		logger:    logger,
		fetcher:   fetcher,
		processor: processor,
	}
}

// Load fetches and renders the art behind a preload request
func (l *ArtLoader) Load(ctx context.Context, req domain.PreloadRequest) (domain.ArtLayer, error) {
	data, err := l.fetcher.Fetch(ctx, req.URL)
	if err != nil {
		return domain.ArtLayer{}, fmt.Errorf("failed to fetch cover: %w", err)
	}

	cover, backdrop, err := l.processor.Render(ctx, data)
	if err != nil {
		return domain.ArtLayer{}, fmt.Errorf("failed to render cover: %w", err)
	}

	l.logger.Debug("Cover preloaded",
		zap.Uint64("token", req.Token),
		zap.String("url", req.URL),
		zap.Int("coverBytes", len(cover)),
		zap.Int("backdropBytes", len(backdrop)))

	return domain.ArtLayer{
		ID:        req.Token,
		SourceURL: req.URL,
		Image:     cover,
		Backdrop:  backdrop,
	}, nil
}
