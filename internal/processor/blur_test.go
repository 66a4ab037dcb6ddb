package processor

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"strings"
	"testing"

	"github.com/genricoloni/nowplaying/internal/config"
	"github.com/genricoloni/nowplaying/internal/domain"
	"go.uber.org/zap"
)

func TestBlurProcessor_Render_Backdrop(t *testing.T) {
	tests := []struct {
		name          string
		imageData     []byte
		resolution    *domain.ScreenResolution
		scale         float64
		expectedError string
		wantW, wantH  int
	}{
		{
			name:       "Success - Quarter of 1920x1080",
			imageData:  createTestJPEG(100, 100, color.RGBA{R: 255, A: 255}),
			resolution: &domain.ScreenResolution{Width: 1920, Height: 1080},
			wantW:      480,
			wantH:      270,
		},
		{
			name:       "Success - Full scale 800x600",
			imageData:  createTestJPEG(200, 150, color.RGBA{G: 255, A: 255}),
			resolution: &domain.ScreenResolution{Width: 800, Height: 600},
			scale:      1,
			wantW:      800,
			wantH:      600,
		},
		{
			name:          "Error - Invalid Image Data",
			imageData:     []byte("not-an-image"),
			resolution:    &domain.ScreenResolution{Width: 1920, Height: 1080},
			expectedError: "failed to decode image",
		},
		{
			name:          "Error - Empty Data",
			imageData:     []byte{},
			resolution:    &domain.ScreenResolution{Width: 1920, Height: 1080},
			expectedError: "failed to decode image",
		},
		{
			name:          "Error - Corrupted JPEG",
			imageData:     []byte{0xFF, 0xD8, 0xFF, 0x00, 0x00},
			resolution:    &domain.ScreenResolution{Width: 1920, Height: 1080},
			expectedError: "failed to decode image",
		},
		{
			name:       "Edge Case - Very Small Image",
			imageData:  createTestJPEG(1, 1, color.RGBA{R: 128, G: 128, B: 128, A: 255}),
			resolution: &domain.ScreenResolution{Width: 1920, Height: 1080},
			wantW:      480,
			wantH:      270,
		},
		{
			name:       "Edge Case - Tiny Display",
			imageData:  createTestJPEG(10, 10, color.RGBA{B: 255, A: 255}),
			resolution: &domain.ScreenResolution{Width: 2, Height: 2},
			wantW:      1,
			wantH:      1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			processor := NewBlurProcessor(zap.NewNop(), tt.resolution, ProcessorConfig{BackdropScale: tt.scale})
			_, result, err := processor.Render(context.Background(), tt.imageData)

			if tt.expectedError != "" {
				if err == nil {
					t.Fatalf("expected error containing '%s', got nil", tt.expectedError)
				}
				if !strings.Contains(err.Error(), tt.expectedError) {
					t.Errorf("expected error '%s' to contain '%s'", err.Error(), tt.expectedError)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			img, _, err := image.Decode(bytes.NewReader(result))
			if err != nil {
				t.Fatalf("result is not a valid image: %v", err)
			}
			bounds := img.Bounds()
			if bounds.Dx() != tt.wantW || bounds.Dy() != tt.wantH {
				t.Errorf("expected %dx%d, got %dx%d", tt.wantW, tt.wantH, bounds.Dx(), bounds.Dy())
			}
		})
	}
}

func TestBlurProcessor_Render_Cover(t *testing.T) {
	res := &domain.ScreenResolution{Width: 1920, Height: 1080}
	processor := NewBlurProcessor(zap.NewNop(), res, ProcessorConfig{ArtSize: 420})

	result, _, err := processor.Render(context.Background(), createTestJPEG(840, 420, color.RGBA{R: 255, A: 255}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	img, _, err := image.Decode(bytes.NewReader(result))
	if err != nil {
		t.Fatalf("result is not a valid image: %v", err)
	}
	// Aspect ratio is kept inside the 420 box
	if img.Bounds().Dx() != 420 || img.Bounds().Dy() != 210 {
		t.Errorf("expected 420x210, got %dx%d", img.Bounds().Dx(), img.Bounds().Dy())
	}
}

// TestBlurProcessor_Render_ContextCancellation verifies that a cancelled
// context skips the backdrop
func TestBlurProcessor_Render_ContextCancellation(t *testing.T) {
	res := &domain.ScreenResolution{Width: 1920, Height: 1080}
	processor := NewBlurProcessor(zap.NewNop(), res, ProcessorConfig{})
	imageData := createTestJPEG(100, 100, color.RGBA{R: 255, A: 255})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cover, backdrop, err := processor.Render(ctx, imageData)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if cover != nil || backdrop != nil {
		t.Error("expected no result after cancellation")
	}
}

func TestArtLoader_Load(t *testing.T) {
	res := &domain.ScreenResolution{Width: 400, Height: 400}
	processor := NewBlurProcessor(zap.NewNop(), res, ProcessorConfig{})

	tests := []struct {
		name          string
		fetcher       *stubFetcher
		expectedError string
	}{
		{
			name:    "Success",
			fetcher: &stubFetcher{data: createTestJPEG(60, 60, color.RGBA{G: 255, A: 255})},
		},
		{
			name:          "Fetch error",
			fetcher:       &stubFetcher{err: errors.New("unexpected status code: 404")},
			expectedError: "failed to fetch cover",
		},
		{
			name:          "Not an image",
			fetcher:       &stubFetcher{data: []byte("<html>")},
			expectedError: "failed to render cover",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loader := NewArtLoader(zap.NewNop(), tt.fetcher, processor)
			req := domain.PreloadRequest{Token: 7, Key: "video:a", URL: "https://img/a.jpg"}

			layer, err := loader.Load(context.Background(), req)

			if tt.fetcher.url != req.URL {
				t.Errorf("expected fetch of %s, got %s", req.URL, tt.fetcher.url)
			}
			if tt.expectedError != "" {
				if err == nil || !strings.Contains(err.Error(), tt.expectedError) {
					t.Fatalf("expected error containing '%s', got %v", tt.expectedError, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if layer.ID != 7 || layer.SourceURL != req.URL {
				t.Errorf("unexpected layer identity: %+v", layer)
			}
			if len(layer.Image) == 0 || len(layer.Backdrop) == 0 {
				t.Error("expected rendered cover and backdrop")
			}
		})
	}
}

type stubFetcher struct {
	data []byte
	err  error
	url  string
}

func (s *stubFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	s.url = url
	return s.data, s.err
}

// createTestJPEG generates a simple JPEG image for testing
func createTestJPEG(width, height int, col color.Color) []byte {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, col)
		}
	}

	buf := new(bytes.Buffer)
	err := jpeg.Encode(buf, img, &jpeg.Options{Quality: 80})
	if err != nil {
		panic("failed to create test JPEG: " + err.Error())
	}
	return buf.Bytes()
}

func TestNewScreenResolution_Configured(t *testing.T) {
	cfg := config.Default()
	cfg.Art.BackdropWidth = 1280
	cfg.Art.BackdropHeight = 720

	res := NewScreenResolution(zap.NewNop(), cfg)
	if res.Width != 1280 || res.Height != 720 {
		t.Errorf("expected 1280x720, got %dx%d", res.Width, res.Height)
	}
}
