package cover

import (
	"strconv"
	"strings"
	"sync"

	"github.com/genricoloni/nowplaying/internal/domain"
	"go.uber.org/zap"
)

const (
	// DefaultArtSize is the square edge requested from the image CDN
	DefaultArtSize = 420

	sourceSizeToken  = "w60-h60"
	fallbackTemplate = "https://i.ytimg.com/vi/%s/hqdefault.jpg"
)

// URLBuilder computes a display URL for a track on a cache miss
type URLBuilder interface {
	Build(track *domain.Track) string
}

// ArtURLBuilder upscales provider thumbnails by rewriting their size token
type ArtURLBuilder struct {
	Size int
}

// Build prefers the first thumbnail, then the cover field, then the
// provider thumbnail derived from the video id
func (b ArtURLBuilder) Build(track *domain.Track) string {
	if track == nil {
		return ""
	}
	size := b.Size
	if size <= 0 {
		size = DefaultArtSize
	}

	switch {
	case len(track.Thumbnails) > 0 && track.Thumbnails[0] != "":
		return upscale(track.Thumbnails[0], size)
	case track.Cover != "":
		return upscale(track.Cover, size)
	case track.VideoID != "":
		return strings.Replace(fallbackTemplate, "%s", track.VideoID, 1)
	}
	return ""
}

func upscale(url string, size int) string {
	s := strconv.Itoa(size)
	return strings.Replace(url, sourceSizeToken, "w"+s+"-h"+s, 1)
}

// Key derives the stable cache key of a track, or "" when none exists
func Key(track *domain.Track) string {
	if track == nil {
		return ""
	}
	switch {
	case track.AlbumID != "":
		return "album:" + track.AlbumID
	case len(track.Thumbnails) > 0 && track.Thumbnails[0] != "":
		return "thumb:" + track.Thumbnails[0]
	case track.Cover != "":
		return "cover:" + track.Cover
	case track.VideoID != "":
		return "video:" + track.VideoID
	case track.ID != "":
		return "id:" + track.ID
	}
	return ""
}

// Resolver maps tracks to cover URLs, caching by key for the process lifetime
type Resolver struct {
	logger  *zap.Logger
	builder URLBuilder

	mu    sync.Mutex
	cache map[string]string
}

// NewResolver creates a resolver backed by the given URL builder
func NewResolver(logger *zap.Logger, builder URLBuilder) *Resolver {
	return &Resolver{
		logger:  logger,
		builder: builder,
		cache:   make(map[string]string),
	}
}

// Resolve returns the cache key and display URL of a track.
// The builder runs at most once per non-empty key.
func (r *Resolver) Resolve(track *domain.Track) (key, url string) {
	key = Key(track)

	r.mu.Lock()
	defer r.mu.Unlock()

	if key != "" {
		if cached, ok := r.cache[key]; ok {
			return key, cached
		}
	}

	url = r.builder.Build(track)
	if key != "" && url != "" {
		r.cache[key] = url
		r.logger.Debug("Cover URL cached",
			zap.String("key", key),
			zap.String("url", url),
			zap.Int("entries", len(r.cache)))
	}
	return key, url
}

// Len returns the number of cached entries
func (r *Resolver) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cache)
}
