package snapshot

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/genricoloni/nowplaying/internal/domain"
)

// Track state codes reported by the companion API that count as "playing"
const (
	trackStatePlaying   = 1
	trackStateBuffering = 2
)

// number decodes a JSON number or numeric string. Anything else decodes
// to NaN instead of failing the whole payload.
type number float64

func (n *number) UnmarshalJSON(b []byte) error {
	var f float64
	if err := json.Unmarshal(b, &f); err == nil {
		*n = number(f)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			*n = number(f)
			return nil
		}
	}
	*n = number(math.NaN())
	return nil
}

func (n *number) value() float64 {
	if n == nil {
		return math.NaN()
	}
	return float64(*n)
}

type companionPlayer struct {
	TrackState    json.RawMessage `json:"trackState"`
	Volume        *number         `json:"volume"`
	VideoProgress *number         `json:"videoProgress"`
}

type companionVideo struct {
	VideoID  string `json:"videoId"`
	ID       string `json:"id"`
	EntityID string `json:"entityId"`
	URL      string `json:"url"`
	Title    string `json:"title"`
	Author   string `json:"author"`
	Artists  []struct {
		Name string `json:"name"`
	} `json:"artists"`
	Channel    string `json:"channel"`
	Thumbnails []struct {
		URL string `json:"url"`
	} `json:"thumbnails"`
	Cover string `json:"cover"`
	Album *struct {
		ID string `json:"id"`
	} `json:"album"`
	AlbumID         string  `json:"albumId"`
	DurationSeconds *number `json:"durationSeconds"`
}

// CompanionState is the raw "state-update" payload of the companion API
type CompanionState struct {
	Player *companionPlayer `json:"player"`
	Video  *companionVideo  `json:"video"`
}

// ParseCompanion decodes a raw companion payload and normalizes it
func ParseCompanion(raw []byte) (domain.PlayerSnapshot, error) {
	var state CompanionState
	if err := json.Unmarshal(raw, &state); err != nil {
		return domain.PlayerSnapshot{}, fmt.Errorf("failed to decode state payload: %w", err)
	}
	return FromCompanion(state), nil
}

// FromCompanion converts a companion payload into a snapshot.
// Missing fields fall back to zero values; malformed numbers become NaN.
func FromCompanion(state CompanionState) domain.PlayerSnapshot {
	var snap domain.PlayerSnapshot

	var progress *number
	if p := state.Player; p != nil {
		snap.Playing = isActiveTrackState(p.TrackState)
		snap.Volume = p.Volume.value()
		progress = p.VideoProgress
	}

	v := state.Video
	if v == nil {
		return snap
	}

	track := &domain.Track{
		VideoID:  v.VideoID,
		ID:       v.ID,
		EntityID: v.EntityID,
		URL:      v.URL,
		Title:    v.Title,
		Author:   v.Author,
		Channel:  v.Channel,
		Cover:    v.Cover,
		AlbumID:  v.AlbumID,
	}
	for _, a := range v.Artists {
		track.Artists = append(track.Artists, a.Name)
	}
	for _, th := range v.Thumbnails {
		track.Thumbnails = append(track.Thumbnails, th.URL)
	}
	if v.Album != nil && v.Album.ID != "" {
		track.AlbumID = v.Album.ID
	}
	snap.Track = track

	snap.Time = &domain.TimeWindow{
		Total:   v.DurationSeconds.value() * 1000,
		Current: progress.value() * 1000,
	}
	return snap
}

// isActiveTrackState accepts only the numeric playing/buffering codes
func isActiveTrackState(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	var code float64
	if err := json.Unmarshal(raw, &code); err != nil {
		return false
	}
	return code == trackStatePlaying || code == trackStateBuffering
}

// MPRISPayload is the subset of MPRIS player properties the engine consumes
type MPRISPayload struct {
	TrackID string
	URL     string
	Title   string
	Artists []string
	Album   string
	ArtURL  string
	// Length and Position are in microseconds; nil when the player omits them
	Length   *int64
	Position *int64
	Status   string
}

// FromMPRIS converts MPRIS player properties into a snapshot
func FromMPRIS(p MPRISPayload) domain.PlayerSnapshot {
	snap := domain.PlayerSnapshot{
		Playing: p.Status == "Playing",
		Volume:  math.NaN(),
	}
	if p.TrackID == "" && p.URL == "" && p.Title == "" {
		return snap
	}

	track := &domain.Track{
		ID:      p.TrackID,
		URL:     p.URL,
		Title:   p.Title,
		Artists: p.Artists,
		Cover:   p.ArtURL,
	}
	// Album names are not unique, scope them by artist
	if p.Album != "" {
		track.AlbumID = track.DisplayAuthor() + "/" + p.Album
	}
	snap.Track = track
	snap.Time = &domain.TimeWindow{
		Total:   microsToMillis(p.Length),
		Current: microsToMillis(p.Position),
	}
	return snap
}

func microsToMillis(v *int64) float64 {
	if v == nil {
		return math.NaN()
	}
	return float64(*v) / 1000
}
