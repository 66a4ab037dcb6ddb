package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const (
	SourceCompanion = "companion"
	SourceMPRIS     = "mpris"

	defaultCompanionURL = "http://127.0.0.1:9863"
	defaultTokenFile    = "~/.config/nowplaying/token"
	defaultWaveformURL  = "ws://127.0.0.1:9450"
	defaultListen       = "127.0.0.1:9864"
)

// Path is the location of the optional YAML config file
type Path string

// AppConfig holds application configuration
type AppConfig struct {
	Source    string          `yaml:"source"`
	LogLevel  string          `yaml:"log_level"`
	Listen    string          `yaml:"listen"`
	Companion CompanionConfig `yaml:"companion"`
	Waveform  WaveformConfig  `yaml:"waveform"`
	Blur      BlurConfig      `yaml:"blur"`
	Art       ArtConfig       `yaml:"art"`
	Text      TextConfig      `yaml:"text"`
}

type CompanionConfig struct {
	URL       string `yaml:"url"`
	TokenFile string `yaml:"token_file"`
}

type WaveformConfig struct {
	URL  string `yaml:"url"`
	Bars int    `yaml:"bars"`
}

type BlurConfig struct {
	Base        float64 `yaml:"base"`
	Max         float64 `yaml:"max"`
	ThresholdMs float64 `yaml:"threshold_ms"`
}

type ArtConfig struct {
	Size         int     `yaml:"size"`
	FadeMs       int     `yaml:"fade_ms"`
	BackdropBlur float64 `yaml:"backdrop_blur"`
	// Backdrop dimensions; zero means the primary display size
	BackdropWidth  int     `yaml:"backdrop_width"`
	BackdropHeight int     `yaml:"backdrop_height"`
	BackdropScale  float64 `yaml:"backdrop_scale"`
}

type TextConfig struct {
	// FontFile is a TTF used for measuring; empty means Go Regular
	FontFile         string  `yaml:"font_file"`
	TitleSize        float64 `yaml:"title_size"`
	ArtistSize       float64 `yaml:"artist_size"`
	ContainerWidth   float64 `yaml:"container_width"`
	ResizeDebounceMs int     `yaml:"resize_debounce_ms"`
}

// Default returns the configuration used when no file or env override is given
func Default() *AppConfig {
	return &AppConfig{
		Source:   SourceCompanion,
		LogLevel: "info",
		Listen:   defaultListen,
		Companion: CompanionConfig{
			URL:       defaultCompanionURL,
			TokenFile: defaultTokenFile,
		},
		Waveform: WaveformConfig{
			URL:  defaultWaveformURL,
			Bars: 12,
		},
		Blur: BlurConfig{
			Base:        4,
			ThresholdMs: 8000,
		},
		Art: ArtConfig{
			Size:          420,
			FadeMs:        260,
			BackdropBlur:  15,
			BackdropScale: 0.25,
		},
		Text: TextConfig{
			TitleSize:        32,
			ArtistSize:       22,
			ContainerWidth:   460,
			ResizeDebounceMs: 200,
		},
	}
}

// Load reads a YAML file on top of the defaults. A missing file is not an error.
func Load(path string) (*AppConfig, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(expandPath(path))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// NewAppConfig creates a new application configuration instance:
// defaults, then the YAML file, then NOWPLAYING_* environment variables
func NewAppConfig(logger *zap.Logger, path Path) (*AppConfig, error) {
	p := string(path)
	if p == "" {
		p = os.Getenv("NOWPLAYING_CONFIG")
	}

	cfg, err := Load(p)
	if err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger.Info("Configuration loaded",
		zap.String("file", p),
		zap.String("source", cfg.Source),
		zap.String("companion", cfg.Companion.URL),
		zap.String("tokenFile", cfg.Companion.TokenFile),
		zap.String("waveform", cfg.Waveform.URL),
		zap.String("listen", cfg.Listen),
		zap.Float64("blurBase", cfg.Blur.Base),
		zap.Float64("blurMax", cfg.Blur.Max))

	return cfg, nil
}

func (c *AppConfig) applyEnv() error {
	setString(&c.Source, "NOWPLAYING_SOURCE")
	setString(&c.Companion.URL, "NOWPLAYING_COMPANION_URL")
	setString(&c.Companion.TokenFile, "NOWPLAYING_TOKEN_FILE")
	setString(&c.Waveform.URL, "NOWPLAYING_WAVEFORM_URL")
	setString(&c.Listen, "NOWPLAYING_LISTEN")
	setString(&c.LogLevel, "NOWPLAYING_LOG_LEVEL")

	if err := setFloat(&c.Blur.Base, "NOWPLAYING_BLUR_BASE"); err != nil {
		return err
	}
	return setFloat(&c.Blur.Max, "NOWPLAYING_BLUR_MAX")
}

func (c *AppConfig) normalize() {
	c.Source = strings.ToLower(strings.TrimSpace(c.Source))
	c.Companion.URL = strings.TrimRight(c.Companion.URL, "/")
	c.Companion.TokenFile = expandPath(c.Companion.TokenFile)
}

// Validate rejects settings the daemon cannot run with
func (c *AppConfig) Validate() error {
	switch c.Source {
	case SourceCompanion, SourceMPRIS:
	default:
		return fmt.Errorf("unknown source %q (want %s or %s)", c.Source, SourceCompanion, SourceMPRIS)
	}
	if c.Source == SourceCompanion && c.Companion.TokenFile == "" {
		return errors.New("companion source requires a token file")
	}
	if c.Waveform.Bars < 0 {
		return fmt.Errorf("invalid waveform bar count: %d", c.Waveform.Bars)
	}
	return nil
}

// FadeDelay is how long a retired art layer stays visible
func (c *AppConfig) FadeDelay() time.Duration {
	return time.Duration(c.Art.FadeMs) * time.Millisecond
}

// ResizeDebounce is the quiet period before a viewport resize is applied
func (c *AppConfig) ResizeDebounce() time.Duration {
	return time.Duration(c.Text.ResizeDebounceMs) * time.Millisecond
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setFloat(dst *float64, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = f
	return nil
}

// expandPath expands environment variables and a leading ~
func expandPath(path string) string {
	path = os.ExpandEnv(path)
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, path[1:])
		}
	}
	return path
}
