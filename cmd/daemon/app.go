package main

import (
	"context"
	"os"
	"sync"

	"github.com/genricoloni/nowplaying/internal/companion"
	"github.com/genricoloni/nowplaying/internal/config"
	"github.com/genricoloni/nowplaying/internal/cover"
	"github.com/genricoloni/nowplaying/internal/domain"
	"github.com/genricoloni/nowplaying/internal/engine"
	"github.com/genricoloni/nowplaying/internal/fetcher"
	"github.com/genricoloni/nowplaying/internal/measure"
	"github.com/genricoloni/nowplaying/internal/monitor"
	"github.com/genricoloni/nowplaying/internal/overlay"
	"github.com/genricoloni/nowplaying/internal/processor"
	"github.com/genricoloni/nowplaying/internal/progress"
	"github.com/genricoloni/nowplaying/internal/retry"
	"github.com/genricoloni/nowplaying/internal/transition"
	"github.com/genricoloni/nowplaying/internal/waveform"
	"github.com/mattn/go-isatty"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// AppOptions builds the application graph for a config file path
func AppOptions(path config.Path) fx.Option {
	return fx.Options(
		fx.Supply(path),

		// Logger configuration
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log}
		}),

		// Provide dependencies
		fx.Provide(
			newLogLevel,
			newLogger,
			config.NewAppConfig,

			// Presentation
			fx.Annotate(
				measure.NewFontMeasurer,
				fx.As(new(domain.Measurer)),
				fx.As(new(overlay.ContainerSetter)),
			),
			fx.Annotate(
				overlay.NewHub,
				fx.As(fx.Self()),
				fx.As(new(domain.Presenter)),
				fx.As(new(engine.Resizer)),
			),
			overlay.NewServer,

			// State reconciliation
			newResolver,
			newProgress,
			newOrchestrator,
			newWaveformBridge,

			// Cover art preload
			processor.NewScreenResolution,
			processor.NewProcessorConfig,
			processor.NewBlurProcessor,
			fx.Annotate(fetcher.NewHTTPFetcher, fx.As(new(domain.Fetcher))),
			fx.Annotate(processor.NewArtLoader, fx.As(new(domain.ArtLoader))),

			newSnapshotSource,
			engine.NewEngine,
		),

		fx.Invoke(applyLogLevel),

		// Lifecycle hooks
		fx.Invoke(registerHooks),
	)
}

func newLogLevel() zap.AtomicLevel {
	return zap.NewAtomicLevelAt(zap.InfoLevel)
}

// newLogger writes human readable logs to a terminal and JSON otherwise
func newLogger(level zap.AtomicLevel) (*zap.Logger, error) {
	var cfg zap.Config
	if isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd()) {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cfg.Development = false
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = level
	return cfg.Build()
}

// applyLogLevel switches to the configured level once the config is loaded
func applyLogLevel(level zap.AtomicLevel, cfg *config.AppConfig, logger *zap.Logger) {
	if cfg.LogLevel == "" {
		return
	}
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		logger.Warn("Invalid log level, keeping info", zap.String("level", cfg.LogLevel))
	}
}

func newResolver(logger *zap.Logger, cfg *config.AppConfig) *cover.Resolver {
	return cover.NewResolver(logger, cover.ArtURLBuilder{Size: cfg.Art.Size})
}

func newProgress(logger *zap.Logger, presenter domain.Presenter, cfg *config.AppConfig) *progress.Engine {
	return progress.NewEngine(logger, presenter, progress.Config{
		BlurBase:      cfg.Blur.Base,
		BlurMax:       cfg.Blur.Max,
		BlurThreshold: cfg.Blur.ThresholdMs,
	})
}

func newOrchestrator(
	logger *zap.Logger,
	presenter domain.Presenter,
	measurer domain.Measurer,
	resolver *cover.Resolver,
	prog *progress.Engine,
	cfg *config.AppConfig,
) *transition.Orchestrator {
	return transition.NewOrchestrator(logger, presenter, measurer, resolver, prog, cfg.FadeDelay())
}

func newWaveformBridge(logger *zap.Logger, presenter domain.Presenter, cfg *config.AppConfig) *waveform.Bridge {
	return waveform.NewBridge(logger, presenter, cfg.Waveform.URL, cfg.Waveform.Bars, retry.Policy{})
}

// newSnapshotSource picks the session provider named in the config
func newSnapshotSource(logger *zap.Logger, cfg *config.AppConfig) (domain.SnapshotSource, error) {
	if cfg.Source == config.SourceMPRIS {
		return monitor.NewMprisMonitor(logger), nil
	}
	store := companion.NewTokenStore(cfg.Companion.TokenFile)
	return companion.NewSource(logger, cfg.Companion.URL, store, companion.DefaultPolicy())
}

// registerHooks sets up application lifecycle hooks
func registerHooks(
	lc fx.Lifecycle,
	logger *zap.Logger,
	server *overlay.Server,
	eng *engine.Engine,
	bridge *waveform.Bridge,
) {
	var (
		cancelBridge context.CancelFunc
		bridgeWG     sync.WaitGroup
	)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := server.Start(ctx); err != nil {
				return err
			}
			if err := eng.Start(ctx); err != nil {
				return multierr.Append(err, server.Stop(ctx))
			}

			bridgeCtx, cancel := context.WithCancel(context.Background())
			cancelBridge = cancel
			bridgeWG.Add(1)
			go func() {
				defer bridgeWG.Done()
				if err := bridge.Run(bridgeCtx); err != nil && bridgeCtx.Err() == nil {
					logger.Warn("Waveform bridge gave up", zap.Error(err))
				}
			}()

			logger.Info("Now playing daemon started", zap.String("overlay", "http://"+server.Addr()))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("Shutting down")

			if cancelBridge != nil {
				cancelBridge()
			}
			bridgeWG.Wait()

			return multierr.Combine(
				eng.Stop(ctx),
				server.Stop(ctx),
			)
		},
	})
}
