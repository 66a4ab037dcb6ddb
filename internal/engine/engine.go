package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/genricoloni/nowplaying/internal/config"
	"github.com/genricoloni/nowplaying/internal/domain"
	"github.com/genricoloni/nowplaying/internal/progress"
	"github.com/genricoloni/nowplaying/internal/snapshot"
	"github.com/genricoloni/nowplaying/internal/transition"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// DefaultResizeDebounce is how long viewport reports must settle before
// the marquee is recomputed
const DefaultResizeDebounce = 200 * time.Millisecond

// Resizer signals that a measured container width changed
type Resizer interface {
	Resizes() <-chan struct{}
}

// Engine owns the overlay state. A single goroutine serialises snapshots,
// preload completions and resize events; components it drives are not
// touched from anywhere else.
type Engine struct {
	logger       *zap.Logger
	source       domain.SnapshotSource
	presenter    domain.Presenter
	orchestrator *transition.Orchestrator
	progress     *progress.Engine
	loader       domain.ArtLoader
	resizer      Resizer
	debounce     time.Duration

	results chan domain.PreloadResult
	prev    *domain.PlayerSnapshot

	mu        sync.Mutex
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	sourceErr error
}

// NewEngine creates the controlling engine
func NewEngine(
	logger *zap.Logger,
	cfg *config.AppConfig,
	source domain.SnapshotSource,
	presenter domain.Presenter,
	orchestrator *transition.Orchestrator,
	prog *progress.Engine,
	loader domain.ArtLoader,
	resizer Resizer,
) *Engine {
	debounce := cfg.ResizeDebounce()
	if debounce <= 0 {
		debounce = DefaultResizeDebounce
	}
	return &Engine{
		logger:       logger,
		source:       source,
		presenter:    presenter,
		orchestrator: orchestrator,
		progress:     prog,
		loader:       loader,
		resizer:      resizer,
		debounce:     debounce,
		results:      make(chan domain.PreloadResult, 4),
	}
}

// Start launches the snapshot source and the event loop.
// It returns immediately (non-blocking).
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		return nil
	}

	e.logger.Info("Engine starting...")

	// The fx start context expires once startup is done
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e.cancel = cancel

	// Nothing is known about the player until the first snapshot
	e.presenter.SetFlag(domain.FlagPaused, true)
	e.presenter.SetFlag(domain.FlagOffline, true)

	e.wg.Add(2)
	go e.runSource(runCtx)
	go e.runLoop(runCtx)
	return nil
}

func (e *Engine) runSource(ctx context.Context) {
	defer e.wg.Done()
	err := e.source.Start(ctx)
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}
	e.logger.Error("Snapshot source stopped", zap.Error(err))
	e.mu.Lock()
	e.sourceErr = err
	e.mu.Unlock()
}

// runLoop is the single owner of transition, progress and marquee state
func (e *Engine) runLoop(ctx context.Context) {
	defer e.wg.Done()

	snapshots := e.source.Snapshots()
	var resizes <-chan struct{}
	if e.resizer != nil {
		resizes = e.resizer.Resizes()
	}

	timer := time.NewTimer(e.debounce)
	timer.Stop() // Start with stopped timer
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Engine loop stopped")
			return

		case snap, ok := <-snapshots:
			if !ok {
				e.logger.Warn("Snapshot channel closed, overlay stays offline")
				e.presenter.SetFlag(domain.FlagPaused, true)
				e.presenter.SetFlag(domain.FlagOffline, true)
				snapshots = nil
				continue
			}
			e.handleSnapshot(ctx, snap)

		case res := <-e.results:
			e.orchestrator.Complete(res)

		case <-resizes:
			timer.Reset(e.debounce)

		case <-timer.C:
			e.logger.Debug("Viewport resized, recomputing marquee")
			e.orchestrator.Remeasure()
		}
	}
}

// handleSnapshot applies one snapshot: play state flags, a full refresh on
// track change, progress and blur always
func (e *Engine) handleSnapshot(ctx context.Context, snap domain.PlayerSnapshot) {
	e.presenter.SetFlag(domain.FlagPaused, !snap.Playing)
	e.presenter.SetFlag(domain.FlagOffline, !snap.Playing)

	if snap.Track != nil {
		change := snapshot.Classify(e.prev, &snap)
		e.logger.Debug("Snapshot received", zap.Stringer("change", change))

		if change == domain.ChangeTrack {
			e.logger.Info("Track changed",
				zap.String("title", snap.Track.DisplayTitle()),
				zap.String("author", snap.Track.DisplayAuthor()),
				zap.String("id", snap.Track.Identity()))

			if req, ok := e.orchestrator.Begin(snap); ok {
				e.preload(ctx, req)
			}
		}
		e.progress.Update(snap)
	}

	e.prev = &snap
}

// preload loads cover art off the loop and posts the result back
func (e *Engine) preload(ctx context.Context, req domain.PreloadRequest) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()

		layer, err := e.loader.Load(ctx, req)
		res := domain.PreloadResult{
			Token: req.Token,
			Key:   req.Key,
			URL:   req.URL,
			Layer: layer,
			Err:   err,
		}

		select {
		case e.results <- res:
		case <-ctx.Done():
		}
	}()
}

// Stop cancels the loop, stops the source and waits for in-flight preloads
func (e *Engine) Stop(ctx context.Context) error {
	e.logger.Info("Engine stopping...")

	e.mu.Lock()
	cancel := e.cancel
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	err := e.source.Stop(ctx)

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		err = multierr.Append(err, ctx.Err())
	}

	e.mu.Lock()
	err = multierr.Append(err, e.sourceErr)
	e.mu.Unlock()
	return err
}
