// Package scheduler drives time-based auction work: firing persisted
// finalize timers, activating pending listings, and running the
// reconciliation sweep.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/gavelhq/gavel/internal/config"
	auctionrepo "github.com/gavelhq/gavel/internal/repository/auction"
	auctionsvc "github.com/gavelhq/gavel/internal/service/auction"
	"github.com/gavelhq/gavel/internal/service/finalize"
)

// Params collects dependencies via Fx.
type Params struct {
	fx.In

	Store     auctionrepo.Store
	Finalizer *finalize.Service
	Auctions  *auctionsvc.Service
	Logger    *zap.Logger
	Config    config.Config
}

// Engine polls due timers and dispatches settlements to a worker pool.
// Timers are read without claiming; a timer picked up twice settles once
// because finalization is idempotent and clears its own timer row.
type Engine struct {
	store     auctionrepo.Store
	finalizer *finalize.Service
	auctions  *auctionsvc.Service
	logger    *zap.Logger
	cfg       config.Scheduler

	cancel context.CancelFunc
	wg     *sync.WaitGroup
}

// NewEngine constructs the scheduler Engine.
func NewEngine(p Params) *Engine {
	return &Engine{
		store:     p.Store,
		finalizer: p.Finalizer,
		auctions:  p.Auctions,
		logger:    p.Logger,
		cfg:       p.Config.Scheduler,
	}
}

// Module wires the engine into the Fx lifecycle.
var Module = fx.Options(
	fx.Provide(NewEngine),
	fx.Invoke(func(lc fx.Lifecycle, engine *Engine) {
		lc.Append(fx.Hook{
			OnStart: engine.start,
			OnStop:  engine.stop,
		})
	}),
)

func (e *Engine) start(ctx context.Context) error {
	if !e.cfg.Enabled {
		e.logger.Info("scheduler disabled")

		return nil
	}

	runCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.wg = &sync.WaitGroup{}

	jobs := make(chan int64)

	for i := 0; i < e.cfg.Concurrency; i++ {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.settleLoop(runCtx, jobs)
		}()
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer close(jobs)
		e.pollLoop(runCtx, jobs)
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.sweepLoop(runCtx)
	}()

	e.logger.Info("scheduler started",
		zap.Duration("poll_interval", e.cfg.PollInterval),
		zap.Duration("sweep_interval", e.cfg.SweepInterval),
		zap.Int("workers", e.cfg.Concurrency),
	)

	return nil
}

func (e *Engine) stop(ctx context.Context) error {
	if e.cancel == nil {
		return nil
	}
	e.cancel()
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		e.logger.Info("scheduler stopped")

		return nil
	}
}

// pollLoop fetches fired timers every tick and hands them to the pool.
func (e *Engine) pollLoop(ctx context.Context, jobs chan<- int64) {
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		ids, err := e.store.DueTimers(ctx, time.Now(), e.cfg.BatchSize)
		if err != nil {
			e.logger.Error("list due timers failed", zap.Error(err))

			continue
		}

		for _, id := range ids {
			select {
			case jobs <- id:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (e *Engine) settleLoop(ctx context.Context, jobs <-chan int64) {
	for id := range jobs {
		if ctx.Err() != nil {
			return
		}
		if _, err := e.finalizer.Finalize(ctx, id); err != nil {
			e.logger.Error("scheduled finalize failed", zap.Int64("auction_id", id), zap.Error(err))
		}
	}
}

// sweepLoop periodically activates due listings and reconciles auctions
// whose timers were lost.
func (e *Engine) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if _, err := e.auctions.ActivateDue(ctx, e.cfg.BatchSize); err != nil {
			e.logger.Error("activation sweep failed", zap.Error(err))
		}

		if _, err := e.finalizer.Sweep(ctx); err != nil {
			e.logger.Error("reconciliation sweep failed", zap.Error(err))
		}
	}
}
