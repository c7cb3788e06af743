// Package keeper drives the escrow upkeep interface: it polls
// CheckReleasable and submits the returned payload to PerformRelease.
package keeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"nhbescrow/crypto"
	"nhbescrow/native/escrow"
	"nhbescrow/observability/metrics"
)

// Node is the subset of the escrow node the keeper needs.
type Node interface {
	CheckReleasable(ctx context.Context) (bool, []byte, error)
	PerformRelease(ctx context.Context, caller [20]byte, value *big.Int, payload []byte) ([]escrow.TradeRef, error)
}

type Config struct {
	Address        [20]byte
	Interval       time.Duration
	CallsPerSecond float64
}

type Runner struct {
	node     Node
	address  [20]byte
	interval time.Duration
	limiter  *rate.Limiter
	logger   *slog.Logger
	metrics  *metrics.KeeperMetrics
	nowFn    func() time.Time
	once     sync.Once
}

func New(node Node, cfg Config, logger *slog.Logger) (*Runner, error) {
	if node == nil {
		return nil, errors.New("keeper: node required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Address == ([20]byte{}) {
		cfg.Address = crypto.DeriveAddress("nhb/escrow/keeper")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	limit := rate.Inf
	if cfg.CallsPerSecond > 0 {
		limit = rate.Limit(cfg.CallsPerSecond)
	}
	return &Runner{
		node:     node,
		address:  cfg.Address,
		interval: cfg.Interval,
		limiter:  rate.NewLimiter(limit, 1),
		logger:   logger.With(slog.String("component", "keeper")),
		metrics:  metrics.Keeper(),
		nowFn:    time.Now,
	}, nil
}

// Run ticks until ctx is cancelled. Tick failures are logged and do not stop
// the loop.
func (r *Runner) Run(ctx context.Context) error {
	if r == nil {
		return fmt.Errorf("keeper not configured")
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	r.once.Do(func() {
		r.logger.Info("keeper started",
			slog.String("address", crypto.FormatAddress(r.address)),
			slog.Duration("interval", r.interval))
	})
	for {
		if _, err := r.Tick(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.logger.Warn("keeper tick failed", slog.Any("error", err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick performs one check-then-release cycle and returns the trades released.
// Races with other callers (a trade settled between check and perform) are
// reported as a retry, not an error.
func (r *Runner) Tick(ctx context.Context) ([]escrow.TradeRef, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	ok, payload, err := r.node.CheckReleasable(ctx)
	if err != nil {
		r.observe("failed", 0)
		return nil, fmt.Errorf("check releasable: %w", err)
	}
	if !ok {
		r.observe("idle", 0)
		return nil, nil
	}
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	released, err := r.node.PerformRelease(ctx, r.address, nil, payload)
	if err != nil {
		if escrow.IsReleaseError(err) || escrow.Retryable(err) {
			r.observe("retry", 0)
			r.logger.Debug("keeper release skipped", slog.Any("error", err))
			return nil, nil
		}
		r.observe("failed", 0)
		return nil, fmt.Errorf("perform release: %w", err)
	}
	r.observe("released", len(released))
	r.logger.Info("keeper released trades", slog.Int("count", len(released)))
	return released, nil
}

func (r *Runner) observe(outcome string, released int) {
	r.metrics.ObserveTick(outcome, released, r.nowFn().Unix())
}
