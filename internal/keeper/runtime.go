// Package keeper runs the autonomous maintenance loops: each policy
// observes mirrored or on-chain state and conditionally submits a
// corrective transaction to the ledger program. There is no central
// scheduler and no leader election; the ledger itself is the sole
// authority on whether any submitted action is actually valid.
package keeper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"PerpKeeper/internal/observability"

	"github.com/rs/zerolog"
)

// Policy is one periodic (trigger-evaluator, action) pair.
type Policy struct {
	Name     string
	Enabled  bool
	Interval time.Duration
	Check    func(ctx context.Context) error
}

// Runtime schedules policies. Each enabled policy runs its check once
// immediately, then every Interval, forever. A check's failure or panic
// never reaches the scheduler or sibling policies; the next cycle fires
// on schedule regardless. Cycles may overlap if a check outruns its
// interval — tolerable because every action is re-validated on-chain.
type Runtime struct {
	log     zerolog.Logger
	metrics *observability.Metrics
	wg      sync.WaitGroup
}

func NewRuntime(log zerolog.Logger, metrics *observability.Metrics) *Runtime {
	return &Runtime{log: log, metrics: metrics}
}

// Schedule starts p's loop. Disabled or misconfigured policies are never
// scheduled; that is a silent no-op, not an error.
func (r *Runtime) Schedule(ctx context.Context, p Policy) {
	if !p.Enabled || p.Interval <= 0 || p.Check == nil {
		r.log.Debug().Str("policy", p.Name).Msg("policy not scheduled")
		return
	}

	r.log.Info().
		Str("policy", p.Name).
		Dur("interval", p.Interval).
		Msg("policy scheduled")

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		// Shutdown stops future cycles but must not cancel an in-flight
		// check, so checks run on a cancellation-free child context.
		checkCtx := context.WithoutCancel(ctx)

		go r.runCycle(checkCtx, p)

		ticker := time.NewTicker(p.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				// Each cycle gets its own goroutine so a check that
				// outruns or blocks past its interval never delays the
				// next scheduled cycle.
				go r.runCycle(checkCtx, p)
			}
		}
	}()
}

// Wait blocks until all scheduled loops have observed shutdown. In-flight
// cycles are not awaited: they hold a cancellation-free context and finish
// on their own goroutines, so a check stuck on a slow chain call cannot
// hold up process shutdown.
func (r *Runtime) Wait() {
	r.wg.Wait()
}

func (r *Runtime) runCycle(ctx context.Context, p Policy) {
	start := time.Now()
	outcome := "ok"

	defer func() {
		if rec := recover(); rec != nil {
			outcome = "panic"
			r.log.Error().
				Str("policy", p.Name).
				Interface("panic", rec).
				Msg("policy check panicked")
		}
		if r.metrics != nil {
			r.metrics.KeeperCycles.WithLabelValues(p.Name, outcome).Inc()
			r.metrics.KeeperCycleDuration.WithLabelValues(p.Name).
				Observe(time.Since(start).Seconds())
		}
	}()

	if err := p.Check(ctx); err != nil {
		outcome = "error"
		r.log.Warn().Err(err).Str("policy", p.Name).Msg("policy cycle failed")
	}
}

// cycleErr is a convenience for policies aggregating per-item failures.
func cycleErr(failed, total int, what string) error {
	if failed == 0 {
		return nil
	}
	return fmt.Errorf("%d of %d %s failed", failed, total, what)
}
