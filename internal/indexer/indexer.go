// Package indexer tails the ledger program's event log and keeps the
// Postgres mirror converged with it. Each configured contract is one
// independent stream with its own durable checkpoint; a stream catches
// up in bounded block windows, then follows the head live. Every apply
// is idempotent, so re-delivery across restarts or overlapping
// catch-up/live phases is harmless.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"PerpKeeper/internal/broadcast"
	"PerpKeeper/internal/chain"
	"PerpKeeper/internal/observability"
	"PerpKeeper/internal/projection"
	"PerpKeeper/internal/store"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	defaultWindowSize   = 1000
	defaultSafetyMargin = 1000
	defaultPollInterval = 5 * time.Second

	fetchAttempts = 3
	fetchBackoff  = time.Second
)

// StreamConfig describes one contract's event stream.
type StreamConfig struct {
	// StreamID keys the durable checkpoint. Never reuse an id for a
	// different contract.
	StreamID string
	Contract common.Address

	WindowSize   uint64
	SafetyMargin uint64
	PollInterval time.Duration
}

func (c StreamConfig) withDefaults() StreamConfig {
	if c.WindowSize == 0 {
		c.WindowSize = defaultWindowSize
	}
	if c.SafetyMargin == 0 {
		c.SafetyMargin = defaultSafetyMargin
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	return c
}

// Indexer converges the mirror with one contract's event log.
type Indexer struct {
	cfg         StreamConfig
	chain       chain.Client
	mirror      *store.Store
	checkpoints *store.CheckpointStore
	views       *projection.Views
	bcast       broadcast.Broadcaster
	instanceID  uuid.UUID
	log         zerolog.Logger
	metrics     *observability.Metrics
}

func New(cfg StreamConfig, cl chain.Client, mirror *store.Store, views *projection.Views, bcast broadcast.Broadcaster, instanceID uuid.UUID, log zerolog.Logger, metrics *observability.Metrics) *Indexer {
	cfg = cfg.withDefaults()
	return &Indexer{
		cfg:         cfg,
		chain:       cl,
		mirror:      mirror,
		checkpoints: mirror.Checkpoints(),
		views:       views,
		bcast:       bcast,
		instanceID:  instanceID,
		log:         log.With().Str("stream", cfg.StreamID).Logger(),
		metrics:     metrics,
	}
}

// Run drives the stream until ctx is cancelled: catch up from the
// checkpoint, follow live, and on any stream failure fall back to
// catch-up after a poll interval. Nothing is lost across the fallback;
// the checkpoint marks exactly what was applied.
func (ix *Indexer) Run(ctx context.Context) error {
	if (ix.cfg.Contract == common.Address{}) {
		ix.log.Warn().Msg("no contract configured; stream idle")
		return nil
	}

	ix.log.Info().
		Str("contract", ix.cfg.Contract.Hex()).
		Uint64("window", ix.cfg.WindowSize).
		Msg("stream starting")

	for {
		if err := ix.catchUp(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			ix.log.Warn().Err(err).Msg("catch-up interrupted")
			if !sleepCtx(ctx, ix.cfg.PollInterval) {
				return nil
			}
			continue
		}

		if err := ix.followLive(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			ix.log.Warn().Err(err).Msg("live stream lost; resuming from checkpoint")
			if !sleepCtx(ctx, ix.cfg.PollInterval) {
				return nil
			}
			continue
		}
		return nil
	}
}

// catchUp replays windows from the checkpoint to the current head.
func (ix *Indexer) catchUp(ctx context.Context) error {
	last, err := ix.checkpoints.Last(ctx, ix.cfg.StreamID)
	if err != nil {
		return err
	}

	head, err := ix.chain.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("chain head: %w", err)
	}

	// A fresh stream fast-forwards to near the head rather than replaying
	// the whole chain; the mirror serves operational reads, not archival.
	if last == 0 && head > ix.cfg.SafetyMargin {
		last = head - ix.cfg.SafetyMargin
		ix.log.Info().Uint64("block", last).Msg("fresh stream fast-forwarded")
		if err := ix.checkpoints.Advance(ctx, ix.cfg.StreamID, last); err != nil {
			return err
		}
	}

	for last < head {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		from := last + 1
		to := from + ix.cfg.WindowSize - 1
		if to > head {
			to = head
		}

		start := time.Now()
		events, err := ix.fetchWindow(ctx, from, to)
		if err != nil {
			// Window abandoned after retries. Skipping loses those events
			// permanently for this stream, which beats wedging the cursor
			// and losing everything after them.
			ix.log.Error().Err(err).
				Uint64("from", from).
				Uint64("to", to).
				Msg("window abandoned after retries")
			if ix.metrics != nil {
				ix.metrics.IndexerSkippedRanges.WithLabelValues(ix.cfg.StreamID).Inc()
			}
		} else {
			for _, ev := range events {
				ix.apply(ctx, ev)
			}
		}

		if err := ix.checkpoints.Advance(ctx, ix.cfg.StreamID, to); err != nil {
			return err
		}
		last = to

		if ix.metrics != nil {
			ix.metrics.IndexerBatchDuration.WithLabelValues(ix.cfg.StreamID).
				Observe(time.Since(start).Seconds())
			ix.metrics.IndexerHeadLag.WithLabelValues(ix.cfg.StreamID).
				Set(float64(head - last))
		}

		if last >= head {
			// The head moved while we replayed; keep going until level.
			head, err = ix.chain.BlockNumber(ctx)
			if err != nil {
				return fmt.Errorf("chain head: %w", err)
			}
		}
	}

	if ix.metrics != nil {
		ix.metrics.IndexerHeadLag.WithLabelValues(ix.cfg.StreamID).Set(0)
	}
	return nil
}

func (ix *Indexer) fetchWindow(ctx context.Context, from, to uint64) ([]chain.Event, error) {
	var lastErr error
	backoff := fetchBackoff
	for attempt := 1; attempt <= fetchAttempts; attempt++ {
		events, err := ix.chain.FilterEvents(ctx, ix.cfg.Contract, from, to)
		if err == nil {
			return events, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, err
		}
		ix.log.Warn().Err(err).
			Int("attempt", attempt).
			Uint64("from", from).
			Uint64("to", to).
			Msg("window fetch failed")
		if attempt < fetchAttempts && !sleepCtx(ctx, backoff) {
			return nil, err
		}
		backoff *= 2
	}
	return nil, lastErr
}

// followLive subscribes at the head and applies events as they arrive,
// checkpointing each block. Events between the catch-up end and the
// subscription start are covered by the next catch-up if the
// subscription drops; overlap is safe because applies are idempotent.
func (ix *Indexer) followLive(ctx context.Context) error {
	sink := make(chan chain.Event, 256)
	sub, err := ix.chain.SubscribeEvents(ctx, ix.cfg.Contract, sink)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	defer sub.Unsubscribe()

	ix.log.Info().Msg("following live")

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-sub.Err():
			if err == nil {
				err = errors.New("subscription closed")
			}
			return err
		case ev := <-sink:
			ix.apply(ctx, ev)
			if err := ix.checkpoints.Advance(ctx, ix.cfg.StreamID, ev.Meta().BlockNumber); err != nil {
				return err
			}
		}
	}
}

// apply normalizes one event into the mirror and fans out the change.
// A single event's failure is recorded and skipped; the stream never
// stalls on one bad row.
func (ix *Indexer) apply(ctx context.Context, ev chain.Event) {
	if err := ix.applyEvent(ctx, ev); err != nil {
		ix.log.Error().Err(err).
			Str("event", ev.Name()).
			Str("tx", ev.Meta().TxHash.Hex()).
			Uint64("block", ev.Meta().BlockNumber).
			Msg("event apply failed")
		if ix.metrics != nil {
			ix.metrics.IndexerEventErrors.WithLabelValues(ix.cfg.StreamID, ev.Name()).Inc()
		}
		return
	}
	if ix.metrics != nil {
		ix.metrics.IndexerEventsApplied.WithLabelValues(ix.cfg.StreamID, ev.Name()).Inc()
	}
	ix.notify(ctx, ev)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
