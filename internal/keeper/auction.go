package keeper

import (
	"context"
	"time"

	"PerpKeeper/internal/chain"
	"PerpKeeper/internal/observability"
	"PerpKeeper/internal/projection"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

// Market auction intervals are effectively static configuration, so a
// continuous market (interval 0) is remembered and not re-read every
// cycle.
const marketConfigTTL = 5 * time.Minute

// marketIndex is the mirror-store slice the auction policy reads.
type marketIndex interface {
	Markets(ctx context.Context) ([]string, error)
}

// AuctionConfig configures the batch auction policy.
type AuctionConfig struct {
	Enabled  bool
	Interval time.Duration
}

// AuctionPolicy fires executeAuction for every market whose configured
// auction interval has elapsed since its last execution. The elapsed
// check here is only a pre-filter against chain time skew; the ledger
// enforces the real cadence and rejects early calls.
type AuctionPolicy struct {
	cfg       AuctionConfig
	ledger    Ledger
	markets   marketIndex
	intervals *projection.Expiring[string, uint64]
	sender    *txSender
	log       zerolog.Logger
	now       func() time.Time
}

func NewAuctionPolicy(cfg AuctionConfig, ledger Ledger, markets marketIndex, contract common.Address, log zerolog.Logger, metrics *observability.Metrics) *AuctionPolicy {
	return &AuctionPolicy{
		cfg:       cfg,
		ledger:    ledger,
		markets:   markets,
		intervals: projection.NewExpiring[string, uint64](marketConfigTTL),
		sender: &txSender{
			ledger:   ledger,
			contract: contract,
			policy:   "auction",
			log:      log,
			metrics:  metrics,
		},
		log: log,
		now: time.Now,
	}
}

func (p *AuctionPolicy) Policy() Policy {
	return Policy{
		Name:     "auction",
		Enabled:  p.cfg.Enabled,
		Interval: p.cfg.Interval,
		Check:    p.check,
	}
}

func (p *AuctionPolicy) check(ctx context.Context) error {
	markets, err := p.markets.Markets(ctx)
	if err != nil {
		return err
	}

	failed := 0
	for _, market := range markets {
		if interval, ok := p.intervals.Get(market); ok && interval == 0 {
			continue
		}
		marketKey := chain.MarketIDToBytes32(market)

		vals, err := p.ledger.Call(ctx, p.sender.contract, "markets", marketKey)
		if err != nil {
			p.log.Warn().Err(err).Str("market", market).Msg("market config read failed")
			failed++
			continue
		}
		interval, iok := uint64Out(vals, 0)
		lastTs, lok := uint64Out(vals, 1)
		if !iok || !lok {
			p.log.Warn().Str("market", market).Msg("unusable market config")
			continue
		}
		p.intervals.Set(market, interval)
		if interval == 0 {
			// Continuous-only market.
			continue
		}
		if uint64(p.now().Unix()) < lastTs+interval {
			continue
		}

		if _, err := p.sender.submit(ctx, "executeAuction", marketKey); err != nil {
			p.log.Warn().Err(err).Str("market", market).Msg("auction execution failed")
			failed++
		}
	}
	return cycleErr(failed, len(markets), "auction attempts")
}
