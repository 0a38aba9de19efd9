package keeper

import (
	"context"
	"math/big"
	"time"

	"PerpKeeper/internal/chain"
	"PerpKeeper/internal/fixedpoint"
	"PerpKeeper/internal/observability"
	"PerpKeeper/internal/store"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

// FundingMode selects where the funding rate is computed.
type FundingMode string

const (
	// FundingModeCompute derives the rate off-chain from mirrored open
	// interest and pushes it with setFundingRate.
	FundingModeCompute FundingMode = "compute"
	// FundingModePoke calls updateFundingRate and lets the ledger derive
	// the rate from its own state.
	FundingModePoke FundingMode = "poke"
)

// fundingStore is the mirror-store slice the funding policy uses.
type fundingStore interface {
	Markets(ctx context.Context) ([]string, error)
	OpenPositionsByMarket(ctx context.Context, marketID string) ([]store.Position, error)
	InsertFundingRecord(ctx context.Context, r *store.FundingRecord) error
	LastFundingTime(ctx context.Context, marketID string) (time.Time, error)
}

// FundingConfig configures the funding rate policy.
type FundingConfig struct {
	Enabled          bool
	Interval         time.Duration
	Mode             FundingMode
	MaxAnnualRateBps int64
}

// FundingPolicy settles funding per market on a fixed cadence. In
// compute mode the per-second rate is proportional to the long/short
// open-interest imbalance, capped at MaxAnnualRateBps annualized, and a
// snapshot row records the inputs behind every pushed rate.
type FundingPolicy struct {
	cfg    FundingConfig
	ledger Ledger
	mirror fundingStore
	sender *txSender
	log    zerolog.Logger
}

func NewFundingPolicy(cfg FundingConfig, ledger Ledger, mirror fundingStore, contract common.Address, log zerolog.Logger, metrics *observability.Metrics) *FundingPolicy {
	return &FundingPolicy{
		cfg:    cfg,
		ledger: ledger,
		mirror: mirror,
		sender: &txSender{
			ledger:   ledger,
			contract: contract,
			policy:   "funding",
			log:      log,
			metrics:  metrics,
		},
		log: log,
	}
}

func (p *FundingPolicy) Policy() Policy {
	return Policy{
		Name:     "funding",
		Enabled:  p.cfg.Enabled,
		Interval: p.cfg.Interval,
		Check:    p.check,
	}
}

func (p *FundingPolicy) check(ctx context.Context) error {
	markets, err := p.mirror.Markets(ctx)
	if err != nil {
		return err
	}

	failed := 0
	for _, market := range markets {
		if err := p.settleMarket(ctx, market); err != nil {
			p.log.Warn().Err(err).Str("market", market).Msg("funding settlement failed")
			failed++
		}
	}
	return cycleErr(failed, len(markets), "funding settlements")
}

func (p *FundingPolicy) settleMarket(ctx context.Context, market string) error {
	marketKey := chain.MarketIDToBytes32(market)

	if p.cfg.Mode == FundingModePoke {
		_, err := p.sender.submit(ctx, "updateFundingRate", marketKey)
		return err
	}

	// Settled within this interval already, by us or a sibling instance.
	lastAt, err := p.mirror.LastFundingTime(ctx, market)
	if err != nil {
		return err
	}
	if !lastAt.IsZero() && time.Since(lastAt) < p.cfg.Interval {
		return nil
	}

	positions, err := p.mirror.OpenPositionsByMarket(ctx, market)
	if err != nil {
		return err
	}
	if len(positions) == 0 {
		return nil
	}

	vals, err := p.ledger.Call(ctx, p.sender.contract, "getPriceData", marketKey)
	if err != nil {
		return err
	}
	mark, ok := bigOut(vals, 0)
	if !ok {
		return errNotABigInt
	}
	if mark.Sign() == 0 {
		// No oracle price yet; nothing sensible to settle against.
		return nil
	}

	long, short := new(big.Int), new(big.Int)
	for _, pos := range positions {
		notional := fixedpoint.Notional(pos.Size, mark)
		if pos.Size.Sign() > 0 {
			long.Add(long, notional)
		} else {
			short.Add(short, notional)
		}
	}
	if long.Sign() == 0 && short.Sign() == 0 {
		return nil
	}

	imbalance := fixedpoint.Imbalance(long, short)
	rate := fixedpoint.PerSecondRate(imbalance, p.cfg.MaxAnnualRateBps)

	confirmed, err := p.sender.submit(ctx, "setFundingRate", marketKey, rate)
	if err != nil || !confirmed {
		return err
	}

	head, err := p.ledger.BlockNumber(ctx)
	if err != nil {
		return err
	}
	return p.mirror.InsertFundingRecord(ctx, &store.FundingRecord{
		MarketID:      market,
		RatePerSecond: rate,
		Cumulative:    nil, // only known from the indexed FundingRateUpdated event
		LongNotional:  long,
		ShortNotional: short,
		Imbalance:     imbalance,
		BlockNumber:   head,
		CreatedAt:     time.Now().UTC(),
	})
}
