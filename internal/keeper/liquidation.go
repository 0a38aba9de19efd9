package keeper

import (
	"context"
	"math/big"
	"time"

	"PerpKeeper/internal/chain"
	"PerpKeeper/internal/observability"
	"PerpKeeper/internal/store"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

// positionIndex is the mirror-store slice the liquidation policy reads.
type positionIndex interface {
	OpenPositionKeys(ctx context.Context) ([]store.PositionKey, error)
}

// LiquidationConfig configures the liquidation policy.
type LiquidationConfig struct {
	Enabled  bool
	Interval time.Duration
}

// LiquidationPolicy walks mirrored open positions, reads each one back
// from the ledger, and submits a liquidation attempt for every position
// that is still open on-chain. Margin math stays on-chain: a healthy
// position just reverts benignly.
type LiquidationPolicy struct {
	cfg       LiquidationConfig
	ledger    Ledger
	positions positionIndex
	sender    *txSender
	log       zerolog.Logger
}

func NewLiquidationPolicy(cfg LiquidationConfig, ledger Ledger, positions positionIndex, contract common.Address, log zerolog.Logger, metrics *observability.Metrics) *LiquidationPolicy {
	return &LiquidationPolicy{
		cfg:       cfg,
		ledger:    ledger,
		positions: positions,
		sender: &txSender{
			ledger:   ledger,
			contract: contract,
			policy:   "liquidation",
			log:      log,
			metrics:  metrics,
		},
		log: log,
	}
}

func (p *LiquidationPolicy) Policy() Policy {
	return Policy{
		Name:     "liquidation",
		Enabled:  p.cfg.Enabled,
		Interval: p.cfg.Interval,
		Check:    p.check,
	}
}

func (p *LiquidationPolicy) check(ctx context.Context) error {
	keys, err := p.positions.OpenPositionKeys(ctx)
	if err != nil {
		return err
	}

	failed := 0
	for _, key := range keys {
		marketKey := chain.MarketIDToBytes32(key.MarketID)

		vals, err := p.ledger.Call(ctx, p.sender.contract, "positions", key.Address, marketKey)
		if err != nil {
			p.log.Warn().Err(err).
				Str("address", key.Address.Hex()).
				Str("market", key.MarketID).
				Msg("position read failed")
			failed++
			continue
		}
		size, ok := bigOut(vals, 0)
		if !ok || size.Sign() == 0 {
			// Mirror is behind the chain; the indexer will close it shortly.
			continue
		}

		if _, err := p.sender.submit(ctx, "liquidate", key.Address, marketKey, big.NewInt(0)); err != nil {
			p.log.Warn().Err(err).
				Str("address", key.Address.Hex()).
				Str("market", key.MarketID).
				Msg("liquidation attempt failed")
			failed++
		}
	}
	return cycleErr(failed, len(keys), "liquidation probes")
}
