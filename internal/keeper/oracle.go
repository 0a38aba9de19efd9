package keeper

import (
	"context"
	"time"

	"PerpKeeper/internal/chain"
	"PerpKeeper/internal/observability"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

// OracleConfig configures the price push policy.
type OracleConfig struct {
	Enabled  bool
	Interval time.Duration
	Markets  []string
}

// OraclePolicy pushes the external index price on-chain for every
// configured market, every cycle, unconditionally. Freshness matters
// more than economy here: a stale oracle stalls every downstream
// trigger (stops, liquidations, funding).
type OraclePolicy struct {
	cfg     OracleConfig
	feed    PriceFeed
	sender  *txSender
	log     zerolog.Logger
	metrics *observability.Metrics
}

func NewOraclePolicy(cfg OracleConfig, feed PriceFeed, ledger Ledger, contract common.Address, log zerolog.Logger, metrics *observability.Metrics) *OraclePolicy {
	return &OraclePolicy{
		cfg:  cfg,
		feed: feed,
		sender: &txSender{
			ledger:   ledger,
			contract: contract,
			policy:   "oracle",
			log:      log,
			metrics:  metrics,
		},
		log:     log,
		metrics: metrics,
	}
}

func (p *OraclePolicy) Policy() Policy {
	return Policy{
		Name:     "oracle",
		Enabled:  p.cfg.Enabled,
		Interval: p.cfg.Interval,
		Check:    p.check,
	}
}

func (p *OraclePolicy) check(ctx context.Context) error {
	failed := 0
	for _, market := range p.cfg.Markets {
		price, err := p.feed.IndexPrice(ctx, market)
		if err != nil {
			// Leave the last on-chain price standing; never push a guess.
			p.log.Warn().Err(err).Str("market", market).Msg("index price unavailable")
			failed++
			continue
		}

		if _, err := p.sender.submit(ctx, "setPrice", chain.MarketIDToBytes32(market), price); err != nil {
			p.log.Warn().Err(err).Str("market", market).Msg("price push failed")
			failed++
		}
	}
	return cycleErr(failed, len(p.cfg.Markets), "price pushes")
}
