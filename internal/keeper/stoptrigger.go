package keeper

import (
	"context"
	"math/big"
	"time"

	"PerpKeeper/internal/chain"
	"PerpKeeper/internal/observability"
	"PerpKeeper/internal/projection"
	"PerpKeeper/internal/store"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

// stopOrderIndex is the mirror-store slice the stop trigger policy reads.
type stopOrderIndex interface {
	TriggerPendingOrders(ctx context.Context) ([]store.Order, error)
}

// StopTriggerConfig configures the stop order activation policy.
type StopTriggerConfig struct {
	Enabled  bool
	Interval time.Duration
	PriceTTL time.Duration
}

// StopTriggerPolicy compares pending stop orders against the ledger's
// mark price and activates the ones whose trigger condition holds.
// Buy-stops fire when the mark rises to the trigger, sell-stops when it
// falls to it.
type StopTriggerPolicy struct {
	cfg    StopTriggerConfig
	ledger Ledger
	orders stopOrderIndex
	prices *projection.Expiring[string, *big.Int]
	sender *txSender
	log    zerolog.Logger
}

func NewStopTriggerPolicy(cfg StopTriggerConfig, ledger Ledger, orders stopOrderIndex, contract common.Address, log zerolog.Logger, metrics *observability.Metrics) *StopTriggerPolicy {
	ttl := cfg.PriceTTL
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &StopTriggerPolicy{
		cfg:    cfg,
		ledger: ledger,
		orders: orders,
		prices: projection.NewExpiring[string, *big.Int](ttl),
		sender: &txSender{
			ledger:   ledger,
			contract: contract,
			policy:   "stop_trigger",
			log:      log,
			metrics:  metrics,
		},
		log: log,
	}
}

func (p *StopTriggerPolicy) Policy() Policy {
	return Policy{
		Name:     "stop_trigger",
		Enabled:  p.cfg.Enabled,
		Interval: p.cfg.Interval,
		Check:    p.check,
	}
}

func (p *StopTriggerPolicy) check(ctx context.Context) error {
	pending, err := p.orders.TriggerPendingOrders(ctx)
	if err != nil {
		return err
	}

	failed := 0
	for _, o := range pending {
		if o.TriggerPrice == nil {
			continue
		}
		mark, err := p.markPrice(ctx, o.MarketID)
		if err != nil {
			p.log.Warn().Err(err).Str("market", o.MarketID).Msg("mark price unavailable")
			failed++
			continue
		}
		if !triggered(o.Side, mark, o.TriggerPrice) {
			continue
		}

		if _, err := p.sender.submit(ctx, "triggerStopOrder", new(big.Int).SetUint64(o.OrderID)); err != nil {
			p.log.Warn().Err(err).Uint64("order_id", o.OrderID).Msg("stop activation failed")
			failed++
		}
	}
	return cycleErr(failed, len(pending), "stop activations")
}

func (p *StopTriggerPolicy) markPrice(ctx context.Context, marketID string) (*big.Int, error) {
	if cached, ok := p.prices.Get(marketID); ok {
		return cached, nil
	}
	vals, err := p.ledger.Call(ctx, p.sender.contract, "getPriceData", chain.MarketIDToBytes32(marketID))
	if err != nil {
		return nil, err
	}
	price, ok := bigOut(vals, 0)
	if !ok {
		return nil, errNotABigInt
	}
	p.prices.Set(marketID, price)
	return price, nil
}

func triggered(side store.Side, mark, trigger *big.Int) bool {
	if side == store.SideBuy {
		return mark.Cmp(trigger) >= 0
	}
	return mark.Cmp(trigger) <= 0
}
