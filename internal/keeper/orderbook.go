package keeper

import (
	"context"
	"math/big"
	"time"

	"PerpKeeper/internal/observability"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

// orderIndex is the mirror-store slice the order book policy reads. The
// mirror only narrows the scan; the ledger re-checks executability.
type orderIndex interface {
	ActiveOrderIDs(ctx context.Context) (map[uint64]bool, error)
}

// OrderBookConfig configures the continuous matching policy.
type OrderBookConfig struct {
	Enabled  bool
	Interval time.Duration
}

// OrderBookPolicy sweeps the live order id space and asks the ledger to
// attempt a match for each order the mirror still considers active.
type OrderBookPolicy struct {
	cfg    OrderBookConfig
	ledger Ledger
	orders orderIndex
	sender *txSender
	log    zerolog.Logger
}

func NewOrderBookPolicy(cfg OrderBookConfig, ledger Ledger, orders orderIndex, contract common.Address, log zerolog.Logger, metrics *observability.Metrics) *OrderBookPolicy {
	return &OrderBookPolicy{
		cfg:    cfg,
		ledger: ledger,
		orders: orders,
		sender: &txSender{
			ledger:   ledger,
			contract: contract,
			policy:   "order_book",
			log:      log,
			metrics:  metrics,
		},
		log: log,
	}
}

func (p *OrderBookPolicy) Policy() Policy {
	return Policy{
		Name:     "order_book",
		Enabled:  p.cfg.Enabled,
		Interval: p.cfg.Interval,
		Check:    p.check,
	}
}

func (p *OrderBookPolicy) check(ctx context.Context) error {
	vals, err := p.ledger.Call(ctx, p.sender.contract, "nextOrderId")
	if err != nil {
		return err
	}
	next, ok := bigOut(vals, 0)
	if !ok || !next.IsUint64() {
		p.log.Warn().Interface("outputs", vals).Msg("unusable nextOrderId")
		return nil
	}

	active, err := p.orders.ActiveOrderIDs(ctx)
	if err != nil {
		return err
	}
	if len(active) == 0 {
		return nil
	}

	failed, attempted := 0, 0
	for id := uint64(1); id < next.Uint64(); id++ {
		if !active[id] {
			continue
		}
		attempted++
		if _, err := p.sender.submit(ctx, "executeOrder", new(big.Int).SetUint64(id)); err != nil {
			p.log.Warn().Err(err).Uint64("order_id", id).Msg("execute attempt failed")
			failed++
		}
	}
	return cycleErr(failed, attempted, "order executions")
}
