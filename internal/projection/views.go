// Package projection computes the on-demand read models the presentation
// layer consumes: order book depth, recent trades, and open positions,
// each derived from mirror tables and cached briefly.
package projection

import (
	"context"
	"time"

	"PerpKeeper/internal/observability"
	"PerpKeeper/internal/store"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

const (
	bookTTL      = 10 * time.Second
	tradesTTL    = 10 * time.Second
	positionsTTL = 30 * time.Second

	recentTradeLimit = 100
)

// Views serves the derived read models.
type Views struct {
	store   *store.Store
	log     zerolog.Logger
	metrics *observability.Metrics

	books     *Expiring[string, []store.DepthLevel]
	trades    *Expiring[string, []store.Trade]
	positions *Expiring[common.Address, []store.Position]
}

// NewViews builds the read-model layer over the mirror store.
func NewViews(st *store.Store, log zerolog.Logger, metrics *observability.Metrics) *Views {
	return &Views{
		store:     st,
		log:       log,
		metrics:   metrics,
		books:     NewExpiring[string, []store.DepthLevel](bookTTL),
		trades:    NewExpiring[string, []store.Trade](tradesTTL),
		positions: NewExpiring[common.Address, []store.Position](positionsTTL),
	}
}

// OrderBook returns the aggregated depth of one market.
func (v *Views) OrderBook(ctx context.Context, marketID string) ([]store.DepthLevel, error) {
	if levels, ok := v.books.Get(marketID); ok {
		v.hit("order_book")
		return levels, nil
	}
	v.miss("order_book")

	levels, err := v.store.OrderBookDepth(ctx, marketID)
	if err != nil {
		return nil, err
	}
	v.books.Set(marketID, levels)
	return levels, nil
}

// RecentTrades returns the newest trades of one market.
func (v *Views) RecentTrades(ctx context.Context, marketID string) ([]store.Trade, error) {
	if trades, ok := v.trades.Get(marketID); ok {
		v.hit("recent_trades")
		return trades, nil
	}
	v.miss("recent_trades")

	trades, err := v.store.RecentTrades(ctx, marketID, recentTradeLimit)
	if err != nil {
		return nil, err
	}
	v.trades.Set(marketID, trades)
	return trades, nil
}

// OpenPositions returns one account's open positions.
func (v *Views) OpenPositions(ctx context.Context, addr common.Address) ([]store.Position, error) {
	if positions, ok := v.positions.Get(addr); ok {
		v.hit("open_positions")
		return positions, nil
	}
	v.miss("open_positions")

	positions, err := v.store.OpenPositionsByAddress(ctx, addr)
	if err != nil {
		return nil, err
	}
	v.positions.Set(addr, positions)
	return positions, nil
}

// InvalidateMarket drops the market-scoped views after an indexed event
// touched that market.
func (v *Views) InvalidateMarket(marketID string) {
	v.books.Invalidate(marketID)
	v.trades.Invalidate(marketID)
	if v.metrics != nil {
		v.metrics.ProjectionRefreshes.WithLabelValues("market").Inc()
	}
}

// InvalidateAddress drops the account-scoped views.
func (v *Views) InvalidateAddress(addr common.Address) {
	v.positions.Invalidate(addr)
	if v.metrics != nil {
		v.metrics.ProjectionRefreshes.WithLabelValues("address").Inc()
	}
}

func (v *Views) hit(cache string) {
	if v.metrics != nil {
		v.metrics.CacheHits.WithLabelValues(cache).Inc()
	}
}

func (v *Views) miss(cache string) {
	if v.metrics != nil {
		v.metrics.CacheMisses.WithLabelValues(cache).Inc()
	}
}
