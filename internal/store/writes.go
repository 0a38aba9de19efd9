package store

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// UpsertOrder mirrors an OrderPlaced event. A replayed insert for an
// existing id is a no-op, except that a re-emission for a trigger-pending
// stop order activates it (the ledger re-announces stops when they arm).
func (s *Store) UpsertOrder(ctx context.Context, o *Order) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO mirror.orders
			(order_id, owner, market_id, side, order_type, mode, size, filled,
			 price, trigger_price, status, created_at, tx_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (order_id) DO UPDATE
			SET status = EXCLUDED.status
			WHERE mirror.orders.status = 'trigger_pending'
	`,
		int64(o.OrderID), hexAddr(o.Owner), o.MarketID, string(o.Side),
		string(o.Type), string(o.Mode), numeric(o.Size), numeric(o.Filled),
		numeric(o.Price), numeric(o.TriggerPrice), string(o.Status),
		o.CreatedAt, o.TxHash.Hex(),
	)
	if err != nil {
		s.countError("orders")
		return fmt.Errorf("upsert order %d: %w", o.OrderID, err)
	}
	s.countWrite("orders")
	return nil
}

// InsertTrade appends a matched fill. It reports whether the row was new:
// duplicates from the catch-up/live overlap return (false, nil), and the
// caller must skip the dependent order-fill mutation for those.
func (s *Store) InsertTrade(ctx context.Context, t *Trade) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO mirror.trades
			(market_id, order_id, side, size, price, is_maker,
			 tx_hash, block_number, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (tx_hash, order_id) DO NOTHING
	`,
		t.MarketID, int64(t.OrderID), string(t.Side), numeric(t.Size),
		numeric(t.Price), t.IsMaker, t.TxHash.Hex(), int64(t.BlockNumber),
		t.CreatedAt,
	)
	if err != nil {
		s.countError("trades")
		return false, fmt.Errorf("insert trade %s/%d: %w", t.TxHash.Hex(), t.OrderID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		s.countWrite("trades")
	}
	return n > 0, nil
}

// ApplyOrderFill advances an order's filled quantity after a trade row was
// actually inserted. Reaching the full size flips the order to filled.
func (s *Store) ApplyOrderFill(ctx context.Context, orderID uint64, fill *big.Int, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE mirror.orders
		SET filled = filled + $2,
		    status = CASE WHEN filled + $2 >= size THEN 'filled' ELSE status END,
		    filled_at = CASE WHEN filled + $2 >= size THEN $3 ELSE filled_at END
		WHERE order_id = $1
		  AND status NOT IN ('filled', 'cancelled')
	`, int64(orderID), numeric(fill), at)
	if err != nil {
		s.countError("orders")
		return fmt.Errorf("apply fill to order %d: %w", orderID, err)
	}
	s.countWrite("orders")
	return nil
}

// CancelOrder marks an order cancelled. Already-terminal orders are left
// alone, so replays are harmless.
func (s *Store) CancelOrder(ctx context.Context, orderID uint64, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE mirror.orders
		SET status = 'cancelled', cancelled_at = $2
		WHERE order_id = $1
		  AND status NOT IN ('filled', 'cancelled')
	`, int64(orderID), at)
	if err != nil {
		s.countError("orders")
		return fmt.Errorf("cancel order %d: %w", orderID, err)
	}
	s.countWrite("orders")
	return nil
}

// OpenPosition creates a new open position unless one already exists for
// (address, marketId). The partial unique index enforces the at-most-one
// open row invariant under concurrent writers.
func (s *Store) OpenPosition(ctx context.Context, p *Position) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO mirror.positions
			(address, market_id, size, entry_price, funding_entry,
			 opened_at, tx_hash_open)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (address, market_id) WHERE closed_at IS NULL DO NOTHING
	`,
		hexAddr(p.Address), p.MarketID, numeric(p.Size), numeric(p.EntryPrice),
		numeric(p.FundingEntry), p.OpenedAt, p.TxHashOpen.Hex(),
	)
	if err != nil {
		s.countError("positions")
		return fmt.Errorf("open position %s/%s: %w", p.Address.Hex(), p.MarketID, err)
	}
	s.countWrite("positions")
	return nil
}

// UpdatePosition mutates the open row for (address, marketId) in place.
// Position-updated events always carry the new absolute state, so replays
// converge.
func (s *Store) UpdatePosition(ctx context.Context, addr common.Address, marketID string, size, entryPrice *big.Int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE mirror.positions
		SET size = $3, entry_price = $4
		WHERE address = $1 AND market_id = $2 AND closed_at IS NULL
	`, hexAddr(addr), marketID, numeric(size), numeric(entryPrice))
	if err != nil {
		s.countError("positions")
		return fmt.Errorf("update position %s/%s: %w", addr.Hex(), marketID, err)
	}
	s.countWrite("positions")
	return nil
}

// ClosePosition seals the open row for (address, marketId). A second close
// for the same position finds no open row and is a no-op.
func (s *Store) ClosePosition(ctx context.Context, addr common.Address, marketID string, at time.Time, txHash common.Hash) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE mirror.positions
		SET closed_at = $3, tx_hash_close = $4, size = 0
		WHERE address = $1 AND market_id = $2 AND closed_at IS NULL
	`, hexAddr(addr), marketID, at, txHash.Hex())
	if err != nil {
		s.countError("positions")
		return fmt.Errorf("close position %s/%s: %w", addr.Hex(), marketID, err)
	}
	s.countWrite("positions")
	return nil
}

// InsertFundingRecord appends a funding snapshot, deduplicated per market
// per block.
func (s *Store) InsertFundingRecord(ctx context.Context, r *FundingRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO mirror.funding_records
			(market_id, rate_per_second, cumulative_rate, long_notional,
			 short_notional, imbalance, block_number, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (market_id, block_number) DO NOTHING
	`,
		r.MarketID, numeric(r.RatePerSecond), numeric(r.Cumulative),
		numeric(r.LongNotional), numeric(r.ShortNotional), numeric(r.Imbalance),
		int64(r.BlockNumber), r.CreatedAt,
	)
	if err != nil {
		s.countError("funding_records")
		return fmt.Errorf("insert funding record %s@%d: %w", r.MarketID, r.BlockNumber, err)
	}
	s.countWrite("funding_records")
	return nil
}

// InsertAuctionRecord appends an executed-batch record, deduplicated by tx.
func (s *Store) InsertAuctionRecord(ctx context.Context, r *AuctionRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO mirror.auction_records
			(market_id, clearing_price, orders_touched, buy_volume,
			 sell_volume, matched_volume, tx_hash, block_number)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (tx_hash) DO NOTHING
	`,
		r.MarketID, numeric(r.ClearingPrice), int64(r.OrdersTouched),
		numeric(r.BuyVolume), numeric(r.SellVolume), numeric(r.MatchedVolume),
		r.TxHash.Hex(), int64(r.BlockNumber),
	)
	if err != nil {
		s.countError("auction_records")
		return fmt.Errorf("insert auction record %s: %w", r.TxHash.Hex(), err)
	}
	s.countWrite("auction_records")
	return nil
}

// InsertVaultFlow appends a deposit/withdrawal entry, deduplicated by tx.
func (s *Store) InsertVaultFlow(ctx context.Context, f *VaultFlow) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO mirror.vault_flows
			(address, direction, assets, shares, tx_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (tx_hash) DO NOTHING
	`,
		hexAddr(f.Address), f.Direction, numeric(f.Assets), numeric(f.Shares),
		f.TxHash.Hex(), f.CreatedAt,
	)
	if err != nil {
		s.countError("vault_flows")
		return fmt.Errorf("insert vault flow %s: %w", f.TxHash.Hex(), err)
	}
	s.countWrite("vault_flows")
	return nil
}

func hexAddr(a common.Address) string {
	return a.Hex()
}
