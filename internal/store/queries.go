package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// OpenPositionKeys returns every distinct (address, market) with an open
// mirrored position. The liquidation keeper walks this set each cycle.
func (s *Store) OpenPositionKeys(ctx context.Context) ([]PositionKey, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT address, market_id
		FROM mirror.positions
		WHERE closed_at IS NULL
		ORDER BY address, market_id
	`)
	if err != nil {
		return nil, fmt.Errorf("open position keys: %w", err)
	}
	defer rows.Close()

	var keys []PositionKey
	for rows.Next() {
		var addr, market string
		if err := rows.Scan(&addr, &market); err != nil {
			return nil, err
		}
		keys = append(keys, PositionKey{
			Address:  common.HexToAddress(addr),
			MarketID: market,
		})
	}
	return keys, rows.Err()
}

// OpenPositionsByMarket returns the open positions in one market. The
// funding keeper aggregates these into long/short notionals.
func (s *Store) OpenPositionsByMarket(ctx context.Context, marketID string) ([]Position, error) {
	return s.queryPositions(ctx, `
		SELECT address, market_id, size, entry_price, funding_entry,
		       opened_at, tx_hash_open
		FROM mirror.positions
		WHERE market_id = $1 AND closed_at IS NULL
		ORDER BY address
	`, marketID)
}

// OpenPositionsByAddress returns the open positions of one account, for
// the positions read-model.
func (s *Store) OpenPositionsByAddress(ctx context.Context, addr common.Address) ([]Position, error) {
	return s.queryPositions(ctx, `
		SELECT address, market_id, size, entry_price, funding_entry,
		       opened_at, tx_hash_open
		FROM mirror.positions
		WHERE address = $1 AND closed_at IS NULL
		ORDER BY market_id
	`, hexAddr(addr))
}

func (s *Store) queryPositions(ctx context.Context, query string, arg interface{}) ([]Position, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("query positions: %w", err)
	}
	defer rows.Close()

	var out []Position
	for rows.Next() {
		var (
			p            Position
			addr, txOpen string
			size, entry  sql.NullString
			funding      sql.NullString
		)
		if err := rows.Scan(&addr, &p.MarketID, &size, &entry, &funding,
			&p.OpenedAt, &txOpen); err != nil {
			return nil, err
		}
		p.Address = common.HexToAddress(addr)
		p.Size = scanBig(size)
		p.EntryPrice = scanBig(entry)
		p.FundingEntry = scanBig(funding)
		p.TxHashOpen = common.HexToHash(txOpen)
		out = append(out, p)
	}
	return out, rows.Err()
}

// ActiveOrderIDs returns the ids of mirrored live, non-market orders. The
// orderbook-execution keeper uses them to pre-filter its full id scan.
func (s *Store) ActiveOrderIDs(ctx context.Context) (map[uint64]bool, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT order_id
		FROM mirror.orders
		WHERE status = 'live' AND order_type <> 'market'
	`)
	if err != nil {
		return nil, fmt.Errorf("active order ids: %w", err)
	}
	defer rows.Close()

	active := make(map[uint64]bool)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		active[uint64(id)] = true
	}
	return active, rows.Err()
}

// TriggerPendingOrders returns stop orders awaiting their price condition.
func (s *Store) TriggerPendingOrders(ctx context.Context) ([]Order, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT order_id, owner, market_id, side, order_type, mode,
		       size, filled, price, trigger_price, status, created_at, tx_hash
		FROM mirror.orders
		WHERE status = 'trigger_pending'
		ORDER BY order_id
	`)
	if err != nil {
		return nil, fmt.Errorf("trigger pending orders: %w", err)
	}
	defer rows.Close()
	return scanOrders(rows)
}

// LiveOrdersByMarket returns the live orders of one market for depth
// aggregation.
func (s *Store) LiveOrdersByMarket(ctx context.Context, marketID string) ([]Order, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT order_id, owner, market_id, side, order_type, mode,
		       size, filled, price, trigger_price, status, created_at, tx_hash
		FROM mirror.orders
		WHERE market_id = $1 AND status = 'live' AND price IS NOT NULL
		ORDER BY price
	`, marketID)
	if err != nil {
		return nil, fmt.Errorf("live orders %s: %w", marketID, err)
	}
	defer rows.Close()
	return scanOrders(rows)
}

func scanOrders(rows *sql.Rows) ([]Order, error) {
	var out []Order
	for rows.Next() {
		var (
			o                          Order
			id                         int64
			owner, side, typ, mode, tx string
			status                     string
			size, filled, price, trig  sql.NullString
		)
		if err := rows.Scan(&id, &owner, &o.MarketID, &side, &typ, &mode,
			&size, &filled, &price, &trig, &status, &o.CreatedAt, &tx); err != nil {
			return nil, err
		}
		o.OrderID = uint64(id)
		o.Owner = common.HexToAddress(owner)
		o.Side = Side(side)
		o.Type = OrderType(typ)
		o.Mode = OrderMode(mode)
		o.Size = scanBig(size)
		o.Filled = scanBig(filled)
		o.Price = scanBig(price)
		o.TriggerPrice = scanBig(trig)
		o.Status = OrderStatus(status)
		o.TxHash = common.HexToHash(tx)
		out = append(out, o)
	}
	return out, rows.Err()
}

// OrderBookDepth aggregates remaining live quantity per price level.
func (s *Store) OrderBookDepth(ctx context.Context, marketID string) ([]DepthLevel, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT price, side, SUM(size - filled) AS remaining
		FROM mirror.orders
		WHERE market_id = $1 AND status = 'live' AND price IS NOT NULL
		GROUP BY price, side
		HAVING SUM(size - filled) > 0
		ORDER BY price DESC
	`, marketID)
	if err != nil {
		return nil, fmt.Errorf("order book depth %s: %w", marketID, err)
	}
	defer rows.Close()

	var levels []DepthLevel
	for rows.Next() {
		var (
			price, remaining sql.NullString
			side             string
		)
		if err := rows.Scan(&price, &side, &remaining); err != nil {
			return nil, err
		}
		levels = append(levels, DepthLevel{
			Price: scanBig(price),
			Side:  Side(side),
			Size:  scanBig(remaining),
		})
	}
	return levels, rows.Err()
}

// RecentTrades returns the latest n trades in one market, newest first.
func (s *Store) RecentTrades(ctx context.Context, marketID string, n int) ([]Trade, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT market_id, order_id, side, size, price, is_maker,
		       tx_hash, block_number, created_at
		FROM mirror.trades
		WHERE market_id = $1
		ORDER BY block_number DESC, created_at DESC
		LIMIT $2
	`, marketID, n)
	if err != nil {
		return nil, fmt.Errorf("recent trades %s: %w", marketID, err)
	}
	defer rows.Close()

	var out []Trade
	for rows.Next() {
		var (
			t           Trade
			id, block   int64
			side, tx    string
			size, price sql.NullString
		)
		if err := rows.Scan(&t.MarketID, &id, &side, &size, &price,
			&t.IsMaker, &tx, &block, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.OrderID = uint64(id)
		t.Side = Side(side)
		t.Size = scanBig(size)
		t.Price = scanBig(price)
		t.TxHash = common.HexToHash(tx)
		t.BlockNumber = uint64(block)
		out = append(out, t)
	}
	return out, rows.Err()
}

// KnownAddresses returns every address the mirror has ever seen holding a
// position or moving vault collateral. The reserves keeper enumerates
// these when rebuilding the liability tree.
func (s *Store) KnownAddresses(ctx context.Context) ([]common.Address, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT address FROM mirror.positions
		UNION
		SELECT address FROM mirror.vault_flows
		ORDER BY address
	`)
	if err != nil {
		return nil, fmt.Errorf("known addresses: %w", err)
	}
	defer rows.Close()

	var out []common.Address
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, err
		}
		out = append(out, common.HexToAddress(a))
	}
	return out, rows.Err()
}

// LastFundingTime returns when the newest funding record for a market was
// written, or the zero time if none exists. The funding keeper uses it to
// skip markets settled within the current interval.
func (s *Store) LastFundingTime(ctx context.Context, marketID string) (time.Time, error) {
	var at sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT max(created_at) FROM mirror.funding_records WHERE market_id = $1
	`, marketID).Scan(&at)
	if err != nil {
		return time.Time{}, fmt.Errorf("last funding time %s: %w", marketID, err)
	}
	if !at.Valid {
		return time.Time{}, nil
	}
	return at.Time, nil
}

// Markets returns every market id the mirror knows about.
func (s *Store) Markets(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT market_id FROM mirror.orders
		UNION
		SELECT market_id FROM mirror.positions
		ORDER BY market_id
	`)
	if err != nil {
		return nil, fmt.Errorf("markets: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
