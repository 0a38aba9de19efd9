// Package store owns the durable mirror of ledger state: orders, trades,
// positions, funding and auction records, vault flows, and the per-stream
// checkpoints that make indexer restarts safe. Every write is an
// idempotent upsert keyed by a natural identifier, so catch-up and live
// delivery may overlap freely.
package store

import (
	"database/sql"
	"math/big"
	"time"

	"PerpKeeper/internal/observability"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

// Side of an order or trade.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// SideFromSize derives the side from a signed ledger size field.
func SideFromSize(size *big.Int) Side {
	if size.Sign() < 0 {
		return SideSell
	}
	return SideBuy
}

// OrderType mirrors the ledger's small-int order type enum.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
	OrderTypeStop   OrderType = "stop"
)

// OrderTypeFromCode maps the packed on-chain enum to its named variant.
func OrderTypeFromCode(code uint8) OrderType {
	switch code {
	case 1:
		return OrderTypeLimit
	case 2:
		return OrderTypeStop
	default:
		return OrderTypeMarket
	}
}

// OrderMode mirrors the ledger's matching mode enum.
type OrderMode string

const (
	ModeContinuous OrderMode = "continuous"
	ModeBatch      OrderMode = "batch"
)

// OrderModeFromCode maps the packed on-chain enum to its named variant.
func OrderModeFromCode(code uint8) OrderMode {
	if code == 1 {
		return ModeBatch
	}
	return ModeContinuous
}

// OrderStatus is the mirrored order state machine. Transitions happen only
// through indexed events.
type OrderStatus string

const (
	StatusLive             OrderStatus = "live"
	StatusQueuedForAuction OrderStatus = "queued_for_auction"
	StatusTriggerPending   OrderStatus = "trigger_pending"
	StatusFilled           OrderStatus = "filled"
	StatusCancelled        OrderStatus = "cancelled"
)

// Order mirrors one ledger order. Size and Filled are absolute quantities;
// the side carries the sign.
type Order struct {
	OrderID      uint64
	Owner        common.Address
	MarketID     string
	Side         Side
	Type         OrderType
	Mode         OrderMode
	Size         *big.Int
	Filled       *big.Int
	Price        *big.Int // nil for market orders
	TriggerPrice *big.Int // nil unless stop
	Status       OrderStatus
	CreatedAt    time.Time
	FilledAt     *time.Time
	CancelledAt  *time.Time
	TxHash       common.Hash
}

// Trade is an immutable matched-fill fact, deduplicated by (txHash, orderId).
type Trade struct {
	MarketID    string
	OrderID     uint64
	Side        Side
	Size        *big.Int
	Price       *big.Int
	IsMaker     bool
	TxHash      common.Hash
	BlockNumber uint64
	CreatedAt   time.Time
}

// Position mirrors one ledger position lifecycle. At most one row per
// (address, marketId) has CloseAt unset.
type Position struct {
	Address      common.Address
	MarketID     string
	Size         *big.Int // signed
	EntryPrice   *big.Int
	FundingEntry *big.Int
	OpenedAt     time.Time
	ClosedAt     *time.Time
	TxHashOpen   common.Hash
	TxHashClose  *common.Hash
}

// PositionKey identifies a position holder within a market.
type PositionKey struct {
	Address  common.Address
	MarketID string
}

// FundingRecord is an immutable per-market, per-block funding snapshot.
type FundingRecord struct {
	MarketID      string
	RatePerSecond *big.Int
	Cumulative    *big.Int
	LongNotional  *big.Int
	ShortNotional *big.Int
	Imbalance     *big.Int
	BlockNumber   uint64
	CreatedAt     time.Time
}

// AuctionRecord is an immutable executed-batch fact, deduplicated by txHash.
type AuctionRecord struct {
	MarketID      string
	ClearingPrice *big.Int
	OrdersTouched uint64
	BuyVolume     *big.Int
	SellVolume    *big.Int
	MatchedVolume *big.Int
	TxHash        common.Hash
	BlockNumber   uint64
}

// VaultFlow is an immutable deposit/withdrawal entry, deduplicated by txHash.
type VaultFlow struct {
	Address   common.Address
	Direction string // "deposit" or "withdraw"
	Assets    *big.Int
	Shares    *big.Int
	TxHash    common.Hash
	CreatedAt time.Time
}

// DepthLevel is one aggregated price level of the mirrored book.
type DepthLevel struct {
	Price *big.Int
	Side  Side
	Size  *big.Int // remaining (size − filled) summed across orders
}

// Store is the Postgres-backed mirror store.
type Store struct {
	db      *sql.DB
	log     zerolog.Logger
	metrics *observability.Metrics
}

// New wraps an open database handle. metrics may be nil in tests.
func New(db *sql.DB, log zerolog.Logger, metrics *observability.Metrics) *Store {
	return &Store{db: db, log: log, metrics: metrics}
}

// DB exposes the handle for the migrator and test helpers.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) countWrite(table string) {
	if s.metrics != nil {
		s.metrics.StoreWrites.WithLabelValues(table).Inc()
	}
}

func (s *Store) countError(table string) {
	if s.metrics != nil {
		s.metrics.StoreErrors.WithLabelValues(table).Inc()
	}
}

// numeric renders a *big.Int for a NUMERIC column; nil maps to SQL NULL.
func numeric(v *big.Int) interface{} {
	if v == nil {
		return nil
	}
	return v.String()
}

// scanBig parses a NUMERIC column scanned into a nullable string.
func scanBig(s sql.NullString) *big.Int {
	if !s.Valid {
		return nil
	}
	v, ok := new(big.Int).SetString(s.String, 10)
	if !ok {
		return nil
	}
	return v
}
