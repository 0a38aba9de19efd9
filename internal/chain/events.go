package chain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Typed ledger events. Packed on-chain fields are already decoded here:
// marketId arrives as a zero-padded bytes32 and is trimmed to its string
// form, sizes and prices stay *big.Int at the ledger's fixed-point scale,
// and small-int enums become named variants at the mirror layer.

// OrderPlaced is emitted when a new order enters the ledger's book or
// trigger/auction queue. Size is signed: its sign carries the side.
type OrderPlaced struct {
	EventMeta Meta
	OrderID   uint64
	Owner     common.Address
	MarketID  string
	Size      *big.Int
	Price     *big.Int // nil or zero for market orders
	Mode      uint8    // 0 continuous, 1 batch
	OrderType uint8    // 0 market, 1 limit, 2 stop
	Trigger   *big.Int // stop orders only
}

func (e *OrderPlaced) Name() string { return "OrderPlaced" }
func (e *OrderPlaced) Meta() Meta   { return e.EventMeta }

// OrderMatched is emitted once per fill, per side.
type OrderMatched struct {
	EventMeta Meta
	OrderID   uint64
	MarketID  string
	Size      *big.Int // signed, sign is the taker side
	Price     *big.Int
	IsMaker   bool
}

func (e *OrderMatched) Name() string { return "OrderMatched" }
func (e *OrderMatched) Meta() Meta   { return e.EventMeta }

type OrderCancelled struct {
	EventMeta Meta
	OrderID   uint64
	Owner     common.Address
}

func (e *OrderCancelled) Name() string { return "OrderCancelled" }
func (e *OrderCancelled) Meta() Meta   { return e.EventMeta }

// AuctionExecuted is emitted when a batch auction clears.
type AuctionExecuted struct {
	EventMeta     Meta
	MarketID      string
	ClearingPrice *big.Int
	OrdersTouched uint64
	BuyVolume     *big.Int
	SellVolume    *big.Int
	MatchedVolume *big.Int
}

func (e *AuctionExecuted) Name() string { return "AuctionExecuted" }
func (e *AuctionExecuted) Meta() Meta   { return e.EventMeta }

type PositionOpened struct {
	EventMeta  Meta
	Account    common.Address
	MarketID   string
	Size       *big.Int // signed
	EntryPrice *big.Int
}

func (e *PositionOpened) Name() string { return "PositionOpened" }
func (e *PositionOpened) Meta() Meta   { return e.EventMeta }

type PositionUpdated struct {
	EventMeta  Meta
	Account    common.Address
	MarketID   string
	Size       *big.Int // signed; new total size
	EntryPrice *big.Int
}

func (e *PositionUpdated) Name() string { return "PositionUpdated" }
func (e *PositionUpdated) Meta() Meta   { return e.EventMeta }

type PositionClosed struct {
	EventMeta Meta
	Account   common.Address
	MarketID  string
	Size      *big.Int
	ExitPrice *big.Int
	Pnl       *big.Int // signed
}

func (e *PositionClosed) Name() string { return "PositionClosed" }
func (e *PositionClosed) Meta() Meta   { return e.EventMeta }

type LiquidationExecuted struct {
	EventMeta  Meta
	Account    common.Address
	Liquidator common.Address
	MarketID   string
	Size       *big.Int
	Price      *big.Int
	Pnl        *big.Int
	Penalty    *big.Int
}

func (e *LiquidationExecuted) Name() string { return "LiquidationExecuted" }
func (e *LiquidationExecuted) Meta() Meta   { return e.EventMeta }

type FundingRateUpdated struct {
	EventMeta      Meta
	MarketID       string
	RatePerSecond  *big.Int // signed
	CumulativeRate *big.Int
}

func (e *FundingRateUpdated) Name() string { return "FundingRateUpdated" }
func (e *FundingRateUpdated) Meta() Meta   { return e.EventMeta }

type VaultDeposit struct {
	EventMeta Meta
	Account   common.Address
	Assets    *big.Int
	Shares    *big.Int
}

func (e *VaultDeposit) Name() string { return "VaultDeposit" }
func (e *VaultDeposit) Meta() Meta   { return e.EventMeta }

type VaultWithdraw struct {
	EventMeta Meta
	Account   common.Address
	Assets    *big.Int
	Shares    *big.Int
}

func (e *VaultWithdraw) Name() string { return "VaultWithdraw" }
func (e *VaultWithdraw) Meta() Meta   { return e.EventMeta }
