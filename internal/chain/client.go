package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Client is the narrow surface the core needs from the ledger chain.
// The ledger program itself (matching, margin, liquidation rules) is
// authoritative and external; this client only reads its public state,
// queries its event log, and submits transactions to it.
type Client interface {
	// BlockNumber returns the current chain head.
	BlockNumber(ctx context.Context) (uint64, error)

	// FilterEvents returns all decoded ledger events emitted by contract
	// in the inclusive block range [from, to], in block order.
	FilterEvents(ctx context.Context, contract common.Address, from, to uint64) ([]Event, error)

	// SubscribeEvents streams decoded ledger events from contract into sink
	// until the subscription is cancelled or fails.
	SubscribeEvents(ctx context.Context, contract common.Address, sink chan<- Event) (Subscription, error)

	// Call executes a read-only contract function and returns the decoded
	// output values.
	Call(ctx context.Context, contract common.Address, fn string, args ...interface{}) ([]interface{}, error)

	// Transact submits a state-changing contract call and returns the
	// transaction hash. On-chain rejections surface as *RevertError.
	Transact(ctx context.Context, contract common.Address, fn string, args ...interface{}) (common.Hash, error)

	// WaitMined blocks until the transaction is included and returns its
	// receipt. A receipt with Status == 0 means the transaction reverted
	// after inclusion.
	WaitMined(ctx context.Context, txHash common.Hash) (*Receipt, error)
}

// Subscription is a handle on a live event stream.
type Subscription interface {
	// Err delivers the terminal error of the subscription, if any.
	Err() <-chan error
	// Unsubscribe stops the stream. Safe to call more than once.
	Unsubscribe()
}

// Receipt is the subset of a transaction receipt the keepers act on.
type Receipt struct {
	TxHash      common.Hash
	BlockNumber uint64
	Status      uint64
	GasUsed     uint64
}

// Meta carries the provenance of a decoded event.
type Meta struct {
	Contract    common.Address
	TxHash      common.Hash
	BlockNumber uint64
	LogIndex    uint
}

// Event is a decoded ledger program event. Concrete types live in events.go.
type Event interface {
	Name() string
	Meta() Meta
}

// PriceData is the decoded result of getPriceData(marketId).
type PriceData struct {
	Price     *big.Int
	UpdatedAt uint64
}

// MarketConfig is the decoded result of markets(marketId).
type MarketConfig struct {
	AuctionInterval uint64 // seconds; zero disables batch auctions
	LastAuctionTs   uint64
	MaxLeverage     uint64
}

// OnChainPosition is the decoded result of positions(account, marketId).
// Size is signed: positive long, negative short, zero flat.
type OnChainPosition struct {
	Size         *big.Int
	EntryPrice   *big.Int
	FundingEntry *big.Int
}
