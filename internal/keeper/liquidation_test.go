package keeper_test

import (
	"context"
	"math/big"
	"testing"
	"time"

	"PerpKeeper/internal/chain"
	"PerpKeeper/internal/keeper"
	"PerpKeeper/internal/store"

	"github.com/ethereum/go-ethereum/common"
)

type fakePositionIndex struct {
	keys []store.PositionKey
}

func (f *fakePositionIndex) OpenPositionKeys(ctx context.Context) ([]store.PositionKey, error) {
	return f.keys, nil
}

func TestLiquidationProbesOnlyOpenOnChainPositions(t *testing.T) {
	alice := common.HexToAddress("0x01")
	bob := common.HexToAddress("0x02")
	marketKey := chain.MarketIDToBytes32("BTC-PERP")

	ledger := newFakeLedger()
	// Alice still has size on-chain; Bob's position closed between the
	// mirror snapshot and this cycle.
	ledger.stubCall("positions", []interface{}{alice, marketKey},
		big.NewInt(5), big.NewInt(100), big.NewInt(0))
	ledger.stubCall("positions", []interface{}{bob, marketKey},
		big.NewInt(0), big.NewInt(0), big.NewInt(0))

	idx := &fakePositionIndex{keys: []store.PositionKey{
		{Address: alice, MarketID: "BTC-PERP"},
		{Address: bob, MarketID: "BTC-PERP"},
	}}

	p := keeper.NewLiquidationPolicy(
		keeper.LiquidationConfig{Enabled: true, Interval: time.Second},
		ledger, idx, testContract, testLogger(), nil)

	if err := p.Policy().Check(context.Background()); err != nil {
		t.Fatalf("check failed: %v", err)
	}

	sent := ledger.sentCalls("liquidate")
	if len(sent) != 1 {
		t.Fatalf("expected 1 liquidation attempt, got %d", len(sent))
	}
	if got := sent[0].args[0].(common.Address); got != alice {
		t.Errorf("liquidated %s, want %s", got.Hex(), alice.Hex())
	}
}

func TestLiquidationSwallowsBenignRevert(t *testing.T) {
	alice := common.HexToAddress("0x01")
	marketKey := chain.MarketIDToBytes32("ETH-PERP")

	ledger := newFakeLedger()
	ledger.stubCall("positions", []interface{}{alice, marketKey},
		big.NewInt(-3), big.NewInt(2000), big.NewInt(0))
	ledger.stubTxErr("liquidate", &chain.RevertError{
		Code:   chain.RevertNotLiquidatable,
		Reason: "sufficient margin",
	})

	idx := &fakePositionIndex{keys: []store.PositionKey{
		{Address: alice, MarketID: "ETH-PERP"},
	}}

	p := keeper.NewLiquidationPolicy(
		keeper.LiquidationConfig{Enabled: true, Interval: time.Second},
		ledger, idx, testContract, testLogger(), nil)

	// Losing the race to a healthier position is not a cycle failure.
	if err := p.Policy().Check(context.Background()); err != nil {
		t.Fatalf("benign revert surfaced as error: %v", err)
	}
	if sent := ledger.sentCalls("liquidate"); len(sent) != 0 {
		t.Errorf("reverted transaction recorded as sent: %d", len(sent))
	}
}
