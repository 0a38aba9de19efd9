package keeper_test

import (
	"context"
	"math/big"
	"testing"
	"time"

	"PerpKeeper/internal/keeper"
	"PerpKeeper/internal/merkle"

	"github.com/ethereum/go-ethereum/common"
)

type fakeAccountIndex struct {
	addrs []common.Address
}

func (f *fakeAccountIndex) KnownAddresses(ctx context.Context) ([]common.Address, error) {
	return f.addrs, nil
}

func TestReservesPublishesRootMatchingSnapshot(t *testing.T) {
	addrs := []common.Address{
		common.HexToAddress("0x01"),
		common.HexToAddress("0x02"),
		common.HexToAddress("0x03"),
	}
	balances := []*big.Int{big.NewInt(100), big.NewInt(250), big.NewInt(0)}

	ledger := newFakeLedger()
	for i, addr := range addrs {
		ledger.stubCall("collateralBalance", []interface{}{addr}, balances[i])
	}

	p := keeper.NewReservesPolicy(
		keeper.ReservesConfig{Enabled: true, Interval: time.Minute},
		ledger, &fakeAccountIndex{addrs: addrs}, testContract, testLogger(), nil)

	if p.Current() != nil {
		t.Fatal("tree present before first snapshot")
	}

	if err := p.Policy().Check(context.Background()); err != nil {
		t.Fatalf("check failed: %v", err)
	}

	tree := p.Current()
	if tree == nil {
		t.Fatal("no tree after snapshot")
	}
	if tree.AccountCount != len(addrs) {
		t.Errorf("account count = %d, want %d", tree.AccountCount, len(addrs))
	}
	if tree.TotalLiabilities.Cmp(big.NewInt(350)) != 0 {
		t.Errorf("total liabilities = %s, want 350", tree.TotalLiabilities)
	}

	// The committed root must match an independent rebuild of the same
	// snapshot, and every account must hold a verifying proof against it.
	leaves := make([]merkle.Leaf, len(addrs))
	for i := range addrs {
		leaves[i] = merkle.Leaf{Address: addrs[i], Balance: balances[i]}
	}
	want, err := merkle.Build(leaves)
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if tree.Root != want.Root {
		t.Fatalf("published root does not match rebuilt root")
	}

	for i, addr := range addrs {
		proof, ok := p.Proof(addr)
		if !ok {
			t.Fatalf("no proof for %s", addr.Hex())
		}
		if !merkle.Verify(tree.Root, addr, balances[i], proof) {
			t.Errorf("proof for %s does not verify", addr.Hex())
		}
	}

	sent := ledger.sentCalls("updateMerkleRoot")
	if len(sent) != 1 {
		t.Fatalf("expected 1 root commit, got %d", len(sent))
	}
	if got := sent[0].args[0].([32]byte); got != tree.Root {
		t.Errorf("committed root differs from in-memory tree root")
	}
	if got := sent[0].args[1].(*big.Int); got.Cmp(tree.TotalLiabilities) != 0 {
		t.Errorf("committed liabilities = %s, want %s", got, tree.TotalLiabilities)
	}
}

func TestReservesEmptyCallOutputFailsSnapshotWithoutPanic(t *testing.T) {
	addr := common.HexToAddress("0x01")
	ledger := newFakeLedger()
	// A misbehaving node decoding to zero outputs must fail the snapshot,
	// not panic the cycle.
	ledger.stubCall("collateralBalance", []interface{}{addr})

	p := keeper.NewReservesPolicy(
		keeper.ReservesConfig{Enabled: true, Interval: time.Minute},
		ledger, &fakeAccountIndex{addrs: []common.Address{addr}}, testContract, testLogger(), nil)

	if err := p.Policy().Check(context.Background()); err == nil {
		t.Fatal("expected an error for an empty call output")
	}
	if p.Current() != nil {
		t.Error("tree published from an unusable snapshot")
	}
	if len(ledger.sentCalls("updateMerkleRoot")) != 0 {
		t.Error("root committed from an unusable snapshot")
	}
}

func TestReservesEmptyAccountSetCommitsZeroRoot(t *testing.T) {
	ledger := newFakeLedger()
	p := keeper.NewReservesPolicy(
		keeper.ReservesConfig{Enabled: true, Interval: time.Minute},
		ledger, &fakeAccountIndex{}, testContract, testLogger(), nil)

	if err := p.Policy().Check(context.Background()); err != nil {
		t.Fatalf("check failed: %v", err)
	}

	tree := p.Current()
	if tree == nil {
		t.Fatal("no tree after snapshot")
	}
	if tree.Root != [32]byte{} {
		t.Errorf("empty snapshot root = %x, want zero", tree.Root)
	}
	if len(ledger.sentCalls("updateMerkleRoot")) != 1 {
		t.Error("empty snapshot was not committed")
	}
}
