package store_test

import (
	"context"
	"math/big"
	"testing"
	"time"

	"PerpKeeper/internal/store"
	"PerpKeeper/internal/testutil"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

func setupStore(t *testing.T) (*store.Store, func()) {
	t.Helper()
	db, cleanup := testutil.SetupTestDB(t)
	return store.New(db, zerolog.Nop(), nil), cleanup
}

func placeOrder(t *testing.T, st *store.Store, id uint64, status store.OrderStatus) {
	t.Helper()
	err := st.UpsertOrder(context.Background(), &store.Order{
		OrderID:   id,
		Owner:     common.HexToAddress("0x01"),
		MarketID:  "BTC-PERP",
		Side:      store.SideBuy,
		Type:      store.OrderTypeLimit,
		Mode:      store.ModeContinuous,
		Size:      big.NewInt(10),
		Filled:    big.NewInt(0),
		Price:     big.NewInt(100),
		Status:    status,
		CreatedAt: time.Now().UTC(),
		TxHash:    common.BytesToHash([]byte{byte(id)}),
	})
	if err != nil {
		t.Fatalf("upsert order %d: %v", id, err)
	}
}

func TestInsertTradeDeduplicatesByTxAndOrder(t *testing.T) {
	st, cleanup := setupStore(t)
	defer cleanup()
	ctx := context.Background()

	trade := &store.Trade{
		MarketID:    "BTC-PERP",
		OrderID:     1,
		Side:        store.SideBuy,
		Size:        big.NewInt(4),
		Price:       big.NewInt(100),
		TxHash:      common.BytesToHash([]byte{0xaa}),
		BlockNumber: 7,
		CreatedAt:   time.Now().UTC(),
	}

	inserted, err := st.InsertTrade(ctx, trade)
	if err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if !inserted {
		t.Fatal("first insert reported duplicate")
	}

	inserted, err = st.InsertTrade(ctx, trade)
	if err != nil {
		t.Fatalf("second insert: %v", err)
	}
	if inserted {
		t.Error("duplicate insert reported as new")
	}
}

func TestApplyOrderFillFlipsToFilledAtFullSize(t *testing.T) {
	st, cleanup := setupStore(t)
	defer cleanup()
	ctx := context.Background()

	placeOrder(t, st, 1, store.StatusLive)

	if err := st.ApplyOrderFill(ctx, 1, big.NewInt(4), time.Now().UTC()); err != nil {
		t.Fatalf("partial fill: %v", err)
	}
	orders, err := st.LiveOrdersByMarket(ctx, "BTC-PERP")
	if err != nil {
		t.Fatalf("live orders: %v", err)
	}
	if len(orders) != 1 || orders[0].Status != store.StatusLive {
		t.Fatalf("partially filled order not live: %+v", orders)
	}

	if err := st.ApplyOrderFill(ctx, 1, big.NewInt(6), time.Now().UTC()); err != nil {
		t.Fatalf("final fill: %v", err)
	}
	orders, err = st.LiveOrdersByMarket(ctx, "BTC-PERP")
	if err != nil {
		t.Fatalf("live orders: %v", err)
	}
	if len(orders) != 0 {
		t.Errorf("fully filled order still live: %+v", orders)
	}
}

func TestCancelOrderLeavesTerminalOrdersAlone(t *testing.T) {
	st, cleanup := setupStore(t)
	defer cleanup()
	ctx := context.Background()

	placeOrder(t, st, 1, store.StatusLive)
	if err := st.ApplyOrderFill(ctx, 1, big.NewInt(10), time.Now().UTC()); err != nil {
		t.Fatalf("fill: %v", err)
	}

	// A cancel replay arriving after the fill must not unfill the order.
	if err := st.CancelOrder(ctx, 1, time.Now().UTC()); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	var status string
	if err := st.DB().QueryRow(`SELECT status FROM mirror.orders WHERE order_id = 1`).Scan(&status); err != nil {
		t.Fatalf("read status: %v", err)
	}
	if status != "filled" {
		t.Errorf("status = %s, want filled", status)
	}
}

func TestUpsertOrderActivatesPendingStop(t *testing.T) {
	st, cleanup := setupStore(t)
	defer cleanup()
	ctx := context.Background()

	placeOrder(t, st, 1, store.StatusTriggerPending)
	// The ledger re-announces a stop as live once it arms.
	placeOrder(t, st, 1, store.StatusLive)

	pending, err := st.TriggerPendingOrders(ctx)
	if err != nil {
		t.Fatalf("pending orders: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("armed stop still pending: %+v", pending)
	}

	// But a replayed placement must not revive a terminal order.
	if err := st.CancelOrder(ctx, 1, time.Now().UTC()); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	placeOrder(t, st, 1, store.StatusLive)
	ids, err := st.ActiveOrderIDs(ctx)
	if err != nil {
		t.Fatalf("active ids: %v", err)
	}
	if ids[1] {
		t.Error("cancelled order revived by replayed placement")
	}
}

func TestAtMostOneOpenPositionPerAccountMarket(t *testing.T) {
	st, cleanup := setupStore(t)
	defer cleanup()
	ctx := context.Background()

	addr := common.HexToAddress("0x02")
	open := func(tx byte, size int64) error {
		return st.OpenPosition(ctx, &store.Position{
			Address:    addr,
			MarketID:   "ETH-PERP",
			Size:       big.NewInt(size),
			EntryPrice: big.NewInt(2000),
			OpenedAt:   time.Now().UTC(),
			TxHashOpen: common.BytesToHash([]byte{tx}),
		})
	}

	if err := open(1, 5); err != nil {
		t.Fatalf("first open: %v", err)
	}
	if err := open(2, 9); err != nil {
		t.Fatalf("replayed open: %v", err)
	}

	keys, err := st.OpenPositionKeys(ctx)
	if err != nil {
		t.Fatalf("open keys: %v", err)
	}
	if len(keys) != 1 {
		t.Fatalf("open positions = %d, want 1", len(keys))
	}

	// Close, reopen: a new lifecycle row is legal.
	if err := st.ClosePosition(ctx, addr, "ETH-PERP", time.Now().UTC(), common.BytesToHash([]byte{3})); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := open(4, 2); err != nil {
		t.Fatalf("reopen: %v", err)
	}

	positions, err := st.OpenPositionsByAddress(ctx, addr)
	if err != nil {
		t.Fatalf("positions by address: %v", err)
	}
	if len(positions) != 1 {
		t.Fatalf("open positions after reopen = %d, want 1", len(positions))
	}
	if positions[0].Size.Cmp(big.NewInt(2)) != 0 {
		t.Errorf("reopened size = %s, want 2", positions[0].Size)
	}
}

func TestCheckpointNeverMovesBackwards(t *testing.T) {
	st, cleanup := setupStore(t)
	defer cleanup()
	ctx := context.Background()
	cp := st.Checkpoints()

	last, err := cp.Last(ctx, "s1")
	if err != nil {
		t.Fatalf("initial last: %v", err)
	}
	if last != 0 {
		t.Fatalf("fresh stream cursor = %d, want 0", last)
	}

	if err := cp.Advance(ctx, "s1", 500); err != nil {
		t.Fatalf("advance: %v", err)
	}
	// A stale writer trying to rewind is ignored.
	if err := cp.Advance(ctx, "s1", 100); err != nil {
		t.Fatalf("stale advance: %v", err)
	}

	last, err = cp.Last(ctx, "s1")
	if err != nil {
		t.Fatalf("last: %v", err)
	}
	if last != 500 {
		t.Errorf("cursor = %d, want 500", last)
	}
}

func TestOrderBookDepthAggregatesRemainingSize(t *testing.T) {
	st, cleanup := setupStore(t)
	defer cleanup()
	ctx := context.Background()

	placeOrder(t, st, 1, store.StatusLive)
	placeOrder(t, st, 2, store.StatusLive)
	if err := st.ApplyOrderFill(ctx, 1, big.NewInt(3), time.Now().UTC()); err != nil {
		t.Fatalf("fill: %v", err)
	}

	depth, err := st.OrderBookDepth(ctx, "BTC-PERP")
	if err != nil {
		t.Fatalf("depth: %v", err)
	}
	if len(depth) != 1 {
		t.Fatalf("levels = %d, want 1", len(depth))
	}
	// 10 + 10 placed, 3 filled.
	if depth[0].Size.Cmp(big.NewInt(17)) != 0 {
		t.Errorf("level size = %s, want 17", depth[0].Size)
	}
}
