package keeper_test

import (
	"context"
	"math/big"
	"testing"
	"time"

	"PerpKeeper/internal/chain"
	"PerpKeeper/internal/keeper"
	"PerpKeeper/internal/store"
)

type fakeStopOrderIndex struct {
	orders []store.Order
}

func (f *fakeStopOrderIndex) TriggerPendingOrders(ctx context.Context) ([]store.Order, error) {
	return f.orders, nil
}

func stubMarkPrice(l *fakeLedger, marketID string, price int64) {
	l.stubCall("getPriceData", []interface{}{chain.MarketIDToBytes32(marketID)},
		big.NewInt(price), uint64(1_700_000_000))
}

func TestStopTriggerActivatesByDirection(t *testing.T) {
	tests := []struct {
		name    string
		side    store.Side
		trigger int64
		mark    int64
		fires   bool
	}{
		{"buy stop below trigger stays pending", store.SideBuy, 100, 95, false},
		{"buy stop at trigger fires", store.SideBuy, 100, 100, true},
		{"buy stop above trigger fires", store.SideBuy, 100, 105, true},
		{"sell stop above trigger stays pending", store.SideSell, 100, 105, false},
		{"sell stop at trigger fires", store.SideSell, 100, 100, true},
		{"sell stop below trigger fires", store.SideSell, 100, 95, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger := newFakeLedger()
			stubMarkPrice(ledger, "BTC-PERP", tt.mark)

			idx := &fakeStopOrderIndex{orders: []store.Order{{
				OrderID:      7,
				MarketID:     "BTC-PERP",
				Side:         tt.side,
				Type:         store.OrderTypeStop,
				TriggerPrice: big.NewInt(tt.trigger),
				Status:       store.StatusTriggerPending,
			}}}

			p := keeper.NewStopTriggerPolicy(
				keeper.StopTriggerConfig{Enabled: true, Interval: time.Second},
				ledger, idx, testContract, testLogger(), nil)

			if err := p.Policy().Check(context.Background()); err != nil {
				t.Fatalf("check failed: %v", err)
			}

			sent := ledger.sentCalls("triggerStopOrder")
			if tt.fires && len(sent) != 1 {
				t.Fatalf("expected activation, got %d calls", len(sent))
			}
			if !tt.fires && len(sent) != 0 {
				t.Fatalf("unexpected activation: %d calls", len(sent))
			}
			if tt.fires {
				if got := sent[0].args[0].(*big.Int).Uint64(); got != 7 {
					t.Errorf("activated order %d, want 7", got)
				}
			}
		})
	}
}

func TestStopTriggerCachesMarkPricePerMarket(t *testing.T) {
	ledger := newFakeLedger()
	stubMarkPrice(ledger, "ETH-PERP", 50)

	// Two pending orders in the same market, neither close to triggering.
	idx := &fakeStopOrderIndex{orders: []store.Order{
		{OrderID: 1, MarketID: "ETH-PERP", Side: store.SideBuy, TriggerPrice: big.NewInt(1000), Status: store.StatusTriggerPending},
		{OrderID: 2, MarketID: "ETH-PERP", Side: store.SideBuy, TriggerPrice: big.NewInt(2000), Status: store.StatusTriggerPending},
	}}

	p := keeper.NewStopTriggerPolicy(
		keeper.StopTriggerConfig{Enabled: true, Interval: time.Second, PriceTTL: time.Minute},
		ledger, idx, testContract, testLogger(), nil)

	if err := p.Policy().Check(context.Background()); err != nil {
		t.Fatalf("check failed: %v", err)
	}

	// Break the stub: a second read would now fail, a cached one won't.
	ledger.clearCall("getPriceData", chain.MarketIDToBytes32("ETH-PERP"))

	if err := p.Policy().Check(context.Background()); err != nil {
		t.Fatalf("cached cycle failed: %v", err)
	}
}
