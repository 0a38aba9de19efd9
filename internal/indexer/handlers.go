package indexer

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"PerpKeeper/internal/broadcast"
	"PerpKeeper/internal/chain"
	"PerpKeeper/internal/store"
)

// applyEvent maps one decoded ledger event onto its mirror mutation.
// Every write is keyed by a natural identifier, so replaying the same
// event is a no-op; in particular an OrderMatched replay cannot double
// a fill because the fill mutation is gated on the trade row actually
// being inserted.
func (ix *Indexer) applyEvent(ctx context.Context, ev chain.Event) error {
	now := time.Now().UTC()
	meta := ev.Meta()

	switch e := ev.(type) {
	case *chain.OrderPlaced:
		return ix.mirror.UpsertOrder(ctx, &store.Order{
			OrderID:      e.OrderID,
			Owner:        e.Owner,
			MarketID:     e.MarketID,
			Side:         store.SideFromSize(e.Size),
			Type:         store.OrderTypeFromCode(e.OrderType),
			Mode:         store.OrderModeFromCode(e.Mode),
			Size:         abs(e.Size),
			Filled:       zero(),
			Price:        e.Price,
			TriggerPrice: e.Trigger,
			Status:       placedStatus(e),
			CreatedAt:    now,
			TxHash:       meta.TxHash,
		})

	case *chain.OrderMatched:
		inserted, err := ix.mirror.InsertTrade(ctx, &store.Trade{
			MarketID:    e.MarketID,
			OrderID:     e.OrderID,
			Side:        store.SideFromSize(e.Size),
			Size:        abs(e.Size),
			Price:       e.Price,
			IsMaker:     e.IsMaker,
			TxHash:      meta.TxHash,
			BlockNumber: meta.BlockNumber,
			CreatedAt:   now,
		})
		if err != nil || !inserted {
			return err
		}
		return ix.mirror.ApplyOrderFill(ctx, e.OrderID, abs(e.Size), now)

	case *chain.OrderCancelled:
		return ix.mirror.CancelOrder(ctx, e.OrderID, now)

	case *chain.AuctionExecuted:
		return ix.mirror.InsertAuctionRecord(ctx, &store.AuctionRecord{
			MarketID:      e.MarketID,
			ClearingPrice: e.ClearingPrice,
			OrdersTouched: e.OrdersTouched,
			BuyVolume:     e.BuyVolume,
			SellVolume:    e.SellVolume,
			MatchedVolume: e.MatchedVolume,
			TxHash:        meta.TxHash,
			BlockNumber:   meta.BlockNumber,
		})

	case *chain.PositionOpened:
		return ix.mirror.OpenPosition(ctx, &store.Position{
			Address:    e.Account,
			MarketID:   e.MarketID,
			Size:       e.Size,
			EntryPrice: e.EntryPrice,
			OpenedAt:   now,
			TxHashOpen: meta.TxHash,
		})

	case *chain.PositionUpdated:
		return ix.mirror.UpdatePosition(ctx, e.Account, e.MarketID, e.Size, e.EntryPrice)

	case *chain.PositionClosed:
		return ix.mirror.ClosePosition(ctx, e.Account, e.MarketID, now, meta.TxHash)

	case *chain.LiquidationExecuted:
		// A liquidation terminates the position like any close; the
		// penalty and liquidator live only in the event stream.
		return ix.mirror.ClosePosition(ctx, e.Account, e.MarketID, now, meta.TxHash)

	case *chain.FundingRateUpdated:
		return ix.mirror.InsertFundingRecord(ctx, &store.FundingRecord{
			MarketID:      e.MarketID,
			RatePerSecond: e.RatePerSecond,
			Cumulative:    e.CumulativeRate,
			BlockNumber:   meta.BlockNumber,
			CreatedAt:     now,
		})

	case *chain.VaultDeposit:
		return ix.mirror.InsertVaultFlow(ctx, &store.VaultFlow{
			Address:   e.Account,
			Direction: "deposit",
			Assets:    e.Assets,
			Shares:    e.Shares,
			TxHash:    meta.TxHash,
			CreatedAt: now,
		})

	case *chain.VaultWithdraw:
		return ix.mirror.InsertVaultFlow(ctx, &store.VaultFlow{
			Address:   e.Account,
			Direction: "withdraw",
			Assets:    e.Assets,
			Shares:    e.Shares,
			TxHash:    meta.TxHash,
			CreatedAt: now,
		})

	default:
		return fmt.Errorf("unhandled event %s", ev.Name())
	}
}

// notify drops the stale read models and fans out change notifications.
// Fan-out is best effort: a publish failure is counted, never retried,
// because the mirror itself already holds the truth.
func (ix *Indexer) notify(ctx context.Context, ev chain.Event) {
	switch e := ev.(type) {
	case *chain.OrderPlaced:
		ix.views.InvalidateMarket(e.MarketID)
		ix.publish(ctx, broadcast.KindOrders, e.MarketID, "")
		ix.publish(ctx, broadcast.KindOrderBook, e.MarketID, "")

	case *chain.OrderMatched:
		ix.views.InvalidateMarket(e.MarketID)
		ix.publish(ctx, broadcast.KindTrades, e.MarketID, "")
		ix.publish(ctx, broadcast.KindOrderBook, e.MarketID, "")

	case *chain.OrderCancelled:
		ix.publish(ctx, broadcast.KindOrders, "", e.Owner.Hex())

	case *chain.AuctionExecuted:
		ix.views.InvalidateMarket(e.MarketID)
		ix.publish(ctx, broadcast.KindAuctionExecuted, e.MarketID, "")
		ix.publish(ctx, broadcast.KindOrderBook, e.MarketID, "")

	case *chain.PositionOpened:
		ix.views.InvalidateAddress(e.Account)
		ix.publish(ctx, broadcast.KindPositions, "", e.Account.Hex())

	case *chain.PositionUpdated:
		ix.views.InvalidateAddress(e.Account)
		ix.publish(ctx, broadcast.KindPositions, "", e.Account.Hex())

	case *chain.PositionClosed:
		ix.views.InvalidateAddress(e.Account)
		ix.publish(ctx, broadcast.KindPositions, "", e.Account.Hex())

	case *chain.LiquidationExecuted:
		ix.views.InvalidateAddress(e.Account)
		ix.views.InvalidateMarket(e.MarketID)
		ix.publish(ctx, broadcast.KindPositions, "", e.Account.Hex())

	case *chain.FundingRateUpdated:
		ix.publish(ctx, broadcast.KindPrice, e.MarketID, "")
	}
}

func (ix *Indexer) publish(ctx context.Context, kind broadcast.Kind, marketID, address string) {
	if ix.bcast == nil {
		return
	}
	err := ix.bcast.Publish(ctx, broadcast.Message{
		Kind:     kind,
		MarketID: marketID,
		Address:  address,
		Origin:   ix.instanceID,
		At:       time.Now().UTC(),
	})
	if err != nil {
		ix.log.Warn().Err(err).Str("kind", string(kind)).Msg("broadcast failed")
	}
}

func placedStatus(e *chain.OrderPlaced) store.OrderStatus {
	switch {
	case store.OrderTypeFromCode(e.OrderType) == store.OrderTypeStop:
		return store.StatusTriggerPending
	case store.OrderModeFromCode(e.Mode) == store.ModeBatch:
		return store.StatusQueuedForAuction
	default:
		return store.StatusLive
	}
}

func abs(v *big.Int) *big.Int {
	return new(big.Int).Abs(v)
}

func zero() *big.Int {
	return new(big.Int)
}
