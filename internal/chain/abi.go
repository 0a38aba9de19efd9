package chain

import (
	"bytes"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ledgerABIJSON is the public ABI of the ledger program: every event the
// indexer consumes and every entrypoint the keepers invoke. The program's
// internals are not mirrored here, only its surface.
const ledgerABIJSON = `[
  {"type":"event","name":"OrderPlaced","inputs":[
    {"name":"orderId","type":"uint256","indexed":true},
    {"name":"owner","type":"address","indexed":true},
    {"name":"marketId","type":"bytes32","indexed":false},
    {"name":"size","type":"int256","indexed":false},
    {"name":"price","type":"uint256","indexed":false},
    {"name":"mode","type":"uint8","indexed":false},
    {"name":"orderType","type":"uint8","indexed":false},
    {"name":"triggerPrice","type":"uint256","indexed":false}]},
  {"type":"event","name":"OrderMatched","inputs":[
    {"name":"orderId","type":"uint256","indexed":true},
    {"name":"marketId","type":"bytes32","indexed":false},
    {"name":"size","type":"int256","indexed":false},
    {"name":"price","type":"uint256","indexed":false},
    {"name":"isMaker","type":"bool","indexed":false}]},
  {"type":"event","name":"OrderCancelled","inputs":[
    {"name":"orderId","type":"uint256","indexed":true},
    {"name":"owner","type":"address","indexed":true}]},
  {"type":"event","name":"AuctionExecuted","inputs":[
    {"name":"marketId","type":"bytes32","indexed":true},
    {"name":"clearingPrice","type":"uint256","indexed":false},
    {"name":"ordersTouched","type":"uint256","indexed":false},
    {"name":"buyVolume","type":"uint256","indexed":false},
    {"name":"sellVolume","type":"uint256","indexed":false},
    {"name":"matchedVolume","type":"uint256","indexed":false}]},
  {"type":"event","name":"PositionOpened","inputs":[
    {"name":"account","type":"address","indexed":true},
    {"name":"marketId","type":"bytes32","indexed":true},
    {"name":"size","type":"int256","indexed":false},
    {"name":"entryPrice","type":"uint256","indexed":false}]},
  {"type":"event","name":"PositionUpdated","inputs":[
    {"name":"account","type":"address","indexed":true},
    {"name":"marketId","type":"bytes32","indexed":true},
    {"name":"size","type":"int256","indexed":false},
    {"name":"entryPrice","type":"uint256","indexed":false}]},
  {"type":"event","name":"PositionClosed","inputs":[
    {"name":"account","type":"address","indexed":true},
    {"name":"marketId","type":"bytes32","indexed":true},
    {"name":"size","type":"int256","indexed":false},
    {"name":"exitPrice","type":"uint256","indexed":false},
    {"name":"pnl","type":"int256","indexed":false}]},
  {"type":"event","name":"LiquidationExecuted","inputs":[
    {"name":"account","type":"address","indexed":true},
    {"name":"liquidator","type":"address","indexed":true},
    {"name":"marketId","type":"bytes32","indexed":false},
    {"name":"size","type":"int256","indexed":false},
    {"name":"price","type":"uint256","indexed":false},
    {"name":"pnl","type":"int256","indexed":false},
    {"name":"penalty","type":"uint256","indexed":false}]},
  {"type":"event","name":"FundingRateUpdated","inputs":[
    {"name":"marketId","type":"bytes32","indexed":true},
    {"name":"ratePerSecond","type":"int256","indexed":false},
    {"name":"cumulativeRate","type":"int256","indexed":false}]},
  {"type":"event","name":"VaultDeposit","inputs":[
    {"name":"account","type":"address","indexed":true},
    {"name":"assets","type":"uint256","indexed":false},
    {"name":"shares","type":"uint256","indexed":false}]},
  {"type":"event","name":"VaultWithdraw","inputs":[
    {"name":"account","type":"address","indexed":true},
    {"name":"assets","type":"uint256","indexed":false},
    {"name":"shares","type":"uint256","indexed":false}]},

  {"type":"function","name":"setPrice","stateMutability":"nonpayable","inputs":[
    {"name":"marketId","type":"bytes32"},{"name":"price","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"executeOrder","stateMutability":"nonpayable","inputs":[
    {"name":"orderId","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"triggerStopOrder","stateMutability":"nonpayable","inputs":[
    {"name":"orderId","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"executeAuction","stateMutability":"nonpayable","inputs":[
    {"name":"marketId","type":"bytes32"}],"outputs":[]},
  {"type":"function","name":"liquidate","stateMutability":"nonpayable","inputs":[
    {"name":"account","type":"address"},{"name":"marketId","type":"bytes32"},
    {"name":"sizeAbs","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"updateFundingRate","stateMutability":"nonpayable","inputs":[
    {"name":"marketId","type":"bytes32"}],"outputs":[]},
  {"type":"function","name":"setFundingRate","stateMutability":"nonpayable","inputs":[
    {"name":"marketId","type":"bytes32"},{"name":"rate","type":"int256"}],"outputs":[]},
  {"type":"function","name":"updateMerkleRoot","stateMutability":"nonpayable","inputs":[
    {"name":"root","type":"bytes32"},{"name":"liabilities","type":"uint256"},
    {"name":"count","type":"uint256"}],"outputs":[]},

  {"type":"function","name":"markets","stateMutability":"view","inputs":[
    {"name":"marketId","type":"bytes32"}],"outputs":[
    {"name":"auctionInterval","type":"uint64"},
    {"name":"lastAuctionTs","type":"uint64"},
    {"name":"maxLeverage","type":"uint64"}]},
  {"type":"function","name":"positions","stateMutability":"view","inputs":[
    {"name":"account","type":"address"},{"name":"marketId","type":"bytes32"}],"outputs":[
    {"name":"size","type":"int256"},
    {"name":"entryPrice","type":"uint256"},
    {"name":"fundingEntry","type":"int256"}]},
  {"type":"function","name":"getPriceData","stateMutability":"view","inputs":[
    {"name":"marketId","type":"bytes32"}],"outputs":[
    {"name":"price","type":"uint256"},
    {"name":"updatedAt","type":"uint64"}]},
  {"type":"function","name":"collateralBalance","stateMutability":"view","inputs":[
    {"name":"account","type":"address"}],"outputs":[
    {"name":"balance","type":"uint256"}]},
  {"type":"function","name":"nextOrderId","stateMutability":"view","inputs":[],"outputs":[
    {"name":"id","type":"uint256"}]}
]`

var ledgerABI = mustParseABI(ledgerABIJSON)

func mustParseABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(fmt.Sprintf("ledger ABI: %v", err))
	}
	return parsed
}

// MarketIDToBytes32 packs a market symbol into the ledger's zero-padded
// bytes32 representation.
func MarketIDToBytes32(marketID string) [32]byte {
	var out [32]byte
	copy(out[:], marketID)
	return out
}

// Bytes32ToMarketID trims the ledger's padded bytes32 back to a symbol.
func Bytes32ToMarketID(b [32]byte) string {
	return string(bytes.TrimRight(b[:], "\x00"))
}

// DecodeLog decodes a raw contract log into a typed Event. Logs whose
// topic does not belong to the ledger ABI return (nil, nil) so callers can
// skip unrelated emissions from shared contracts.
func DecodeLog(lg types.Log) (Event, error) {
	if len(lg.Topics) == 0 {
		return nil, nil
	}
	evDef, err := ledgerABI.EventByID(lg.Topics[0])
	if err != nil {
		return nil, nil // not a ledger event
	}

	vals := map[string]interface{}{}
	if len(lg.Data) > 0 {
		if err := evDef.Inputs.NonIndexed().UnpackIntoMap(vals, lg.Data); err != nil {
			return nil, fmt.Errorf("unpack %s data: %w", evDef.Name, err)
		}
	}

	var indexed abi.Arguments
	for _, arg := range evDef.Inputs {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	if err := abi.ParseTopicsIntoMap(vals, indexed, lg.Topics[1:]); err != nil {
		return nil, fmt.Errorf("parse %s topics: %w", evDef.Name, err)
	}

	meta := Meta{
		Contract:    lg.Address,
		TxHash:      lg.TxHash,
		BlockNumber: lg.BlockNumber,
		LogIndex:    lg.Index,
	}

	return buildEvent(evDef.Name, meta, vals)
}

func buildEvent(name string, meta Meta, v map[string]interface{}) (Event, error) {
	switch name {
	case "OrderPlaced":
		return &OrderPlaced{
			EventMeta: meta,
			OrderID:   asUint64(v["orderId"]),
			Owner:     asAddress(v["owner"]),
			MarketID:  asMarketID(v["marketId"]),
			Size:      asBig(v["size"]),
			Price:     asBig(v["price"]),
			Mode:      asUint8(v["mode"]),
			OrderType: asUint8(v["orderType"]),
			Trigger:   asBig(v["triggerPrice"]),
		}, nil
	case "OrderMatched":
		return &OrderMatched{
			EventMeta: meta,
			OrderID:   asUint64(v["orderId"]),
			MarketID:  asMarketID(v["marketId"]),
			Size:      asBig(v["size"]),
			Price:     asBig(v["price"]),
			IsMaker:   asBool(v["isMaker"]),
		}, nil
	case "OrderCancelled":
		return &OrderCancelled{
			EventMeta: meta,
			OrderID:   asUint64(v["orderId"]),
			Owner:     asAddress(v["owner"]),
		}, nil
	case "AuctionExecuted":
		return &AuctionExecuted{
			EventMeta:     meta,
			MarketID:      asMarketID(v["marketId"]),
			ClearingPrice: asBig(v["clearingPrice"]),
			OrdersTouched: asUint64(v["ordersTouched"]),
			BuyVolume:     asBig(v["buyVolume"]),
			SellVolume:    asBig(v["sellVolume"]),
			MatchedVolume: asBig(v["matchedVolume"]),
		}, nil
	case "PositionOpened":
		return &PositionOpened{
			EventMeta:  meta,
			Account:    asAddress(v["account"]),
			MarketID:   asMarketID(v["marketId"]),
			Size:       asBig(v["size"]),
			EntryPrice: asBig(v["entryPrice"]),
		}, nil
	case "PositionUpdated":
		return &PositionUpdated{
			EventMeta:  meta,
			Account:    asAddress(v["account"]),
			MarketID:   asMarketID(v["marketId"]),
			Size:       asBig(v["size"]),
			EntryPrice: asBig(v["entryPrice"]),
		}, nil
	case "PositionClosed":
		return &PositionClosed{
			EventMeta: meta,
			Account:   asAddress(v["account"]),
			MarketID:  asMarketID(v["marketId"]),
			Size:      asBig(v["size"]),
			ExitPrice: asBig(v["exitPrice"]),
			Pnl:       asBig(v["pnl"]),
		}, nil
	case "LiquidationExecuted":
		return &LiquidationExecuted{
			EventMeta:  meta,
			Account:    asAddress(v["account"]),
			Liquidator: asAddress(v["liquidator"]),
			MarketID:   asMarketID(v["marketId"]),
			Size:       asBig(v["size"]),
			Price:      asBig(v["price"]),
			Pnl:        asBig(v["pnl"]),
			Penalty:    asBig(v["penalty"]),
		}, nil
	case "FundingRateUpdated":
		return &FundingRateUpdated{
			EventMeta:      meta,
			MarketID:       asMarketID(v["marketId"]),
			RatePerSecond:  asBig(v["ratePerSecond"]),
			CumulativeRate: asBig(v["cumulativeRate"]),
		}, nil
	case "VaultDeposit":
		return &VaultDeposit{
			EventMeta: meta,
			Account:   asAddress(v["account"]),
			Assets:    asBig(v["assets"]),
			Shares:    asBig(v["shares"]),
		}, nil
	case "VaultWithdraw":
		return &VaultWithdraw{
			EventMeta: meta,
			Account:   asAddress(v["account"]),
			Assets:    asBig(v["assets"]),
			Shares:    asBig(v["shares"]),
		}, nil
	default:
		return nil, fmt.Errorf("unhandled ledger event %s", name)
	}
}

func asBig(v interface{}) *big.Int {
	if b, ok := v.(*big.Int); ok {
		return b
	}
	return new(big.Int)
}

func asUint64(v interface{}) uint64 {
	switch t := v.(type) {
	case *big.Int:
		return t.Uint64()
	case uint64:
		return t
	default:
		return 0
	}
}

func asUint8(v interface{}) uint8 {
	switch t := v.(type) {
	case uint8:
		return t
	case *big.Int:
		return uint8(t.Uint64())
	default:
		return 0
	}
}

func asBool(v interface{}) bool {
	b, _ := v.(bool)
	return b
}

func asAddress(v interface{}) common.Address {
	a, _ := v.(common.Address)
	return a
}

func asMarketID(v interface{}) string {
	if b, ok := v.([32]byte); ok {
		return Bytes32ToMarketID(b)
	}
	if h, ok := v.(common.Hash); ok {
		return Bytes32ToMarketID([32]byte(h))
	}
	return ""
}
