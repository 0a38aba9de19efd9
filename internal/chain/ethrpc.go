package chain

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
)

// ErrNoSigner is returned by Transact when the client was constructed
// without a private key (read-only mode).
var ErrNoSigner = errors.New("chain: no signer configured")

const receiptPollInterval = 2 * time.Second

// EthClient implements Client on top of a JSON-RPC endpoint.
type EthClient struct {
	ec      *ethclient.Client
	chainID *big.Int
	key     *ecdsa.PrivateKey
	from    common.Address
	log     zerolog.Logger
}

// DialEth connects to rpcURL and prepares a signer from privKeyHex.
// An empty privKeyHex yields a read-only client; keepers that submit
// transactions will fail with ErrNoSigner and should be left disabled.
func DialEth(ctx context.Context, rpcURL, privKeyHex string, log zerolog.Logger) (*EthClient, error) {
	ec, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", rpcURL, err)
	}

	chainID, err := ec.ChainID(ctx)
	if err != nil {
		ec.Close()
		return nil, fmt.Errorf("chain id: %w", err)
	}

	c := &EthClient{ec: ec, chainID: chainID, log: log}

	if privKeyHex != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(privKeyHex, "0x"))
		if err != nil {
			ec.Close()
			return nil, fmt.Errorf("parse keeper key: %w", err)
		}
		c.key = key
		c.from = crypto.PubkeyToAddress(key.PublicKey)
		log.Info().Str("keeper_address", c.from.Hex()).Msg("chain client signer ready")
	} else {
		log.Warn().Msg("chain client running read-only: no keeper key configured")
	}

	return c, nil
}

// Close releases the underlying RPC connection.
func (c *EthClient) Close() { c.ec.Close() }

// Signer returns the keeper address, zero if read-only.
func (c *EthClient) Signer() common.Address { return c.from }

func (c *EthClient) BlockNumber(ctx context.Context) (uint64, error) {
	return c.ec.BlockNumber(ctx)
}

func (c *EthClient) FilterEvents(ctx context.Context, contract common.Address, from, to uint64) ([]Event, error) {
	logs, err := c.ec.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{contract},
	})
	if err != nil {
		return nil, fmt.Errorf("filter logs [%d,%d]: %w", from, to, err)
	}

	events := make([]Event, 0, len(logs))
	for _, lg := range logs {
		if lg.Removed {
			continue
		}
		evt, err := DecodeLog(lg)
		if err != nil {
			c.log.Warn().Err(err).
				Str("tx", lg.TxHash.Hex()).
				Uint64("block", lg.BlockNumber).
				Msg("undecodable ledger log skipped")
			continue
		}
		if evt != nil {
			events = append(events, evt)
		}
	}
	return events, nil
}

func (c *EthClient) SubscribeEvents(ctx context.Context, contract common.Address, sink chan<- Event) (Subscription, error) {
	rawCh := make(chan types.Log, 256)
	sub, err := c.ec.SubscribeFilterLogs(ctx, ethereum.FilterQuery{
		Addresses: []common.Address{contract},
	}, rawCh)
	if err != nil {
		return nil, fmt.Errorf("subscribe logs: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		defer sub.Unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case err := <-sub.Err():
				if err != nil {
					errCh <- err
				}
				return
			case lg := <-rawCh:
				if lg.Removed {
					continue
				}
				evt, err := DecodeLog(lg)
				if err != nil {
					c.log.Warn().Err(err).Str("tx", lg.TxHash.Hex()).Msg("undecodable live log skipped")
					continue
				}
				if evt == nil {
					continue
				}
				select {
				case sink <- evt:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return &logSubscription{errCh: errCh, stop: sub.Unsubscribe}, nil
}

type logSubscription struct {
	errCh chan error
	stop  func()
}

func (s *logSubscription) Err() <-chan error { return s.errCh }
func (s *logSubscription) Unsubscribe()      { s.stop() }

func (c *EthClient) Call(ctx context.Context, contract common.Address, fn string, args ...interface{}) ([]interface{}, error) {
	data, err := ledgerABI.Pack(fn, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", fn, err)
	}

	out, err := c.ec.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: data}, nil)
	if err != nil {
		return nil, c.wrapRPCError(err)
	}

	vals, err := ledgerABI.Unpack(fn, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", fn, err)
	}
	return vals, nil
}

func (c *EthClient) Transact(ctx context.Context, contract common.Address, fn string, args ...interface{}) (common.Hash, error) {
	if c.key == nil {
		return common.Hash{}, ErrNoSigner
	}

	data, err := ledgerABI.Pack(fn, args...)
	if err != nil {
		return common.Hash{}, fmt.Errorf("pack %s: %w", fn, err)
	}

	nonce, err := c.ec.PendingNonceAt(ctx, c.from)
	if err != nil {
		return common.Hash{}, fmt.Errorf("nonce: %w", err)
	}

	gasPrice, err := c.ec.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("gas price: %w", err)
	}

	// Gas estimation doubles as the dry run: the ledger's revert reasons
	// surface here before any gas is spent.
	gas, err := c.ec.EstimateGas(ctx, ethereum.CallMsg{
		From: c.from,
		To:   &contract,
		Data: data,
	})
	if err != nil {
		return common.Hash{}, c.wrapRPCError(err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &contract,
		Gas:      gas + gas/5, // headroom over the estimate
		GasPrice: gasPrice,
		Data:     data,
	})

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign tx: %w", err)
	}

	if err := c.ec.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, c.wrapRPCError(err)
	}
	return signed.Hash(), nil
}

func (c *EthClient) WaitMined(ctx context.Context, txHash common.Hash) (*Receipt, error) {
	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()

	for {
		rcpt, err := c.ec.TransactionReceipt(ctx, txHash)
		if err == nil {
			return &Receipt{
				TxHash:      rcpt.TxHash,
				BlockNumber: rcpt.BlockNumber.Uint64(),
				Status:      rcpt.Status,
				GasUsed:     rcpt.GasUsed,
			}, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("receipt %s: %w", txHash.Hex(), err)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// wrapRPCError converts JSON-RPC revert errors into typed RevertErrors.
// Everything else passes through as a transient infra error.
func (c *EthClient) wrapRPCError(err error) error {
	if reason, ok := revertReasonFromError(err); ok {
		return classifyRevert(reason)
	}
	return err
}

// errorSelector is the 4-byte selector of Error(string).
var errorSelector = [4]byte{0x08, 0xc3, 0x79, 0xa0}

func revertReasonFromError(err error) (string, bool) {
	// rpc.DataError carries the raw revert payload.
	type dataError interface {
		ErrorData() interface{}
	}
	var de dataError
	if errors.As(err, &de) {
		if s, ok := de.ErrorData().(string); ok {
			if reason, ok := decodeRevertPayload(s); ok {
				return reason, true
			}
		}
	}

	// Fall back to the textual form some nodes produce.
	msg := err.Error()
	if idx := strings.Index(msg, "execution reverted"); idx >= 0 {
		reason := strings.TrimPrefix(msg[idx+len("execution reverted"):], ":")
		return strings.TrimSpace(reason), true
	}
	return "", false
}

func decodeRevertPayload(hexPayload string) (string, bool) {
	raw, err := hexutil.Decode(hexPayload)
	if err != nil {
		raw, err = hex.DecodeString(strings.TrimPrefix(hexPayload, "0x"))
		if err != nil {
			return "", false
		}
	}
	// Error(string): selector ++ abi-encoded string.
	if len(raw) < 4+32+32 || [4]byte(raw[:4]) != errorSelector {
		return "", false
	}
	body := raw[4:]
	strLen := new(big.Int).SetBytes(body[32:64]).Uint64()
	if uint64(len(body)) < 64+strLen {
		return "", false
	}
	return string(body[64 : 64+strLen]), true
}
