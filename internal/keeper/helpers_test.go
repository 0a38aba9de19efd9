package keeper_test

import (
	"context"
	"fmt"
	"sync"

	"PerpKeeper/internal/chain"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

var testContract = common.HexToAddress("0x00000000000000000000000000000000000000aa")

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

type sentTx struct {
	fn   string
	args []interface{}
}

// fakeLedger scripts contract reads and records submitted transactions.
// Calls are keyed by fn plus formatted args so a test can vary results
// per argument.
type fakeLedger struct {
	mu      sync.Mutex
	head    uint64
	calls   map[string][]interface{}
	callErr map[string]error
	txErr   map[string]error
	sent    []sentTx
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		head:    1000,
		calls:   make(map[string][]interface{}),
		callErr: make(map[string]error),
		txErr:   make(map[string]error),
	}
}

func callKey(fn string, args ...interface{}) string {
	return fmt.Sprintf("%s%v", fn, args)
}

func (f *fakeLedger) stubCall(fn string, args []interface{}, result ...interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[callKey(fn, args...)] = result
}

func (f *fakeLedger) clearCall(fn string, args ...interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.calls, callKey(fn, args...))
}

func (f *fakeLedger) stubTxErr(fn string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.txErr[fn] = err
}

func (f *fakeLedger) sentCalls(fn string) []sentTx {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sentTx
	for _, tx := range f.sent {
		if tx.fn == fn {
			out = append(out, tx)
		}
	}
	return out
}

func (f *fakeLedger) BlockNumber(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.head, nil
}

func (f *fakeLedger) Call(ctx context.Context, contract common.Address, fn string, args ...interface{}) ([]interface{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.callErr[fn]; ok {
		return nil, err
	}
	if res, ok := f.calls[callKey(fn, args...)]; ok {
		return res, nil
	}
	return nil, fmt.Errorf("unstubbed call %s%v", fn, args)
}

func (f *fakeLedger) Transact(ctx context.Context, contract common.Address, fn string, args ...interface{}) (common.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.txErr[fn]; ok {
		return common.Hash{}, err
	}
	f.sent = append(f.sent, sentTx{fn: fn, args: args})
	return common.BytesToHash([]byte{byte(len(f.sent))}), nil
}

func (f *fakeLedger) WaitMined(ctx context.Context, hash common.Hash) (*chain.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &chain.Receipt{TxHash: hash, BlockNumber: f.head, Status: 1}, nil
}
