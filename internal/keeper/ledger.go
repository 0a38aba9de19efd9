package keeper

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"PerpKeeper/internal/chain"
	"PerpKeeper/internal/observability"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

// Ledger is the slice of the chain client the policies need. Policies
// never mutate mirrored state directly; every action goes through here
// and the ledger program re-validates it.
type Ledger interface {
	BlockNumber(ctx context.Context) (uint64, error)
	Call(ctx context.Context, contract common.Address, fn string, args ...interface{}) ([]interface{}, error)
	Transact(ctx context.Context, contract common.Address, fn string, args ...interface{}) (common.Hash, error)
	WaitMined(ctx context.Context, hash common.Hash) (*chain.Receipt, error)
}

// errNotABigInt flags a contract return value that failed the *big.Int
// assertion, which means the ABI and the deployed program disagree.
var errNotABigInt = errors.New("contract returned a non-integer value")

// bigOut extracts decoded call output i as *big.Int. A short or
// mistyped output slice reports !ok instead of panicking the cycle.
func bigOut(vals []interface{}, i int) (*big.Int, bool) {
	if i >= len(vals) {
		return nil, false
	}
	v, ok := vals[i].(*big.Int)
	return v, ok
}

// uint64Out is bigOut for uint64-typed outputs.
func uint64Out(vals []interface{}, i int) (uint64, bool) {
	if i >= len(vals) {
		return 0, false
	}
	v, ok := vals[i].(uint64)
	return v, ok
}

// txSender submits one ledger call on behalf of a policy and settles its
// outcome. Benign reverts (the race lost: someone else already did the
// work, or the trigger condition lapsed between check and inclusion) are
// swallowed; anything else is surfaced.
type txSender struct {
	ledger   Ledger
	contract common.Address
	policy   string
	log      zerolog.Logger
	metrics  *observability.Metrics
}

// submit sends fn(args...) and waits for the receipt. It returns true
// only when the transaction was included and succeeded. Reverts of
// either class yield (false, nil): the cycle moves on, the next cycle
// re-evaluates from fresh state.
func (s *txSender) submit(ctx context.Context, fn string, args ...interface{}) (bool, error) {
	hash, err := s.ledger.Transact(ctx, s.contract, fn, args...)
	if err != nil {
		if rev, ok := chain.AsRevert(err); ok {
			class := "unexpected"
			if chain.IsBenignRevert(err) {
				class = "benign"
				s.log.Debug().
					Str("fn", fn).
					Str("code", rev.Code.String()).
					Msg("action no longer applicable")
			} else {
				s.log.Warn().
					Str("fn", fn).
					Str("code", rev.Code.String()).
					Str("reason", rev.Reason).
					Msg("unexpected revert")
			}
			if s.metrics != nil {
				s.metrics.KeeperTxReverted.WithLabelValues(s.policy, class).Inc()
			}
			return false, nil
		}
		return false, fmt.Errorf("submit %s: %w", fn, err)
	}

	if s.metrics != nil {
		s.metrics.KeeperTxSubmitted.WithLabelValues(s.policy).Inc()
	}

	rcpt, err := s.ledger.WaitMined(ctx, hash)
	if err != nil {
		return false, fmt.Errorf("wait %s %s: %w", fn, hash.Hex(), err)
	}
	if rcpt.Status == 0 {
		s.log.Warn().
			Str("fn", fn).
			Str("tx", hash.Hex()).
			Msg("transaction reverted after inclusion")
		if s.metrics != nil {
			s.metrics.KeeperTxReverted.WithLabelValues(s.policy, "unexpected").Inc()
		}
		return false, nil
	}

	if s.metrics != nil {
		s.metrics.KeeperTxConfirmed.WithLabelValues(s.policy).Inc()
	}
	s.log.Info().
		Str("fn", fn).
		Str("tx", hash.Hex()).
		Uint64("block", rcpt.BlockNumber).
		Msg("action confirmed")
	return true, nil
}
