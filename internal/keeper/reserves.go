package keeper

import (
	"context"
	"math/big"
	"sync/atomic"
	"time"

	"PerpKeeper/internal/merkle"
	"PerpKeeper/internal/observability"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

// accountIndex is the mirror-store slice the reserves policy reads.
type accountIndex interface {
	KnownAddresses(ctx context.Context) ([]common.Address, error)
}

// ReservesConfig configures the proof-of-reserves policy.
type ReservesConfig struct {
	Enabled  bool
	Interval time.Duration
}

// ReservesPolicy periodically snapshots every known account's collateral
// balance from the ledger, rebuilds the liabilities Merkle tree, commits
// the root on-chain, and keeps the full tree in memory so callers can
// hand out inclusion proofs for the committed root.
type ReservesPolicy struct {
	cfg      ReservesConfig
	ledger   Ledger
	accounts accountIndex
	sender   *txSender
	log      zerolog.Logger
	metrics  *observability.Metrics

	tree atomic.Pointer[merkle.Tree]
}

func NewReservesPolicy(cfg ReservesConfig, ledger Ledger, accounts accountIndex, contract common.Address, log zerolog.Logger, metrics *observability.Metrics) *ReservesPolicy {
	return &ReservesPolicy{
		cfg:      cfg,
		ledger:   ledger,
		accounts: accounts,
		sender: &txSender{
			ledger:   ledger,
			contract: contract,
			policy:   "reserves",
			log:      log,
			metrics:  metrics,
		},
		log:     log,
		metrics: metrics,
	}
}

func (p *ReservesPolicy) Policy() Policy {
	return Policy{
		Name:     "reserves",
		Enabled:  p.cfg.Enabled,
		Interval: p.cfg.Interval,
		Check:    p.check,
	}
}

// Current returns the last successfully built tree, or nil before the
// first snapshot.
func (p *ReservesPolicy) Current() *merkle.Tree {
	return p.tree.Load()
}

// Proof returns the inclusion proof for addr against the last committed
// tree.
func (p *ReservesPolicy) Proof(addr common.Address) (merkle.Proof, bool) {
	t := p.tree.Load()
	if t == nil {
		return nil, false
	}
	return t.Proof(addr)
}

func (p *ReservesPolicy) check(ctx context.Context) error {
	addrs, err := p.accounts.KnownAddresses(ctx)
	if err != nil {
		return err
	}

	start := time.Now()
	leaves := make([]merkle.Leaf, 0, len(addrs))
	for _, addr := range addrs {
		vals, err := p.ledger.Call(ctx, p.sender.contract, "collateralBalance", addr)
		if err != nil {
			// One unreadable balance poisons the whole snapshot; a partial
			// tree would understate liabilities.
			return err
		}
		bal, ok := bigOut(vals, 0)
		if !ok {
			return errNotABigInt
		}
		leaves = append(leaves, merkle.Leaf{Address: addr, Balance: bal})
	}

	tree, err := merkle.Build(leaves)
	if err != nil {
		return err
	}
	p.tree.Store(tree)

	if p.metrics != nil {
		p.metrics.MerkleBuildDuration.Observe(time.Since(start).Seconds())
		p.metrics.MerkleLeafCount.Set(float64(tree.AccountCount))
		liab, _ := new(big.Float).SetInt(tree.TotalLiabilities).Float64()
		p.metrics.MerkleTotalLiab.Set(liab)
	}
	p.log.Info().
		Int("accounts", tree.AccountCount).
		Str("root", common.BytesToHash(tree.Root[:]).Hex()).
		Msg("reserves tree rebuilt")

	_, err = p.sender.submit(ctx, "updateMerkleRoot",
		tree.Root,
		new(big.Int).Set(tree.TotalLiabilities),
		new(big.Int).SetInt64(int64(tree.AccountCount)))
	return err
}
