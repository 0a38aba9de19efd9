package indexer

import "context"

// CatchUp exposes the replay phase to tests in the indexer_test package.
func (ix *Indexer) CatchUp(ctx context.Context) error {
	return ix.catchUp(ctx)
}
