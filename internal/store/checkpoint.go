package store

import (
	"context"
	"fmt"
)

// CheckpointStore tracks, per event stream, the last block whose events
// were durably applied. Values never decrease: Advance uses GREATEST so a
// stale writer can never move a cursor backwards.
type CheckpointStore struct {
	store *Store
}

// Checkpoints returns the checkpoint tracker backed by this store.
func (s *Store) Checkpoints() *CheckpointStore {
	return &CheckpointStore{store: s}
}

// Last returns the stream's cursor, lazily creating it at zero on first
// use so a brand-new stream is indistinguishable from one that has never
// progressed.
func (c *CheckpointStore) Last(ctx context.Context, streamID string) (uint64, error) {
	var last int64
	err := c.store.db.QueryRowContext(ctx, `
		INSERT INTO mirror.checkpoints (stream_id, last_processed_block, updated_at)
		VALUES ($1, 0, now())
		ON CONFLICT (stream_id) DO UPDATE
			SET stream_id = EXCLUDED.stream_id
		RETURNING last_processed_block
	`, streamID).Scan(&last)
	if err != nil {
		return 0, fmt.Errorf("checkpoint last %s: %w", streamID, err)
	}
	return uint64(last), nil
}

// Advance moves the stream's cursor to block. Called only after every
// event in the range up to block has been persisted.
func (c *CheckpointStore) Advance(ctx context.Context, streamID string, block uint64) error {
	_, err := c.store.db.ExecContext(ctx, `
		INSERT INTO mirror.checkpoints (stream_id, last_processed_block, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (stream_id) DO UPDATE
			SET last_processed_block = GREATEST(mirror.checkpoints.last_processed_block, EXCLUDED.last_processed_block),
			    updated_at = now()
	`, streamID, int64(block))
	if err != nil {
		c.store.countError("checkpoints")
		return fmt.Errorf("checkpoint advance %s→%d: %w", streamID, block, err)
	}
	c.store.countWrite("checkpoints")
	if c.store.metrics != nil {
		c.store.metrics.CheckpointBlock.WithLabelValues(streamID).Set(float64(block))
	}
	return nil
}
