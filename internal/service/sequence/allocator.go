// Package sequence owns per-channel seq allocation.
package sequence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrUnknownChannel is returned when the channel row does not exist.
var ErrUnknownChannel = errors.New("sequence: unknown channel")

// Allocator hands out strictly increasing, gap-free seq ids per channel.
//
// Allocation is a single guarded UPDATE against the channel row, so the
// database serializes concurrent writers on the row lock and the counter
// survives restarts. The caller MUST run Next inside the same transaction
// that inserts the message: a rollback returns the value to the counter
// because the UPDATE rolls back with it.
type Allocator struct{}

func New() *Allocator { return &Allocator{} }

// Next increments the channel counter and returns the new value.
func (a *Allocator) Next(ctx context.Context, tx *sql.Tx, channelID uuid.UUID) (uint64, error) {
	var seq uint64
	err := tx.QueryRowContext(ctx,
		`UPDATE channels SET max_seq_id = max_seq_id + 1 WHERE id = ? AND deleted_at IS NULL RETURNING max_seq_id`,
		channelID.String()).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrUnknownChannel
	}
	if err != nil {
		return 0, fmt.Errorf("allocate seq: %w", err)
	}
	return seq, nil
}
