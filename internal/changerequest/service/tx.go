package service

import (
	"context"
	"strconv"
	"sync"
	"time"

	dErrors "changeflow/pkg/domain-errors"
)

// StoreTx provides a transactional boundary for one change request's mutations.
// Implementations may wrap a database transaction or, in-memory, a per-request lock.
// fn receives the context the stores must use to join the transaction.
type StoreTx interface {
	RunInTx(ctx context.Context, crID int64, fn func(ctx context.Context) error) error
}

// numShards spreads change requests over independent mutexes so unrelated requests do
// not contend.
const numShards = 128

// defaultTxTimeout is the maximum duration for a transaction.
const defaultTxTimeout = 5 * time.Second

// ShardedTx serializes mutations of the same change request in process. It isolates
// concurrent writers but does not roll back partial writes when fn fails.
type ShardedTx struct {
	shards  [numShards]sync.Mutex
	timeout time.Duration
}

func NewShardedTx(timeout time.Duration) *ShardedTx {
	return &ShardedTx{timeout: timeout}
}

func (t *ShardedTx) RunInTx(ctx context.Context, crID int64, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	timeout := t.timeout
	if timeout == 0 {
		timeout = defaultTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	shard := selectShard(crID)
	t.shards[shard].Lock()
	defer t.shards[shard].Unlock()

	// Check again after acquiring lock
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	return fn(ctx)
}

// selectShard maps a change request id to a shard. Creation (id 0) uses shard 0.
func selectShard(crID int64) int {
	if crID == 0 {
		return 0
	}
	return int(hashString(strconv.FormatInt(crID, 10)) % numShards)
}

// hashString is FNV-1a.
func hashString(s string) uint32 {
	const (
		fnvOffset = 2166136261
		fnvPrime  = 16777619
	)
	h := uint32(fnvOffset)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= fnvPrime
	}
	return h
}
