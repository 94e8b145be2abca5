// Package sequence allocates strictly increasing business identifiers.
package sequence

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	txcontext "changeflow/pkg/platform/tx"
)

// Allocator hands out the next value of a named counter. Values are never reused.
type Allocator interface {
	Next(ctx context.Context, name string) (int64, error)
}

const redisKeyPrefix = "changeflow:seq:"

// RedisAllocator uses INCR, which is atomic across processes.
type RedisAllocator struct {
	client redis.Cmdable
}

func NewRedisAllocator(client redis.Cmdable) *RedisAllocator {
	return &RedisAllocator{client: client}
}

func (a *RedisAllocator) Next(ctx context.Context, name string) (int64, error) {
	v, err := a.client.Incr(ctx, redisKeyPrefix+name).Result()
	if err != nil {
		return 0, fmt.Errorf("increment sequence %s: %w", name, err)
	}
	return v, nil
}

// PostgresAllocator increments a row in cr_sequences. Inside a transaction the row lock
// serializes concurrent callers until commit.
type PostgresAllocator struct {
	db *sql.DB
}

func NewPostgresAllocator(db *sql.DB) *PostgresAllocator {
	return &PostgresAllocator{db: db}
}

func (a *PostgresAllocator) Next(ctx context.Context, name string) (int64, error) {
	const query = `
		INSERT INTO cr_sequences (name, value) VALUES ($1, 1)
		ON CONFLICT (name) DO UPDATE SET value = cr_sequences.value + 1
		RETURNING value`
	var v int64
	if err := txcontext.Conn(ctx, a.db).QueryRowContext(ctx, query, name).Scan(&v); err != nil {
		return 0, fmt.Errorf("increment sequence %s: %w", name, err)
	}
	return v, nil
}

// MemoryAllocator keeps counters in process memory.
type MemoryAllocator struct {
	mu     sync.Mutex
	values map[string]int64
}

func NewMemoryAllocator() *MemoryAllocator {
	return &MemoryAllocator{values: make(map[string]int64)}
}

func (a *MemoryAllocator) Next(_ context.Context, name string) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.values[name]++
	return a.values[name], nil
}
