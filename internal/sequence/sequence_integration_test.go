//go:build integration

package sequence_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"changeflow/internal/sequence"
	txcontext "changeflow/pkg/platform/tx"
	"changeflow/pkg/testutil/containers"
)

type AllocatorIntegrationSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	redis    *containers.RedisContainer
}

func TestAllocatorIntegrationSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(AllocatorIntegrationSuite))
}

func (s *AllocatorIntegrationSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.redis = mgr.GetRedis(s.T())
}

func (s *AllocatorIntegrationSuite) SetupTest() {
	ctx := context.Background()
	s.Require().NoError(s.postgres.TruncateTables(ctx, "cr_sequences"))
	s.Require().NoError(s.redis.FlushAll(ctx))
}

func (s *AllocatorIntegrationSuite) allocators() map[string]sequence.Allocator {
	return map[string]sequence.Allocator{
		"postgres": sequence.NewPostgresAllocator(s.postgres.DB),
		"redis":    sequence.NewRedisAllocator(s.redis.Client),
	}
}

func (s *AllocatorIntegrationSuite) TestConcurrentCallersGetDistinctValues() {
	for name, alloc := range s.allocators() {
		s.Run(name, func() {
			const callers = 25
			var (
				wg   sync.WaitGroup
				mu   sync.Mutex
				seen = make(map[int64]bool, callers)
			)
			for range callers {
				wg.Add(1)
				go func() {
					defer wg.Done()
					v, err := alloc.Next(context.Background(), "change_request:2026")
					if !assert.NoError(s.T(), err) {
						return
					}
					mu.Lock()
					defer mu.Unlock()
					assert.False(s.T(), seen[v], "value %d handed out twice", v)
					seen[v] = true
				}()
			}
			wg.Wait()

			s.Len(seen, callers)
			for v := int64(1); v <= callers; v++ {
				s.True(seen[v], "missing value %d", v)
			}
		})
	}
}

// TestPostgresRollbackReleasesValue verifies that a value taken inside a rolled back
// transaction is handed out again, so CR numbers stay gap free with the database allocator.
func (s *AllocatorIntegrationSuite) TestPostgresRollbackReleasesValue() {
	t := s.T()
	ctx := context.Background()
	alloc := sequence.NewPostgresAllocator(s.postgres.DB)

	first, err := alloc.Next(ctx, "change_request:2026")
	require.NoError(t, err)

	tx, err := s.postgres.DB.BeginTx(ctx, nil)
	require.NoError(t, err)
	inTx, err := alloc.Next(txcontext.WithTx(ctx, tx), "change_request:2026")
	require.NoError(t, err)
	require.Equal(t, first+1, inTx)
	require.NoError(t, tx.Rollback())

	next, err := alloc.Next(ctx, "change_request:2026")
	require.NoError(t, err)
	assert.Equal(t, first+1, next)
}
