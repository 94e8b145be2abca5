package requestcontext

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestActor(t *testing.T) {
	ctx := context.Background()
	assert.Zero(t, ActorID(ctx))
	assert.Nil(t, ActorRoles(ctx))

	roles := []string{"head_of_it", "requestor"}
	ctx = WithActor(ctx, 7, roles)
	roles[0] = "mutated"

	assert.Equal(t, int64(7), ActorID(ctx))
	assert.Equal(t, []string{"head_of_it", "requestor"}, ActorRoles(ctx))
}

func TestNowFallsBackToClock(t *testing.T) {
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	assert.Equal(t, fixed, Now(WithTime(context.Background(), fixed)))
	assert.WithinDuration(t, time.Now(), Now(context.Background()), time.Second)
}

func TestDetachKeepsValuesDropsCancel(t *testing.T) {
	parent, cancel := context.WithCancel(WithRequestID(context.Background(), "req-1"))
	detached := Detach(parent)
	cancel()

	assert.Error(t, parent.Err())
	assert.NoError(t, detached.Err())
	assert.Equal(t, "req-1", RequestID(detached))
}
