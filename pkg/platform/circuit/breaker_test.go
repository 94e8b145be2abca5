package circuit

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Defaults(t *testing.T) {
	b := New("notifications")
	assert.Equal(t, "notifications", b.Name())
	assert.Equal(t, StateClosed, b.State())
	assert.False(t, b.IsOpen())

	for range 4 {
		b.RecordFailure()
	}
	assert.False(t, b.IsOpen(), "default threshold is five failures")
	b.RecordFailure()
	assert.True(t, b.IsOpen())
}

// outcome is one recorded call: true for success.
type outcome bool

const (
	ok   outcome = true
	fail outcome = false
)

func TestBreaker_Sequences(t *testing.T) {
	tests := []struct {
		name      string
		failures  int
		successes int
		outcomes  []outcome
		wantOpen  bool
	}{
		{"below failure threshold", 3, 2, []outcome{fail, fail}, false},
		{"reaches failure threshold", 3, 2, []outcome{fail, fail, fail}, true},
		{"success resets failure streak", 3, 2, []outcome{fail, fail, ok, fail, fail}, false},
		{"one success does not close", 1, 2, []outcome{fail, ok}, true},
		{"success streak closes", 1, 2, []outcome{fail, ok, ok}, false},
		{"failure resets success streak", 1, 3, []outcome{fail, ok, ok, fail, ok, ok}, true},
		{"full success streak after reset", 1, 3, []outcome{fail, ok, ok, fail, ok, ok, ok}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := New("broker", WithFailureThreshold(tt.failures), WithSuccessThreshold(tt.successes))
			for _, o := range tt.outcomes {
				if o {
					b.RecordSuccess()
				} else {
					b.RecordFailure()
				}
			}
			assert.Equal(t, tt.wantOpen, b.IsOpen())
		})
	}
}

func TestBreaker_ReportsTransitionsOnce(t *testing.T) {
	b := New("broker", WithFailureThreshold(2), WithSuccessThreshold(1))

	useFallback, change := b.RecordFailure()
	assert.False(t, useFallback)
	assert.False(t, change.Opened)

	useFallback, change = b.RecordFailure()
	assert.True(t, useFallback)
	assert.True(t, change.Opened)

	useFallback, change = b.RecordFailure()
	assert.True(t, useFallback, "open circuit keeps routing to the fallback")
	assert.False(t, change.Opened, "already open")

	usePrimary, change := b.RecordSuccess()
	assert.True(t, usePrimary)
	assert.True(t, change.Closed)

	_, change = b.RecordSuccess()
	assert.False(t, change.Closed, "already closed")
}

func TestBreaker_Reset(t *testing.T) {
	b := New("broker", WithFailureThreshold(1))
	b.RecordFailure()
	require.True(t, b.IsOpen())

	b.Reset()
	assert.Equal(t, StateClosed, b.State())

	b.RecordSuccess()
	assert.False(t, b.IsOpen())
}

func TestBreaker_IgnoresNonPositiveThresholds(t *testing.T) {
	b := New("broker", WithFailureThreshold(0), WithSuccessThreshold(-1))
	b.RecordFailure()
	assert.False(t, b.IsOpen())
}

func TestBreaker_ConcurrentUse(t *testing.T) {
	b := New("broker", WithFailureThreshold(50))

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		opened int
	)
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, change := b.RecordFailure(); change.Opened {
				mu.Lock()
				opened++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.True(t, b.IsOpen())
	assert.Equal(t, 1, opened, "exactly one caller observes the transition")
}
