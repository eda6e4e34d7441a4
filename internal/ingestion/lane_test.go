package ingestion

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLaneRunner_PreservesOrderPerKey(t *testing.T) {
	runner := NewLaneRunner(context.Background(), 4)
	defer runner.Close()

	var (
		mu   sync.Mutex
		seen = map[string][]int{}
		wg   sync.WaitGroup
	)

	for i := 0; i < 100; i++ {
		for _, key := range []string{"p0", "p1", "p2"} {
			wg.Add(1)
			i, key := i, key
			require.NoError(t, runner.Dispatch(context.Background(), key, func(context.Context) {
				defer wg.Done()
				mu.Lock()
				seen[key] = append(seen[key], i)
				mu.Unlock()
			}))
		}
	}
	wg.Wait()

	assert.Equal(t, 3, runner.Lanes())
	for key, got := range seen {
		require.Len(t, got, 100, key)
		for i, v := range got {
			assert.Equal(t, i, v, key)
		}
	}
}

func TestLaneRunner_KeysRunIndependently(t *testing.T) {
	runner := NewLaneRunner(context.Background(), 1)
	defer runner.Close()

	blocked := make(chan struct{})
	release := make(chan struct{})
	require.NoError(t, runner.Dispatch(context.Background(), "slow", func(context.Context) {
		close(blocked)
		<-release
	}))
	<-blocked

	done := make(chan struct{})
	require.NoError(t, runner.Dispatch(context.Background(), "fast", func(context.Context) {
		close(done)
	}))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lane blocked by another key")
	}
	close(release)
}

func TestLaneRunner_RejectsAfterClose(t *testing.T) {
	runner := NewLaneRunner(context.Background(), 1)
	runner.Close()

	err := runner.Dispatch(context.Background(), "p0", func(context.Context) {})
	assert.ErrorIs(t, err, ErrLaneRunnerClosed)
}
