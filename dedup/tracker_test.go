package dedup

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTracker_ShouldEmit(t *testing.T) {
	tracker := NewTracker()

	for i := 0; i < 10; i++ {
		id := fmt.Sprintf("txn-%d", i)
		require.True(t, tracker.ShouldEmit(id))
		require.False(t, tracker.ShouldEmit(id))
		require.False(t, tracker.ShouldEmit(id))
	}
	require.Equal(t, 10, tracker.Len())

	tracker.Forget("txn-3")
	require.True(t, tracker.ShouldEmit("txn-3"))

	tracker.Reset()
	require.Equal(t, 0, tracker.Len())
	for i := 0; i < 10; i++ {
		require.True(t, tracker.ShouldEmit(fmt.Sprintf("txn-%d", i)))
	}
}

func TestTracker_Concurrent(t *testing.T) {
	tracker := NewTracker()

	const workers = 32
	const ids = 50

	var passed [ids]atomic.Int32
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < ids; i++ {
				if tracker.ShouldEmit(fmt.Sprintf("txn-%d", i)) {
					passed[i].Add(1)
				}
			}
		}()
	}
	wg.Wait()

	for i := 0; i < ids; i++ {
		require.EqualValues(t, 1, passed[i].Load(), "txn-%d", i)
	}
}
