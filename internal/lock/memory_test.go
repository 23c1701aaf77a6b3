package lock

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLockerIsExclusivePerKey(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	locker := NewMemoryLocker()

	release, ok, err := locker.TryLock(ctx, "U1")
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = locker.TryLock(ctx, "U1")
	require.NoError(t, err)
	assert.False(t, ok)

	other, ok, err := locker.TryLock(ctx, "U2")
	require.NoError(t, err)
	assert.True(t, ok)
	other()

	release()
	release()

	again, ok, err := locker.TryLock(ctx, "U1")
	require.NoError(t, err)
	assert.True(t, ok)
	again()
}

func TestMemoryLockerSingleWinnerUnderContention(t *testing.T) {
	t.Parallel()

	locker := NewMemoryLocker()
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, _ := locker.TryLock(context.Background(), "U1")
			if ok {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, winners)
}
