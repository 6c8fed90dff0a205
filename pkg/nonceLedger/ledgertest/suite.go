// Package ledgertest holds the behaviour every INonceLedger backend must share
package ledgertest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/Layr-Labs/eigenx-widget-bridge/pkg/nonceLedger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunLedgerSuite exercises newLedger against the INonceLedger contract
func RunLedgerSuite(t *testing.T, newLedger func(t *testing.T) nonceLedger.INonceLedger) {
	ctx := context.Background()

	t.Run("AddThenContains", func(t *testing.T) {
		l := newLedger(t)
		defer func() { _ = l.Close() }()

		found, err := l.Contains(ctx, "n1")
		require.NoError(t, err)
		assert.False(t, found)

		added, err := l.Add(ctx, "n1")
		require.NoError(t, err)
		assert.True(t, added)

		found, err = l.Contains(ctx, "n1")
		require.NoError(t, err)
		assert.True(t, found)

		size, err := l.Len(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, size)
	})

	t.Run("DuplicateAdd", func(t *testing.T) {
		l := newLedger(t)
		defer func() { _ = l.Close() }()

		added, err := l.Add(ctx, "dup")
		require.NoError(t, err)
		require.True(t, added)

		added, err = l.Add(ctx, "dup")
		require.NoError(t, err)
		assert.False(t, added)

		size, err := l.Len(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, size)
	})

	t.Run("Clear", func(t *testing.T) {
		l := newLedger(t)
		defer func() { _ = l.Close() }()

		for i := 0; i < 10; i++ {
			_, err := l.Add(ctx, fmt.Sprintf("n-%d", i))
			require.NoError(t, err)
		}
		require.NoError(t, l.Clear(ctx))

		size, err := l.Len(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, size)

		found, err := l.Contains(ctx, "n-3")
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("ConcurrentAddSameNonce", func(t *testing.T) {
		l := newLedger(t)
		defer func() { _ = l.Close() }()

		var wins int32
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				added, err := l.Add(ctx, "race")
				assert.NoError(t, err)
				if added {
					atomic.AddInt32(&wins, 1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins)
	})

	t.Run("ClosedLedger", func(t *testing.T) {
		l := newLedger(t)
		require.NoError(t, l.Close())
		require.NoError(t, l.Close())

		_, err := l.Add(ctx, "n")
		assert.ErrorIs(t, err, nonceLedger.ErrLedgerClosed)
		_, err = l.Contains(ctx, "n")
		assert.ErrorIs(t, err, nonceLedger.ErrLedgerClosed)
	})
}
