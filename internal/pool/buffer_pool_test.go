package pool

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiohub/audiohub-go/internal/errors"
)

func TestNewBufferPoolRejectsInvalidSize(t *testing.T) {
	t.Parallel()

	for _, size := range []int{0, -1, -144000} {
		_, err := NewBufferPool(size)
		require.Error(t, err, "size %d must be rejected", size)
		assert.True(t, errors.IsKind(err, errors.KindInvalidInput),
			"size validation should carry the invalid input kind")
	}
}

func TestBufferPoolGetPut(t *testing.T) {
	const bufferSize = 1024
	bp, err := NewBufferPool(bufferSize)
	require.NoError(t, err)
	assert.Equal(t, bufferSize, bp.Size())

	buf := bp.Get()
	assert.NotNil(t, buf)
	assert.Len(t, buf, bufferSize)

	// First get is always a miss since the pool starts empty.
	stats := bp.Stats()
	assert.Equal(t, uint64(0), stats.Hits)
	assert.GreaterOrEqual(t, stats.Misses, uint64(1))

	bp.Put(buf)

	buf2 := bp.Get()
	assert.NotNil(t, buf2)
	assert.Len(t, buf2, bufferSize)

	// sync.Pool reuse is non-deterministic, only the totals are stable.
	stats = bp.Stats()
	assert.GreaterOrEqual(t, stats.Misses, uint64(1))
	assert.Greater(t, stats.Hits+stats.Misses, uint64(1))
}

func TestBufferPoolDiscardsWrongSizes(t *testing.T) {
	t.Parallel()
	const bufferSize = 1024
	bp, err := NewBufferPool(bufferSize)
	require.NoError(t, err)

	bp.Put(nil)
	stats := bp.Stats()
	assert.Equal(t, uint64(1), stats.Discarded)

	bp.Put(make([]float32, bufferSize+1))
	stats = bp.Stats()
	assert.Equal(t, uint64(2), stats.Discarded)

	bp.Put(make([]float32, bufferSize))
	got := bp.Get()
	assert.Len(t, got, bufferSize)
}

func TestBufferPoolHitRate(t *testing.T) {
	const bufferSize = 256
	bp, err := NewBufferPool(bufferSize)
	require.NoError(t, err)

	assert.InDelta(t, 0.0, bp.HitRate(), 0.0001, "empty pool has no hit rate")

	for range 20 {
		buf := bp.Get()
		bp.Put(buf)
	}

	rate := bp.HitRate()
	assert.GreaterOrEqual(t, rate, 0.0)
	assert.LessOrEqual(t, rate, 1.0)
}

func TestBufferPoolClear(t *testing.T) {
	t.Parallel()
	const bufferSize = 512
	bp, err := NewBufferPool(bufferSize)
	require.NoError(t, err)

	for range 5 {
		buf := bp.Get()
		bp.Put(buf)
	}
	before := bp.Stats()
	assert.Positive(t, before.Misses)

	bp.Clear()

	// A cleared pool must allocate fresh buffers again.
	buf := bp.Get()
	assert.Len(t, buf, bufferSize)
	after := bp.Stats()
	assert.Greater(t, after.Misses, before.Misses,
		"get after clear should miss")
}

func TestBufferPoolConcurrentAccess(t *testing.T) {
	const (
		bufferSize   = 1024
		numWorkers   = 8
		opsPerWorker = 500
	)

	bp, err := NewBufferPool(bufferSize)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range numWorkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range opsPerWorker {
				buf := bp.Get()
				if len(buf) != bufferSize {
					t.Errorf("got buffer of length %d, want %d", len(buf), bufferSize)
					return
				}
				buf[0] = 1.0
				buf[len(buf)-1] = -1.0
				bp.Put(buf)
			}
		}()
	}
	wg.Wait()

	stats := bp.Stats()
	assert.Equal(t, uint64(numWorkers*opsPerWorker), stats.Hits+stats.Misses,
		"every get is either a hit or a miss")
}
