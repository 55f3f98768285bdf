package pool

import (
	"sync"
	"sync/atomic"

	"github.com/audiohub/audiohub-go/internal/errors"
)

// BufferPool provides a thread-safe pool of sample slices to reduce
// allocations on the chunking path. Buffers that come back with the
// wrong length are discarded rather than reused.
type BufferPool struct {
	pool      sync.Pool
	size      int
	gets      atomic.Uint64
	news      atomic.Uint64
	discarded atomic.Uint64
}

// NewBufferPool creates a pool of sample buffers of the given length.
func NewBufferPool(size int) (*BufferPool, error) {
	if size <= 0 {
		return nil, errors.Newf("invalid buffer size: %d, must be greater than 0", size).
			Component("pool").
			Category(errors.CategoryValidation).
			Kind(errors.KindInvalidInput).
			Context("operation", "create_buffer_pool").
			Context("requested_size", size).
			Build()
	}

	bp := &BufferPool{size: size}
	bp.pool.New = func() any {
		bp.news.Add(1)
		return make([]float32, size)
	}
	return bp, nil
}

// Size returns the buffer length in samples.
func (bp *BufferPool) Size() int {
	return bp.size
}

// Get retrieves a buffer from the pool, allocating when empty. The
// returned slice always has the configured length.
func (bp *BufferPool) Get() []float32 {
	bp.gets.Add(1)
	buf := bp.pool.Get().([]float32)
	if len(buf) == bp.size {
		return buf
	}

	bp.discarded.Add(1)
	bp.news.Add(1)
	return make([]float32, bp.size)
}

// Put returns a buffer to the pool for reuse. Contents are not cleared.
func (bp *BufferPool) Put(buf []float32) {
	if buf == nil || len(buf) != bp.size {
		bp.discarded.Add(1)
		return
	}

	//nolint:staticcheck // SA6002: slice headers are cheap to copy here
	bp.pool.Put(buf)
}

// BufferPoolStats reports pool efficiency counters.
type BufferPoolStats struct {
	Hits      uint64 // reuses (Gets - News)
	Misses    uint64 // fresh allocations
	Discarded uint64 // buffers rejected for size mismatch
}

// Stats returns a snapshot of the pool counters.
func (bp *BufferPool) Stats() BufferPoolStats {
	gets := bp.gets.Load()
	news := bp.news.Load()

	hits := uint64(0)
	if gets > news {
		hits = gets - news
	}

	return BufferPoolStats{
		Hits:      hits,
		Misses:    news,
		Discarded: bp.discarded.Load(),
	}
}

// HitRate returns the fraction of Get calls served without allocating.
func (bp *BufferPool) HitRate() float64 {
	stats := bp.Stats()
	total := float64(stats.Hits + stats.Misses)
	if total == 0 {
		return 0
	}
	return float64(stats.Hits) / total
}

// Clear drops all pooled buffers so they can be collected. Used when the
// pool is under memory pressure.
func (bp *BufferPool) Clear() {
	bp.pool = sync.Pool{
		New: func() any {
			bp.news.Add(1)
			return make([]float32, bp.size)
		},
	}
}
