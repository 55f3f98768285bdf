package audio

import (
	"github.com/audiohub/audiohub-go/internal/conf"
	"github.com/audiohub/audiohub-go/internal/errors"
	"github.com/audiohub/audiohub-go/internal/pool"
)

// chunker accumulates decoded samples and emits fixed-length chunks
// with the configured overlap. The trailing partial chunk is zero
// padded to full length when it covers at least half a chunk, shorter
// tails are dropped.
type chunker struct {
	chunkSamples int
	stepSamples  int
	minSamples   int
	buffers      *pool.BufferPool
	current      []float32
	emit         ChunkCallback
}

func newChunker(settings *conf.Settings, buffers *pool.BufferPool, emit ChunkCallback) (*chunker, error) {
	chunk := settings.ChunkSamples()
	overlap := overlapSamples(settings)
	step := chunk - overlap
	if chunk <= 0 || step <= 0 {
		return nil, errors.Newf("chunk of %d samples with %d samples overlap leaves no step", chunk, overlap).
			Component("audio").
			Category(errors.CategoryValidation).
			Kind(errors.KindInvalidInput).
			Context("operation", "configure_chunker").
			Build()
	}
	return &chunker{
		chunkSamples: chunk,
		stepSamples:  step,
		minSamples:   chunk / 2,
		buffers:      buffers,
		emit:         emit,
	}, nil
}

func (c *chunker) newChunk() []float32 {
	if c.buffers != nil && c.buffers.Size() == c.chunkSamples {
		return c.buffers.Get()
	}
	return make([]float32, c.chunkSamples)
}

// feed appends decoded samples and emits every chunk that completes.
func (c *chunker) feed(samples []float32) error {
	c.current = append(c.current, samples...)
	for len(c.current) >= c.chunkSamples {
		out := c.newChunk()
		copy(out, c.current[:c.chunkSamples])
		if err := c.emit(out); err != nil {
			return err
		}
		c.current = c.current[c.stepSamples:]
	}
	return nil
}

// flush emits the trailing partial chunk, if long enough to matter.
func (c *chunker) flush() error {
	if len(c.current) < c.minSamples {
		c.current = nil
		return nil
	}
	out := c.newChunk()
	n := copy(out, c.current)
	// Pooled buffers arrive with stale samples past the copied tail.
	for i := n; i < len(out); i++ {
		out[i] = 0
	}
	c.current = nil
	return c.emit(out)
}
