package audio

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/smallnest/ringbuffer"

	"github.com/audiohub/audiohub-go/internal/conf"
	"github.com/audiohub/audiohub-go/internal/errors"
	"github.com/audiohub/audiohub-go/internal/logging"
	"github.com/audiohub/audiohub-go/internal/pool"
)

// StreamBitDepth is the PCM bit depth accepted on streaming ingest.
const StreamBitDepth = 16

const (
	streamBytesPerSample = StreamBitDepth / 8
	writeRetries         = 3
	writeRetryDelay      = 10 * time.Millisecond
	capacityWarnAt       = 0.9
	warnEvery            = 32
	kilobyte             = 1024
)

// ErrSourceExists is returned when registering a source twice.
var ErrSourceExists = errors.NewStd("stream source already registered")

// ErrSourceUnknown is returned for operations on unregistered sources.
var ErrSourceUnknown = errors.NewStd("no stream registered for source")

// StreamAssembler collects 16-bit little-endian mono PCM fragments per
// source into ring buffers and yields fixed-length float32 chunks once
// enough audio has arrived. Consecutive chunks share the configured
// overlap.
type StreamAssembler struct {
	mu       sync.RWMutex
	rings    map[string]*ringbuffer.RingBuffer
	pending  map[string][]byte
	warnings map[string]int

	capacity   int // ring capacity in bytes
	chunkBytes int
	stepBytes  int

	chunkSamples int
	buffers      *pool.BufferPool
	logger       *slog.Logger
}

// NewStreamAssembler sizes the assembler from the audio settings. The
// buffer pool is optional; when its size matches the chunk length,
// emitted chunks are drawn from it.
func NewStreamAssembler(settings *conf.Settings, buffers *pool.BufferPool) (*StreamAssembler, error) {
	chunkSamples := settings.ChunkSamples()
	stepSamples := chunkSamples - overlapSamples(settings)
	if chunkSamples <= 0 || stepSamples <= 0 {
		return nil, errors.Newf("chunk of %d samples with overlap leaves no step", chunkSamples).
			Component("audio").
			Category(errors.CategoryValidation).
			Kind(errors.KindInvalidInput).
			Context("operation", "configure_stream_assembler").
			Build()
	}

	capacity := settings.Audio.StreamBuffer * kilobyte
	if capacity < chunkSamples*streamBytesPerSample {
		capacity = chunkSamples * streamBytesPerSample
	}

	return &StreamAssembler{
		rings:        make(map[string]*ringbuffer.RingBuffer),
		pending:      make(map[string][]byte),
		warnings:     make(map[string]int),
		capacity:     capacity,
		chunkBytes:   chunkSamples * streamBytesPerSample,
		stepBytes:    stepSamples * streamBytesPerSample,
		chunkSamples: chunkSamples,
		buffers:      buffers,
		logger:       logging.ForService("audio-stream"),
	}, nil
}

// Register creates the ring buffer for a new source.
func (s *StreamAssembler) Register(source string) error {
	if source == "" {
		return errors.Newf("empty stream source name").
			Component("audio").
			Category(errors.CategoryValidation).
			Kind(errors.KindInvalidInput).
			Context("operation", "register_stream").
			Build()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rings[source]; exists {
		return errors.New(ErrSourceExists).
			Component("audio").
			Category(errors.CategoryConflict).
			Context("operation", "register_stream").
			Context("source", source).
			Build()
	}

	s.rings[source] = ringbuffer.New(s.capacity)
	s.pending[source] = nil
	s.warnings[source] = 0

	s.logger.Debug("stream registered", "source", source, "capacity_bytes", s.capacity)
	return nil
}

// Unregister drops the source and discards any buffered audio.
func (s *StreamAssembler) Unregister(source string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rb, exists := s.rings[source]
	if !exists {
		return unknownSourceError(source, "unregister_stream")
	}
	rb.Reset()
	delete(s.rings, source)
	delete(s.pending, source)
	delete(s.warnings, source)
	return nil
}

// Write appends PCM bytes to the source's ring buffer. A full ring is
// retried briefly before the fragment is dropped with an error.
func (s *StreamAssembler) Write(source string, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if len(data)%streamBytesPerSample != 0 {
		return errors.Newf("pcm fragment length %d is not sample aligned", len(data)).
			Component("audio").
			Category(errors.CategoryValidation).
			Kind(errors.KindInvalidInput).
			Context("operation", "write_stream").
			Context("source", source).
			Build()
	}

	s.mu.RLock()
	rb, exists := s.rings[source]
	s.mu.RUnlock()
	if !exists {
		return unknownSourceError(source, "write_stream")
	}

	s.warnIfNearFull(source, rb)

	var lastErr error
	for attempt := 0; attempt < writeRetries; attempt++ {
		var err error
		s.mu.Lock()
		// All or nothing: a partial ring write would duplicate audio on
		// the retry.
		if rb.Free() < len(data) {
			err = ringbuffer.ErrIsFull
		} else {
			_, err = rb.Write(data)
		}
		s.mu.Unlock()
		if err == nil {
			return nil
		}
		lastErr = err

		if !errors.Is(err, ringbuffer.ErrIsFull) {
			break
		}
		if attempt < writeRetries-1 {
			time.Sleep(writeRetryDelay)
		}
	}

	return errors.New(lastErr).
		Component("audio").
		Category(errors.CategoryResource).
		Kind(errors.KindResourceExceeded).
		Context("operation", "write_stream").
		Context("source", source).
		Context("dropped_bytes", len(data)).
		Build()
}

// ReadChunk returns the next overlapping chunk for the source, or nil
// when not enough audio has accumulated yet.
func (s *StreamAssembler) ReadChunk(source string) ([]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rb, exists := s.rings[source]
	if !exists {
		return nil, unknownSourceError(source, "read_stream")
	}

	if rb.Length() < s.stepBytes {
		return nil, nil
	}

	data := make([]byte, s.stepBytes)
	if _, err := rb.Read(data); err != nil {
		return nil, errors.New(err).
			Component("audio").
			Category(errors.CategoryProcessing).
			Context("operation", "read_stream").
			Context("source", source).
			Build()
	}

	joined := append(s.pending[source], data...)
	if len(joined) < s.chunkBytes {
		s.pending[source] = joined
		return nil, nil
	}
	s.pending[source] = joined[s.stepBytes:]

	chunk := s.newChunk()
	convert16Bit(joined[:s.chunkBytes], chunk)
	return chunk, nil
}

// Buffered reports how many bytes are queued for the source, including
// the pending overlap carry.
func (s *StreamAssembler) Buffered(source string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rb, exists := s.rings[source]
	if !exists {
		return 0, unknownSourceError(source, "stream_status")
	}
	return rb.Length() + len(s.pending[source]), nil
}

// Sources lists the registered stream sources in stable order.
func (s *StreamAssembler) Sources() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.rings))
	for source := range s.rings {
		out = append(out, source)
	}
	sort.Strings(out)
	return out
}

func (s *StreamAssembler) newChunk() []float32 {
	if s.buffers != nil && s.buffers.Size() == s.chunkSamples {
		return s.buffers.Get()
	}
	return make([]float32, s.chunkSamples)
}

func (s *StreamAssembler) warnIfNearFull(source string, rb *ringbuffer.RingBuffer) {
	capacity := rb.Capacity()
	if capacity == 0 {
		return
	}
	used := float64(rb.Length()) / float64(capacity)
	if used <= capacityWarnAt {
		return
	}

	s.mu.Lock()
	s.warnings[source]++
	count := s.warnings[source]
	s.mu.Unlock()

	if count%warnEvery == 1 {
		s.logger.Warn("stream buffer nearly full",
			"source", source,
			"used_percent", used*100,
			"used_bytes", rb.Length(),
			"capacity_bytes", capacity)
	}
}

func unknownSourceError(source, operation string) error {
	return errors.New(ErrSourceUnknown).
		Component("audio").
		Category(errors.CategoryNotFound).
		Context("operation", operation).
		Context("source", source).
		Build()
}
