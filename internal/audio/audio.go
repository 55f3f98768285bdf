// Package audio reads WAV and FLAC files and assembles streamed PCM
// into fixed-length float32 chunks for the step executors. All decoded
// audio is mono at the configured sample rate; other rates are
// resampled on the way in.
package audio

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/audiohub/audiohub-go/internal/conf"
	"github.com/audiohub/audiohub-go/internal/errors"
	"github.com/audiohub/audiohub-go/internal/pool"
)

// Info describes a validated audio file.
type Info struct {
	SampleRate   int
	TotalSamples int
	NumChannels  int
	BitDepth     int
}

// Duration returns the file length in seconds.
func (i Info) Duration() float64 {
	if i.SampleRate == 0 {
		return 0
	}
	return float64(i.TotalSamples) / float64(i.SampleRate)
}

// ChunkCallback receives one chunk of mono samples at the configured
// sample rate. Ownership of the slice transfers to the callback; chunks
// drawn from a buffer pool should be returned there once processed.
type ChunkCallback func(chunk []float32) error

// sampleSink consumes decoded mono blocks as the format readers produce
// them. The chunker reshapes blocks into executor windows; the mono
// accumulator keeps the signal contiguous.
type sampleSink interface {
	feed(samples []float32) error
}

// fallbackBlockSamples sizes decoder read buffers when the settings
// carry no usable chunk length, 3 seconds at 16 kHz.
const fallbackBlockSamples = 48000

// Sentinel errors for file ingestion.
var (
	ErrUnsupportedFormat = errors.NewStd("unsupported audio file format")
	ErrInvalidFile       = errors.NewStd("invalid audio file")
	ErrFileEmpty         = errors.NewStd("audio file contains no samples")
)

// GetInfo opens the file and returns its stream parameters without
// decoding the audio.
func GetInfo(path string) (Info, error) {
	file, err := os.Open(path)
	if err != nil {
		return Info{}, openError(path, err)
	}
	defer file.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		return readWAVInfo(file)
	case ".flac":
		return readFLACInfo(file)
	default:
		return Info{}, formatError(path)
	}
}

// ReadFileBuffered decodes the file and hands every chunk to the
// callback as soon as it is complete. Chunk length and overlap come
// from the audio settings; chunks are drawn from buffers when the pool
// matches the chunk length.
func ReadFileBuffered(path string, settings *conf.Settings, buffers *pool.BufferPool, callback ChunkCallback) error {
	file, err := os.Open(path)
	if err != nil {
		return openError(path, err)
	}
	defer file.Close()

	ch, err := newChunker(settings, buffers, callback)
	if err != nil {
		return err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		err = readWAVBuffered(file, settings, ch)
	case ".flac":
		err = readFLACBuffered(file, settings, ch)
	default:
		return formatError(path)
	}
	if err != nil {
		return err
	}
	return ch.flush()
}

// ReadFile decodes the whole file into chunks. Convenience wrapper for
// one-shot file processing.
func ReadFile(path string, settings *conf.Settings) ([][]float32, error) {
	var chunks [][]float32
	err := ReadFileBuffered(path, settings, nil, func(chunk []float32) error {
		chunks = append(chunks, chunk)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return chunks, nil
}

// monoAccumulator collects every decoded block into one contiguous slice.
type monoAccumulator struct {
	samples []float32
}

func (m *monoAccumulator) feed(samples []float32) error {
	m.samples = append(m.samples, samples...)
	return nil
}

// ReadFileMono decodes the whole file into a single contiguous sample
// slice at the configured rate. Task submission uses this; the chunked
// readers exist for executors that window their input.
func ReadFileMono(path string, settings *conf.Settings) ([]float32, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, openError(path, err)
	}
	defer file.Close()

	acc := &monoAccumulator{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		err = readWAVBuffered(file, settings, acc)
	case ".flac":
		err = readFLACBuffered(file, settings, acc)
	default:
		return nil, formatError(path)
	}
	if err != nil {
		return nil, err
	}
	if len(acc.samples) == 0 {
		return nil, ErrFileEmpty
	}
	return acc.samples, nil
}

// TotalChunks estimates how many chunks the chunker will emit for a
// file of the given length. Used for progress reporting; the resampler
// may shift the count by one around chunk boundaries.
func TotalChunks(sampleRate, totalSamples int, settings *conf.Settings) int {
	samples := totalSamples
	target := settings.Audio.SampleRate
	if sampleRate > 0 && sampleRate != target {
		samples = int(float64(totalSamples) * float64(target) / float64(sampleRate))
	}

	chunk := settings.ChunkSamples()
	step := chunk - overlapSamples(settings)
	if chunk <= 0 || step <= 0 {
		return 0
	}

	count := 0
	if samples >= chunk {
		count = (samples-chunk)/step + 1
		samples -= count * step
	}
	if samples >= chunk/2 {
		count++
	}
	return count
}

func overlapSamples(settings *conf.Settings) int {
	return int(settings.Audio.OverlapSeconds * float64(settings.Audio.SampleRate))
}

func openError(path string, err error) error {
	return errors.New(err).
		Component("audio").
		Category(errors.CategoryFileIO).
		Context("operation", "open_audio_file").
		Context("path", filepath.Base(path)).
		Build()
}

func formatError(path string) error {
	return errors.New(ErrUnsupportedFormat).
		Component("audio").
		Category(errors.CategoryValidation).
		Kind(errors.KindInvalidInput).
		Context("operation", "detect_audio_format").
		Context("extension", strings.ToLower(filepath.Ext(path))).
		Build()
}
