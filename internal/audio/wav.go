package audio

import (
	"fmt"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/audiohub/audiohub-go/internal/conf"
)

func readWAVInfo(file *os.File) (Info, error) {
	decoder := wav.NewDecoder(file)
	decoder.ReadInfo()

	if !decoder.IsValidFile() {
		return Info{}, fmt.Errorf("%w: not a valid WAV file", ErrInvalidFile)
	}
	if decoder.BitDepth != 16 && decoder.BitDepth != 24 && decoder.BitDepth != 32 {
		return Info{}, fmt.Errorf("%w: unsupported bit depth %d", ErrInvalidFile, decoder.BitDepth)
	}
	if decoder.NumChans != 1 && decoder.NumChans != 2 {
		return Info{}, fmt.Errorf("%w: unsupported channel count %d", ErrInvalidFile, decoder.NumChans)
	}

	fileInfo, err := file.Stat()
	if err != nil {
		return Info{}, err
	}

	bytesPerSample := int(decoder.BitDepth / 8)
	totalSamples := int(fileInfo.Size()) / bytesPerSample / int(decoder.NumChans)
	if totalSamples == 0 {
		return Info{}, ErrFileEmpty
	}

	return Info{
		SampleRate:   int(decoder.SampleRate),
		TotalSamples: totalSamples,
		NumChannels:  int(decoder.NumChans),
		BitDepth:     int(decoder.BitDepth),
	}, nil
}

func readWAVBuffered(file *os.File, settings *conf.Settings, sink sampleSink) error {
	decoder := wav.NewDecoder(file)
	decoder.ReadInfo()
	if !decoder.IsValidFile() {
		return fmt.Errorf("%w: not a valid WAV file", ErrInvalidFile)
	}

	divisor, err := divisorForBitDepth(int(decoder.BitDepth))
	if err != nil {
		return err
	}

	sourceRate := int(decoder.SampleRate)
	targetRate := settings.Audio.SampleRate
	channels := int(decoder.NumChans)
	if channels < 1 {
		return fmt.Errorf("%w: no channels", ErrInvalidFile)
	}

	// Pull several chunks worth of frames per decoder call to keep the
	// read loop off the hot path.
	block := settings.ChunkSamples()
	if block <= 0 {
		block = fallbackBlockSamples
	}
	bufferSize := 8 * block * channels
	buf := &audio.IntBuffer{
		Data:   make([]int, bufferSize),
		Format: &audio.Format{SampleRate: sourceRate, NumChannels: channels},
	}

	for {
		n, err := decoder.PCMBuffer(buf)
		if err != nil {
			return fmt.Errorf("error decoding WAV data: %w", err)
		}
		if n == 0 {
			break
		}

		// Interleaved frames collapse to mono by keeping channel zero.
		samples := buf.Data[:n]
		floatChunk := make([]float32, 0, n/channels)
		for i := 0; i < len(samples); i += channels {
			floatChunk = append(floatChunk, float32(samples[i])/divisor)
		}

		if sourceRate != targetRate {
			floatChunk, err = Resample(floatChunk, sourceRate, targetRate)
			if err != nil {
				return fmt.Errorf("resampling wav chunk: %w", err)
			}
		}

		if err := sink.feed(floatChunk); err != nil {
			return err
		}
	}

	return nil
}
