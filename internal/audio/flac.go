package audio

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/tphakala/flac"

	"github.com/audiohub/audiohub-go/internal/conf"
)

func readFLACInfo(file *os.File) (Info, error) {
	decoder, err := flac.NewDecoder(file)
	if err != nil {
		return Info{}, fmt.Errorf("%w: %w", ErrInvalidFile, err)
	}
	if decoder.TotalSamples == 0 {
		return Info{}, ErrFileEmpty
	}

	return Info{
		SampleRate:   decoder.SampleRate,
		TotalSamples: int(decoder.TotalSamples),
		NumChannels:  decoder.NChannels,
		BitDepth:     decoder.BitsPerSample,
	}, nil
}

func readFLACBuffered(file *os.File, settings *conf.Settings, sink sampleSink) error {
	decoder, err := flac.NewDecoder(file)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidFile, err)
	}

	divisor, err := divisorForBitDepth(decoder.BitsPerSample)
	if err != nil {
		return err
	}

	sourceRate := decoder.SampleRate
	targetRate := settings.Audio.SampleRate
	bytesPerSample := decoder.BitsPerSample / 8
	frameStride := bytesPerSample * decoder.NChannels
	if frameStride <= 0 {
		return fmt.Errorf("%w: no channels", ErrInvalidFile)
	}

	for {
		frame, err := decoder.Next()
		if err == io.EOF {
			break
		} else if err != nil {
			return fmt.Errorf("error decoding FLAC frame: %w", err)
		}

		// Interleaved frames collapse to mono by keeping channel zero.
		floatChunk := make([]float32, 0, len(frame)/frameStride)
		for i := 0; i+frameStride <= len(frame); i += frameStride {
			var sample int32
			switch decoder.BitsPerSample {
			case 16:
				sample = int32(int16(binary.LittleEndian.Uint16(frame[i:])))
			case 24:
				sample = int32(frame[i]) | int32(frame[i+1])<<8 | int32(frame[i+2])<<16
				if (sample & 0x00800000) > 0 {
					sample |= ^0x00FFFFFF
				}
			case 32:
				sample = int32(binary.LittleEndian.Uint32(frame[i:]))
			}
			floatChunk = append(floatChunk, float32(sample)/divisor)
		}

		if sourceRate != targetRate {
			floatChunk, err = Resample(floatChunk, sourceRate, targetRate)
			if err != nil {
				return fmt.Errorf("resampling flac chunk: %w", err)
			}
		}

		if err := sink.feed(floatChunk); err != nil {
			return err
		}
	}

	return nil
}
