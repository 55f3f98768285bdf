package audio

import (
	"github.com/audiohub/audiohub-go/internal/errors"
)

// Normalization divisors per bit depth.
const (
	divisor16 = 32768.0
	divisor24 = 8388608.0
	divisor32 = 2147483648.0
)

func divisorForBitDepth(bitDepth int) (float32, error) {
	switch bitDepth {
	case 16:
		return divisor16, nil
	case 24:
		return divisor24, nil
	case 32:
		return divisor32, nil
	default:
		return 0, errors.Newf("unsupported audio bit depth: %d", bitDepth).
			Component("audio").
			Category(errors.CategoryValidation).
			Kind(errors.KindInvalidInput).
			Context("operation", "select_divisor").
			Context("supported_bit_depths", "16,24,32").
			Build()
	}
}

// ConvertToFloat32 decodes little-endian PCM bytes into normalized
// samples in [-1, 1). Supports 16, 24, and 32 bit depths.
func ConvertToFloat32(data []byte, bitDepth int) ([]float32, error) {
	bytesPerSample := bitDepth / 8
	switch bitDepth {
	case 16, 24, 32:
	default:
		return nil, errors.Newf("unsupported audio bit depth: %d", bitDepth).
			Component("audio").
			Category(errors.CategoryValidation).
			Kind(errors.KindInvalidInput).
			Context("operation", "convert_to_float32").
			Context("supported_bit_depths", "16,24,32").
			Build()
	}
	if len(data)%bytesPerSample != 0 {
		return nil, errors.Newf("pcm data length %d is not a multiple of the %d byte sample size", len(data), bytesPerSample).
			Component("audio").
			Category(errors.CategoryValidation).
			Kind(errors.KindInvalidInput).
			Context("operation", "convert_to_float32").
			Build()
	}

	dst := make([]float32, len(data)/bytesPerSample)
	switch bitDepth {
	case 16:
		convert16Bit(data, dst)
	case 24:
		convert24Bit(data, dst)
	case 32:
		convert32Bit(data, dst)
	}
	return dst, nil
}

func convert16Bit(data []byte, dst []float32) {
	for i := range dst {
		sample := int16(data[i*2]) | int16(data[i*2+1])<<8
		dst[i] = float32(sample) / divisor16
	}
}

func convert24Bit(data []byte, dst []float32) {
	for i := range dst {
		sample := int32(data[i*3]) | int32(data[i*3+1])<<8 | int32(data[i*3+2])<<16
		if (sample & 0x00800000) > 0 {
			sample |= ^0x00FFFFFF // two's complement sign extension
		}
		dst[i] = float32(sample) / divisor24
	}
}

func convert32Bit(data []byte, dst []float32) {
	for i := range dst {
		sample := int32(data[i*4]) | int32(data[i*4+1])<<8 | int32(data[i*4+2])<<16 | int32(data[i*4+3])<<24
		dst[i] = float32(sample) / divisor32
	}
}
