package audio

import (
	"github.com/audiohub/audiohub-go/internal/errors"
)

// Resample converts samples between sample rates using cubic
// interpolation. Input at the target rate is returned untouched.
func Resample(samples []float32, sourceRate, targetRate int) ([]float32, error) {
	if sourceRate <= 0 || targetRate <= 0 {
		return nil, errors.Newf("invalid sample rates: %d -> %d", sourceRate, targetRate).
			Component("audio").
			Category(errors.CategoryValidation).
			Kind(errors.KindInvalidInput).
			Context("operation", "resample").
			Build()
	}
	if sourceRate == targetRate {
		return samples, nil
	}
	if len(samples) < 4 {
		// Too short for cubic neighbors, nothing meaningful to emit.
		return nil, nil
	}

	ratio := float64(targetRate) / float64(sourceRate)
	newLength := int(float64(len(samples)) * ratio)
	resampled := make([]float32, newLength)

	lastIndex := len(samples) - 3

	for i := 0; i < newLength; i++ {
		origPos := float64(i) / ratio
		index := int(origPos)

		// Clamp so the four interpolation taps stay in bounds.
		if index < 1 {
			index = 1
		} else if index > lastIndex {
			index = lastIndex
		}

		frac := float32(origPos) - float32(index)

		y0, y1, y2, y3 := samples[index-1], samples[index], samples[index+1], samples[index+2]
		mu2 := frac * frac
		a0 := -0.5*y0 + 1.5*y1 - 1.5*y2 + 0.5*y3
		a1 := y0 - 2.5*y1 + 2*y2 - 0.5*y3
		a2 := -0.5*y0 + 0.5*y2
		a3 := y1

		resampled[i] = a0*frac*mu2 + a1*mu2 + a2*frac + a3
	}

	return resampled, nil
}
