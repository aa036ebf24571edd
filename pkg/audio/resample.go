package audio

import (
	"fmt"
	"math"
)

// ResampleRatio returns native/target, rejecting anything Resample cannot use.
func ResampleRatio(native, target int) (float64, error) {
	if native <= 0 || target <= 0 {
		return 0, fmt.Errorf("%w: %d/%d", ErrInvalidRatio, native, target)
	}
	ratio := float64(native) / float64(target)
	if err := ValidateRatio(ratio); err != nil {
		return 0, err
	}
	return ratio, nil
}

// ValidateRatio reports whether ratio is finite and positive.
func ValidateRatio(ratio float64) error {
	if math.IsNaN(ratio) || math.IsInf(ratio, 0) || ratio <= 0 {
		return fmt.Errorf("%w: %v", ErrInvalidRatio, ratio)
	}
	return nil
}

// Resample converts input by linear interpolation between neighbouring
// samples at source positions i*ratio. The output has floor(len/ratio)
// samples. A ratio of exactly 1 returns input itself.
//
// The ratio must already be validated; see ResampleRatio.
func Resample(input []float32, ratio float64) []float32 {
	if ratio == 1 {
		return input
	}
	n := int(math.Floor(float64(len(input)) / ratio))
	out := make([]float32, n)
	last := len(input) - 1
	for i := 0; i < n; i++ {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= last {
			out[i] = input[last]
			continue
		}
		frac := float32(pos - float64(idx))
		out[i] = input[idx] + (input[idx+1]-input[idx])*frac
	}
	return out
}
