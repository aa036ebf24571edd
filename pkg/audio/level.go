package audio

import "math"

// SilenceFloorDb is reported for digital silence instead of -Inf.
const SilenceFloorDb = -100.0

// RMS returns sqrt(mean(x²)), or 0 for an empty window.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		f := float64(s)
		sum += f * f
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// Peak returns max(|x|).
func Peak(samples []float32) float64 {
	var peak float64
	for _, s := range samples {
		a := math.Abs(float64(s))
		if a > peak {
			peak = a
		}
	}
	return peak
}

// Decibels converts a linear amplitude to dBFS using 20·log10, floored at
// SilenceFloorDb.
func Decibels(amplitude float64) float64 {
	if amplitude <= 0 {
		return SilenceFloorDb
	}
	db := 20 * math.Log10(amplitude)
	if db < SilenceFloorDb {
		return SilenceFloorDb
	}
	return db
}

// Amplitude is the inverse of Decibels.
func Amplitude(db float64) float64 {
	return math.Pow(10, db/20)
}
