package audio

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
)

const (
	// SpectrumMinDb and SpectrumMaxDb bound the range mapped onto [0, 1].
	SpectrumMinDb = -100.0
	SpectrumMaxDb = -30.0
)

// Spectrum computes normalized frequency-bin magnitudes over a fixed-size
// window. Buffers are allocated once; a Spectrum is owned by one goroutine.
type Spectrum struct {
	fft     *fourier.FFT
	window  []float64
	gain    float64
	in      []float64
	coeff   []complex128
	scratch []float64
}

// NewSpectrum returns a Spectrum for windows of size samples. size is rounded
// up to at least 32.
func NewSpectrum(size int) *Spectrum {
	if size < 32 {
		size = 32
	}
	window := make([]float64, size)
	var sum float64
	for i := range window {
		window[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(size-1))
		sum += window[i]
	}
	return &Spectrum{
		fft:     fourier.NewFFT(size),
		window:  window,
		gain:    2 / sum,
		in:      make([]float64, size),
		coeff:   make([]complex128, size/2+1),
		scratch: make([]float64, size/2),
	}
}

// Size returns the window length in samples.
func (s *Spectrum) Size() int {
	return len(s.window)
}

// BinCount returns the number of bins Bins produces.
func (s *Spectrum) BinCount() int {
	return len(s.window) / 2
}

// Bins analyses the most recent Size() samples (zero-padded at the front when
// fewer are given) and writes BinCount() values in [0, 1] into dst, which is
// grown if needed. The returned slice aliases dst.
func (s *Spectrum) Bins(samples []float32, dst []float64) []float64 {
	n := len(s.window)
	offset := n - len(samples)
	for i := 0; i < n; i++ {
		j := i - offset
		if j < 0 {
			s.in[i] = 0
			continue
		}
		s.in[i] = float64(samples[j]) * s.window[i]
	}

	s.coeff = s.fft.Coefficients(s.coeff, s.in)

	if cap(dst) < n/2 {
		dst = make([]float64, n/2)
	}
	dst = dst[:n/2]
	for i := range dst {
		mag := cmplx.Abs(s.coeff[i]) * s.gain
		db := Decibels(mag)
		v := (db - SpectrumMinDb) / (SpectrumMaxDb - SpectrumMinDb)
		dst[i] = math.Min(1, math.Max(0, v))
	}
	return dst
}

// Average returns the mean of the bins for samples, a single 0-1 loudness
// value suitable for a volume meter.
func (s *Spectrum) Average(samples []float32) float64 {
	s.scratch = s.Bins(samples, s.scratch)
	if len(s.scratch) == 0 {
		return 0
	}
	var sum float64
	for _, v := range s.scratch {
		sum += v
	}
	return sum / float64(len(s.scratch))
}
