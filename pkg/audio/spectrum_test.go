package audio

import (
	"math"
	"testing"
)

func sine(freq float64, n, rate int, amp float64) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(amp * math.Sin(2*math.Pi*freq*float64(i)/float64(rate)))
	}
	return out
}

func TestSpectrum_SilenceIsZero(t *testing.T) {
	s := NewSpectrum(256)
	if avg := s.Average(make([]float32, 256)); avg != 0 {
		t.Errorf("Expected silent average 0, got %v", avg)
	}
}

func TestSpectrum_ToneLandsInItsBin(t *testing.T) {
	const rate, size = 16000, 512
	s := NewSpectrum(size)
	freq := 1000.0
	bins := s.Bins(sine(freq, size, rate, 0.5), nil)
	if len(bins) != s.BinCount() {
		t.Fatalf("Expected %d bins, got %d", s.BinCount(), len(bins))
	}
	want := int(freq * size / rate)
	best := 0
	for i := range bins {
		if bins[i] > bins[best] {
			best = i
		}
	}
	if best < want-1 || best > want+1 {
		t.Errorf("Expected peak near bin %d, got %d", want, best)
	}
	if bins[best] <= 0.5 {
		t.Errorf("Expected a loud tone to map high, got %v", bins[best])
	}
}

func TestSpectrum_LouderIsHigher(t *testing.T) {
	s := NewSpectrum(256)
	quiet := s.Average(sine(440, 256, 16000, 0.01))
	loud := s.Average(sine(440, 256, 16000, 0.8))
	if loud <= quiet {
		t.Errorf("Expected loud (%v) > quiet (%v)", loud, quiet)
	}
}

func TestSpectrum_ShortWindowIsPadded(t *testing.T) {
	s := NewSpectrum(256)
	bins := s.Bins(sine(440, 64, 16000, 0.5), nil)
	if len(bins) != 128 {
		t.Errorf("Expected 128 bins, got %d", len(bins))
	}
}
