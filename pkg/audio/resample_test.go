package audio

import (
	"errors"
	"math"
	"testing"
)

func TestResample_IdentityAtRatioOne(t *testing.T) {
	in := []float32{0.1, -0.2, 0.3, 0.4}
	out := Resample(in, 1)
	if len(out) != len(in) {
		t.Fatalf("Expected %d samples, got %d", len(in), len(out))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("sample %d: expected %v, got %v", i, in[i], out[i])
		}
	}
	if &out[0] != &in[0] {
		t.Errorf("Expected ratio 1 to pass the input through")
	}
}

func TestResample_48kTo16k(t *testing.T) {
	in := make([]float32, 4800)
	out := Resample(in, 3)
	if len(out) != 1600 {
		t.Errorf("Expected 1600 samples, got %d", len(out))
	}
}

func TestResample_LinearInterpolation(t *testing.T) {
	in := []float32{0, 1, 2, 3, 4, 5}
	out := Resample(in, 1.5)
	want := []float32{0, 1.5, 3, 4.5}
	if len(out) != len(want) {
		t.Fatalf("Expected %d samples, got %d", len(want), len(out))
	}
	for i := range want {
		if math.Abs(float64(out[i]-want[i])) > 1e-6 {
			t.Errorf("sample %d: expected %v, got %v", i, want[i], out[i])
		}
	}
}

func TestResample_Upsample(t *testing.T) {
	in := []float32{0, 1}
	out := Resample(in, 2.0/3.0)
	if len(out) != 3 {
		t.Fatalf("Expected 3 samples, got %d", len(out))
	}
	if out[2] != 1 {
		t.Errorf("Expected final sample clamped to last input, got %v", out[2])
	}
}

func TestResampleRatio(t *testing.T) {
	r, err := ResampleRatio(48000, 16000)
	if err != nil || r != 3 {
		t.Errorf("Expected ratio 3, got %v (%v)", r, err)
	}
	for _, tc := range [][2]int{{0, 16000}, {48000, 0}, {-1, 16000}} {
		if _, err := ResampleRatio(tc[0], tc[1]); !errors.Is(err, ErrInvalidRatio) {
			t.Errorf("%v: expected ErrInvalidRatio, got %v", tc, err)
		}
	}
	if err := ValidateRatio(math.Inf(1)); !errors.Is(err, ErrInvalidRatio) {
		t.Errorf("Expected Inf to be rejected, got %v", err)
	}
	if err := ValidateRatio(math.NaN()); !errors.Is(err, ErrInvalidRatio) {
		t.Errorf("Expected NaN to be rejected, got %v", err)
	}
}
