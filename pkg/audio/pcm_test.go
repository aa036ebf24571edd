package audio

import (
	"errors"
	"math"
	"testing"
)

func TestFloat32ToPCM16_AsymmetricScaling(t *testing.T) {
	got := Float32ToPCM16([]float32{-1, 1, 0, -2, 2})
	want := []int16{-32768, 32767, 0, -32768, 32767}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: expected %d, got %d", i, want[i], got[i])
		}
	}
}

func TestFloat32ToPCM16_NaNBecomesSilence(t *testing.T) {
	got := Float32ToPCM16([]float32{float32(math.NaN())})
	if got[0] != 0 {
		t.Errorf("Expected NaN to encode as 0, got %d", got[0])
	}
}

func TestPCM16RoundTrip(t *testing.T) {
	const step = 1.0 / 32768
	for i := -1000; i <= 1000; i++ {
		v := float32(i) / 1000
		back := PCM16ToFloat32(Float32ToPCM16([]float32{v}))[0]
		if diff := math.Abs(float64(back - v)); diff > step {
			t.Fatalf("round trip of %v drifted by %v (> %v)", v, diff, step)
		}
	}
}

func TestEncodeDecodePCM16LE(t *testing.T) {
	samples := []int16{0, 1, -1, 32767, -32768}
	data := EncodePCM16LE(samples)
	if len(data) != 10 {
		t.Fatalf("Expected 10 bytes, got %d", len(data))
	}
	if data[2] != 0x01 || data[3] != 0x00 {
		t.Errorf("Expected little-endian encoding of 1, got %x %x", data[2], data[3])
	}
	back, err := DecodePCM16LE(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := range samples {
		if back[i] != samples[i] {
			t.Errorf("sample %d: expected %d, got %d", i, samples[i], back[i])
		}
	}
}

func TestDecodePCM16LE_OddLength(t *testing.T) {
	_, err := DecodePCM16LE([]byte{1, 2, 3})
	if !errors.Is(err, ErrMalformedPCM) {
		t.Errorf("Expected ErrMalformedPCM, got %v", err)
	}
	if _, err := DecodeFloat32([]byte{1}); !errors.Is(err, ErrMalformedPCM) {
		t.Errorf("Expected ErrMalformedPCM from DecodeFloat32, got %v", err)
	}
}
