package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Float32ToPCM16 clamps each sample to [-1, 1] and scales it to int16.
// Negative samples scale by 32768 and positive by 32767 so both ends of the
// two's-complement range are reachable. Values round to the nearest step.
func Float32ToPCM16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		switch {
		case s > 1:
			s = 1
		case s < -1:
			s = -1
		case s != s: // NaN
			s = 0
		}
		if s < 0 {
			out[i] = int16(math.Round(float64(s) * 32768))
		} else {
			out[i] = int16(math.Round(float64(s) * 32767))
		}
	}
	return out
}

// PCM16ToFloat32 is the inverse scaling of Float32ToPCM16.
func PCM16ToFloat32(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		if s < 0 {
			out[i] = float32(s) / 32768
		} else {
			out[i] = float32(s) / 32767
		}
	}
	return out
}

// EncodePCM16LE serialises samples as little-endian bytes.
func EncodePCM16LE(samples []int16) []byte {
	out := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// DecodePCM16LE parses little-endian PCM16 bytes.
func DecodePCM16LE(data []byte) ([]int16, error) {
	if len(data)%BytesPerSample != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrMalformedPCM, len(data))
	}
	out := make([]int16, len(data)/BytesPerSample)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return out, nil
}

// EncodeFloat32 converts normalized samples straight to PCM16 LE bytes.
func EncodeFloat32(samples []float32) []byte {
	return EncodePCM16LE(Float32ToPCM16(samples))
}

// DecodeFloat32 converts PCM16 LE bytes straight to normalized samples.
func DecodeFloat32(data []byte) ([]float32, error) {
	pcm, err := DecodePCM16LE(data)
	if err != nil {
		return nil, err
	}
	return PCM16ToFloat32(pcm), nil
}
