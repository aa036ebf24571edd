package device

import (
	"encoding/binary"
	"math"
)

// decodeF32 fills dst from little-endian float32 bytes, growing it if needed.
func decodeF32(dst []float32, src []byte) []float32 {
	n := len(src) / 4
	if cap(dst) < n {
		dst = make([]float32, n)
	}
	dst = dst[:n]
	for i := range dst {
		dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(src[i*4:]))
	}
	return dst
}

func encodeF32(dst []byte, src []float32) {
	for i, s := range src {
		binary.LittleEndian.PutUint32(dst[i*4:], math.Float32bits(s))
	}
}
