package audio

import (
	"bytes"
	"encoding/binary"
)

const wavHeaderSize = 44

// NewWavBuffer wraps mono PCM16 LE samples in a canonical RIFF/WAVE header.
func NewWavBuffer(pcm []byte, sampleRate int) []byte {
	buf := bytes.NewBuffer(make([]byte, 0, wavHeaderSize+len(pcm)))

	buf.WriteString("RIFF")
	writeU32(buf, uint32(36+len(pcm)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	writeU32(buf, 16)
	writeU16(buf, 1) // PCM
	writeU16(buf, 1) // mono
	writeU32(buf, uint32(sampleRate))
	writeU32(buf, uint32(sampleRate*BytesPerSample))
	writeU16(buf, BytesPerSample)
	writeU16(buf, 16)

	buf.WriteString("data")
	writeU32(buf, uint32(len(pcm)))
	buf.Write(pcm)

	return buf.Bytes()
}

// WavFromFrames concatenates frames of one sample rate into a WAV buffer.
func WavFromFrames(frames []Frame, sampleRate int) []byte {
	var size int
	for _, f := range frames {
		size += len(f.Data)
	}
	pcm := make([]byte, 0, size)
	for _, f := range frames {
		pcm = append(pcm, f.Data...)
	}
	return NewWavBuffer(pcm, sampleRate)
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeU16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}
