package audio

import "time"

const (
	// CaptureSampleRate is the rate of every frame sent toward the remote agent.
	CaptureSampleRate = 16000

	// PlaybackSampleRate is the rate of every frame received from the remote agent.
	PlaybackSampleRate = 24000

	// BytesPerSample for mono signed 16-bit PCM.
	BytesPerSample = 2
)

// Frame is one mono PCM16 little-endian buffer. Frames are immutable once
// emitted: producers hand them off and never touch Data again.
type Frame struct {
	Data       []byte
	SampleRate int
	Seq        uint64
}

// Samples returns the number of whole samples in the frame.
func (f Frame) Samples() int {
	return len(f.Data) / BytesPerSample
}

// Duration returns the playback length of the frame.
func (f Frame) Duration() time.Duration {
	return SamplesDuration(f.Samples(), f.SampleRate)
}

// SamplesDuration converts a sample count at rate into a duration.
func SamplesDuration(samples, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(samples) * time.Second / time.Duration(rate)
}
