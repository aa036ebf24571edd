package audio

import (
	"context"
	"time"
)

// CaptureConstraints are the processing options requested from the host when
// opening a microphone stream. Hosts without a given feature ignore it.
type CaptureConstraints struct {
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool

	// BufferFrames is the processing block size hint in native-rate frames.
	// Zero leaves it to the host.
	BufferFrames int
}

// CaptureHandler is the single subscriber of a capture stream.
type CaptureHandler struct {
	// Samples receives mono float samples at the stream's native rate. It
	// runs on the host's real-time audio thread; samples are only valid for
	// the duration of the call.
	Samples func(samples []float32)

	// Failure reports that the hardware stopped underneath an open stream.
	Failure func(err error)
}

// CaptureStream is an open microphone stream. Its handler is the only
// subscriber; closing the stream releases the hardware.
type CaptureStream interface {
	// ID identifies the underlying hardware stream.
	ID() string
	SampleRate() int
	Close() error
}

// CaptureDevice yields native-rate mono sample chunks.
type CaptureDevice interface {
	Open(ctx context.Context, constraints CaptureConstraints, handler CaptureHandler) (CaptureStream, error)
}

// ScheduledBuffer is a buffer committed to a PlaybackSink.
type ScheduledBuffer interface {
	// Stop silences the buffer if it has not finished. Safe to call twice.
	Stop()
}

// PlaybackSink accepts normalized float buffers scheduled on its own clock.
type PlaybackSink interface {
	SampleRate() int

	// Now returns the sink clock: how much audio the hardware has consumed.
	Now() time.Duration

	// Schedule commits samples to start at the given sink time. It must not
	// block.
	Schedule(samples []float32, at time.Duration) (ScheduledBuffer, error)

	// SetGain moves output gain toward target with an exponential ramp of the
	// given time constant.
	SetGain(target float64, timeConstant time.Duration)

	Suspend() error
	Resume(ctx context.Context) error
	Close() error
}

// PlaybackDevice opens sinks at a fixed output rate.
type PlaybackDevice interface {
	Open(ctx context.Context, sampleRate int) (PlaybackSink, error)
}
