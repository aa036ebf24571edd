package capture

import (
	"errors"
	"time"

	"github.com/lokutor-ai/lokutor-voicecore/pkg/audio"
)

type State int32

const (
	StateIdle State = iota
	StateRequesting
	StateCapturing
	StatePaused
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRequesting:
		return "requesting"
	case StateCapturing:
		return "capturing"
	case StatePaused:
		return "paused"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

var (
	// ErrNotStarted is returned by Pause and Resume without an open stream.
	ErrNotStarted = errors.New("capture not started")

	// ErrStopped is returned by Start when Stop won the race with device acquisition.
	ErrStopped = errors.New("capture stopped while starting")
)

// Config is fixed for the lifetime of a Capture.
type Config struct {
	// TargetSampleRate is the rate of emitted frames.
	TargetSampleRate int

	// BufferFrames is the host processing block size. It was tuned per
	// platform for hardware warm-up and is not an algorithmic requirement.
	BufferFrames int

	EchoCancellation bool
	NoiseSuppression bool
	// AutoGainControl stays off by default: voice-clone takes need the raw
	// input level.
	AutoGainControl bool

	// VolumeInterval is the volume meter cadence.
	VolumeInterval time.Duration
	// VolumeWindow is the number of recent samples the meter analyses.
	VolumeWindow int
}

func DefaultConfig() Config {
	return Config{
		TargetSampleRate: audio.CaptureSampleRate,
		BufferFrames:     4096,
		EchoCancellation: true,
		NoiseSuppression: true,
		AutoGainControl:  false,
		VolumeInterval:   time.Second / 60,
		VolumeWindow:     256,
	}
}

// Callbacks receive capture output. OnAudioData runs on the device's
// real-time thread and must not block.
type Callbacks struct {
	OnAudioData    func(frame audio.Frame)
	OnVolumeChange func(level float64)
	OnStateChange  func(state State)
	OnError        func(err error)
}

func (c Callbacks) stateChanged(s State) {
	if c.OnStateChange != nil {
		c.OnStateChange(s)
	}
}

func (c Callbacks) failed(err error) {
	if c.OnError != nil {
		c.OnError(err)
	}
}
