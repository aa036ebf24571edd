package playback

import (
	"errors"
	"time"

	"github.com/lokutor-ai/lokutor-voicecore/pkg/audio"
)

type State int32

const (
	StateIdle State = iota
	StatePlaying
	StatePaused
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// ErrNotInitialized is returned when audio is queued before Init.
var ErrNotInitialized = errors.New("playback not initialized")

type Config struct {
	// SampleRate of the output sink and of inbound frames.
	SampleRate int

	// Volume is the initial output gain in [0, 1].
	Volume float64

	// VolumeTimeConstant is the ramp used by SetVolume.
	VolumeTimeConstant time.Duration

	// ResumeSettle is waited after opening or resuming the sink. Some
	// platforms drop the first buffers while hardware warms up; the value is
	// platform-tunable and zero elsewhere.
	ResumeSettle time.Duration

	// EndPollInterval bounds how often the end-of-playback watcher rechecks
	// the sink clock.
	EndPollInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		SampleRate:         audio.PlaybackSampleRate,
		Volume:             1.0,
		VolumeTimeConstant: 100 * time.Millisecond,
		EndPollInterval:    10 * time.Millisecond,
	}
}

type Callbacks struct {
	// OnPlaybackStart fires when playback enters playing from any other state.
	OnPlaybackStart func()
	// OnPlaybackEnd fires once when queued audio has fully elapsed.
	OnPlaybackEnd func()
	OnStateChange func(state State)
	OnError       func(err error)
}

func clampVolume(v float64) float64 {
	switch {
	case v != v:
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
