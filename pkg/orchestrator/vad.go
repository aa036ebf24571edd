package orchestrator

import (
	"time"

	"github.com/lokutor-ai/lokutor-voicecore/pkg/audio"
)

// RMSVAD is a Root Mean Square based Voice Activity Detector over PCM16
// frames. It drives local barge-in while the agent is speaking.
type RMSVAD struct {
	threshold    float64
	silenceLimit time.Duration
	isSpeaking   bool
	silenceStart time.Time

	consecutiveFrames int
	minConfirmed      int
	lastRMS           float64

	now func() time.Time
}

// NewRMSVAD creates a new RMS-based VAD
func NewRMSVAD(threshold float64, silenceLimit time.Duration) *RMSVAD {
	return &RMSVAD{
		threshold:    threshold,
		silenceLimit: silenceLimit,
		minConfirmed: 7,
		now:          time.Now,
	}
}

// SetMinConfirmed sets the number of consecutive frames needed to confirm speech start
func (v *RMSVAD) SetMinConfirmed(count int) {
	if count < 1 {
		count = 1
	}
	v.minConfirmed = count
}

// SetThreshold updates the RMS threshold
func (v *RMSVAD) SetThreshold(threshold float64) {
	v.threshold = threshold
}

// Threshold returns the current RMS threshold
func (v *RMSVAD) Threshold() float64 {
	return v.threshold
}

// LastRMS returns the RMS of the last processed chunk
func (v *RMSVAD) LastRMS() float64 {
	return v.lastRMS
}

// IsSpeaking returns true while confirmed speech is in progress
func (v *RMSVAD) IsSpeaking() bool {
	return v.isSpeaking
}

func (v *RMSVAD) Process(chunk []byte) (*VADEvent, error) {
	samples, err := audio.DecodeFloat32(chunk)
	if err != nil {
		return nil, err
	}
	rms := audio.RMS(samples)
	v.lastRMS = rms
	now := v.now()

	if rms > v.threshold {
		v.consecutiveFrames++
		if !v.isSpeaking {
			// spikes and echo-onset pops stay below minConfirmed
			if v.consecutiveFrames >= v.minConfirmed {
				v.isSpeaking = true
				v.silenceStart = time.Time{}
				return &VADEvent{Type: VADSpeechStart, Timestamp: now.UnixMilli()}, nil
			}
			return nil, nil
		}
		v.silenceStart = time.Time{}
		return nil, nil
	}

	v.consecutiveFrames = 0

	if v.isSpeaking {
		if v.silenceStart.IsZero() {
			v.silenceStart = now
		}
		if now.Sub(v.silenceStart) >= v.silenceLimit {
			v.isSpeaking = false
			v.silenceStart = time.Time{}
			return &VADEvent{Type: VADSpeechEnd, Timestamp: now.UnixMilli()}, nil
		}
	}

	return &VADEvent{Type: VADSilence, Timestamp: now.UnixMilli()}, nil
}

func (v *RMSVAD) Name() string {
	return "rms_vad"
}

func (v *RMSVAD) Reset() {
	v.isSpeaking = false
	v.silenceStart = time.Time{}
	v.consecutiveFrames = 0
}
