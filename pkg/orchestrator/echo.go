package orchestrator

import (
	"math"
	"sync"
	"time"

	"github.com/lokutor-ai/lokutor-voicecore/pkg/audio"
)

// EchoSuppressor detects speaker echo in microphone input by correlating
// captured frames with recently played audio. Both sides are PCM16 at the
// capture rate.
type EchoSuppressor struct {
	mu         sync.Mutex
	played     []float32
	maxSamples int
	threshold  float64
	tail       time.Duration
	lastPlayed time.Time
	enabled    bool

	now func() time.Time
}

// NewEchoSuppressor keeps two seconds of reference audio at sampleRate and
// suppresses for 1.2s after the last played chunk.
func NewEchoSuppressor(sampleRate int) *EchoSuppressor {
	if sampleRate <= 0 {
		sampleRate = audio.CaptureSampleRate
	}
	return &EchoSuppressor{
		maxSamples: 2 * sampleRate,
		threshold:  0.55,
		tail:       1200 * time.Millisecond,
		enabled:    true,
		now:        time.Now,
	}
}

// RecordPlayedAudio appends a chunk that was just sent to the speakers.
func (es *EchoSuppressor) RecordPlayedAudio(chunk []byte) {
	samples, err := audio.DecodeFloat32(chunk)
	if err != nil || len(samples) == 0 {
		return
	}

	es.mu.Lock()
	defer es.mu.Unlock()
	if !es.enabled {
		return
	}
	es.played = append(es.played, samples...)
	if over := len(es.played) - es.maxSamples; over > 0 {
		es.played = append(es.played[:0], es.played[over:]...)
	}
	es.lastPlayed = es.now()
}

// IsEcho reports whether input is primarily echo of recent playback.
func (es *EchoSuppressor) IsEcho(input []byte) bool {
	in, err := audio.DecodeFloat32(input)
	if err != nil || len(in) == 0 {
		return false
	}

	es.mu.Lock()
	defer es.mu.Unlock()
	if !es.enabled || len(es.played) == 0 {
		return false
	}
	if es.now().Sub(es.lastPlayed) > es.tail {
		return false
	}

	if correlation(in, es.played) > es.threshold {
		return true
	}
	// Envelope correlation catches phase-shifted sibilants.
	return envelopeCorrelation(in, es.played, 8) > es.threshold+0.05
}

// Clear drops the reference buffer.
func (es *EchoSuppressor) Clear() {
	es.mu.Lock()
	defer es.mu.Unlock()
	es.played = es.played[:0]
	es.lastPlayed = time.Time{}
}

// SetThreshold adjusts detection sensitivity. Values outside [0, 1] are ignored.
func (es *EchoSuppressor) SetThreshold(threshold float64) {
	es.mu.Lock()
	defer es.mu.Unlock()
	if threshold >= 0 && threshold <= 1 {
		es.threshold = threshold
	}
}

func (es *EchoSuppressor) SetEnabled(enabled bool) {
	es.mu.Lock()
	defer es.mu.Unlock()
	es.enabled = enabled
}

// correlation is the normalized cross-correlation of input against the
// newest len(input) samples of reference, clamped to [0, 1].
func correlation(input, reference []float32) float64 {
	n := min(len(input), len(reference))
	if n == 0 {
		return 0
	}
	ref := reference[len(reference)-n:]

	var dot, inEnergy, refEnergy float64
	for i := 0; i < n; i++ {
		a, b := float64(input[i]), float64(ref[i])
		dot += a * b
		inEnergy += a * a
		refEnergy += b * b
	}
	norm := math.Sqrt(inEnergy * refEnergy)
	if norm == 0 {
		return 0
	}
	return math.Min(1, math.Max(0, dot/norm))
}

func envelope(samples []float32, decimation int) []float64 {
	env := make([]float64, len(samples)/decimation)
	for i := range env {
		var sum float64
		for j := 0; j < decimation; j++ {
			sum += math.Abs(float64(samples[i*decimation+j]))
		}
		env[i] = sum
	}
	return env
}

// envelopeCorrelation slides the decimated absolute envelope of input over
// reference and returns the best Pearson correlation.
func envelopeCorrelation(input, reference []float32, decimation int) float64 {
	inEnv := envelope(input, decimation)
	refEnv := envelope(reference, decimation)
	n := min(len(inEnv), len(refEnv))
	if n == 0 {
		return 0
	}
	inEnv = inEnv[:n]

	var inMean float64
	for _, v := range inEnv {
		inMean += v
	}
	inMean /= float64(n)
	var inVar float64
	for i := range inEnv {
		inEnv[i] -= inMean
		inVar += inEnv[i] * inEnv[i]
	}
	if inVar <= 0 {
		return 0
	}

	stride := max(n/4, 2)
	var best float64
	for pos := 0; pos+n <= len(refEnv); pos += stride {
		seg := refEnv[pos : pos+n]
		var refMean float64
		for _, v := range seg {
			refMean += v
		}
		refMean /= float64(n)

		var dot, refVar float64
		for i, v := range seg {
			r := v - refMean
			dot += inEnv[i] * r
			refVar += r * r
		}
		if refVar > 0 {
			best = math.Max(best, dot/math.Sqrt(inVar*refVar))
		}
	}
	return best
}
