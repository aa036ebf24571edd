// Package loopback is an in-process orchestrator.Transport that plays the
// user's last utterance back as the agent's reply. It exercises the whole
// capture to playback path without a remote agent.
package loopback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lokutor-ai/lokutor-voicecore/internal/metrics"
	"github.com/lokutor-ai/lokutor-voicecore/pkg/audio"
	"github.com/lokutor-ai/lokutor-voicecore/pkg/orchestrator"
)

var (
	ErrNotConnected     = errors.New("loopback: not connected")
	ErrAlreadyConnected = errors.New("loopback: already connected")
)

type Config struct {
	// SpeechThreshold is the RMS above which an uplink frame counts as voice.
	SpeechThreshold float64
	// EndOfUtterance is the trailing silence that closes an utterance.
	EndOfUtterance time.Duration
	MaxUtterance   time.Duration
	// ChunkDuration is the size of each downlink audio chunk.
	ChunkDuration time.Duration
	// Pace sends downlink chunks at twice real time instead of all at once.
	Pace bool
}

func DefaultConfig() Config {
	return Config{
		SpeechThreshold: 0.02,
		EndOfUtterance:  700 * time.Millisecond,
		MaxUtterance:    10 * time.Second,
		ChunkDuration:   50 * time.Millisecond,
		Pace:            true,
	}
}

type reply struct {
	samples []float32
	text    string
}

type Transport struct {
	cfg     Config
	logger  audio.Logger
	metrics *metrics.Metrics

	mu        sync.Mutex
	handler   orchestrator.TransportHandler
	cancel    context.CancelFunc
	replies   chan reply
	done      chan struct{}
	utterance []float32
	voiced    bool
	silence   time.Duration
}

type Option func(*Transport)

func WithLogger(l audio.Logger) Option {
	return func(t *Transport) { t.logger = audio.OrNoOp(l) }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(t *Transport) { t.metrics = m }
}

func New(cfg Config, opts ...Option) *Transport {
	def := DefaultConfig()
	if cfg.SpeechThreshold <= 0 {
		cfg.SpeechThreshold = def.SpeechThreshold
	}
	if cfg.EndOfUtterance <= 0 {
		cfg.EndOfUtterance = def.EndOfUtterance
	}
	if cfg.MaxUtterance <= 0 {
		cfg.MaxUtterance = def.MaxUtterance
	}
	if cfg.ChunkDuration <= 0 {
		cfg.ChunkDuration = def.ChunkDuration
	}
	t := &Transport{cfg: cfg, logger: &audio.NoOpLogger{}}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Transport) Connect(ctx context.Context, h orchestrator.TransportHandler) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	if t.handler != nil {
		t.mu.Unlock()
		return ErrAlreadyConnected
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	t.handler = h
	t.cancel = cancel
	t.replies = make(chan reply, 4)
	t.done = make(chan struct{})
	t.resetUtterance()
	go t.run(loopCtx, h, t.replies, t.done)
	t.mu.Unlock()

	t.logger.Info("loopback transport connected")
	h.OnConnected()
	return nil
}

// SendAudio segments the uplink into utterances with a simple energy
// endpointer and queues each finished utterance as a reply.
func (t *Transport) SendAudio(ctx context.Context, pcm []byte) error {
	samples, err := audio.DecodeFloat32(pcm)
	if err != nil {
		return fmt.Errorf("loopback: %w", err)
	}
	dur := audio.SamplesDuration(len(samples), audio.CaptureSampleRate)
	voice := audio.RMS(samples) > t.cfg.SpeechThreshold

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.handler == nil {
		return ErrNotConnected
	}
	if !t.voiced && !voice {
		return nil
	}
	t.voiced = true
	t.utterance = append(t.utterance, samples...)
	if voice {
		t.silence = 0
	} else {
		t.silence += dur
	}

	length := audio.SamplesDuration(len(t.utterance), audio.CaptureSampleRate)
	if t.silence >= t.cfg.EndOfUtterance || length >= t.cfg.MaxUtterance {
		t.enqueue(reply{samples: t.utterance})
		t.resetUtterance()
	}
	return nil
}

func (t *Transport) SendText(ctx context.Context, text string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.handler == nil {
		return ErrNotConnected
	}
	t.enqueue(reply{text: text})
	return nil
}

// Disconnect stops the reply loop. It does not call OnDisconnected since the
// client initiated it.
func (t *Transport) Disconnect() error {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.handler = nil
	t.cancel = nil
	t.resetUtterance()
	t.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	t.logger.Info("loopback transport disconnected")
	return nil
}

func (t *Transport) resetUtterance() {
	t.utterance = nil
	t.voiced = false
	t.silence = 0
}

// enqueue must be called with mu held.
func (t *Transport) enqueue(r reply) {
	select {
	case t.replies <- r:
	default:
		t.metrics.SendDropped()
		t.logger.Warn("loopback reply queue full, dropping utterance")
	}
}

func (t *Transport) run(ctx context.Context, h orchestrator.TransportHandler, replies <-chan reply, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case r := <-replies:
			if r.samples == nil {
				h.OnTranscript(r.text, true, false)
				h.OnTurnComplete()
				continue
			}
			if err := t.echo(ctx, h, r.samples); err != nil {
				return
			}
		}
	}
}

func (t *Transport) echo(ctx context.Context, h orchestrator.TransportHandler, samples []float32) error {
	secs := audio.SamplesDuration(len(samples), audio.CaptureSampleRate).Seconds()
	h.OnTranscript(fmt.Sprintf("[%.1fs of speech]", secs), true, true)

	ratio, err := audio.ResampleRatio(audio.CaptureSampleRate, audio.PlaybackSampleRate)
	if err != nil {
		h.OnError(err)
		return err
	}
	out := audio.Resample(samples, ratio)
	chunk := int(t.cfg.ChunkDuration * audio.PlaybackSampleRate / time.Second)

	h.OnTranscript("Here is what I heard", false, false)
	for off := 0; off < len(out); off += chunk {
		end := min(off+chunk, len(out))
		h.OnAudioResponse(audio.EncodeFloat32(out[off:end]))
		if t.cfg.Pace {
			if err := sleep(ctx, t.cfg.ChunkDuration/2); err != nil {
				return err
			}
		} else if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	h.OnTranscript(fmt.Sprintf("Here is what I heard (%.1fs)", secs), true, false)
	h.OnTurnComplete()
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
