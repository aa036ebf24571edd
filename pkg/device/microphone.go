package device

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
	"github.com/google/uuid"

	"github.com/lokutor-ai/lokutor-voicecore/pkg/audio"
)

type Microphone struct {
	ctx    *Context
	rate   int
	logger audio.Logger
}

// Open starts a mono float32 capture device. miniaudio has no voice
// processing, so echo cancellation and noise suppression requests are
// logged and otherwise ignored.
func (m *Microphone) Open(ctx context.Context, c audio.CaptureConstraints, h audio.CaptureHandler) (audio.CaptureStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.EchoCancellation || c.NoiseSuppression || c.AutoGainControl {
		m.logger.Debug("voice processing requested but not available on this backend",
			"echoCancellation", c.EchoCancellation,
			"noiseSuppression", c.NoiseSuppression,
			"autoGainControl", c.AutoGainControl,
		)
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatF32
	cfg.Capture.Channels = 1
	cfg.SampleRate = uint32(m.rate)
	if c.BufferFrames > 0 {
		cfg.PeriodSizeInFrames = uint32(c.BufferFrames)
	}
	cfg.Alsa.NoMMap = 1

	s := &micStream{id: uuid.NewString(), handler: h, logger: m.logger}
	dev, err := malgo.InitDevice(m.ctx.mctx.Context, cfg, malgo.DeviceCallbacks{
		Data: s.onData,
		Stop: s.onStop,
	})
	if err != nil {
		return nil, fmt.Errorf("device: open microphone: %w", classify(err))
	}
	s.dev = dev
	s.rate = int(dev.SampleRate())
	if err := dev.Start(); err != nil {
		dev.Uninit()
		return nil, fmt.Errorf("device: start microphone: %w", classify(err))
	}
	s.running.Store(true)
	m.logger.Info("microphone opened", "stream", s.id, "sampleRate", s.rate)
	return s, nil
}

type micStream struct {
	id      string
	rate    int
	dev     *malgo.Device
	handler audio.CaptureHandler
	logger  audio.Logger

	// buf is owned by the device callback.
	buf     []float32
	running atomic.Bool
	closing atomic.Bool
	once    sync.Once
}

func (s *micStream) ID() string      { return s.id }
func (s *micStream) SampleRate() int { return s.rate }

func (s *micStream) onData(_, in []byte, frames uint32) {
	if len(in) == 0 || s.handler.Samples == nil {
		return
	}
	s.buf = decodeF32(s.buf, in)
	s.handler.Samples(s.buf)
}

// onStop runs on the audio thread; the device cannot be released from here.
func (s *micStream) onStop() {
	if s.closing.Load() || !s.running.Swap(false) {
		return
	}
	if s.handler.Failure != nil {
		go s.handler.Failure(fmt.Errorf("%w: capture device stopped", audio.ErrDeviceUnavailable))
	}
}

func (s *micStream) Close() error {
	s.once.Do(func() {
		s.closing.Store(true)
		s.running.Store(false)
		s.dev.Uninit()
		s.logger.Info("microphone closed", "stream", s.id)
	})
	return nil
}
