package device

import (
	"context"
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/lokutor-ai/lokutor-voicecore/pkg/audio"
)

type Speaker struct {
	ctx    *Context
	logger audio.Logger
}

// Open starts a mono float32 playback device at sampleRate.
func (s *Speaker) Open(ctx context.Context, sampleRate int) (audio.PlaybackSink, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sink := &speakerSink{mixer: newMixer(sampleRate, 256), logger: s.logger}

	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = malgo.FormatF32
	cfg.Playback.Channels = 1
	cfg.SampleRate = uint32(sampleRate)
	cfg.Alsa.NoMMap = 1

	dev, err := malgo.InitDevice(s.ctx.mctx.Context, cfg, malgo.DeviceCallbacks{
		Data: sink.onData,
	})
	if err != nil {
		return nil, fmt.Errorf("device: open speaker: %w", classify(err))
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		return nil, fmt.Errorf("device: start speaker: %w", classify(err))
	}
	sink.dev = dev
	s.logger.Info("speaker opened", "sampleRate", sampleRate)
	return sink, nil
}

type speakerSink struct {
	*mixer
	dev    *malgo.Device
	logger audio.Logger

	mu     sync.Mutex
	closed bool
}

func (s *speakerSink) SampleRate() int { return s.rate }

func (s *speakerSink) onData(out, _ []byte, frames uint32) {
	encodeF32(out, s.render(int(frames)))
}

// Suspend stops the device; the frame clock stops with it.
func (s *speakerSink) Suspend() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	return s.dev.Stop()
}

func (s *speakerSink) Resume(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return audio.ErrDeviceUnavailable
	}
	if s.dev.IsStarted() {
		return nil
	}
	return s.dev.Start()
}

func (s *speakerSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.dev.Uninit()
	s.logger.Info("speaker closed")
	return nil
}
