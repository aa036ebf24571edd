// Package capture owns the microphone input path: it opens a capture stream,
// resamples native-rate chunks to the target rate, encodes them as PCM16 and
// emits them as frames, while a separate loop meters input volume.
package capture

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/lokutor-ai/lokutor-voicecore/internal/metrics"
	"github.com/lokutor-ai/lokutor-voicecore/pkg/audio"
)

// Capture turns a CaptureDevice into a stream of mono PCM16 frames.
type Capture struct {
	device  audio.CaptureDevice
	cfg     Config
	logger  audio.Logger
	metrics *metrics.Metrics

	starts singleflight.Group

	mu      sync.Mutex
	gen     uint64
	active  *session
	pending *session

	state  atomic.Int32
	volume atomic.Uint64
}

type Option func(*Capture)

func WithLogger(l audio.Logger) Option {
	return func(c *Capture) { c.logger = audio.OrNoOp(l) }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Capture) { c.metrics = m }
}

// New creates a Capture over device. Zero fields of cfg take defaults.
func New(device audio.CaptureDevice, cfg Config, opts ...Option) *Capture {
	def := DefaultConfig()
	if cfg.TargetSampleRate <= 0 {
		cfg.TargetSampleRate = def.TargetSampleRate
	}
	if cfg.VolumeInterval <= 0 {
		cfg.VolumeInterval = def.VolumeInterval
	}
	if cfg.VolumeWindow <= 0 {
		cfg.VolumeWindow = def.VolumeWindow
	}
	c := &Capture{
		device: device,
		cfg:    cfg,
		logger: &audio.NoOpLogger{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start acquires the microphone and begins emitting frames. Starting an
// already running capture is a no-op. Concurrent callers share a single
// acquisition and its outcome.
func (c *Capture) Start(ctx context.Context, cb Callbacks) error {
	_, err, shared := c.starts.Do("start", func() (interface{}, error) {
		return nil, c.start(ctx, cb)
	})
	if shared {
		c.logger.Debug("capture start shared with concurrent caller")
	}
	return err
}

func (c *Capture) start(ctx context.Context, cb Callbacks) error {
	c.mu.Lock()
	if c.active != nil {
		c.mu.Unlock()
		return nil
	}
	c.gen++
	gen := c.gen
	s := newSession(c, cb)
	c.pending = s
	c.state.Store(int32(StateRequesting))
	c.mu.Unlock()
	cb.stateChanged(StateRequesting)

	constraints := audio.CaptureConstraints{
		EchoCancellation: c.cfg.EchoCancellation,
		NoiseSuppression: c.cfg.NoiseSuppression,
		AutoGainControl:  c.cfg.AutoGainControl,
		BufferFrames:     c.cfg.BufferFrames,
	}
	handle, err := c.device.Open(ctx, constraints, audio.CaptureHandler{
		Samples: s.process,
		Failure: func(err error) { c.fail(s, err) },
	})

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		if handle != nil {
			_ = handle.Close()
		}
		return ErrStopped
	}
	c.pending = nil
	if err != nil {
		c.state.Store(int32(StateError))
		c.mu.Unlock()
		c.recordStart(err)
		err = fmt.Errorf("capture: open microphone: %w", err)
		c.logger.Error("microphone acquisition failed", "error", err)
		cb.stateChanged(StateError)
		cb.failed(err)
		return err
	}

	ratio, err := audio.ResampleRatio(handle.SampleRate(), c.cfg.TargetSampleRate)
	if err != nil {
		c.state.Store(int32(StateError))
		c.mu.Unlock()
		_ = handle.Close()
		err = fmt.Errorf("capture: %w", err)
		cb.stateChanged(StateError)
		cb.failed(err)
		return err
	}

	s.handle = handle
	s.ratio = ratio
	s.emitting.Store(true)
	s.ready.Store(true)
	c.active = s
	c.state.Store(int32(StateCapturing))
	s.startVolumeLoop(c.cfg.VolumeInterval)
	c.mu.Unlock()

	c.recordStart(nil)
	c.logger.Info("microphone acquired",
		"stream", handle.ID(),
		"nativeRate", handle.SampleRate(),
		"targetRate", c.cfg.TargetSampleRate,
		"ratio", ratio,
	)
	cb.stateChanged(StateCapturing)
	return nil
}

func (c *Capture) recordStart(err error) {
	switch {
	case err == nil:
		c.metrics.CaptureStart("ok")
	case errors.Is(err, audio.ErrPermissionDenied):
		c.metrics.CaptureStart("denied")
	default:
		c.metrics.CaptureStart("unavailable")
	}
}

// Pause stops frame emission but keeps the stream open so Resume is
// immediate. Volume metering continues.
func (c *Capture) Pause() error {
	c.mu.Lock()
	s := c.active
	if s == nil {
		c.mu.Unlock()
		return ErrNotStarted
	}
	changed := s.emitting.Swap(false)
	c.state.Store(int32(StatePaused))
	c.mu.Unlock()
	if changed {
		s.cb.stateChanged(StatePaused)
	}
	return nil
}

// Resume restarts frame emission on the same stream.
func (c *Capture) Resume() error {
	c.mu.Lock()
	s := c.active
	if s == nil {
		c.mu.Unlock()
		return ErrNotStarted
	}
	changed := !s.emitting.Swap(true)
	c.state.Store(int32(StateCapturing))
	c.mu.Unlock()
	if changed {
		s.cb.stateChanged(StateCapturing)
	}
	return nil
}

// Stop releases the stream and returns to idle. It is idempotent and, once it
// returns, no further volume callbacks are delivered.
func (c *Capture) Stop() {
	c.mu.Lock()
	c.gen++
	s := c.active
	if s == nil {
		s = c.pending
	}
	c.active = nil
	c.pending = nil
	prev := State(c.state.Swap(int32(StateIdle)))
	c.mu.Unlock()

	if s != nil {
		s.close()
		c.logger.Info("microphone released")
	}
	c.volume.Store(0)
	if prev != StateIdle && s != nil {
		s.cb.stateChanged(StateIdle)
	}
}

func (c *Capture) fail(s *session, err error) {
	c.mu.Lock()
	if c.active != s {
		c.mu.Unlock()
		return
	}
	c.active = nil
	c.state.Store(int32(StateError))
	c.mu.Unlock()

	s.close()
	err = fmt.Errorf("capture: device failure: %w", err)
	c.logger.Error("capture stream failed", "error", err)
	s.cb.stateChanged(StateError)
	s.cb.failed(err)
}

// State returns the current capture state.
func (c *Capture) State() State {
	return State(c.state.Load())
}

// StreamID identifies the open hardware stream, or "" when stopped.
func (c *Capture) StreamID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return ""
	}
	return c.active.handle.ID()
}

// ResampleRatio returns the native/target ratio of the open stream.
func (c *Capture) ResampleRatio() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return 0
	}
	return c.active.ratio
}

// Volume returns the last metered 0-1 input volume.
func (c *Capture) Volume() float64 {
	return math.Float64frombits(c.volume.Load())
}

func (c *Capture) Config() Config {
	return c.cfg
}

// session is one acquisition of the microphone. Fields other than the
// atomics are written before ready is set and read-only afterwards; seq is
// owned by the device callback.
type session struct {
	owner  *Capture
	cb     Callbacks
	handle audio.CaptureStream
	ratio  float64
	seq    uint64

	ready    atomic.Bool
	closed   atomic.Bool
	emitting atomic.Bool

	window     *audio.Window
	stopVolume context.CancelFunc
	volumeDone chan struct{}
}

func newSession(owner *Capture, cb Callbacks) *session {
	return &session{
		owner:  owner,
		cb:     cb,
		window: audio.NewWindow(owner.cfg.VolumeWindow),
	}
}

// process runs on the device thread for every native-rate chunk.
func (s *session) process(samples []float32) {
	if !s.ready.Load() || s.closed.Load() || len(samples) == 0 {
		return
	}
	s.window.Write(samples)

	if !s.emitting.Load() {
		s.owner.metrics.CaptureDropped()
		return
	}

	data := audio.EncodeFloat32(audio.Resample(samples, s.ratio))
	s.seq++
	if s.cb.OnAudioData != nil {
		s.cb.OnAudioData(audio.Frame{
			Data:       data,
			SampleRate: s.owner.cfg.TargetSampleRate,
			Seq:        s.seq,
		})
	}
	s.owner.metrics.CaptureEmitted()
}

func (s *session) startVolumeLoop(interval time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	s.stopVolume = cancel
	s.volumeDone = make(chan struct{})
	go s.monitorVolume(ctx, interval)
}

func (s *session) monitorVolume(ctx context.Context, interval time.Duration) {
	defer close(s.volumeDone)

	spectrum := audio.NewSpectrum(s.owner.cfg.VolumeWindow)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var buf []float32
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		var total uint64
		buf, total = s.window.Snapshot(buf)
		if total == 0 {
			continue
		}
		level := spectrum.Average(buf)
		s.owner.volume.Store(math.Float64bits(level))
		if s.cb.OnVolumeChange != nil {
			s.cb.OnVolumeChange(level)
		}
	}
}

func (s *session) close() {
	if s.closed.Swap(true) {
		return
	}
	s.emitting.Store(false)
	if s.stopVolume != nil {
		s.stopVolume()
		<-s.volumeDone
	}
	if s.handle != nil {
		if err := s.handle.Close(); err != nil {
			s.owner.logger.Warn("closing capture stream", "error", err)
		}
	}
}
