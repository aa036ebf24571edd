// Package analyzer provides continuous RMS, peak and frequency-bin telemetry
// over its own capture stream for recording-quality feedback.
package analyzer

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lokutor-ai/lokutor-voicecore/internal/metrics"
	"github.com/lokutor-ai/lokutor-voicecore/pkg/audio"
)

type Analyzer struct {
	device  audio.CaptureDevice
	cfg     Config
	logger  audio.Logger
	metrics *metrics.Metrics

	// startMu serializes Start and Stop. It is never taken on the device
	// callback path.
	startMu sync.Mutex
	stream  audio.CaptureStream
	window  *audio.Window
	cancel  context.CancelFunc
	done    chan struct{}
	cb      Callbacks

	procMu   sync.Mutex
	spectrum *audio.Spectrum
	silent   int

	current atomic.Pointer[Level]
}

type Option func(*Analyzer)

func WithLogger(l audio.Logger) Option {
	return func(a *Analyzer) { a.logger = audio.OrNoOp(l) }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Analyzer) { a.metrics = m }
}

// New creates an Analyzer. device may be nil when only Process is used.
func New(device audio.CaptureDevice, cfg Config, opts ...Option) *Analyzer {
	def := DefaultConfig()
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = def.TickInterval
	}
	if cfg.FFTSize <= 0 {
		cfg.FFTSize = def.FFTSize
	}
	if cfg.SilenceFrames <= 0 {
		cfg.SilenceFrames = def.SilenceFrames
	}
	a := &Analyzer{
		device:   device,
		cfg:      cfg,
		logger:   &audio.NoOpLogger{},
		spectrum: audio.NewSpectrum(cfg.FFTSize),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Start opens a capture stream and begins ticking. It is a no-op when
// already running.
func (a *Analyzer) Start(ctx context.Context, cb Callbacks) error {
	a.startMu.Lock()
	defer a.startMu.Unlock()
	if a.stream != nil {
		return nil
	}
	if a.device == nil {
		return fmt.Errorf("analyzer: %w", audio.ErrDeviceUnavailable)
	}

	window := audio.NewWindow(a.spectrum.Size())
	stream, err := a.device.Open(ctx, audio.CaptureConstraints{
		EchoCancellation: a.cfg.EchoCancellation,
		NoiseSuppression: a.cfg.NoiseSuppression,
		AutoGainControl:  a.cfg.AutoGainControl,
		BufferFrames:     a.cfg.BufferFrames,
	}, audio.CaptureHandler{
		Samples: window.Write,
		Failure: func(err error) {
			a.logger.Error("analyzer stream failed", "error", err)
			if cb.OnError != nil {
				cb.OnError(fmt.Errorf("analyzer: device failure: %w", err))
			}
		},
	})
	if err != nil {
		err = fmt.Errorf("analyzer: open microphone: %w", err)
		a.logger.Error("analyzer could not acquire microphone", "error", err)
		if cb.OnError != nil {
			cb.OnError(err)
		}
		return err
	}

	a.procMu.Lock()
	a.silent = 0
	a.procMu.Unlock()
	a.current.Store(nil)

	loopCtx, cancel := context.WithCancel(context.Background())
	a.stream = stream
	a.window = window
	a.cancel = cancel
	a.done = make(chan struct{})
	a.cb = cb
	go a.run(loopCtx, window, cb, a.done)

	a.logger.Info("analyzer started", "stream", stream.ID(), "sampleRate", stream.SampleRate())
	return nil
}

func (a *Analyzer) run(ctx context.Context, window *audio.Window, cb Callbacks, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(a.cfg.TickInterval)
	defer ticker.Stop()

	// Every tick analyses the newest window, even when the device has not
	// delivered since the last one, so silence is counted in ticks.
	var buf []float32
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		var total uint64
		buf, total = window.Snapshot(buf)
		if total == 0 {
			continue
		}
		level, ok := a.process(buf, cb)
		if ok && cb.OnLevel != nil {
			cb.OnLevel(level)
		}
	}
}

// Process analyses one window, publishes the snapshot and applies silence
// debouncing. It returns false when no snapshot could be produced.
func (a *Analyzer) Process(samples []float32) (Level, bool) {
	a.startMu.Lock()
	cb := a.cb
	a.startMu.Unlock()
	return a.process(samples, cb)
}

func (a *Analyzer) process(samples []float32, cb Callbacks) (Level, bool) {
	if len(samples) == 0 {
		return Level{}, false
	}
	rms := audio.RMS(samples)
	peak := audio.Peak(samples)
	if math.IsNaN(rms) || math.IsInf(rms, 0) || math.IsNaN(peak) {
		a.logger.Debug("skipping non-finite analysis window")
		return Level{}, false
	}

	level := Classify(audio.Decibels(rms), audio.Decibels(peak))
	level.RMS = rms
	level.Peak = peak
	level.At = time.Now()

	a.procMu.Lock()
	level.Bins = a.spectrum.Bins(samples, nil)
	fire := false
	if level.IsSilent {
		a.silent++
		fire = a.silent == a.cfg.SilenceFrames
	} else {
		a.silent = 0
	}
	a.procMu.Unlock()

	a.current.Store(&level)
	a.metrics.AnalyzerTick(level.IsClipping)
	if fire {
		a.metrics.Silence()
		a.logger.Debug("sustained silence detected", "frames", a.cfg.SilenceFrames)
		if cb.OnSilence != nil {
			cb.OnSilence()
		}
	}
	return level, true
}

// CurrentLevel returns the latest snapshot, if any.
func (a *Analyzer) CurrentLevel() (Level, bool) {
	l := a.current.Load()
	if l == nil {
		return Level{}, false
	}
	return *l, true
}

// SilentFrames returns the current consecutive silent tick count.
func (a *Analyzer) SilentFrames() int {
	a.procMu.Lock()
	defer a.procMu.Unlock()
	return a.silent
}

// Running reports whether a stream is open.
func (a *Analyzer) Running() bool {
	a.startMu.Lock()
	defer a.startMu.Unlock()
	return a.stream != nil
}

// Stop ends the tick loop and releases the stream. Once it returns no
// further callbacks are delivered. It is idempotent.
func (a *Analyzer) Stop() {
	a.startMu.Lock()
	defer a.startMu.Unlock()
	if a.stream == nil {
		return
	}
	a.cancel()
	<-a.done
	if err := a.stream.Close(); err != nil {
		a.logger.Warn("closing analyzer stream", "error", err)
	}
	a.stream = nil
	a.window = nil
	a.cb = Callbacks{}
	a.current.Store(nil)
	a.logger.Info("analyzer stopped")
}
