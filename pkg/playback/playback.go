// Package playback schedules inbound PCM16 frames on a PlaybackSink for
// gapless, low-latency output and supports immediate interruption.
//
// Each frame starts at max(now, end of the previous frame) on the sink clock,
// so consecutive frames chain without a blocking timer. A watcher goroutine
// reports the end of playback once the scheduled audio has elapsed.
package playback

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/lokutor-ai/lokutor-voicecore/internal/metrics"
	"github.com/lokutor-ai/lokutor-voicecore/pkg/audio"
)

type scheduled struct {
	buf audio.ScheduledBuffer
	end time.Duration
}

// Playback owns one output sink. scheduledEnd is written only here.
type Playback struct {
	device  audio.PlaybackDevice
	cfg     Config
	logger  audio.Logger
	metrics *metrics.Metrics

	flights singleflight.Group

	mu           sync.Mutex
	cb           Callbacks
	sink         audio.PlaybackSink
	queue        []audio.Frame
	draining     bool
	scheduledEnd time.Duration
	inFlight     []scheduled
	gen          uint64
	watching     bool
	volume       float64

	wake  chan struct{}
	state atomic.Int32
}

type Option func(*Playback)

func WithLogger(l audio.Logger) Option {
	return func(p *Playback) { p.logger = audio.OrNoOp(l) }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Playback) { p.metrics = m }
}

func WithCallbacks(cb Callbacks) Option {
	return func(p *Playback) { p.cb = cb }
}

// New creates a Playback. Zero fields of cfg take defaults.
func New(device audio.PlaybackDevice, cfg Config, opts ...Option) *Playback {
	def := DefaultConfig()
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = def.SampleRate
	}
	if cfg.VolumeTimeConstant <= 0 {
		cfg.VolumeTimeConstant = def.VolumeTimeConstant
	}
	if cfg.EndPollInterval <= 0 {
		cfg.EndPollInterval = def.EndPollInterval
	}
	p := &Playback{
		device: device,
		cfg:    cfg,
		logger: &audio.NoOpLogger{},
		volume: clampVolume(cfg.Volume),
		wake:   make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SetCallbacks replaces the listener. There is one listener at a time.
func (p *Playback) SetCallbacks(cb Callbacks) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cb = cb
}

func (p *Playback) callbacks() Callbacks {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cb
}

// Init opens the output sink. It is a no-op when already open, and
// concurrent callers share one open.
func (p *Playback) Init(ctx context.Context) error {
	_, err, _ := p.flights.Do("init", func() (interface{}, error) {
		return nil, p.init(ctx)
	})
	return err
}

func (p *Playback) init(ctx context.Context) error {
	p.mu.Lock()
	if p.sink != nil {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	sink, err := p.device.Open(ctx, p.cfg.SampleRate)
	if err != nil {
		err = fmt.Errorf("playback: open output: %w", err)
		p.fail(err)
		return err
	}
	if err := settle(ctx, p.cfg.ResumeSettle); err != nil {
		_ = sink.Close()
		return err
	}

	p.mu.Lock()
	p.sink = sink
	sink.SetGain(p.volume, 0)
	prev := State(p.state.Swap(int32(StateIdle)))
	cb := p.cb
	p.mu.Unlock()

	p.logger.Info("playback sink opened", "sampleRate", sink.SampleRate())
	if prev != StateIdle && cb.OnStateChange != nil {
		cb.OnStateChange(StateIdle)
	}
	return nil
}

func settle(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Playback) fail(err error) {
	p.state.Store(int32(StateError))
	p.logger.Error("playback failure", "error", err)
	cb := p.callbacks()
	if cb.OnStateChange != nil {
		cb.OnStateChange(StateError)
	}
	if cb.OnError != nil {
		cb.OnError(err)
	}
}

// QueueAudio appends frame to the FIFO. If no caller is draining, this
// caller drains the queue onto the sink before returning.
func (p *Playback) QueueAudio(frame audio.Frame) error {
	p.mu.Lock()
	if p.sink == nil {
		p.mu.Unlock()
		return ErrNotInitialized
	}
	p.queue = append(p.queue, frame)
	p.metrics.QueueDepth(len(p.queue))
	if p.draining {
		p.mu.Unlock()
		return nil
	}
	p.draining = true
	p.mu.Unlock()

	p.drain()
	return nil
}

func (p *Playback) drain() {
	for {
		p.mu.Lock()
		// A suspended sink does not consume scheduled audio; frames wait in
		// the queue until Resume drains them.
		if len(p.queue) == 0 || p.sink == nil || State(p.state.Load()) == StatePaused {
			p.draining = false
			p.mu.Unlock()
			return
		}
		frame := p.queue[0]
		p.queue[0] = audio.Frame{}
		p.queue = p.queue[1:]
		p.metrics.QueueDepth(len(p.queue))
		gen := p.gen
		rate := p.sink.SampleRate()
		p.mu.Unlock()

		samples, err := p.decode(frame, rate)
		if err != nil {
			p.metrics.DecodeError()
			p.logger.Warn("dropping undecodable audio chunk", "seq", frame.Seq, "bytes", len(frame.Data), "error", err)
			continue
		}
		if len(samples) == 0 {
			continue
		}

		p.mu.Lock()
		if p.gen != gen || p.sink == nil {
			p.mu.Unlock()
			continue
		}
		now := p.sink.Now()
		start := max(now, p.scheduledEnd)
		buf, err := p.sink.Schedule(samples, start)
		if err != nil {
			p.mu.Unlock()
			p.metrics.SinkRejected()
			p.logger.Warn("sink rejected audio chunk", "seq", frame.Seq, "error", err)
			continue
		}
		p.scheduledEnd = start + audio.SamplesDuration(len(samples), rate)
		p.inFlight = append(p.inFlight, scheduled{buf: buf, end: p.scheduledEnd})
		p.metrics.FrameScheduled((start - now).Seconds())

		started := false
		if State(p.state.Load()) == StateIdle {
			p.state.Store(int32(StatePlaying))
			started = true
		}
		if !p.watching {
			p.watching = true
			go p.watch(p.gen)
		}
		cb := p.cb
		p.mu.Unlock()

		if started {
			p.logger.Debug("playback started", "at", start)
			if cb.OnStateChange != nil {
				cb.OnStateChange(StatePlaying)
			}
			if cb.OnPlaybackStart != nil {
				cb.OnPlaybackStart()
			}
		}
	}
}

func (p *Playback) decode(frame audio.Frame, rate int) ([]float32, error) {
	samples, err := audio.DecodeFloat32(frame.Data)
	if err != nil {
		return nil, err
	}
	if frame.SampleRate > 0 && frame.SampleRate != rate {
		ratio, err := audio.ResampleRatio(frame.SampleRate, rate)
		if err != nil {
			return nil, err
		}
		samples = audio.Resample(samples, ratio)
	}
	return samples, nil
}

// watch waits for the scheduled audio to elapse and reports the end of
// playback. It exits silently when gen is superseded by Interrupt or Close.
func (p *Playback) watch(gen uint64) {
	timer := time.NewTimer(p.cfg.EndPollInterval)
	defer timer.Stop()
	timer.Stop()

	for {
		p.mu.Lock()
		if p.gen != gen || p.sink == nil {
			p.mu.Unlock()
			return
		}
		now := p.sink.Now()
		remaining := p.scheduledEnd - now
		if remaining <= 0 && len(p.queue) == 0 && !p.draining && State(p.state.Load()) == StatePlaying {
			p.watching = false
			p.inFlight = nil
			p.state.Store(int32(StateIdle))
			cb := p.cb
			p.mu.Unlock()

			p.logger.Debug("playback finished")
			if cb.OnStateChange != nil {
				cb.OnStateChange(StateIdle)
			}
			if cb.OnPlaybackEnd != nil {
				cb.OnPlaybackEnd()
			}
			return
		}
		kept := p.inFlight[:0]
		for _, s := range p.inFlight {
			if s.end > now {
				kept = append(kept, s)
			}
		}
		p.inFlight = kept
		p.mu.Unlock()

		wait := max(remaining, p.cfg.EndPollInterval)
		timer.Reset(wait)
		select {
		case <-timer.C:
		case <-p.wake:
			timer.Stop()
		}
	}
}

func (p *Playback) signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Interrupt drops everything queued or scheduled and returns to idle
// immediately. A paused playback stays paused, since its sink is still
// suspended. It is safe to call when nothing is playing.
func (p *Playback) Interrupt() {
	p.mu.Lock()
	p.gen++
	dropped := len(p.queue) + len(p.inFlight)
	p.queue = nil
	bufs := p.inFlight
	p.inFlight = nil
	p.scheduledEnd = 0
	p.watching = false
	p.metrics.QueueDepth(0)
	changed := false
	if State(p.state.Load()) == StatePlaying {
		p.state.Store(int32(StateIdle))
		changed = true
	}
	for _, s := range bufs {
		s.buf.Stop()
	}
	cb := p.cb
	p.mu.Unlock()
	p.signal()

	if dropped > 0 || changed {
		p.metrics.Interrupt()
		p.logger.Info("playback interrupted", "dropped", dropped)
	}
	if changed && cb.OnStateChange != nil {
		cb.OnStateChange(StateIdle)
	}
}

// SetVolume clamps v to [0, 1] and ramps the output gain toward it.
func (p *Playback) SetVolume(v float64) {
	v = clampVolume(v)
	p.mu.Lock()
	p.volume = v
	sink := p.sink
	p.mu.Unlock()
	if sink != nil {
		sink.SetGain(v, p.cfg.VolumeTimeConstant)
	}
}

func (p *Playback) Volume() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.volume
}

// Pause suspends the sink. Scheduled audio resumes where it left off, and
// frames queued while paused are held until Resume.
func (p *Playback) Pause() error {
	p.mu.Lock()
	sink := p.sink
	p.mu.Unlock()
	if sink == nil {
		return ErrNotInitialized
	}
	if err := sink.Suspend(); err != nil {
		return fmt.Errorf("playback: suspend: %w", err)
	}
	if State(p.state.Swap(int32(StatePaused))) != StatePaused {
		if cb := p.callbacks(); cb.OnStateChange != nil {
			cb.OnStateChange(StatePaused)
		}
	}
	return nil
}

// Resume restarts a paused sink. Concurrent callers share one resume.
func (p *Playback) Resume(ctx context.Context) error {
	_, err, _ := p.flights.Do("resume", func() (interface{}, error) {
		return nil, p.resume(ctx)
	})
	return err
}

func (p *Playback) resume(ctx context.Context) error {
	p.mu.Lock()
	sink := p.sink
	p.mu.Unlock()
	if sink == nil {
		return ErrNotInitialized
	}
	if State(p.state.Load()) != StatePaused {
		return nil
	}
	if err := sink.Resume(ctx); err != nil {
		err = fmt.Errorf("playback: resume: %w", err)
		p.fail(err)
		return err
	}
	if err := settle(ctx, p.cfg.ResumeSettle); err != nil {
		return err
	}

	p.mu.Lock()
	next := StateIdle
	if len(p.inFlight) > 0 {
		next = StatePlaying
	}
	p.state.Store(int32(next))
	drain := len(p.queue) > 0 && !p.draining
	if drain {
		p.draining = true
	}
	cb := p.cb
	p.mu.Unlock()
	p.signal()

	if cb.OnStateChange != nil {
		cb.OnStateChange(next)
	}
	if drain {
		p.drain()
	}
	return nil
}

// Close interrupts playback and releases the sink.
func (p *Playback) Close() error {
	p.Interrupt()

	p.mu.Lock()
	sink := p.sink
	p.sink = nil
	p.gen++
	p.mu.Unlock()
	p.state.Store(int32(StateIdle))
	p.signal()

	if sink == nil {
		return nil
	}
	p.logger.Info("playback sink released")
	return sink.Close()
}

func (p *Playback) State() State {
	return State(p.state.Load())
}

// ScheduledEnd returns the sink time at which queued audio runs out.
func (p *Playback) ScheduledEnd() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.scheduledEnd
}

// Initialized reports whether a sink is open.
func (p *Playback) Initialized() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sink != nil
}
