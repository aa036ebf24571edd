package playback

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/lokutor-ai/lokutor-voicecore/internal/metrics"
	"github.com/lokutor-ai/lokutor-voicecore/pkg/audio"
)

type mockBuffer struct {
	stopped atomic.Bool
}

func (b *mockBuffer) Stop() { b.stopped.Store(true) }

type scheduleCall struct {
	samples int
	at      time.Duration
	buf     *mockBuffer
}

type mockSink struct {
	mu        sync.Mutex
	rate      int
	now       time.Duration
	realClock bool
	started   time.Time
	calls     []scheduleCall
	gain      float64
	gainTC    time.Duration
	suspended bool
	resumes   int
	closed    bool
	// rejectSuspended mimics a device whose hand-off queue is not drained
	// while it is stopped.
	rejectSuspended bool
}

func (s *mockSink) SampleRate() int { return s.rate }

func (s *mockSink) Now() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.realClock {
		return time.Since(s.started)
	}
	return s.now
}

func (s *mockSink) setNow(d time.Duration) {
	s.mu.Lock()
	s.now = d
	s.mu.Unlock()
}

func (s *mockSink) Schedule(samples []float32, at time.Duration) (audio.ScheduledBuffer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.suspended && s.rejectSuspended {
		return nil, audio.ErrSinkBusy
	}
	b := &mockBuffer{}
	s.calls = append(s.calls, scheduleCall{samples: len(samples), at: at, buf: b})
	return b, nil
}

func (s *mockSink) SetGain(target float64, tc time.Duration) {
	s.mu.Lock()
	s.gain, s.gainTC = target, tc
	s.mu.Unlock()
}

func (s *mockSink) Suspend() error {
	s.mu.Lock()
	s.suspended = true
	s.mu.Unlock()
	return nil
}

func (s *mockSink) Resume(ctx context.Context) error {
	time.Sleep(10 * time.Millisecond)
	s.mu.Lock()
	s.suspended = false
	s.resumes++
	s.mu.Unlock()
	return nil
}

func (s *mockSink) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *mockSink) scheduled() []scheduleCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]scheduleCall(nil), s.calls...)
}

type mockDevice struct {
	mu      sync.Mutex
	sink    *mockSink
	openErr error
	opens   int
}

func (d *mockDevice) Open(ctx context.Context, rate int) (audio.PlaybackSink, error) {
	time.Sleep(5 * time.Millisecond)
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opens++
	if d.openErr != nil {
		return nil, d.openErr
	}
	d.sink.rate = rate
	return d.sink, nil
}

func chunk(d time.Duration, rate int) audio.Frame {
	n := int(d * time.Duration(rate) / time.Second)
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = 0.25
	}
	return audio.Frame{Data: audio.EncodeFloat32(samples), SampleRate: rate}
}

func newTestPlayback(t *testing.T, sink *mockSink, opts ...Option) *Playback {
	t.Helper()
	p := New(&mockDevice{sink: sink}, DefaultConfig(), opts...)
	if err := p.Init(context.Background()); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestPlayback_GaplessChaining(t *testing.T) {
	sink := &mockSink{}
	p := newTestPlayback(t, sink)

	for i := 0; i < 3; i++ {
		if err := p.QueueAudio(chunk(50*time.Millisecond, audio.PlaybackSampleRate)); err != nil {
			t.Fatalf("queue failed: %v", err)
		}
	}

	calls := sink.scheduled()
	if len(calls) != 3 {
		t.Fatalf("Expected 3 scheduled buffers, got %d", len(calls))
	}
	for i := 0; i < 2; i++ {
		dur := audio.SamplesDuration(calls[i].samples, audio.PlaybackSampleRate)
		if calls[i+1].at != calls[i].at+dur {
			t.Errorf("buffer %d starts at %v, expected %v", i+1, calls[i+1].at, calls[i].at+dur)
		}
	}
	span := p.ScheduledEnd() - calls[0].at
	if span != 150*time.Millisecond {
		t.Errorf("Expected total span 150ms, got %v", span)
	}
	if p.State() != StatePlaying {
		t.Errorf("Expected playing, got %v", p.State())
	}
}

func TestPlayback_StartsAtNowWhenBehind(t *testing.T) {
	sink := &mockSink{}
	p := newTestPlayback(t, sink)

	_ = p.QueueAudio(chunk(50*time.Millisecond, audio.PlaybackSampleRate))
	sink.setNow(200 * time.Millisecond)
	_ = p.QueueAudio(chunk(50*time.Millisecond, audio.PlaybackSampleRate))

	calls := sink.scheduled()
	if calls[1].at != 200*time.Millisecond {
		t.Errorf("Expected late frame to start at now (200ms), got %v", calls[1].at)
	}
	for i := 1; i < len(calls); i++ {
		if calls[i].at < calls[i-1].at {
			t.Errorf("Expected non-decreasing start times, got %v then %v", calls[i-1].at, calls[i].at)
		}
	}
}

func TestPlayback_InterruptResetsTimeline(t *testing.T) {
	sink := &mockSink{}
	m := metrics.NewMetrics()
	p := newTestPlayback(t, sink, WithMetrics(m))

	for i := 0; i < 3; i++ {
		_ = p.QueueAudio(chunk(50*time.Millisecond, audio.PlaybackSampleRate))
	}
	sink.setNow(20 * time.Millisecond)

	p.Interrupt()

	for i, c := range sink.scheduled() {
		if !c.buf.stopped.Load() {
			t.Errorf("Expected buffer %d to be stopped", i)
		}
	}
	if p.ScheduledEnd() != 0 {
		t.Errorf("Expected scheduled end reset to 0, got %v", p.ScheduledEnd())
	}
	if p.State() != StateIdle {
		t.Errorf("Expected idle after interrupt, got %v", p.State())
	}

	sink.setNow(30 * time.Millisecond)
	_ = p.QueueAudio(chunk(50*time.Millisecond, audio.PlaybackSampleRate))
	calls := sink.scheduled()
	if last := calls[len(calls)-1]; last.at != 30*time.Millisecond {
		t.Errorf("Expected post-interrupt frame at current time 30ms, got %v", last.at)
	}
	if got := testutil.ToFloat64(m.PlaybackInterrupts); got != 1 {
		t.Errorf("Expected 1 interrupt recorded, got %v", got)
	}
}

func TestPlayback_InterruptWhenIdleIsSafe(t *testing.T) {
	sink := &mockSink{}
	p := newTestPlayback(t, sink)
	p.Interrupt()
	p.Interrupt()
	if p.State() != StateIdle {
		t.Errorf("Expected idle, got %v", p.State())
	}

	uninit := New(&mockDevice{sink: &mockSink{}}, DefaultConfig())
	uninit.Interrupt()
}

func TestPlayback_SetVolumeClamps(t *testing.T) {
	sink := &mockSink{}
	p := newTestPlayback(t, sink)

	p.SetVolume(1.5)
	if p.Volume() != 1.0 {
		t.Errorf("Expected volume clamped to 1.0, got %v", p.Volume())
	}
	p.SetVolume(-0.2)
	if p.Volume() != 0.0 {
		t.Errorf("Expected volume clamped to 0.0, got %v", p.Volume())
	}
	p.SetVolume(0.4)
	sink.mu.Lock()
	gain, tc := sink.gain, sink.gainTC
	sink.mu.Unlock()
	if gain != 0.4 || tc != 100*time.Millisecond {
		t.Errorf("Expected ramp to 0.4 over 100ms, got %v over %v", gain, tc)
	}
}

func TestPlayback_DecodeErrorSkipsChunk(t *testing.T) {
	sink := &mockSink{}
	m := metrics.NewMetrics()
	p := newTestPlayback(t, sink, WithMetrics(m))

	_ = p.QueueAudio(audio.Frame{Data: []byte{1, 2, 3}, SampleRate: audio.PlaybackSampleRate})
	_ = p.QueueAudio(chunk(50*time.Millisecond, audio.PlaybackSampleRate))

	calls := sink.scheduled()
	if len(calls) != 1 {
		t.Fatalf("Expected only the valid chunk scheduled, got %d", len(calls))
	}
	if calls[0].at != 0 {
		t.Errorf("Expected valid chunk at 0, got %v", calls[0].at)
	}
	if got := testutil.ToFloat64(m.PlaybackDecodeErrors); got != 1 {
		t.Errorf("Expected 1 decode error, got %v", got)
	}
}

func TestPlayback_ResamplesForeignRate(t *testing.T) {
	sink := &mockSink{}
	p := newTestPlayback(t, sink)
	_ = p.QueueAudio(chunk(50*time.Millisecond, 48000))

	calls := sink.scheduled()
	if len(calls) != 1 || calls[0].samples != 1200 {
		t.Errorf("Expected 1200 samples at 24kHz, got %+v", calls)
	}
}

func TestPlayback_StartAndEndCallbacksFireOnce(t *testing.T) {
	sink := &mockSink{realClock: true, started: time.Now()}
	var starts, ends atomic.Int32
	endCh := make(chan struct{}, 4)
	p := newTestPlayback(t, sink, WithCallbacks(Callbacks{
		OnPlaybackStart: func() { starts.Add(1) },
		OnPlaybackEnd: func() {
			ends.Add(1)
			endCh <- struct{}{}
		},
	}))

	_ = p.QueueAudio(chunk(20*time.Millisecond, audio.PlaybackSampleRate))
	_ = p.QueueAudio(chunk(20*time.Millisecond, audio.PlaybackSampleRate))

	select {
	case <-endCh:
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for end of playback")
	}
	time.Sleep(50 * time.Millisecond)

	if starts.Load() != 1 {
		t.Errorf("Expected 1 start callback, got %d", starts.Load())
	}
	if ends.Load() != 1 {
		t.Errorf("Expected 1 end callback, got %d", ends.Load())
	}
	if p.State() != StateIdle {
		t.Errorf("Expected idle after playback, got %v", p.State())
	}

	_ = p.QueueAudio(chunk(10*time.Millisecond, audio.PlaybackSampleRate))
	select {
	case <-endCh:
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for second end of playback")
	}
	if starts.Load() != 2 || ends.Load() != 2 {
		t.Errorf("Expected a second start/end pair, got %d/%d", starts.Load(), ends.Load())
	}
}

func TestPlayback_InterruptDoesNotReportEnd(t *testing.T) {
	sink := &mockSink{realClock: true, started: time.Now()}
	var ends atomic.Int32
	p := newTestPlayback(t, sink, WithCallbacks(Callbacks{
		OnPlaybackEnd: func() { ends.Add(1) },
	}))

	_ = p.QueueAudio(chunk(30*time.Millisecond, audio.PlaybackSampleRate))
	p.Interrupt()
	time.Sleep(80 * time.Millisecond)

	if ends.Load() != 0 {
		t.Errorf("Expected no end callback after interrupt, got %d", ends.Load())
	}
}

func TestPlayback_QueueBeforeInit(t *testing.T) {
	p := New(&mockDevice{sink: &mockSink{}}, DefaultConfig())
	if err := p.QueueAudio(chunk(10*time.Millisecond, audio.PlaybackSampleRate)); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Expected ErrNotInitialized, got %v", err)
	}
}

func TestPlayback_InitFailure(t *testing.T) {
	var gotErr error
	dev := &mockDevice{sink: &mockSink{}, openErr: audio.ErrDeviceUnavailable}
	p := New(dev, DefaultConfig(), WithCallbacks(Callbacks{
		OnError: func(err error) { gotErr = err },
	}))

	err := p.Init(context.Background())
	if !errors.Is(err, audio.ErrDeviceUnavailable) {
		t.Fatalf("Expected ErrDeviceUnavailable, got %v", err)
	}
	if p.State() != StateError {
		t.Errorf("Expected error state, got %v", p.State())
	}
	if !errors.Is(gotErr, audio.ErrDeviceUnavailable) {
		t.Errorf("Expected OnError with device error, got %v", gotErr)
	}
}

func TestPlayback_ConcurrentInitAndResumeAreShared(t *testing.T) {
	sink := &mockSink{}
	dev := &mockDevice{sink: sink}
	p := New(dev, DefaultConfig())
	defer p.Close()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = p.Init(context.Background())
		}()
	}
	wg.Wait()
	if dev.opens != 1 {
		t.Errorf("Expected a single sink open, got %d", dev.opens)
	}

	if err := p.Pause(); err != nil {
		t.Fatalf("pause failed: %v", err)
	}
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = p.Resume(context.Background())
		}()
	}
	wg.Wait()
	sink.mu.Lock()
	resumes := sink.resumes
	sink.mu.Unlock()
	if resumes != 1 {
		t.Errorf("Expected a single hardware resume, got %d", resumes)
	}
}

func TestPlayback_CloseReleasesSink(t *testing.T) {
	sink := &mockSink{}
	p := New(&mockDevice{sink: sink}, DefaultConfig())
	_ = p.Init(context.Background())
	_ = p.QueueAudio(chunk(50*time.Millisecond, audio.PlaybackSampleRate))

	if err := p.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if !sink.closed {
		t.Errorf("Expected sink closed")
	}
	if p.Initialized() {
		t.Errorf("Expected no sink after close")
	}
	if err := p.QueueAudio(chunk(10*time.Millisecond, audio.PlaybackSampleRate)); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Expected ErrNotInitialized after close, got %v", err)
	}
}

func TestPlayback_QueueWhilePausedIsHeldUntilResume(t *testing.T) {
	sink := &mockSink{rejectSuspended: true}
	m := metrics.NewMetrics()
	p := newTestPlayback(t, sink, WithMetrics(m))

	if err := p.Pause(); err != nil {
		t.Fatalf("pause failed: %v", err)
	}
	const n = 300
	for i := 0; i < n; i++ {
		f := chunk(20*time.Millisecond, audio.PlaybackSampleRate)
		f.Seq = uint64(i + 1)
		if err := p.QueueAudio(f); err != nil {
			t.Fatalf("queue %d failed: %v", i, err)
		}
	}
	if got := len(sink.scheduled()); got != 0 {
		t.Errorf("Expected nothing scheduled while paused, got %d", got)
	}
	if p.State() != StatePaused {
		t.Errorf("Expected paused, got %v", p.State())
	}

	if err := p.Resume(context.Background()); err != nil {
		t.Fatalf("resume failed: %v", err)
	}

	calls := sink.scheduled()
	if len(calls) != n {
		t.Fatalf("Expected %d scheduled buffers after resume, got %d", n, len(calls))
	}
	for i := 1; i < len(calls); i++ {
		dur := audio.SamplesDuration(calls[i-1].samples, audio.PlaybackSampleRate)
		if calls[i].at != calls[i-1].at+dur {
			t.Fatalf("buffer %d starts at %v, expected %v", i, calls[i].at, calls[i-1].at+dur)
		}
	}
	if p.State() != StatePlaying {
		t.Errorf("Expected playing after resume, got %v", p.State())
	}
	if got := testutil.ToFloat64(m.PlaybackDecodeErrors); got != 0 {
		t.Errorf("Expected no decode errors, got %v", got)
	}
	if got := testutil.ToFloat64(m.PlaybackSinkRejections); got != 0 {
		t.Errorf("Expected no sink rejections, got %v", got)
	}
}

func TestPlayback_SinkRejectionIsNotADecodeError(t *testing.T) {
	sink := &mockSink{rejectSuspended: true}
	m := metrics.NewMetrics()
	p := newTestPlayback(t, sink, WithMetrics(m))

	// Suspended underneath Playback, so the sink refuses the frame.
	_ = sink.Suspend()
	_ = p.QueueAudio(chunk(20*time.Millisecond, audio.PlaybackSampleRate))

	if got := testutil.ToFloat64(m.PlaybackSinkRejections); got != 1 {
		t.Errorf("Expected 1 sink rejection, got %v", got)
	}
	if got := testutil.ToFloat64(m.PlaybackDecodeErrors); got != 0 {
		t.Errorf("Expected no decode errors, got %v", got)
	}
}

func TestPlayback_InterruptWhilePausedStaysPaused(t *testing.T) {
	sink := &mockSink{}
	p := newTestPlayback(t, sink)

	_ = p.QueueAudio(chunk(50*time.Millisecond, audio.PlaybackSampleRate))
	if err := p.Pause(); err != nil {
		t.Fatalf("pause failed: %v", err)
	}
	_ = p.QueueAudio(chunk(50*time.Millisecond, audio.PlaybackSampleRate))

	p.Interrupt()

	if p.State() != StatePaused {
		t.Errorf("Expected paused after interrupt on a suspended sink, got %v", p.State())
	}
	if p.ScheduledEnd() != 0 {
		t.Errorf("Expected scheduled end reset, got %v", p.ScheduledEnd())
	}
	if !sink.scheduled()[0].buf.stopped.Load() {
		t.Errorf("Expected the scheduled buffer to be stopped")
	}

	if err := p.Resume(context.Background()); err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	if p.State() != StateIdle {
		t.Errorf("Expected idle after resume with nothing queued, got %v", p.State())
	}
	if got := len(sink.scheduled()); got != 1 {
		t.Errorf("Expected the dropped frame never to be scheduled, got %d buffers", got)
	}
}
