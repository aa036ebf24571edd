package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/lokutor-ai/lokutor-voicecore/internal/metrics"
	"github.com/lokutor-ai/lokutor-voicecore/pkg/audio"
	"github.com/lokutor-ai/lokutor-voicecore/pkg/capture"
	"github.com/lokutor-ai/lokutor-voicecore/pkg/playback"
)

// Session ties a Capture, a Playback and a Transport into one conversational
// state machine. Capture and Playback are owned by the caller and may be
// reused across sessions; Stop returns them to a hardware-released state.
//
// Every Start bumps a generation counter. Callbacks carry the generation they
// were registered with and are ignored once it is superseded.
type Session struct {
	cfg       Config
	capture   *capture.Capture
	playback  *playback.Playback
	transport Transport
	logger    Logger
	metrics   *metrics.Metrics

	vadMu sync.Mutex
	vad   VADProvider
	echo  *EchoSuppressor

	transcript *Transcript

	mu     sync.Mutex
	id     string
	sender *sender
	closed bool

	gen   atomic.Uint64
	state atomic.Int32
	muted atomic.Bool
	inSeq atomic.Uint64

	eventsMu  sync.RWMutex
	events    chan Event
	done      chan struct{}
	closeOnce sync.Once
}

type Option func(*Session)

func WithLogger(l Logger) Option {
	return func(s *Session) { s.logger = audio.OrNoOp(l) }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithVAD replaces the default RMS detector used for barge-in.
func WithVAD(v VADProvider) Option {
	return func(s *Session) { s.vad = v }
}

func WithEchoSuppressor(es *EchoSuppressor) Option {
	return func(s *Session) { s.echo = es }
}

func NewSession(c *capture.Capture, p *playback.Playback, t Transport, cfg Config, opts ...Option) (*Session, error) {
	if t == nil {
		return nil, ErrNilTransport
	}
	if c == nil || p == nil {
		return nil, errors.New("capture and playback are required")
	}
	def := DefaultConfig()
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = def.SendBuffer
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = def.EventBuffer
	}
	if cfg.VADThreshold <= 0 {
		cfg.VADThreshold = def.VADThreshold
	}
	if cfg.VADSilenceLimit <= 0 {
		cfg.VADSilenceLimit = def.VADSilenceLimit
	}

	s := &Session{
		cfg:        cfg,
		capture:    c,
		playback:   p,
		transport:  t,
		logger:     &NoOpLogger{},
		transcript: NewTranscript(),
		events:     make(chan Event, cfg.EventBuffer),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if cfg.BargeIn && s.vad == nil {
		v := NewRMSVAD(cfg.VADThreshold, cfg.VADSilenceLimit)
		if cfg.VADMinConfirmed > 0 {
			v.SetMinConfirmed(cfg.VADMinConfirmed)
		}
		s.vad = v
	}
	if cfg.EchoGuard && s.echo == nil {
		s.echo = NewEchoSuppressor(c.Config().TargetSampleRate)
	}
	s.muted.Store(cfg.StartMuted)
	return s, nil
}

// Start acquires the microphone (paused), opens playback, connects the
// transport and, with AutoListen and unmuted, starts listening. It may be
// called again after Stop, an error or a disconnect.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	from := s.State()
	if from != StateIdle && from != StateError && from != StateDisconnected {
		s.mu.Unlock()
		return ErrSessionActive
	}
	gen := s.gen.Add(1)
	s.state.Store(int32(StateRequestingMic))
	old := s.sender
	snd := newSender(s.cfg.SendBuffer)
	s.sender = snd
	s.id = uuid.NewString()
	id := s.id
	s.mu.Unlock()

	if from != StateIdle {
		s.release(old)
	}
	s.transcript.Reset()
	s.resetVAD()
	s.announce(id, from, StateRequestingMic, "start")

	err := s.capture.Start(ctx, capture.Callbacks{
		OnAudioData: func(f audio.Frame) { s.route(gen, snd, f) },
		OnVolumeChange: func(v float64) {
			if s.gen.Load() == gen {
				s.emit(VolumeChanged, v)
			}
		},
		OnError: func(err error) { s.fail(gen, "capture", microphoneError(err)) },
	})
	if err != nil {
		err = microphoneError(err)
		s.fail(gen, "capture", err)
		return err
	}
	if err := s.capture.Pause(); err != nil || s.gen.Load() != gen {
		return ErrSessionStopped
	}

	s.playback.SetCallbacks(playback.Callbacks{
		OnPlaybackStart: func() { s.onPlaybackStart(gen) },
		OnPlaybackEnd:   func() { s.onPlaybackEnd(gen) },
		OnError: func(err error) {
			s.fail(gen, "playback", fmt.Errorf("%w: %w", ErrPlaybackFailed, err))
		},
	})
	if err := s.playback.Init(ctx); err != nil {
		err = fmt.Errorf("%w: %w", ErrPlaybackFailed, err)
		s.fail(gen, "playback", err)
		return err
	}

	if !s.transition(gen, StateConnecting, "", StateRequestingMic) {
		return s.overtaken(gen, false)
	}
	if err := s.transport.Connect(ctx, &transportEvents{s: s, gen: gen}); err != nil {
		if s.gen.Load() != gen {
			return s.overtaken(gen, false)
		}
		err = fmt.Errorf("%w: %w", ErrTransportFailed, err)
		s.fail(gen, "transport", err)
		return err
	}
	s.transition(gen, StateConnected, "", StateConnecting)
	if s.gen.Load() != gen {
		return s.overtaken(gen, true)
	}
	if !s.State().online() {
		return fmt.Errorf("%w: connection lost during start", ErrTransportFailed)
	}

	snd.start(func(snd *sender) { s.sendLoop(gen, snd) })
	if s.cfg.AutoListen {
		s.enterListening(gen, "auto-listen", StateConnected)
	}
	return nil
}

// overtaken releases what a Start opened after a concurrent Stop had already
// run its release, so Stop leaves nothing acquired.
func (s *Session) overtaken(gen uint64, connected bool) error {
	if s.gen.Load() == gen {
		return ErrSessionStopped
	}
	if connected {
		if err := s.transport.Disconnect(); err != nil {
			s.logger.Warn("disconnecting transport after stop", "error", err)
		}
	}
	if err := s.playback.Close(); err != nil {
		s.logger.Warn("closing playback after stop", "error", err)
	}
	s.logger.Debug("start overtaken by stop", "generation", gen)
	return ErrSessionStopped
}

// Listen starts listening on a connected session that did not auto-listen.
func (s *Session) Listen() error {
	if !s.State().online() {
		return ErrNotConnected
	}
	s.enterListening(s.gen.Load(), "listen", StateConnected)
	return nil
}

// Stop returns the session to idle from any state, releasing capture,
// playback and the transport before it returns.
func (s *Session) Stop() {
	s.mu.Lock()
	s.gen.Add(1)
	from := State(s.state.Swap(int32(StateIdle)))
	snd := s.sender
	s.sender = nil
	id := s.id
	s.mu.Unlock()

	if from == StateIdle && snd == nil {
		return
	}
	s.release(snd)
	if from != StateIdle {
		s.announce(id, from, StateIdle, "stop")
	}
}

// Close stops the session and closes the event channel. Events raised while
// closing are not delivered and the session cannot be restarted.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		close(s.done)
		s.Stop()
		s.eventsMu.Lock()
		close(s.events)
		s.eventsMu.Unlock()
	})
}

func (s *Session) release(snd *sender) {
	if snd != nil {
		snd.cancel()
		snd.wait()
	}
	s.capture.Stop()
	if err := s.playback.Close(); err != nil {
		s.logger.Warn("closing playback", "error", err)
	}
	if err := s.transport.Disconnect(); err != nil {
		s.logger.Warn("disconnecting transport", "error", err)
	}
	s.resetVAD()
	if s.echo != nil {
		s.echo.Clear()
	}
}

// Interrupt clears playback immediately and returns to listening if the
// agent was speaking. It is safe in any state.
func (s *Session) Interrupt() {
	s.interrupt(s.gen.Load(), "local")
}

func (s *Session) interrupt(gen uint64, reason string) {
	if s.gen.Load() != gen {
		return
	}
	wasSpeaking := s.State() == StateAgentSpeaking || s.playback.State() == playback.StatePlaying
	s.playback.Interrupt()
	s.resetVAD()
	if !wasSpeaking {
		return
	}
	s.logger.Info("agent speech interrupted", "session", s.ID(), "reason", reason)
	s.emit(Interrupted, reason)
	s.enterListening(gen, reason, StateAgentSpeaking)
}

// SetMuted pauses or resumes capture output on the same hardware stream.
func (s *Session) SetMuted(muted bool) error {
	if s.muted.Swap(muted) == muted {
		return nil
	}
	st := s.State()
	if !st.online() {
		return nil
	}
	if muted {
		return s.capture.Pause()
	}
	if st == StateConnected {
		s.enterListening(s.gen.Load(), "unmuted", StateConnected)
		return nil
	}
	return s.capture.Resume()
}

// SendText sends text directly to the transport and records it as a final
// user entry.
func (s *Session) SendText(ctx context.Context, text string) error {
	gen := s.gen.Load()
	if !s.State().online() {
		return ErrNotConnected
	}
	if err := s.transport.SendText(ctx, text); err != nil {
		err = fmt.Errorf("%w: %w", ErrTransportFailed, err)
		s.fail(gen, "transport", err)
		return err
	}
	entry := s.transcript.AppendFinal(RoleUser, text)
	s.emit(TranscriptUpdated, entry)
	return nil
}

func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

func (s *Session) Muted() bool {
	return s.muted.Load()
}

// Transcript returns a copy of the accumulated entries.
func (s *Session) Transcript() []TranscriptEntry {
	return s.transcript.Entries()
}

// Events returns the event channel. It is closed by Close.
func (s *Session) Events() <-chan Event {
	return s.events
}

// transition moves to `to` if gen is current and, when from is given, the
// current state is one of from.
func (s *Session) transition(gen uint64, to State, reason string, from ...State) bool {
	s.mu.Lock()
	cur := s.State()
	if s.gen.Load() != gen || cur == to || (len(from) > 0 && !slices.Contains(from, cur)) {
		s.mu.Unlock()
		return false
	}
	s.state.Store(int32(to))
	id := s.id
	s.mu.Unlock()

	s.announce(id, cur, to, reason)
	return true
}

func (s *Session) announce(id string, from, to State, reason string) {
	s.metrics.Transition(to.String())
	s.logger.Info("session state changed", "session", id, "from", from.String(), "to", to.String(), "reason", reason)
	s.emit(StateChanged, StateChange{From: from, To: to, Reason: reason})
}

func (s *Session) enterListening(gen uint64, reason string, from ...State) {
	if !s.transition(gen, StateListening, reason, from...) {
		return
	}
	if !s.muted.Load() {
		if err := s.capture.Resume(); err != nil {
			s.logger.Warn("resuming capture", "error", err)
		}
	}
}

// fail forces the error state once per generation. Hardware stays acquired
// until Stop or the next Start.
func (s *Session) fail(gen uint64, source string, err error) {
	s.mu.Lock()
	cur := s.State()
	if s.gen.Load() != gen || cur == StateError {
		s.mu.Unlock()
		return
	}
	s.state.Store(int32(StateError))
	snd := s.sender
	id := s.id
	s.mu.Unlock()

	if snd != nil {
		snd.cancel()
	}
	s.playback.Interrupt()
	_ = s.capture.Pause()

	s.metrics.SessionError(source)
	s.logger.Error("session failed", "session", id, "source", source, "error", err)
	s.emit(ErrorEvent, err)
	s.announce(id, cur, StateError, err.Error())
}

func microphoneError(err error) error {
	if errors.Is(err, audio.ErrPermissionDenied) {
		return fmt.Errorf("%w: %w", ErrMicrophonePermission, err)
	}
	return fmt.Errorf("%w: %w", ErrMicrophoneUnavailable, err)
}

// route runs on the capture callback and never blocks.
func (s *Session) route(gen uint64, snd *sender, frame audio.Frame) {
	if s.gen.Load() != gen {
		return
	}
	st := s.State()
	if st == StateAgentSpeaking {
		if s.cfg.BargeIn && s.vad != nil && !s.isEcho(frame) {
			s.detectBargeIn(gen, frame)
		}
		return
	}
	if !st.online() || s.muted.Load() || s.isEcho(frame) {
		return
	}
	if !snd.offer(frame) {
		s.metrics.SendDropped()
	}
}

func (s *Session) isEcho(frame audio.Frame) bool {
	return s.echo != nil && s.echo.IsEcho(frame.Data)
}

func (s *Session) detectBargeIn(gen uint64, frame audio.Frame) {
	s.vadMu.Lock()
	ev, err := s.vad.Process(frame.Data)
	s.vadMu.Unlock()
	if err != nil || ev == nil || ev.Type != VADSpeechStart {
		return
	}
	go s.interrupt(gen, "barge-in")
}

func (s *Session) resetVAD() {
	if s.vad == nil {
		return
	}
	s.vadMu.Lock()
	s.vad.Reset()
	s.vadMu.Unlock()
}

func (s *Session) sendLoop(gen uint64, snd *sender) {
	for {
		select {
		case <-snd.ctx.Done():
			return
		case frame := <-snd.ch:
			if err := s.transport.SendAudio(snd.ctx, frame.Data); err != nil {
				if snd.ctx.Err() != nil {
					return
				}
				s.fail(gen, "transport", fmt.Errorf("%w: %w", ErrTransportFailed, err))
				return
			}
			s.metrics.FrameOut()
		}
	}
}

func (s *Session) onAudio(gen uint64, pcm []byte) {
	if s.gen.Load() != gen || !s.State().online() {
		return
	}
	frame := audio.Frame{Data: pcm, SampleRate: audio.PlaybackSampleRate, Seq: s.inSeq.Add(1)}
	s.transition(gen, StateAgentSpeaking, "agent-audio", StateConnected, StateListening)
	if err := s.playback.QueueAudio(frame); err != nil {
		s.fail(gen, "playback", fmt.Errorf("%w: %w", ErrPlaybackFailed, err))
		return
	}
	s.metrics.FrameIn()
	if s.echo != nil {
		s.recordPlayed(pcm)
	}
}

// recordPlayed feeds the echo guard with agent audio converted to the
// capture rate.
func (s *Session) recordPlayed(pcm []byte) {
	samples, err := audio.DecodeFloat32(pcm)
	if err != nil {
		return
	}
	ratio, err := audio.ResampleRatio(audio.PlaybackSampleRate, s.capture.Config().TargetSampleRate)
	if err != nil {
		return
	}
	s.echo.RecordPlayedAudio(audio.EncodeFloat32(audio.Resample(samples, ratio)))
}

func (s *Session) onTranscript(gen uint64, text string, isFinal, isUser bool) {
	if s.gen.Load() != gen {
		return
	}
	role := RoleAssistant
	if isUser {
		role = RoleUser
	}
	entry := s.transcript.Update(role, text, isFinal)
	s.emit(TranscriptUpdated, entry)
}

// onTurnComplete leaves agent-speaking only once the audio has been heard.
func (s *Session) onTurnComplete(gen uint64) {
	if s.gen.Load() != gen {
		return
	}
	s.emit(TurnComplete, nil)
	if s.State() == StateAgentSpeaking && s.playback.State() != playback.StatePlaying {
		s.enterListening(gen, "turn-complete", StateAgentSpeaking)
	}
}

func (s *Session) onPlaybackStart(gen uint64) {
	if s.gen.Load() == gen {
		s.emit(PlaybackStarted, nil)
	}
}

func (s *Session) onPlaybackEnd(gen uint64) {
	if s.gen.Load() != gen {
		return
	}
	s.emit(PlaybackEnded, nil)
	// A chunk queued after the watcher fired restarts playback.
	if s.playback.State() == playback.StatePlaying {
		return
	}
	s.resetVAD()
	s.enterListening(gen, "playback-finished", StateAgentSpeaking)
}

func (s *Session) onDisconnected(gen uint64, reason string) {
	if !s.transition(gen, StateDisconnected, reason, StateConnected, StateListening, StateAgentSpeaking) {
		return
	}
	s.mu.Lock()
	snd := s.sender
	s.mu.Unlock()
	if snd != nil {
		snd.cancel()
	}
	s.playback.Interrupt()
	_ = s.capture.Pause()
}

// emit delivers an event. Volume updates are dropped when the consumer lags;
// other events wait for room until the session is closed.
func (s *Session) emit(t EventType, data interface{}) {
	s.eventsMu.RLock()
	defer s.eventsMu.RUnlock()
	select {
	case <-s.done:
		return
	default:
	}

	ev := Event{Type: t, SessionID: s.ID(), Data: data}
	if t == VolumeChanged {
		select {
		case s.events <- ev:
		default:
		}
		return
	}
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

type transportEvents struct {
	s   *Session
	gen uint64
}

func (h *transportEvents) OnConnected() {
	h.s.transition(h.gen, StateConnected, "", StateConnecting)
}

func (h *transportEvents) OnDisconnected(reason string) {
	h.s.onDisconnected(h.gen, reason)
}

func (h *transportEvents) OnError(err error) {
	h.s.fail(h.gen, "transport", fmt.Errorf("%w: %w", ErrTransportFailed, err))
}

func (h *transportEvents) OnTranscript(text string, isFinal, isUser bool) {
	h.s.onTranscript(h.gen, text, isFinal, isUser)
}

func (h *transportEvents) OnAudioResponse(pcm []byte) {
	h.s.onAudio(h.gen, pcm)
}

func (h *transportEvents) OnInterrupted() {
	h.s.interrupt(h.gen, "remote")
}

func (h *transportEvents) OnTurnComplete() {
	h.s.onTurnComplete(h.gen)
}

// sender hands capture frames to the transport off the audio thread.
type sender struct {
	ch      chan audio.Frame
	ctx     context.Context
	cancel  context.CancelFunc
	once    sync.Once
	started atomic.Bool
	done    chan struct{}
}

func newSender(size int) *sender {
	ctx, cancel := context.WithCancel(context.Background())
	return &sender{
		ch:     make(chan audio.Frame, size),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

func (snd *sender) start(loop func(*sender)) {
	snd.once.Do(func() {
		snd.started.Store(true)
		go func() {
			defer close(snd.done)
			loop(snd)
		}()
	})
}

func (snd *sender) offer(f audio.Frame) bool {
	if snd.ctx.Err() != nil {
		return false
	}
	select {
	case snd.ch <- f:
		return true
	default:
		return false
	}
}

func (snd *sender) wait() {
	if snd.started.Load() {
		<-snd.done
	}
}
