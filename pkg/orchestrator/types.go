package orchestrator

import (
	"context"
	"time"

	"github.com/lokutor-ai/lokutor-voicecore/pkg/audio"
)

// Logger is the logging interface shared with the audio packages.
type Logger = audio.Logger

type NoOpLogger = audio.NoOpLogger

// State is the conversational state of a Session.
type State int32

const (
	StateIdle State = iota
	StateRequestingMic
	StateConnecting
	StateConnected
	StateListening
	StateAgentSpeaking
	StateError
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRequestingMic:
		return "requesting-mic"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateListening:
		return "listening"
	case StateAgentSpeaking:
		return "agent-speaking"
	case StateError:
		return "error"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// online reports whether the transport is up in this state.
func (s State) online() bool {
	return s == StateConnected || s == StateListening || s == StateAgentSpeaking
}

type EventType string

const (
	StateChanged      EventType = "STATE_CHANGED"
	TranscriptUpdated EventType = "TRANSCRIPT_UPDATED"
	VolumeChanged     EventType = "VOLUME_CHANGED"
	Interrupted       EventType = "INTERRUPTED"
	PlaybackStarted   EventType = "PLAYBACK_STARTED"
	PlaybackEnded     EventType = "PLAYBACK_ENDED"
	TurnComplete      EventType = "TURN_COMPLETE"
	ErrorEvent        EventType = "ERROR"
)

// Event is delivered on Session.Events. Data depends on Type: StateChange
// for StateChanged, TranscriptEntry for TranscriptUpdated, float64 for
// VolumeChanged, error for ErrorEvent and a reason string for Interrupted.
type Event struct {
	Type      EventType   `json:"type"`
	SessionID string      `json:"session_id"`
	Data      interface{} `json:"data,omitempty"`
}

type StateChange struct {
	From   State
	To     State
	Reason string
}

// VADEventType mirrors the detector's edge events.
type VADEventType string

const (
	VADSpeechStart VADEventType = "SPEECH_START"
	VADSpeechEnd   VADEventType = "SPEECH_END"
	VADSilence     VADEventType = "SILENCE"
)

type VADEvent struct {
	Type      VADEventType
	Timestamp int64
}

// VADProvider detects user speech in capture frames. Process is called from
// the capture callback only, so implementations need not be goroutine-safe.
type VADProvider interface {
	Process(chunk []byte) (*VADEvent, error)
	Reset()
	Name() string
}

// TransportHandler receives inbound events from the remote agent transport.
// The Session installs one handler per Connect.
type TransportHandler interface {
	OnConnected()
	OnDisconnected(reason string)
	OnError(err error)
	OnTranscript(text string, isFinal, isUser bool)
	// OnAudioResponse carries mono PCM16 LE at 24 kHz.
	OnAudioResponse(pcm []byte)
	OnInterrupted()
	OnTurnComplete()
}

// Transport is the duplex channel to the remote agent. Its wire framing is
// not the Session's concern.
type Transport interface {
	Connect(ctx context.Context, h TransportHandler) error
	// SendAudio carries mono PCM16 LE at 16 kHz.
	SendAudio(ctx context.Context, pcm []byte) error
	SendText(ctx context.Context, text string) error
	Disconnect() error
}

type Config struct {
	// AutoListen resumes capture as soon as the transport is connected.
	AutoListen bool
	StartMuted bool
	// BargeIn interrupts agent speech when the VAD confirms user speech.
	BargeIn bool
	// EchoGuard drops capture frames that correlate with recent playback.
	EchoGuard bool

	VADThreshold    float64
	VADSilenceLimit time.Duration
	VADMinConfirmed int

	SendBuffer  int
	EventBuffer int
}

func DefaultConfig() Config {
	return Config{
		AutoListen:      true,
		BargeIn:         true,
		EchoGuard:       true,
		VADThreshold:    0.02,
		VADSilenceLimit: 500 * time.Millisecond,
		VADMinConfirmed: 7,
		SendBuffer:      64,
		EventBuffer:     256,
	}
}
