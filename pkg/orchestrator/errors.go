package orchestrator

import "errors"

var (
	// ErrMicrophonePermission is returned when the user denied microphone
	// access. Remediation is granting permission, not retrying the network.
	ErrMicrophonePermission = errors.New("microphone permission denied")

	// ErrMicrophoneUnavailable is returned when no usable input device exists
	ErrMicrophoneUnavailable = errors.New("microphone unavailable")

	ErrPlaybackFailed = errors.New("audio playback failed")

	// ErrTransportFailed wraps errors surfaced by the agent transport
	ErrTransportFailed = errors.New("agent transport failed")

	ErrNotConnected = errors.New("session is not connected")

	ErrSessionActive = errors.New("session already started")

	ErrSessionStopped = errors.New("session stopped during start")

	ErrSessionClosed = errors.New("session closed")

	ErrNilTransport = errors.New("transport is nil")
)
