package audio

import "errors"

var (
	// ErrPermissionDenied is returned when the host refuses access to the microphone.
	ErrPermissionDenied = errors.New("audio device permission denied")

	// ErrDeviceUnavailable is returned when no usable device exists or it failed to start.
	ErrDeviceUnavailable = errors.New("audio device unavailable")

	// ErrInvalidRatio is returned for non-finite or non-positive resample ratios.
	ErrInvalidRatio = errors.New("invalid resample ratio")

	// ErrMalformedPCM is returned when a buffer is not whole 16-bit samples.
	ErrMalformedPCM = errors.New("malformed PCM16 buffer")

	// ErrSinkBusy is returned when a playback sink cannot accept more scheduled buffers.
	ErrSinkBusy = errors.New("playback sink schedule queue full")
)
