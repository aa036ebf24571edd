package orchestrator

import "testing"

func TestStateString(t *testing.T) {
	tests := map[State]string{
		StateIdle:          "idle",
		StateRequestingMic: "requesting-mic",
		StateConnecting:    "connecting",
		StateConnected:     "connected",
		StateListening:     "listening",
		StateAgentSpeaking: "agent-speaking",
		StateError:         "error",
		StateDisconnected:  "disconnected",
	}
	for s, want := range tests {
		if s.String() != want {
			t.Errorf("Expected %q, got %q", want, s.String())
		}
	}
}

func TestStateOnline(t *testing.T) {
	for _, s := range []State{StateConnected, StateListening, StateAgentSpeaking} {
		if !s.online() {
			t.Errorf("Expected %v to be online", s)
		}
	}
	for _, s := range []State{StateIdle, StateRequestingMic, StateConnecting, StateError, StateDisconnected} {
		if s.online() {
			t.Errorf("Expected %v to be offline", s)
		}
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if !cfg.AutoListen {
		t.Errorf("Expected auto-listen on by default")
	}
	if cfg.StartMuted {
		t.Errorf("Expected unmuted by default")
	}
	if cfg.VADThreshold != 0.02 {
		t.Errorf("Expected VAD threshold 0.02, got %v", cfg.VADThreshold)
	}
	if cfg.SendBuffer <= 0 || cfg.EventBuffer <= 0 {
		t.Errorf("Expected positive buffers, got %d/%d", cfg.SendBuffer, cfg.EventBuffer)
	}
}
