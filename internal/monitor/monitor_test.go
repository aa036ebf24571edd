package monitor

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/lokutor-ai/lokutor-voicecore/internal/metrics"
	"github.com/lokutor-ai/lokutor-voicecore/pkg/analyzer"
	"github.com/lokutor-ai/lokutor-voicecore/pkg/orchestrator"
)

type mockLevels struct {
	mu  sync.Mutex
	lvl analyzer.Level
	ok  bool
}

func (m *mockLevels) set(rmsDb float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lvl = analyzer.Classify(rmsDb, rmsDb+3)
	m.lvl.At = time.Now()
	m.ok = true
}

func (m *mockLevels) CurrentLevel() (analyzer.Level, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lvl, m.ok
}

type mockSession struct{}

func (mockSession) ID() string                { return "sess-1" }
func (mockSession) State() orchestrator.State { return orchestrator.StateListening }
func (mockSession) Muted() bool               { return true }

func TestHealthAndStatus(t *testing.T) {
	srv := httptest.NewServer(New(Options{Session: mockSession{}}).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200, got %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/status")
	if err != nil {
		t.Fatalf("status request failed: %v", err)
	}
	defer resp.Body.Close()
	var st Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatalf("Failed to decode status: %v", err)
	}
	if st.SessionID != "sess-1" || st.State != "listening" || !st.Muted {
		t.Errorf("Unexpected status %+v", st)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	m := metrics.NewMetrics()
	m.Interrupt()
	srv := httptest.NewServer(New(Options{Metrics: m}).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics request failed: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "playback_interrupts_total") {
		t.Errorf("Expected interrupt counter in output, got:\n%s", body)
	}
}

func TestLevelsWithoutSource(t *testing.T) {
	srv := httptest.NewServer(New(Options{}).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/levels")
	if err != nil {
		t.Fatalf("levels request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %d", resp.StatusCode)
	}
}

func TestLevelsStream(t *testing.T) {
	levels := &mockLevels{}
	levels.set(-20)
	srv := httptest.NewServer(New(Options{Levels: levels, LevelInterval: 5 * time.Millisecond}).Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/levels", nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	var msg LevelMessage
	if err := wsjson.Read(ctx, conn, &msg); err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if msg.RMSDb != -20 || !msg.IsOptimal {
		t.Errorf("Expected optimal -20 dB level, got %+v", msg)
	}

	levels.set(-1)
	if err := wsjson.Read(ctx, conn, &msg); err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if !msg.IsClipping {
		t.Errorf("Expected clipping level, got %+v", msg)
	}
}

func TestRunShutsDownOnCancel(t *testing.T) {
	s := New(Options{Address: "127.0.0.1:0"})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	deadline := time.Now().Add(time.Second)
	for s.Addr() == "" && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if s.Addr() == "" {
		t.Fatal("server never started listening")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Expected clean shutdown, got %v", err)
		}
	case <-time.After(6 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
