// Package monitor serves a local HTTP endpoint for watching a running
// voice session: Prometheus metrics, a status document and a websocket
// that streams input level snapshots.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lokutor-ai/lokutor-voicecore/internal/metrics"
	"github.com/lokutor-ai/lokutor-voicecore/pkg/analyzer"
	"github.com/lokutor-ai/lokutor-voicecore/pkg/orchestrator"
)

// LevelSource yields the latest analyzer measurement.
type LevelSource interface {
	CurrentLevel() (analyzer.Level, bool)
}

// SessionSource reports the session being monitored.
type SessionSource interface {
	ID() string
	State() orchestrator.State
	Muted() bool
}

type Options struct {
	Address string
	// LevelInterval is the cadence of /levels messages.
	LevelInterval time.Duration
	Levels        LevelSource
	Session       SessionSource
	Metrics       *metrics.Metrics
	Logger        *slog.Logger
}

// LevelMessage is one /levels websocket frame.
type LevelMessage struct {
	RMSDb      float64   `json:"rms_db"`
	PeakDb     float64   `json:"peak_db"`
	Bins       []float64 `json:"bins,omitempty"`
	IsClipping bool      `json:"is_clipping"`
	IsTooQuiet bool      `json:"is_too_quiet"`
	IsOptimal  bool      `json:"is_optimal"`
	IsGood     bool      `json:"is_good"`
	IsSilent   bool      `json:"is_silent"`
	At         time.Time `json:"at"`
}

type Status struct {
	SessionID string    `json:"session_id,omitempty"`
	State     string    `json:"state,omitempty"`
	Muted     bool      `json:"muted"`
	Uptime    string    `json:"uptime"`
	Timestamp time.Time `json:"timestamp"`
}

type Server struct {
	opts      Options
	server    *http.Server
	logger    *slog.Logger
	startTime time.Time

	mu       sync.Mutex
	listener net.Listener
}

func New(opts Options) *Server {
	if opts.LevelInterval <= 0 {
		opts.LevelInterval = 50 * time.Millisecond
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Server{
		opts:      opts,
		logger:    logger,
		startTime: time.Now(),
	}
	s.server = &http.Server{
		Addr:              opts.Address,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler returns the route table. It is exported for tests and for
// embedding into another mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /levels", s.handleLevels)
	if s.opts.Metrics != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.opts.Metrics.Registry, promhttp.HandlerOpts{}))
	}
	return mux
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Address)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	s.logger.Info("monitor listening", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.server.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	}
}

// Addr is the bound address once Run has started listening.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := Status{
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		Timestamp: time.Now(),
	}
	if s.opts.Session != nil {
		st.SessionID = s.opts.Session.ID()
		st.State = s.opts.Session.State().String()
		st.Muted = s.opts.Session.Muted()
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(st); err != nil {
		s.logger.Error("failed to encode status", "error", err)
	}
}

func (s *Server) handleLevels(w http.ResponseWriter, r *http.Request) {
	if s.opts.Levels == nil {
		http.Error(w, "no level source", http.StatusServiceUnavailable)
		return
	}
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket accept failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	// Clients only listen; CloseRead handles their close frame.
	ctx := conn.CloseRead(r.Context())

	ticker := time.NewTicker(s.opts.LevelInterval)
	defer ticker.Stop()

	var last time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		lvl, ok := s.opts.Levels.CurrentLevel()
		if !ok || !lvl.At.After(last) {
			continue
		}
		last = lvl.At
		if err := wsjson.Write(ctx, conn, toMessage(lvl)); err != nil {
			s.logger.Debug("levels client gone", "error", err)
			return
		}
	}
}

func toMessage(l analyzer.Level) LevelMessage {
	return LevelMessage{
		RMSDb:      l.RMSDb,
		PeakDb:     l.PeakDb,
		Bins:       l.Bins,
		IsClipping: l.IsClipping,
		IsTooQuiet: l.IsTooQuiet,
		IsOptimal:  l.IsOptimal,
		IsGood:     l.IsGood,
		IsSilent:   l.IsSilent,
		At:         l.At,
	}
}
