package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/lokutor-ai/lokutor-voicecore/pkg/analyzer"
	"github.com/lokutor-ai/lokutor-voicecore/pkg/capture"
	"github.com/lokutor-ai/lokutor-voicecore/pkg/orchestrator"
	"github.com/lokutor-ai/lokutor-voicecore/pkg/playback"
	"github.com/lokutor-ai/lokutor-voicecore/pkg/transport/loopback"
)

// Environment overrides applied by ApplyEnv.
const (
	EnvLogLevel    = "VOICECORE_LOG_LEVEL"
	EnvLogFormat   = "VOICECORE_LOG_FORMAT"
	EnvMonitorAddr = "VOICECORE_MONITOR_ADDR"
	EnvAutoListen  = "VOICECORE_AUTO_LISTEN"
)

type Config struct {
	Capture  CaptureConfig  `yaml:"capture"`
	Playback PlaybackConfig `yaml:"playback"`
	Analyzer AnalyzerConfig `yaml:"analyzer"`
	Session  SessionConfig  `yaml:"session"`
	Loopback LoopbackConfig `yaml:"loopback"`
	Monitor  MonitorConfig  `yaml:"monitor"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type CaptureConfig struct {
	TargetSampleRate int  `yaml:"target_sample_rate"`
	BufferFrames     int  `yaml:"buffer_frames"`
	EchoCancellation bool `yaml:"echo_cancellation"`
	NoiseSuppression bool `yaml:"noise_suppression"`
	AutoGainControl  bool `yaml:"auto_gain_control"`
	VolumeIntervalMs int  `yaml:"volume_interval_ms"`
	VolumeWindow     int  `yaml:"volume_window"`
}

type PlaybackConfig struct {
	SampleRate int     `yaml:"sample_rate"`
	Volume     float64 `yaml:"volume"`
	// ResumeSettleMs is the warm-up delay after opening or resuming the
	// output device. Tune per platform.
	ResumeSettleMs int `yaml:"resume_settle_ms"`
}

type AnalyzerConfig struct {
	TickRate      int `yaml:"tick_rate"` // Hz
	FFTSize       int `yaml:"fft_size"`
	SilenceFrames int `yaml:"silence_frames"`
}

type SessionConfig struct {
	AutoListen      bool    `yaml:"auto_listen"`
	StartMuted      bool    `yaml:"start_muted"`
	BargeIn         bool    `yaml:"barge_in"`
	EchoGuard       bool    `yaml:"echo_guard"`
	VADThreshold    float64 `yaml:"vad_threshold"`
	VADSilenceMs    int     `yaml:"vad_silence_ms"`
	VADMinConfirmed int     `yaml:"vad_min_confirmed"`
}

type LoopbackConfig struct {
	SpeechThreshold  float64 `yaml:"speech_threshold"`
	EndOfUtteranceMs int     `yaml:"end_of_utterance_ms"`
	ChunkMs          int     `yaml:"chunk_ms"`
}

type MonitorConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	c := capture.DefaultConfig()
	p := playback.DefaultConfig()
	a := analyzer.DefaultConfig()
	s := orchestrator.DefaultConfig()
	l := loopback.DefaultConfig()
	return &Config{
		Capture: CaptureConfig{
			TargetSampleRate: c.TargetSampleRate,
			BufferFrames:     c.BufferFrames,
			EchoCancellation: c.EchoCancellation,
			NoiseSuppression: c.NoiseSuppression,
			AutoGainControl:  c.AutoGainControl,
			VolumeIntervalMs: int(c.VolumeInterval / time.Millisecond),
			VolumeWindow:     c.VolumeWindow,
		},
		Playback: PlaybackConfig{
			SampleRate:     p.SampleRate,
			Volume:         p.Volume,
			ResumeSettleMs: int(p.ResumeSettle / time.Millisecond),
		},
		Analyzer: AnalyzerConfig{
			TickRate:      60,
			FFTSize:       a.FFTSize,
			SilenceFrames: a.SilenceFrames,
		},
		Session: SessionConfig{
			AutoListen:      s.AutoListen,
			StartMuted:      s.StartMuted,
			BargeIn:         s.BargeIn,
			EchoGuard:       s.EchoGuard,
			VADThreshold:    s.VADThreshold,
			VADSilenceMs:    int(s.VADSilenceLimit / time.Millisecond),
			VADMinConfirmed: s.VADMinConfirmed,
		},
		Loopback: LoopbackConfig{
			SpeechThreshold:  l.SpeechThreshold,
			EndOfUtteranceMs: int(l.EndOfUtterance / time.Millisecond),
			ChunkMs:          int(l.ChunkDuration / time.Millisecond),
		},
		Monitor: MonitorConfig{
			Enabled: false,
			Address: "127.0.0.1:9464",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	config := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := config.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return config, nil
}

// LoadEnv loads .env style files into the process environment. Missing
// files are ignored; variables already set are not overwritten.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load env file %s: %w", f, err)
		}
	}
	return nil
}

// ApplyEnv overrides fields from VOICECORE_* variables.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv(EnvLogFormat); v != "" {
		c.Logging.Format = strings.ToLower(v)
	}
	if v := os.Getenv(EnvMonitorAddr); v != "" {
		c.Monitor.Address = v
		c.Monitor.Enabled = true
	}
	if v := os.Getenv(EnvAutoListen); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvAutoListen, err)
		}
		c.Session.AutoListen = b
	}
	return nil
}

func (c *Config) Validate() error {
	if err := c.Capture.Validate(); err != nil {
		return fmt.Errorf("capture config: %w", err)
	}
	if err := c.Playback.Validate(); err != nil {
		return fmt.Errorf("playback config: %w", err)
	}
	if err := c.Analyzer.Validate(); err != nil {
		return fmt.Errorf("analyzer config: %w", err)
	}
	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session config: %w", err)
	}
	if err := c.Monitor.Validate(); err != nil {
		return fmt.Errorf("monitor config: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}
	return nil
}

func (c *CaptureConfig) Validate() error {
	if c.TargetSampleRate != 16000 {
		return fmt.Errorf("target_sample_rate must be 16000 Hz for the agent uplink, got %d", c.TargetSampleRate)
	}
	if c.BufferFrames < 128 || c.BufferFrames > 16384 {
		return fmt.Errorf("buffer_frames must be between 128 and 16384, got %d", c.BufferFrames)
	}
	if c.VolumeIntervalMs < 1 {
		return fmt.Errorf("volume_interval_ms must be positive, got %d", c.VolumeIntervalMs)
	}
	if c.VolumeWindow < 32 {
		return fmt.Errorf("volume_window must be at least 32 samples, got %d", c.VolumeWindow)
	}
	return nil
}

func (p *PlaybackConfig) Validate() error {
	if p.SampleRate != 24000 {
		return fmt.Errorf("sample_rate must be 24000 Hz for the agent downlink, got %d", p.SampleRate)
	}
	if p.Volume < 0 || p.Volume > 1 {
		return fmt.Errorf("volume must be between 0 and 1, got %f", p.Volume)
	}
	if p.ResumeSettleMs < 0 {
		return fmt.Errorf("resume_settle_ms cannot be negative, got %d", p.ResumeSettleMs)
	}
	return nil
}

func (a *AnalyzerConfig) Validate() error {
	if a.TickRate < 1 || a.TickRate > 1000 {
		return fmt.Errorf("tick_rate must be between 1 and 1000 Hz, got %d", a.TickRate)
	}
	if a.FFTSize < 32 || a.FFTSize&(a.FFTSize-1) != 0 {
		return fmt.Errorf("fft_size must be a power of two of at least 32, got %d", a.FFTSize)
	}
	if a.SilenceFrames < 1 {
		return fmt.Errorf("silence_frames must be at least 1, got %d", a.SilenceFrames)
	}
	return nil
}

func (s *SessionConfig) Validate() error {
	if s.VADThreshold <= 0 || s.VADThreshold >= 1 {
		return fmt.Errorf("vad_threshold must be between 0 and 1 (exclusive), got %f", s.VADThreshold)
	}
	if s.VADSilenceMs < 1 {
		return fmt.Errorf("vad_silence_ms must be positive, got %d", s.VADSilenceMs)
	}
	if s.VADMinConfirmed < 1 {
		return fmt.Errorf("vad_min_confirmed must be at least 1, got %d", s.VADMinConfirmed)
	}
	return nil
}

func (m *MonitorConfig) Validate() error {
	if m.Enabled && m.Address == "" {
		return fmt.Errorf("address cannot be empty when the monitor is enabled")
	}
	return nil
}

func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}
	if l.Format != "json" && l.Format != "text" {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}
	return nil
}

// NewLogger builds the process logger described by l.
func (l *LoggingConfig) NewLogger(w io.Writer) *slog.Logger {
	var level slog.Level
	switch l.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func (c *CaptureConfig) ToCapture() capture.Config {
	return capture.Config{
		TargetSampleRate: c.TargetSampleRate,
		BufferFrames:     c.BufferFrames,
		EchoCancellation: c.EchoCancellation,
		NoiseSuppression: c.NoiseSuppression,
		AutoGainControl:  c.AutoGainControl,
		VolumeInterval:   time.Duration(c.VolumeIntervalMs) * time.Millisecond,
		VolumeWindow:     c.VolumeWindow,
	}
}

func (p *PlaybackConfig) ToPlayback() playback.Config {
	cfg := playback.DefaultConfig()
	cfg.SampleRate = p.SampleRate
	cfg.Volume = p.Volume
	cfg.ResumeSettle = time.Duration(p.ResumeSettleMs) * time.Millisecond
	return cfg
}

func (a *AnalyzerConfig) ToAnalyzer() analyzer.Config {
	cfg := analyzer.DefaultConfig()
	cfg.TickInterval = time.Second / time.Duration(a.TickRate)
	cfg.FFTSize = a.FFTSize
	cfg.SilenceFrames = a.SilenceFrames
	return cfg
}

func (s *SessionConfig) ToSession() orchestrator.Config {
	cfg := orchestrator.DefaultConfig()
	cfg.AutoListen = s.AutoListen
	cfg.StartMuted = s.StartMuted
	cfg.BargeIn = s.BargeIn
	cfg.EchoGuard = s.EchoGuard
	cfg.VADThreshold = s.VADThreshold
	cfg.VADSilenceLimit = time.Duration(s.VADSilenceMs) * time.Millisecond
	cfg.VADMinConfirmed = s.VADMinConfirmed
	return cfg
}

func (l *LoopbackConfig) ToLoopback() loopback.Config {
	cfg := loopback.DefaultConfig()
	if l.SpeechThreshold > 0 {
		cfg.SpeechThreshold = l.SpeechThreshold
	}
	if l.EndOfUtteranceMs > 0 {
		cfg.EndOfUtterance = time.Duration(l.EndOfUtteranceMs) * time.Millisecond
	}
	if l.ChunkMs > 0 {
		cfg.ChunkDuration = time.Duration(l.ChunkMs) * time.Millisecond
	}
	return cfg
}
