package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lokutor-ai/lokutor-voicecore/internal/config"
	"github.com/lokutor-ai/lokutor-voicecore/internal/metrics"
	"github.com/lokutor-ai/lokutor-voicecore/internal/monitor"
	"github.com/lokutor-ai/lokutor-voicecore/pkg/analyzer"
	"github.com/lokutor-ai/lokutor-voicecore/pkg/audio"
	"github.com/lokutor-ai/lokutor-voicecore/pkg/capture"
	"github.com/lokutor-ai/lokutor-voicecore/pkg/device"
	"github.com/lokutor-ai/lokutor-voicecore/pkg/orchestrator"
	"github.com/lokutor-ai/lokutor-voicecore/pkg/playback"
	"github.com/lokutor-ai/lokutor-voicecore/pkg/transport/loopback"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	output := flag.String("out", "take.wav", "record mode: output WAV path")
	duration := flag.Duration("duration", 0, "record mode: stop after this long (0 waits for Ctrl+C)")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: voicecore [flags] [echo|record]\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if err := config.LoadEnv(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger := cfg.Logging.NewLogger(os.Stderr)

	mode := flag.Arg(0)
	if mode == "" {
		mode = "echo"
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch mode {
	case "echo":
		err = runEcho(ctx, cfg, logger)
	case "record":
		err = runRecord(ctx, cfg, logger, *output, *duration)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("voicecore exited", "error", err)
		os.Exit(1)
	}
}

// runEcho runs a live session against the loopback transport: speak and
// hear the utterance played back, or type a line to get it as a transcript.
func runEcho(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	log := audio.NewSlogLogger(logger)
	m := metrics.NewMetrics()

	devices, err := device.NewContext(log.With("component", "device"))
	if err != nil {
		return err
	}
	defer devices.Close()

	mic := capture.New(devices.Microphone(0), cfg.Capture.ToCapture(),
		capture.WithLogger(log.With("component", "capture")), capture.WithMetrics(m))
	speaker := playback.New(devices.Speaker(), cfg.Playback.ToPlayback(),
		playback.WithLogger(log.With("component", "playback")), playback.WithMetrics(m))
	transport := loopback.New(cfg.Loopback.ToLoopback(),
		loopback.WithLogger(log.With("component", "loopback")), loopback.WithMetrics(m))

	session, err := orchestrator.NewSession(mic, speaker, transport, cfg.Session.ToSession(),
		orchestrator.WithLogger(log.With("component", "session")), orchestrator.WithMetrics(m))
	if err != nil {
		return err
	}
	defer session.Close()

	g, ctx := errgroup.WithContext(ctx)

	if cfg.Monitor.Enabled {
		mon := monitor.New(monitor.Options{
			Address: cfg.Monitor.Address,
			Session: session,
			Metrics: m,
			Logger:  logger.With("component", "monitor"),
		})
		g.Go(func() error { return mon.Run(ctx) })
	}

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case ev, ok := <-session.Events():
				if !ok {
					return nil
				}
				printEvent(ev)
			}
		}
	})

	if err := session.Start(ctx); err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	fmt.Println("Speak, then pause. Type a line to send text, /mute, /unmute, /interrupt or /quit.")

	lines := make(chan string)
	go readLines(lines)

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case line, ok := <-lines:
				if !ok || line == "/quit" {
					session.Stop()
					return context.Canceled
				}
				if err := command(ctx, session, line); err != nil {
					logger.Warn("command failed", "line", line, "error", err)
				}
			}
		}
	})

	return g.Wait()
}

func command(ctx context.Context, s *orchestrator.Session, line string) error {
	switch line {
	case "":
		return nil
	case "/mute":
		return s.SetMuted(true)
	case "/unmute":
		return s.SetMuted(false)
	case "/interrupt":
		s.Interrupt()
		return nil
	default:
		return s.SendText(ctx, line)
	}
}

func readLines(out chan<- string) {
	defer close(out)
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		out <- strings.TrimSpace(scanner.Text())
	}
}

func printEvent(ev orchestrator.Event) {
	switch ev.Type {
	case orchestrator.StateChanged:
		sc := ev.Data.(orchestrator.StateChange)
		fmt.Printf("[%s] %s -> %s", ev.Type, sc.From, sc.To)
		if sc.Reason != "" {
			fmt.Printf(" (%s)", sc.Reason)
		}
		fmt.Println()
	case orchestrator.TranscriptUpdated:
		e := ev.Data.(orchestrator.TranscriptEntry)
		if e.IsFinal {
			fmt.Printf("%s: %s\n", e.Role, e.Text)
		}
	case orchestrator.VolumeChanged:
	case orchestrator.ErrorEvent:
		fmt.Printf("[%s] %v\n", ev.Type, ev.Data)
	default:
		fmt.Printf("[%s]\n", ev.Type)
	}
}

// runRecord captures a voice-clone take with live level feedback and writes
// it as a 16 kHz WAV file.
func runRecord(ctx context.Context, cfg *config.Config, logger *slog.Logger, out string, limit time.Duration) error {
	log := audio.NewSlogLogger(logger)
	m := metrics.NewMetrics()

	devices, err := device.NewContext(log.With("component", "device"))
	if err != nil {
		return err
	}
	defer devices.Close()

	// Voice-clone takes want the raw signal.
	capCfg := cfg.Capture.ToCapture()
	capCfg.EchoCancellation = false
	capCfg.NoiseSuppression = false
	capCfg.AutoGainControl = false

	mic := capture.New(devices.Microphone(0), capCfg,
		capture.WithLogger(log.With("component", "capture")), capture.WithMetrics(m))
	meter := analyzer.New(devices.Microphone(0), cfg.Analyzer.ToAnalyzer(),
		analyzer.WithLogger(log.With("component", "analyzer")), analyzer.WithMetrics(m))

	if limit > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, limit)
		defer cancel()
	}
	g, ctx := errgroup.WithContext(ctx)

	var (
		mu     sync.Mutex
		frames []audio.Frame
	)
	err = mic.Start(ctx, capture.Callbacks{
		OnAudioData: func(f audio.Frame) {
			mu.Lock()
			frames = append(frames, f)
			mu.Unlock()
		},
		OnError: func(err error) { logger.Error("capture failed", "error", err) },
	})
	if err != nil {
		return fmt.Errorf("start capture: %w", err)
	}
	defer mic.Stop()

	err = meter.Start(ctx, analyzer.Callbacks{
		OnSilence: func() { fmt.Println("\n(silence)") },
		OnError:   func(err error) { logger.Warn("analyzer stopped", "error", err) },
	})
	if err != nil {
		return fmt.Errorf("start analyzer: %w", err)
	}
	defer meter.Stop()

	if cfg.Monitor.Enabled {
		mon := monitor.New(monitor.Options{
			Address: cfg.Monitor.Address,
			Levels:  meter,
			Metrics: m,
			Logger:  logger.With("component", "monitor"),
		})
		g.Go(func() error { return mon.Run(ctx) })
	}

	g.Go(func() error {
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				fmt.Println()
				return nil
			case <-ticker.C:
				if lvl, ok := meter.CurrentLevel(); ok {
					fmt.Printf("\r%s", meterLine(lvl))
				}
			}
		}
	})

	fmt.Println("Recording. Press Ctrl+C to finish.")
	if err := g.Wait(); err != nil {
		return err
	}
	mic.Stop()

	mu.Lock()
	wav := audio.WavFromFrames(frames, audio.CaptureSampleRate)
	n := len(frames)
	mu.Unlock()

	if err := os.WriteFile(out, wav, 0644); err != nil {
		return fmt.Errorf("write %s: %w", out, err)
	}
	logger.Info("take written", "path", out, "frames", n, "bytes", len(wav))
	return nil
}

func meterLine(l analyzer.Level) string {
	const width = 40
	fill := int((l.RMSDb + 60) / 60 * width)
	fill = max(0, min(width, fill))

	label := "too quiet"
	switch {
	case l.IsClipping:
		label = "CLIPPING"
	case l.IsOptimal:
		label = "optimal"
	case l.IsGood:
		label = "good"
	}
	return fmt.Sprintf("[%s%s] %6.1f dB  %-9s", strings.Repeat("#", fill), strings.Repeat(" ", width-fill), l.RMSDb, label)
}
