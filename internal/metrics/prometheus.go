package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains the Prometheus instruments for the audio pipeline.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	// Capture
	CaptureFramesEmitted prometheus.Counter
	CaptureFramesDropped prometheus.Counter
	CaptureStarts        *prometheus.CounterVec

	// Playback
	PlaybackFramesScheduled prometheus.Counter
	PlaybackDecodeErrors    prometheus.Counter
	PlaybackSinkRejections  prometheus.Counter
	PlaybackInterrupts      prometheus.Counter
	PlaybackQueueDepth      prometheus.Gauge
	PlaybackScheduleAhead   prometheus.Histogram

	// Session
	SessionTransitions *prometheus.CounterVec
	SessionErrors      *prometheus.CounterVec
	TransportSendDrops prometheus.Counter
	TransportFramesOut prometheus.Counter
	TransportFramesIn  prometheus.Counter

	// Analyzer
	AnalyzerTicks          prometheus.Counter
	AnalyzerSilenceEvents  prometheus.Counter
	AnalyzerClippingFrames prometheus.Counter
}

// NewMetrics creates all instruments on a private registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		CaptureFramesEmitted: f.NewCounter(prometheus.CounterOpts{
			Name: "voicecore_capture_frames_emitted_total",
			Help: "Total number of PCM16 frames emitted by audio capture",
		}),
		CaptureFramesDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "voicecore_capture_frames_dropped_total",
			Help: "Total number of capture chunks discarded while paused",
		}),
		CaptureStarts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "voicecore_capture_starts_total",
			Help: "Microphone acquisition attempts by outcome",
		}, []string{"outcome"}),

		PlaybackFramesScheduled: f.NewCounter(prometheus.CounterOpts{
			Name: "voicecore_playback_frames_scheduled_total",
			Help: "Total number of frames scheduled on the playback sink",
		}),
		PlaybackDecodeErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "voicecore_playback_decode_errors_total",
			Help: "Total number of inbound frames that failed to decode",
		}),
		PlaybackSinkRejections: f.NewCounter(prometheus.CounterOpts{
			Name: "voicecore_playback_sink_rejections_total",
			Help: "Total number of decoded frames the output sink refused",
		}),
		PlaybackInterrupts: f.NewCounter(prometheus.CounterOpts{
			Name: "voicecore_playback_interrupts_total",
			Help: "Total number of playback interruptions (barge-in)",
		}),
		PlaybackQueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "voicecore_playback_queue_depth",
			Help: "Frames waiting to be scheduled",
		}),
		PlaybackScheduleAhead: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicecore_playback_schedule_ahead_seconds",
			Help:    "How far ahead of the sink clock each frame was scheduled",
			Buckets: []float64{0, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}),

		SessionTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "voicecore_session_transitions_total",
			Help: "Voice session state transitions by target state",
		}, []string{"state"}),
		SessionErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "voicecore_session_errors_total",
			Help: "Voice session failures by source",
		}, []string{"source"}),
		TransportSendDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "voicecore_transport_send_drops_total",
			Help: "Capture frames dropped because the transport sender was saturated",
		}),
		TransportFramesOut: f.NewCounter(prometheus.CounterOpts{
			Name: "voicecore_transport_frames_out_total",
			Help: "Capture frames handed to the transport",
		}),
		TransportFramesIn: f.NewCounter(prometheus.CounterOpts{
			Name: "voicecore_transport_frames_in_total",
			Help: "Audio responses received from the transport",
		}),

		AnalyzerTicks: f.NewCounter(prometheus.CounterOpts{
			Name: "voicecore_analyzer_ticks_total",
			Help: "Total number of level analysis ticks",
		}),
		AnalyzerSilenceEvents: f.NewCounter(prometheus.CounterOpts{
			Name: "voicecore_analyzer_silence_events_total",
			Help: "Total number of debounced silence notifications",
		}),
		AnalyzerClippingFrames: f.NewCounter(prometheus.CounterOpts{
			Name: "voicecore_analyzer_clipping_ticks_total",
			Help: "Analysis ticks whose peak reached the clipping threshold",
		}),
	}
}

func (m *Metrics) CaptureEmitted() {
	if m != nil {
		m.CaptureFramesEmitted.Inc()
	}
}

func (m *Metrics) CaptureDropped() {
	if m != nil {
		m.CaptureFramesDropped.Inc()
	}
}

// CaptureStart records an acquisition outcome ("ok", "denied", "unavailable").
func (m *Metrics) CaptureStart(outcome string) {
	if m != nil {
		m.CaptureStarts.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) FrameScheduled(aheadSeconds float64) {
	if m != nil {
		m.PlaybackFramesScheduled.Inc()
		m.PlaybackScheduleAhead.Observe(aheadSeconds)
	}
}

func (m *Metrics) DecodeError() {
	if m != nil {
		m.PlaybackDecodeErrors.Inc()
	}
}

func (m *Metrics) SinkRejected() {
	if m != nil {
		m.PlaybackSinkRejections.Inc()
	}
}

func (m *Metrics) Interrupt() {
	if m != nil {
		m.PlaybackInterrupts.Inc()
	}
}

func (m *Metrics) QueueDepth(n int) {
	if m != nil {
		m.PlaybackQueueDepth.Set(float64(n))
	}
}

func (m *Metrics) Transition(state string) {
	if m != nil {
		m.SessionTransitions.WithLabelValues(state).Inc()
	}
}

func (m *Metrics) SessionError(source string) {
	if m != nil {
		m.SessionErrors.WithLabelValues(source).Inc()
	}
}

func (m *Metrics) SendDropped() {
	if m != nil {
		m.TransportSendDrops.Inc()
	}
}

func (m *Metrics) FrameOut() {
	if m != nil {
		m.TransportFramesOut.Inc()
	}
}

func (m *Metrics) FrameIn() {
	if m != nil {
		m.TransportFramesIn.Inc()
	}
}

// AnalyzerTick records one analysis tick.
func (m *Metrics) AnalyzerTick(clipping bool) {
	if m != nil {
		m.AnalyzerTicks.Inc()
		if clipping {
			m.AnalyzerClippingFrames.Inc()
		}
	}
}

func (m *Metrics) Silence() {
	if m != nil {
		m.AnalyzerSilenceEvents.Inc()
	}
}
