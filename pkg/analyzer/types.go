package analyzer

import "time"

// Fixed classification thresholds in dBFS.
const (
	ClippingDb     = -3.0
	OptimalMinDb   = -23.0
	OptimalMaxDb   = -18.0
	GoodMinDb      = -30.0
	SilenceDb      = -60.0
	SilenceFrames  = 60
	DefaultFFTSize = 256
)

// Level is one analysis snapshot. A new Level is built every tick and is
// never modified after it is published.
type Level struct {
	RMS    float64
	Peak   float64
	RMSDb  float64
	PeakDb float64
	// Bins holds normalized 0-1 frequency-bin magnitudes.
	Bins []float64

	IsClipping bool
	IsTooQuiet bool
	IsOptimal  bool
	IsGood     bool
	IsSilent   bool

	At time.Time
}

// Classify fills the threshold flags for the given decibel values.
func Classify(rmsDb, peakDb float64) Level {
	return Level{
		RMSDb:      rmsDb,
		PeakDb:     peakDb,
		IsClipping: peakDb >= ClippingDb,
		IsOptimal:  rmsDb >= OptimalMinDb && rmsDb <= OptimalMaxDb,
		IsGood:     rmsDb >= GoodMinDb && rmsDb < OptimalMinDb,
		IsTooQuiet: rmsDb < GoodMinDb,
		IsSilent:   rmsDb < SilenceDb,
	}
}

type Config struct {
	// TickInterval is the analysis cadence, display refresh rate by default.
	TickInterval time.Duration
	// FFTSize is the analysis window in samples.
	FFTSize int
	// SilenceFrames is the number of consecutive silent ticks before
	// OnSilence fires.
	SilenceFrames int
	// BufferFrames is passed to the device as the processing block size.
	BufferFrames int

	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

// DefaultConfig keeps all input processing off so the recording reflects the
// raw microphone.
func DefaultConfig() Config {
	return Config{
		TickInterval:  time.Second / 60,
		FFTSize:       DefaultFFTSize,
		SilenceFrames: SilenceFrames,
		BufferFrames:  1024,
	}
}

type Callbacks struct {
	OnLevel   func(Level)
	OnSilence func()
	OnError   func(error)
}
