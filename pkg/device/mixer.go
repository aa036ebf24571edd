package device

import (
	"math"
	"sync/atomic"
	"time"

	"github.com/lokutor-ai/lokutor-voicecore/pkg/audio"
)

// mixer renders scheduled buffers against a frame clock. Schedule, SetGain
// and Now may be called from any goroutine; render is called only by the
// audio callback, which is the sole owner of the active list.
type mixer struct {
	rate     int
	frames   atomic.Int64
	incoming chan *scheduledBuffer

	target atomic.Uint64
	tcNs   atomic.Int64

	// callback-owned
	gain    float64
	active  []*scheduledBuffer
	scratch []float32
}

type scheduledBuffer struct {
	samples []float32
	start   int64
	stopped atomic.Bool
}

func (b *scheduledBuffer) Stop() { b.stopped.Store(true) }

func (b *scheduledBuffer) end() int64 { return b.start + int64(len(b.samples)) }

func newMixer(rate, queue int) *mixer {
	m := &mixer{
		rate:     rate,
		incoming: make(chan *scheduledBuffer, queue),
		gain:     1,
	}
	m.target.Store(math.Float64bits(1))
	return m
}

func (m *mixer) Now() time.Duration {
	return audio.SamplesDuration(int(m.frames.Load()), m.rate)
}

func (m *mixer) Schedule(samples []float32, at time.Duration) (audio.ScheduledBuffer, error) {
	b := &scheduledBuffer{
		samples: samples,
		start:   int64(math.Round(at.Seconds() * float64(m.rate))),
	}
	select {
	case m.incoming <- b:
		return b, nil
	default:
		return nil, audio.ErrSinkBusy
	}
}

func (m *mixer) SetGain(target float64, timeConstant time.Duration) {
	m.tcNs.Store(int64(timeConstant))
	m.target.Store(math.Float64bits(target))
}

// render fills n frames starting at the current clock and advances it.
func (m *mixer) render(n int) []float32 {
DrainLoop:
	for {
		select {
		case b := <-m.incoming:
			m.active = append(m.active, b)
		default:
			break DrainLoop
		}
	}

	if cap(m.scratch) < n {
		m.scratch = make([]float32, n)
	}
	out := m.scratch[:n]
	clear(out)

	now := m.frames.Load()
	kept := m.active[:0]
	for _, b := range m.active {
		if b.stopped.Load() || b.end() <= now {
			continue
		}
		from := max(b.start, now)
		to := min(b.end(), now+int64(n))
		for t := from; t < to; t++ {
			out[t-now] += b.samples[t-b.start]
		}
		kept = append(kept, b)
	}
	clear(m.active[len(kept):])
	m.active = kept

	m.applyGain(out)
	m.frames.Add(int64(n))
	return out
}

func (m *mixer) applyGain(out []float32) {
	target := math.Float64frombits(m.target.Load())
	tc := time.Duration(m.tcNs.Load())
	if tc <= 0 {
		m.gain = target
	}
	coeff := 1.0
	if tc > 0 {
		coeff = 1 - math.Exp(-1/(tc.Seconds()*float64(m.rate)))
	}
	for i, s := range out {
		m.gain += (target - m.gain) * coeff
		v := float64(s) * m.gain
		out[i] = float32(math.Max(-1, math.Min(1, v)))
	}
}
