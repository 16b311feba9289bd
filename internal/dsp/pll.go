package dsp

import "math"

// Pilot loop tuning.
const (
	pllLoopBandwidth  = 10.0  // natural frequency of the loop in Hz
	pllDamping        = 0.707 // loop damping factor
	pllMixerBandwidth = 200.0 // cutoff of the I/Q lowpass in Hz
	pllPullRange      = 100.0 // max deviation from the nominal pilot in Hz
	pllMinSignal      = 0.01  // minimum pilot amplitude for lock
	pllLockTime       = 0.1   // seconds of continuous pilot before lock
)

// PpsEvent marks one second of pilot cycles.
type PpsEvent struct {
	// PpsIndex counts emitted events from zero.
	PpsIndex uint64
	// SampleIndex is the baseband sample count since decoder start.
	SampleIndex uint64
	// BlockPosition is the position of the event in the block, in [0, 1).
	BlockPosition float64
}

// PilotPLL is a phase-locked loop that tracks the stereo pilot tone and
// counts its cycles to generate pulse-per-second events.
type PilotPLL struct {
	nominal float64 // rad/sample
	minFreq float64
	maxFreq float64

	freq  float64
	phase float64
	integ float64
	kp    float64
	ki    float64

	// two cascaded one-pole lowpass stages per mixer arm
	lpAlpha        float64
	i1, i2, q1, q2 float64

	amplitude float64
	minSignal float64
	lockDelay int
	lockCount int
	locked    bool

	ppsPhase        float64
	cycles          int
	cyclesPerSecond int
	ppsIndex        uint64
	sampleCount     uint64
	events          []PpsEvent
}

// NewPilotPLL creates a loop centred at pilotFreq for a signal sampled at
// sampleRate. With shift set the PPS phase reference is rotated by 90 degrees.
func NewPilotPLL(pilotFreq, sampleRate float64, shift bool) *PilotPLL {
	wn := 2 * math.Pi * pllLoopBandwidth / sampleRate
	p := &PilotPLL{
		nominal:         2 * math.Pi * pilotFreq / sampleRate,
		minFreq:         2 * math.Pi * (pilotFreq - pllPullRange) / sampleRate,
		maxFreq:         2 * math.Pi * (pilotFreq + pllPullRange) / sampleRate,
		kp:              2 * pllDamping * wn,
		ki:              wn * wn,
		lpAlpha:         1 - math.Exp(-2*math.Pi*pllMixerBandwidth/sampleRate),
		minSignal:       pllMinSignal,
		lockDelay:       int(pllLockTime * sampleRate),
		cyclesPerSecond: int(math.Round(pilotFreq)),
	}
	p.freq = p.nominal
	if shift {
		p.ppsPhase = math.Pi / 2
	}
	return p
}

// Process tracks the pilot in a block of composite baseband samples and
// returns the reference for the stereo subcarrier, phase locked at twice the
// pilot frequency.
func (p *PilotPLL) Process(samples []float64) []float64 {
	out := make([]float64, len(samples))
	p.events = p.events[:0]
	n := float64(len(samples))
	maxInteg := p.maxFreq - p.nominal

	for i, x := range samples {
		sin, cos := math.Sincos(p.phase)
		// The pilot is sin(wt) and the subcarrier sin(2wt); the loop settles
		// with phase = wt - pi/2.
		out[i] = -2 * sin * cos

		p.i1 += p.lpAlpha * (x*cos - p.i1)
		p.i2 += p.lpAlpha * (p.i1 - p.i2)
		p.q1 += p.lpAlpha * (-x*sin - p.q1)
		p.q2 += p.lpAlpha * (p.q1 - p.q2)

		phaseErr := math.Atan2(p.q2, p.i2)
		p.amplitude = 2 * p.i2

		p.integ += p.ki * phaseErr
		p.integ = max(-maxInteg, min(p.integ, maxInteg))
		p.freq = p.nominal + p.integ + p.kp*phaseErr
		p.freq = max(p.minFreq, min(p.freq, p.maxFreq))

		p.phase += p.freq
		if p.phase >= 2*math.Pi {
			p.phase -= 2 * math.Pi
		}

		if p.amplitude >= p.minSignal {
			if p.lockCount < p.lockDelay {
				p.lockCount++
			}
			p.locked = p.lockCount >= p.lockDelay
		} else {
			p.lockCount = 0
			p.locked = false
		}

		p.ppsPhase += p.freq
		if p.ppsPhase >= 2*math.Pi {
			p.ppsPhase -= 2 * math.Pi
			p.cycles++
			if p.cycles >= p.cyclesPerSecond {
				p.cycles = 0
				if p.locked {
					p.events = append(p.events, PpsEvent{
						PpsIndex:      p.ppsIndex,
						SampleIndex:   p.sampleCount + uint64(i),
						BlockPosition: float64(i) / n,
					})
					p.ppsIndex++
				}
			}
		}
	}

	p.sampleCount += uint64(len(samples))
	return out
}

// Locked reports whether the loop is locked to a pilot.
func (p *PilotPLL) Locked() bool {
	return p.locked
}

// PilotLevel returns the amplitude of the tracked pilot.
func (p *PilotPLL) PilotLevel() float64 {
	return p.amplitude
}

// Frequency returns the tracked pilot frequency in cycles per sample.
func (p *PilotPLL) Frequency() float64 {
	return p.freq / (2 * math.Pi)
}

// Events returns the PPS events produced by the last call to Process.
func (p *PilotPLL) Events() []PpsEvent {
	return p.events
}
