package dsp

import (
	"math"
	"math/cmplx"
)

// PhaseDiscriminator implements a polar discriminator for FM demodulation.
type PhaseDiscriminator struct {
	prev  complex64
	scale float64
}

// NewPhaseDiscriminator creates a discriminator whose output is 1.0 at the
// given frequency deviation. maxFreqDev is normalized to the sample rate.
func NewPhaseDiscriminator(maxFreqDev float64) *PhaseDiscriminator {
	return &PhaseDiscriminator{scale: 1 / (2 * math.Pi * maxFreqDev)}
}

// Process demodulates a block of complex IQ samples into the composite signal.
func (d *PhaseDiscriminator) Process(samples []complex64) []float64 {
	if len(samples) == 0 {
		return nil
	}
	// The first output sample is the phase difference between the first input
	// sample and the last sample of the previous block.
	output := make([]float64, len(samples))
	prev := d.prev

	for i, current := range samples {
		// Multiply the current sample by the conjugate of the previous one.
		// The angle of the resulting complex number is the phase difference.
		p := complex128(current) * cmplx.Conj(complex128(prev))
		output[i] = cmplx.Phase(p) * d.scale
		prev = current
	}

	d.prev = prev
	return output
}

// FineTuner shifts a complex signal in frequency with a numerically
// controlled oscillator.
type FineTuner struct {
	step  float64
	phase float64
}

// NewFineTuner creates a tuner that shifts the signal by shift cycles per
// sample.
func NewFineTuner(shift float64) *FineTuner {
	return &FineTuner{step: 2 * math.Pi * shift}
}

// Process returns the shifted block. The oscillator phase is carried across
// blocks.
func (t *FineTuner) Process(samples []complex64) []complex64 {
	if t.step == 0 {
		return samples
	}
	output := make([]complex64, len(samples))
	for i, s := range samples {
		sin, cos := math.Sincos(t.phase)
		output[i] = complex64(complex128(s) * complex(cos, sin))
		t.phase += t.step
		if t.phase > math.Pi {
			t.phase -= 2 * math.Pi
		} else if t.phase < -math.Pi {
			t.phase += 2 * math.Pi
		}
	}
	return output
}
