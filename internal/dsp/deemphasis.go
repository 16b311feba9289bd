package dsp

// Deemphasis implements a first-order low-pass filter for FM de-emphasis.
type Deemphasis struct {
	alpha float64
	prev  float64
}

// NewDeemphasis creates a new de-emphasis filter.
// sampleRate is the rate the filter runs at.
// tau is the time constant in microseconds (50 for Europe, 75 for the US).
func NewDeemphasis(sampleRate float64, tau float64) *Deemphasis {
	dt := 1.0 / sampleRate
	alpha := dt / (tau*1e-6 + dt)
	return &Deemphasis{alpha: alpha}
}

// Filter applies the de-emphasis filter to a single sample.
func (d *Deemphasis) Filter(x float64) float64 {
	d.prev += d.alpha * (x - d.prev)
	return d.prev
}

// Process filters a block in place.
func (d *Deemphasis) Process(block []float64) {
	for i, x := range block {
		block[i] = d.Filter(x)
	}
}
