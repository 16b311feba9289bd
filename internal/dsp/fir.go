package dsp

import "math"

// DesignFIRLowPass creates a low-pass FIR filter using the windowed-sinc method.
// cutoff is normalized to the sample rate and must be below 0.5.
func DesignFIRLowPass(numTaps int, cutoff float64) []float64 {
	if numTaps == 1 {
		return []float64{1}
	}
	taps := make([]float64, numTaps)
	M := float64(numTaps - 1)
	// The cutoff frequency must be normalized to the Nyquist frequency (0.5 * sample_rate)
	fc := cutoff * 2
	for n := 0; n < numTaps; n++ {
		x := float64(n) - M/2
		if x == 0 {
			taps[n] = fc
		} else {
			taps[n] = fc * math.Sin(math.Pi*fc*x) / (math.Pi * fc * x)
		}
		// Apply Hamming window
		taps[n] *= 0.54 - 0.46*math.Cos(2*math.Pi*float64(n)/M)
	}
	// Normalize
	sum := 0.0
	for _, t := range taps {
		sum += t
	}
	for i := range taps {
		taps[i] /= sum
	}
	return taps
}

// IQDecimator is a stateful, block-based complex FIR filter that keeps every
// factor-th output sample.
type IQDecimator struct {
	taps   []float64
	factor int
	state  []complex64
	// offset of the next output window into the state+input buffer
	next int
}

// NewIQDecimator creates a decimating filter with the given taps.
func NewIQDecimator(taps []float64, factor int) *IQDecimator {
	if factor < 1 {
		factor = 1
	}
	return &IQDecimator{
		taps:   taps,
		factor: factor,
		state:  make([]complex64, len(taps)-1),
	}
}

// Process filters a block of input samples and updates the filter's internal
// state. Block boundaries do not affect the output sequence.
func (f *IQDecimator) Process(input []complex64) []complex64 {
	n := len(f.taps)
	buffer := make([]complex64, len(f.state)+len(input))
	copy(buffer, f.state)
	copy(buffer[len(f.state):], input)

	output := make([]complex64, 0, len(input)/f.factor+1)
	start := f.next
	for ; start+n <= len(buffer); start += f.factor {
		var accI, accQ float64
		window := buffer[start : start+n]
		for j, tap := range f.taps {
			accI += float64(real(window[j])) * tap
			accQ += float64(imag(window[j])) * tap
		}
		output = append(output, complex(float32(accI), float32(accQ)))
	}

	// The state for the next run is the last (filter_length - 1) samples of the buffer.
	keep := len(buffer) - (n - 1)
	f.next = start - keep
	f.state = append(f.state[:0], buffer[keep:]...)
	return output
}
