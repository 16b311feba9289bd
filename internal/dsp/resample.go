package dsp

import "math"

// resamplerPhases is the number of fractional delays in the polyphase table.
const resamplerPhases = 256

// Resampler changes the sample rate of one or more channels with a
// band-limited windowed-sinc interpolator. It keeps enough history to process
// a continuous stream in arbitrary block sizes.
type Resampler struct {
	step  float64
	half  int
	table [][]float64
	hist  [][]float64
	pos   float64
}

// NewResampler creates a resampler from rateIn to rateOut for the given number
// of channels. bandwidth is the audio cutoff in Hz.
func NewResampler(rateIn, rateOut, bandwidth float64, channels int) *Resampler {
	fc := bandwidth / rateIn // cycles per input sample
	half := int(math.Ceil(4 / fc))
	half = max(8, min(half, 256))

	r := &Resampler{
		step:  rateIn / rateOut,
		half:  half,
		table: make([][]float64, resamplerPhases+1),
		hist:  make([][]float64, channels),
		pos:   float64(half),
	}

	for p := range r.table {
		frac := float64(p) / resamplerPhases
		row := make([]float64, 2*half)
		var sum float64
		for k := range row {
			// distance from the output instant to input sample k
			d := frac + float64(half-1-k)
			x := 2 * fc * d
			sinc := 1.0
			if x != 0 {
				sinc = math.Sin(math.Pi*x) / (math.Pi * x)
			}
			window := 0.54 + 0.46*math.Cos(math.Pi*d/float64(half))
			row[k] = sinc * window
			sum += row[k]
		}
		for k := range row {
			row[k] /= sum
		}
		r.table[p] = row
	}

	// Start with a zero history so the first output lines up with the first
	// input sample.
	for c := range r.hist {
		r.hist[c] = make([]float64, half)
	}
	return r
}

// Process resamples one block per channel. All channel blocks must have the
// same length.
func (r *Resampler) Process(in [][]float64) [][]float64 {
	for c := range r.hist {
		r.hist[c] = append(r.hist[c], in[c]...)
	}
	avail := len(r.hist[0])

	expected := int(float64(len(in[0]))/r.step) + 1
	out := make([][]float64, len(r.hist))
	for c := range out {
		out[c] = make([]float64, 0, expected)
	}

	for {
		i0 := int(r.pos)
		p := int(math.Round((r.pos - float64(i0)) * resamplerPhases))
		if i0+r.half >= avail {
			break
		}
		row := r.table[p]
		first := i0 - r.half + 1
		for c, h := range r.hist {
			var acc float64
			window := h[first : first+2*r.half]
			for k, tap := range row {
				acc += window[k] * tap
			}
			out[c] = append(out[c], acc)
		}
		r.pos += r.step
	}

	// Drop history that no future output can reach.
	drop := min(int(r.pos)-r.half+1, avail)
	if drop > 0 {
		for c := range r.hist {
			n := copy(r.hist[c], r.hist[c][drop:])
			r.hist[c] = r.hist[c][:n]
		}
		r.pos -= float64(drop)
	}
	return out
}
