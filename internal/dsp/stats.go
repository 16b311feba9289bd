package dsp

import "math"

// MeanRMS returns the mean and the RMS value of a block of samples.
func MeanRMS(samples []float32) (mean, rms float64) {
	if len(samples) == 0 {
		return 0, 0
	}
	var sum, sumSq float64
	for _, s := range samples {
		v := float64(s)
		sum += v
		sumSq += v * v
	}
	n := float64(len(samples))
	return sum / n, math.Sqrt(sumSq / n)
}

func meanRMS64(samples []float64) (mean, rms float64) {
	if len(samples) == 0 {
		return 0, 0
	}
	var sum, sumSq float64
	for _, v := range samples {
		sum += v
		sumSq += v * v
	}
	n := float64(len(samples))
	return sum / n, math.Sqrt(sumSq / n)
}

func magnitudeRMS(samples []complex64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sumSq float64
	for _, s := range samples {
		i, q := float64(real(s)), float64(imag(s))
		sumSq += i*i + q*q
	}
	return math.Sqrt(sumSq / float64(len(samples)))
}

// MovingAverage is a fixed-window running mean.
type MovingAverage struct {
	history []float64
	index   int
	sum     float64
}

// NewMovingAverage creates a window of size samples, all set to initial.
func NewMovingAverage(size int, initial float64) *MovingAverage {
	size = max(size, 1)
	m := &MovingAverage{history: make([]float64, size)}
	for i := range m.history {
		m.history[i] = initial
	}
	m.sum = initial * float64(size)
	return m
}

// Feed replaces the oldest value in the window.
func (m *MovingAverage) Feed(v float64) {
	m.sum += v - m.history[m.index]
	m.history[m.index] = v
	m.index++
	if m.index == len(m.history) {
		m.index = 0
		// re-sum once per window so rounding errors do not accumulate
		m.sum = 0
		for _, h := range m.history {
			m.sum += h
		}
	}
}

// Average returns the mean of the window.
func (m *MovingAverage) Average() float64 {
	return m.sum / float64(len(m.history))
}
