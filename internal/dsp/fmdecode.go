package dsp

import "fmt"

// levelWeight is the weight of a new block in the signal level averages.
const levelWeight = 0.05

// DecoderConfig describes one decoding run. All rates and frequencies are in
// Hz, Deemphasis is in microseconds.
type DecoderConfig struct {
	SampleRateIF  float64
	TuningOffset  float64
	SampleRatePCM float64
	Stereo        bool
	Deemphasis    float64
	BandwidthIF   float64
	FreqDev       float64
	BandwidthPCM  float64
	Downsample    int
	PilotShift    bool
	PilotFreq     float64
}

// FMDecoder turns blocks of IF samples into PCM audio. It is not safe for
// concurrent use.
type FMDecoder struct {
	cfg          DecoderConfig
	basebandRate float64

	tuner         *FineTuner
	ifFilter      *IQDecimator
	discriminator *PhaseDiscriminator
	pll           *PilotPLL
	deemph        []*Deemphasis
	resampler     *Resampler

	ifLevel       float64
	basebandLevel float64
	basebandMean  float64
	stereoLocked  bool
}

// NewFMDecoder validates cfg and allocates the filter chain.
func NewFMDecoder(cfg DecoderConfig) (*FMDecoder, error) {
	switch {
	case cfg.SampleRateIF <= 0 || cfg.SampleRatePCM <= 0:
		return nil, fmt.Errorf("invalid sample rates: if=%g pcm=%g", cfg.SampleRateIF, cfg.SampleRatePCM)
	case cfg.Downsample < 1:
		return nil, fmt.Errorf("invalid downsample factor %d", cfg.Downsample)
	case cfg.FreqDev <= 0 || cfg.BandwidthIF <= 0 || cfg.BandwidthPCM <= 0:
		return nil, fmt.Errorf("bandwidths and deviation must be positive")
	case cfg.Deemphasis <= 0:
		return nil, fmt.Errorf("invalid deemphasis %g us", cfg.Deemphasis)
	}
	if cfg.PilotFreq == 0 {
		cfg.PilotFreq = 19000
	}

	basebandRate := cfg.SampleRateIF / float64(cfg.Downsample)
	if cfg.BandwidthPCM > 0.45*cfg.SampleRatePCM {
		return nil, fmt.Errorf("audio bandwidth %g Hz aliases at %g Hz", cfg.BandwidthPCM, cfg.SampleRatePCM)
	}

	cutoff := min(cfg.BandwidthIF/cfg.SampleRateIF, 0.475)
	numTaps := max(15, 8*cfg.Downsample+1)

	channels := 1
	if cfg.Stereo {
		channels = 2
	}

	d := &FMDecoder{
		cfg:           cfg,
		basebandRate:  basebandRate,
		tuner:         NewFineTuner(-cfg.TuningOffset / cfg.SampleRateIF),
		ifFilter:      NewIQDecimator(DesignFIRLowPass(numTaps, cutoff), cfg.Downsample),
		discriminator: NewPhaseDiscriminator(cfg.FreqDev / basebandRate),
		pll:           NewPilotPLL(cfg.PilotFreq, basebandRate, cfg.PilotShift),
		resampler:     NewResampler(basebandRate, cfg.SampleRatePCM, cfg.BandwidthPCM, channels),
	}
	for c := 0; c < channels; c++ {
		d.deemph = append(d.deemph, NewDeemphasis(basebandRate, cfg.Deemphasis))
	}
	return d, nil
}

// Process decodes one block of IF samples and returns interleaved PCM
// samples. The stream is continuous across calls.
func (d *FMDecoder) Process(iq []complex64) []float32 {
	d.ifLevel = (1-levelWeight)*d.ifLevel + levelWeight*magnitudeRMS(iq)

	baseband := d.ifFilter.Process(d.tuner.Process(iq))
	composite := d.discriminator.Process(baseband)

	mean, rms := meanRMS64(composite)
	d.basebandMean = (1-levelWeight)*d.basebandMean + levelWeight*mean
	d.basebandLevel = (1-levelWeight)*d.basebandLevel + levelWeight*rms

	subcarrier := d.pll.Process(composite)

	if !d.cfg.Stereo {
		mono := append([]float64(nil), composite...)
		d.deemph[0].Process(mono)
		out := d.resampler.Process([][]float64{mono})
		return toFloat32(out[0])
	}

	d.stereoLocked = d.pll.Locked()
	left := make([]float64, len(composite))
	right := make([]float64, len(composite))
	if d.stereoLocked {
		for i, m := range composite {
			diff := 2 * m * subcarrier[i]
			left[i] = m + diff
			right[i] = m - diff
		}
	} else {
		copy(left, composite)
		copy(right, composite)
	}
	d.deemph[0].Process(left)
	d.deemph[1].Process(right)

	out := d.resampler.Process([][]float64{left, right})
	pcm := make([]float32, 2*len(out[0]))
	for i := range out[0] {
		pcm[2*i] = float32(out[0][i])
		pcm[2*i+1] = float32(out[1][i])
	}
	return pcm
}

func toFloat32(in []float64) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	return out
}

// TuningOffset returns the estimated offset of the station from the tuner
// frequency in Hz, including the residual seen by the discriminator.
func (d *FMDecoder) TuningOffset() float64 {
	return d.cfg.TuningOffset + d.basebandMean*d.cfg.FreqDev
}

// IFLevel returns the averaged RMS level of the IF signal.
func (d *FMDecoder) IFLevel() float64 {
	return d.ifLevel
}

// BasebandLevel returns the averaged RMS level of the demodulated composite.
func (d *FMDecoder) BasebandLevel() float64 {
	return d.basebandLevel
}

// PilotLevel returns the amplitude of the stereo pilot.
func (d *FMDecoder) PilotLevel() float64 {
	return d.pll.PilotLevel()
}

// StereoDetected reports whether stereo decoding was active for the last block.
func (d *FMDecoder) StereoDetected() bool {
	return d.stereoLocked
}

// PPSEvents returns the events of the last block. The slice is reused by the
// next call to Process.
func (d *FMDecoder) PPSEvents() []PpsEvent {
	return d.pll.Events()
}

// Channels returns the number of interleaved channels in the PCM output.
func (d *FMDecoder) Channels() int {
	return len(d.deemph)
}

// BasebandRate returns the sample rate after decimation.
func (d *FMDecoder) BasebandRate() float64 {
	return d.basebandRate
}

// Downsample returns the IF decimation factor.
func (d *FMDecoder) Downsample() int {
	return d.cfg.Downsample
}
