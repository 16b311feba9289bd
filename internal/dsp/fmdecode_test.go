package dsp

import (
	"math"
	"testing"
)

const (
	testIFRate  = 240000.0
	testPCMRate = 48000.0
	testDev     = 75000.0
)

func testDecoderConfig() DecoderConfig {
	return DecoderConfig{
		SampleRateIF:  testIFRate,
		SampleRatePCM: testPCMRate,
		Stereo:        true,
		Deemphasis:    50,
		BandwidthIF:   100000,
		FreqDev:       testDev,
		BandwidthPCM:  15000,
		Downsample:    1,
	}
}

// fmSignal frequency-modulates composite, given relative to the deviation,
// onto a carrier offset Hz away from the centre.
func fmSignal(seconds, offset float64, composite func(t float64) float64) []complex64 {
	out := make([]complex64, int(seconds*testIFRate))
	var phase float64
	for i := range out {
		t := float64(i) / testIFRate
		phase += 2 * math.Pi * (offset + testDev*composite(t)) / testIFRate
		phase = math.Mod(phase, 2*math.Pi)
		out[i] = complex(float32(math.Cos(phase)), float32(math.Sin(phase)))
	}
	return out
}

// stereoComposite builds a broadcast multiplex signal.
func stereoComposite(left, right func(t float64) float64, pilot float64) func(t float64) float64 {
	return func(t float64) float64 {
		l, r := left(t), right(t)
		wp := 2*math.Pi*19000*t + 0.5
		return 0.3*(l+r) + 0.3*(l-r)*math.Sin(2*wp) + pilot*math.Sin(wp)
	}
}

func tone(freq float64) func(t float64) float64 {
	return func(t float64) float64 { return math.Sin(2 * math.Pi * freq * t) }
}

func silent(float64) float64 { return 0 }

func splitBlocks(samples []complex64, size int) [][]complex64 {
	var blocks [][]complex64
	for start := 0; start < len(samples); start += size {
		blocks = append(blocks, samples[start:min(start+size, len(samples))])
	}
	return blocks
}

func newTestDecoder(t *testing.T, cfg DecoderConfig) *FMDecoder {
	t.Helper()
	d, err := NewFMDecoder(cfg)
	if err != nil {
		t.Fatalf("NewFMDecoder: %v", err)
	}
	return d
}

func rmsOf(samples []float64) float64 {
	_, rms := meanRMS64(samples)
	return rms
}

func TestNewFMDecoder_RejectsInvalidConfig(t *testing.T) {
	cases := map[string]func(*DecoderConfig){
		"zero if rate":        func(c *DecoderConfig) { c.SampleRateIF = 0 },
		"zero downsample":     func(c *DecoderConfig) { c.Downsample = 0 },
		"zero deviation":      func(c *DecoderConfig) { c.FreqDev = 0 },
		"zero deemphasis":     func(c *DecoderConfig) { c.Deemphasis = 0 },
		"aliasing audio band": func(c *DecoderConfig) { c.SampleRatePCM = 16000 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := testDecoderConfig()
			mutate(&cfg)
			if _, err := NewFMDecoder(cfg); err == nil {
				t.Errorf("Expected an error")
			}
		})
	}
}

func TestFMDecoder_Silence(t *testing.T) {
	cfg := testDecoderConfig()
	cfg.TuningOffset = 12345
	d := newTestDecoder(t, cfg)

	for block := 0; block < 10; block++ {
		pcm := d.Process(make([]complex64, 4096))
		for i, s := range pcm {
			if s != 0 {
				t.Fatalf("Block %d sample %d: expected silence, got %f", block, i, s)
			}
		}
	}
	if d.IFLevel() != 0 || d.BasebandLevel() != 0 {
		t.Errorf("Expected zero levels, got IF=%g baseband=%g", d.IFLevel(), d.BasebandLevel())
	}
	if d.StereoDetected() || len(d.PPSEvents()) != 0 {
		t.Errorf("Silence must not produce stereo lock or PPS events")
	}
}

func TestFMDecoder_Determinism(t *testing.T) {
	blocks := splitBlocks(fmSignal(1.2, 0, stereoComposite(tone(1000), tone(400), 0.1)), 16384)

	a := newTestDecoder(t, testDecoderConfig())
	b := newTestDecoder(t, testDecoderConfig())
	for n, blk := range blocks {
		pa, pb := a.Process(blk), b.Process(blk)
		if len(pa) != len(pb) {
			t.Fatalf("Block %d: output lengths differ: %d vs %d", n, len(pa), len(pb))
		}
		for i := range pa {
			if pa[i] != pb[i] {
				t.Fatalf("Block %d sample %d: %v vs %v", n, i, pa[i], pb[i])
			}
		}
		ea, eb := a.PPSEvents(), b.PPSEvents()
		if len(ea) != len(eb) {
			t.Fatalf("Block %d: PPS event counts differ", n)
		}
		for i := range ea {
			if ea[i] != eb[i] {
				t.Fatalf("Block %d: PPS events differ: %+v vs %+v", n, ea[i], eb[i])
			}
		}
		if a.StereoDetected() != b.StereoDetected() {
			t.Fatalf("Block %d: stereo detection differs", n)
		}
	}
}

func TestFMDecoder_MonoFallback(t *testing.T) {
	mono := func(t float64) float64 { return 0.5 * math.Sin(2*math.Pi*1000*t) }
	blocks := splitBlocks(fmSignal(1.0, 0, mono), 8192)

	t.Run("stereo disabled", func(t *testing.T) {
		cfg := testDecoderConfig()
		cfg.Stereo = false
		d := newTestDecoder(t, cfg)
		if d.Channels() != 1 {
			t.Fatalf("Expected 1 channel, got %d", d.Channels())
		}
		var frames int
		for _, blk := range blocks {
			frames += len(d.Process(blk))
			if d.StereoDetected() {
				t.Fatalf("Stereo detected with stereo disabled")
			}
		}
		// one second of IF gives about one second of audio
		if frames < 47000 || frames > 48000 {
			t.Errorf("Expected about 48000 frames, got %d", frames)
		}
	})

	t.Run("no pilot", func(t *testing.T) {
		d := newTestDecoder(t, testDecoderConfig())
		if d.Channels() != 2 {
			t.Fatalf("Expected 2 channels, got %d", d.Channels())
		}
		for n, blk := range blocks {
			pcm := d.Process(blk)
			if d.StereoDetected() {
				t.Fatalf("Block %d: stereo detected without a pilot", n)
			}
			for i := 0; i+1 < len(pcm); i += 2 {
				if pcm[i] != pcm[i+1] {
					t.Fatalf("Block %d frame %d: left %f != right %f", n, i/2, pcm[i], pcm[i+1])
				}
			}
		}
	})
}

func TestFMDecoder_StereoDetection(t *testing.T) {
	d := newTestDecoder(t, testDecoderConfig())
	blocks := splitBlocks(fmSignal(1.5, 0, stereoComposite(tone(1000), silent, 0.1)), 12000)

	lockedAt := -1
	var left, right []float64
	for n, blk := range blocks {
		pcm := d.Process(blk)
		if lockedAt < 0 && d.StereoDetected() {
			lockedAt = n
		}
		if n >= len(blocks)-5 {
			for i := 0; i+1 < len(pcm); i += 2 {
				left = append(left, float64(pcm[i]))
				right = append(right, float64(pcm[i+1]))
			}
		}
	}

	if lockedAt < 0 {
		t.Fatalf("Stereo was never detected")
	}
	if seconds := float64(lockedAt*12000) / testIFRate; seconds > 1.0 {
		t.Errorf("Stereo lock took %.2f s", seconds)
	}
	if !d.StereoDetected() {
		t.Fatalf("Stereo lock was lost")
	}
	if level := d.PilotLevel(); math.Abs(level-0.1) > 0.02 {
		t.Errorf("Expected a pilot level near 0.1, got %f", level)
	}

	l, r := rmsOf(left), rmsOf(right)
	if l < 0.2 {
		t.Errorf("Expected a strong left channel, got rms %f", l)
	}
	if r > 0.25*l {
		t.Errorf("Expected the silent right channel to stay below a quarter of the left, got %f vs %f", r, l)
	}
}

func TestFMDecoder_PPSRegularity(t *testing.T) {
	d := newTestDecoder(t, testDecoderConfig())
	blocks := splitBlocks(fmSignal(2.3, 0, stereoComposite(tone(800), tone(300), 0.1)), 10000)

	var events []PpsEvent
	for _, blk := range blocks {
		d.Process(blk)
		events = append(events, d.PPSEvents()...)
	}

	if len(events) < 2 {
		t.Fatalf("Expected at least two PPS events, got %d", len(events))
	}
	for i := 1; i < len(events); i++ {
		if events[i].PpsIndex != events[i-1].PpsIndex+1 {
			t.Errorf("PPS index jumped from %d to %d", events[i-1].PpsIndex, events[i].PpsIndex)
		}
		diff := float64(events[i].SampleIndex - events[i-1].SampleIndex)
		if math.Abs(diff-d.BasebandRate()) > 2 {
			t.Errorf("Expected %v samples between pulses, got %v", d.BasebandRate(), diff)
		}
	}
}

func TestFMDecoder_TuningOffset(t *testing.T) {
	const offset = 2000.0
	blocks := splitBlocks(fmSignal(1.0, offset, silent), 2400)

	t.Run("uncorrected", func(t *testing.T) {
		d := newTestDecoder(t, testDecoderConfig())
		for _, blk := range blocks {
			d.Process(blk)
		}
		if got := d.TuningOffset(); math.Abs(got-offset) > 30 {
			t.Errorf("Expected a tuning offset estimate near %v Hz, got %f", offset, got)
		}
	})

	t.Run("corrected", func(t *testing.T) {
		cfg := testDecoderConfig()
		cfg.TuningOffset = offset
		d := newTestDecoder(t, cfg)
		for _, blk := range blocks {
			d.Process(blk)
		}
		if got := d.TuningOffset(); math.Abs(got-offset) > 5 {
			t.Errorf("Expected the tuner to remove the offset, estimate %f", got)
		}
		if math.Abs(d.basebandMean) > 0.001 {
			t.Errorf("Expected no residual DC after tuning, got %f", d.basebandMean)
		}
	})
}
