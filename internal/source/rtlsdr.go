package source

import (
	"fmt"
	"math"
	"strings"
	"sync/atomic"

	rtl "github.com/jpoirier/gortlsdr"
	"github.com/rs/zerolog"
	"hz.tools/rf"

	"go-softfm/internal/streambuf"
)

// RtlSdrSource reads IQ samples from an RTL-SDR dongle.
type RtlSdrSource struct {
	streamer

	dev         *rtl.Context
	index       int
	confFreq    rf.Hz
	sampleRate  int
	gain        int // tenths of a dB, gainAuto ignores it
	gainAuto    bool
	agc         bool
	blockLength int
}

func rtlSdrDeviceNames() []string {
	names := make([]string, rtl.GetDeviceCount())
	for i := range names {
		names[i] = rtl.GetDeviceName(i)
	}
	return names
}

func openRtlSdr(index int) (Source, error) {
	dev, err := rtl.Open(index)
	if err != nil {
		return nil, fmt.Errorf("failed to open RTL-SDR device %d: %w", index, err)
	}
	return &RtlSdrSource{dev: dev, index: index}, nil
}

func validRtlSdrRate(rate int) bool {
	return (rate >= 225001 && rate <= 300000) || (rate >= 900001 && rate <= 3200000)
}

// Configure parses freq, srate, gain, blklen and agc and applies them.
func (s *RtlSdrSource) Configure(options string) error {
	opts, err := ParseOptions(options)
	if err != nil {
		return err
	}

	freq := 100 * rf.MHz
	rate := 960000
	blockLength := rtl.DefaultBufLength
	gainAuto := true
	var gainDB float64
	var agc bool

	for _, opt := range opts {
		switch opt.Key {
		case "freq":
			if freq, err = parseFrequency(opt); err != nil {
				return err
			}
			if freq < 10*rf.MHz || freq > 2200*rf.MHz {
				return badOption(opt, "frequency %v out of range 10M..2.2G", freq)
			}
		case "srate":
			if rate, err = parseInt(opt); err != nil {
				return err
			}
			if !validRtlSdrRate(rate) {
				return badOption(opt, "sample rate %d not in [225001, 300000] or [900001, 3200000]", rate)
			}
		case "gain":
			if err := needValue(opt); err != nil {
				return err
			}
			switch strings.ToLower(opt.Value) {
			case "auto":
				gainAuto = true
			case "list":
				return badOption(opt, "available gains (dB): %s", s.gainList())
			default:
				if _, err := fmt.Sscanf(opt.Value, "%g", &gainDB); err != nil {
					return badOption(opt, "bad gain %q", opt.Value)
				}
				gainAuto = false
			}
		case "blklen":
			if blockLength, err = parseInt(opt); err != nil {
				return err
			}
			// libusb transfers must be a multiple of 512 bytes
			if blockLength < 512 || blockLength%512 != 0 {
				return badOption(opt, "block length %d must be a positive multiple of 512", blockLength)
			}
		case "agc":
			if err := noValue(opt); err != nil {
				return err
			}
			agc = true
		default:
			return badOption(opt, "unknown key for rtlsdr")
		}
	}

	if err := s.dev.SetSampleRate(rate); err != nil {
		return fmt.Errorf("failed to set sample rate: %w", err)
	}
	if err := s.dev.SetCenterFreq(int(freq)); err != nil {
		return fmt.Errorf("failed to set center frequency: %w", err)
	}
	if gainAuto {
		if err := s.dev.SetTunerGainMode(false); err != nil {
			return fmt.Errorf("failed to enable auto gain: %w", err)
		}
	} else {
		gain, err := s.nearestGain(gainDB)
		if err != nil {
			return err
		}
		if err := s.dev.SetTunerGainMode(true); err != nil {
			return fmt.Errorf("failed to enable manual gain: %w", err)
		}
		if err := s.dev.SetTunerGain(gain); err != nil {
			return fmt.Errorf("failed to set gain: %w", err)
		}
		s.gain = gain
	}
	if err := s.dev.SetAgcMode(agc); err != nil {
		return fmt.Errorf("failed to set AGC mode: %w", err)
	}
	if err := s.dev.ResetBuffer(); err != nil {
		return fmt.Errorf("failed to reset buffer: %w", err)
	}

	s.confFreq = freq
	s.sampleRate = rate
	s.gainAuto = gainAuto
	s.agc = agc
	s.blockLength = blockLength
	return nil
}

func (s *RtlSdrSource) gainList() string {
	gains, err := s.dev.GetTunerGains()
	if err != nil {
		return err.Error()
	}
	parts := make([]string, len(gains))
	for i, g := range gains {
		parts[i] = fmt.Sprintf("%.1f", float64(g)/10)
	}
	return strings.Join(parts, " ")
}

// nearestGain maps a gain in dB to the closest value the tuner supports.
func (s *RtlSdrSource) nearestGain(db float64) (int, error) {
	gains, err := s.dev.GetTunerGains()
	if err != nil {
		return 0, fmt.Errorf("failed to read tuner gains: %w", err)
	}
	if len(gains) == 0 {
		return 0, fmt.Errorf("tuner reports no gain values")
	}
	want := int(math.Round(db * 10))
	best := gains[0]
	for _, g := range gains[1:] {
		if abs(g-want) < abs(best-want) {
			best = g
		}
	}
	return best, nil
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// ConfiguredFrequency implements Source.
func (s *RtlSdrSource) ConfiguredFrequency() rf.Hz {
	return s.confFreq
}

// Frequency implements Source.
func (s *RtlSdrSource) Frequency() rf.Hz {
	return rf.Hz(s.dev.GetCenterFreq())
}

// SampleRate implements Source.
func (s *RtlSdrSource) SampleRate() float64 {
	return float64(s.dev.GetSampleRate())
}

// Start implements Source.
func (s *RtlSdrSource) Start(buf *streambuf.Buffer[complex64], stop *atomic.Bool) error {
	raw := make([]byte, s.blockLength)
	s.run(buf, stop, func() ([]complex64, error) {
		n, err := s.dev.ReadSync(raw, len(raw))
		if err != nil {
			return nil, fmt.Errorf("read from RTL-SDR: %w", err)
		}
		return convertU8(raw[:n]), nil
	})
	return nil
}

// Stop implements Source.
func (s *RtlSdrSource) Stop() {
	s.stop()
	if s.dev != nil {
		s.dev.Close()
		s.dev = nil
	}
}

// LogParams implements Source.
func (s *RtlSdrSource) LogParams(log zerolog.Logger) {
	ev := log.Info().Int("device", s.index).Int("block_length", s.blockLength).Bool("agc", s.agc)
	if s.gainAuto {
		ev = ev.Str("gain", "auto")
	} else {
		ev = ev.Float64("gain_db", float64(s.gain)/10)
	}
	ev.Msg("rtlsdr settings")
}
