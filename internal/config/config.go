package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds all the configuration parameters for the application.
type Config struct {
	Device      DeviceConfig   `yaml:"device"`
	Decoder     DecoderConfig  `yaml:"decoder"`
	Output      OutputConfig   `yaml:"output"`
	Pipeline    PipelineConfig `yaml:"pipeline"`
	Quiet       bool           `yaml:"quiet"`
	LogLevel    string         `yaml:"log_level"`
	PPSFilename string         `yaml:"pps_file"`
}

// DeviceConfig selects the acquisition backend.
type DeviceConfig struct {
	Type    string `yaml:"type"`    // rtlsdr, file
	Index   int    `yaml:"index"`   // -1 lists devices
	Options string `yaml:"options"` // comma separated key=value pairs
}

// DecoderConfig holds the FM decoder constants.
type DecoderConfig struct {
	PCMRate      int     `yaml:"pcm_rate"`
	Stereo       bool    `yaml:"stereo"`
	DeemphasisNA bool    `yaml:"deemphasis_na"` // 75us instead of 50us
	PilotShift   bool    `yaml:"pilot_shift"`
	BandwidthIF  float64 `yaml:"bandwidth_if"`
	FreqDev      float64 `yaml:"freq_dev"`
	BandwidthPCM float64 `yaml:"bandwidth_pcm"`
}

// OutputConfig selects the audio sink.
type OutputConfig struct {
	Mode    string  `yaml:"mode"`     // raw, wav, play, pulse
	Target  string  `yaml:"target"`   // filename, '-' or device name
	BufferS float64 `yaml:"buffer_s"` // negative selects the default
}

// PipelineConfig holds the orchestrator constants.
type PipelineConfig struct {
	WarmupBlocks    int     `yaml:"warmup_blocks"`
	OverflowSeconds float64 `yaml:"overflow_s"`
	PPMWindow       int     `yaml:"ppm_window"`
	OutputGain      float64 `yaml:"output_gain"`
	LevelWeight     float64 `yaml:"level_weight"`
}

const (
	// DeemphasisEU is the European deemphasis time constant in microseconds.
	DeemphasisEU = 50.0
	// DeemphasisNA is the North American deemphasis time constant in microseconds.
	DeemphasisNA = 75.0
	// PilotFrequency is the stereo pilot tone frequency in Hz.
	PilotFrequency = 19000.0
	// DownsampleMargin is applied to the IF bandwidth to pick the baseband rate.
	DownsampleMargin = 2.2
)

// New returns a new Config with default values.
func New() *Config {
	return &Config{
		Device: DeviceConfig{
			Type:  "rtlsdr",
			Index: 0,
		},
		Decoder: DecoderConfig{
			PCMRate:      48_000,
			Stereo:       true,
			BandwidthIF:  100_000,
			FreqDev:      75_000,
			BandwidthPCM: 15_000,
		},
		Output: OutputConfig{
			Mode:    "raw",
			Target:  "-",
			BufferS: -1,
		},
		Pipeline: PipelineConfig{
			WarmupBlocks:    4,
			OverflowSeconds: 10,
			PPMWindow:       40,
			OutputGain:      0.5,
			LevelWeight:     0.05,
		},
		LogLevel: "info",
	}
}

// Load reads a YAML file on top of the defaults.
func Load(path string) (*Config, error) {
	cfg := New()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail deep inside the decoder.
func (c *Config) Validate() error {
	if c.Decoder.PCMRate < 1 {
		return fmt.Errorf("pcm_rate must be positive, got %d", c.Decoder.PCMRate)
	}
	if c.Decoder.BandwidthIF <= 0 || c.Decoder.FreqDev <= 0 || c.Decoder.BandwidthPCM <= 0 {
		return errors.New("bandwidth_if, freq_dev and bandwidth_pcm must be positive")
	}
	if c.Pipeline.WarmupBlocks < 0 {
		return fmt.Errorf("warmup_blocks must not be negative, got %d", c.Pipeline.WarmupBlocks)
	}
	if c.Pipeline.PPMWindow < 1 {
		return fmt.Errorf("ppm_window must be at least 1, got %d", c.Pipeline.PPMWindow)
	}
	if c.Pipeline.LevelWeight <= 0 || c.Pipeline.LevelWeight > 1 {
		return fmt.Errorf("level_weight must be in (0, 1], got %g", c.Pipeline.LevelWeight)
	}
	return nil
}

// Deemphasis returns the selected deemphasis time constant in microseconds.
func (c *Config) Deemphasis() float64 {
	if c.Decoder.DeemphasisNA {
		return DeemphasisNA
	}
	return DeemphasisEU
}

// Channels returns the number of interleaved PCM channels.
func (c *Config) Channels() int {
	if c.Decoder.Stereo {
		return 2
	}
	return 1
}

// Downsample picks the IF to baseband decimation factor for the given IF rate.
func (c *Config) Downsample(ifRate float64) int {
	d := int(ifRate / (c.Decoder.BandwidthIF * DownsampleMargin))
	if d < 1 {
		return 1
	}
	return d
}

// PCMBandwidth caps the audio bandwidth to prevent aliasing at low PCM rates.
func (c *Config) PCMBandwidth() float64 {
	return min(c.Decoder.BandwidthPCM, 0.45*float64(c.Decoder.PCMRate))
}

// OutputBufferSamples returns the buffered output size in PCM frames, 0 disables
// the output goroutine. Live outputs and raw stdout default to one second.
func (c *Config) OutputBufferSamples() int {
	switch {
	case c.Output.BufferS < 0 && c.interactiveOutput():
		return c.Decoder.PCMRate
	case c.Output.BufferS > 0:
		return int(c.Output.BufferS * float64(c.Decoder.PCMRate))
	}
	return 0
}

func (c *Config) interactiveOutput() bool {
	switch c.Output.Mode {
	case "play", "pulse":
		return true
	case "raw":
		return c.Output.Target == "-"
	}
	return false
}
