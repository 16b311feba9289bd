package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"go-softfm/internal/audio"
	"go-softfm/internal/config"
	"go-softfm/internal/dsp"
	"go-softfm/internal/pipeline"
	"go-softfm/internal/pps"
	"go-softfm/internal/source"
)

// errDeviceList ends a run that only listed devices.
var errDeviceList = errors.New("device list requested")

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "softfm",
		Short:         "software decoder for FM broadcast radio",
		Long:          "Decode stereo FM broadcast radio from an RTL-SDR dongle or an IQ recording.",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}

	f := cmd.Flags()
	f.StringP("devtype", "t", "rtlsdr", "device type: "+strings.Join(source.Families(), ", "))
	f.StringP("config", "c", "", "comma separated key=value configuration pairs or just key for switches")
	f.StringP("dev", "d", "0", "device index, 'list' to show device list")
	f.StringP("pcmrate", "r", "48000", "audio sample rate in Hz, accepts a k suffix")
	f.BoolP("mono", "M", false, "disable stereo decoding")
	f.StringP("raw", "R", "", "write audio data as raw S16_LE samples, '-' for stdout")
	f.StringP("wav", "W", "", "write audio data to a .WAV file")
	f.StringP("play", "P", "", "play audio on the default device, 'pulse[:sink]' for PulseAudio")
	f.Lookup("play").NoOptDefVal = "default"
	f.StringP("pps", "T", "", "write pulse-per-second timestamps, '-' for stdout")
	f.Float64P("buffer", "b", -1, "audio buffer size in seconds")
	f.BoolP("quiet", "q", false, "do not show the status line")
	f.BoolP("pilotshift", "X", false, "shift pilot phase (for Quadrature Multipath Monitor)")
	f.BoolP("usa", "U", false, "set deemphasis to 75 microseconds (default: 50)")
	f.String("config-file", "", "YAML configuration file, flags override its values")
	f.String("log-level", "", "log level: debug, info, warn, error")
	return cmd
}

func newLogger(level string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("invalid log level %q", level)
	}
	out := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.TimeOnly,
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
	}
	return zerolog.New(out).Level(lvl).With().Timestamp().Logger(), nil
}

func run(cmd *cobra.Command, _ []string) error {
	cfg := config.New()
	if path, _ := cmd.Flags().GetString("config-file"); path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
			return err
		}
	}
	if err := applyFlags(cmd, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		cmd.Usage()
		return err
	}

	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		return err
	}

	if err := decode(cfg, log); err != nil {
		if errors.Is(err, errDeviceList) {
			return nil
		}
		log.Error().Err(err).Msg("softfm failed")
		return err
	}
	return nil
}

// applyFlags copies the flags that were set on the command line into cfg.
func applyFlags(cmd *cobra.Command, cfg *config.Config) error {
	f := cmd.Flags()
	if f.Changed("devtype") {
		cfg.Device.Type, _ = f.GetString("devtype")
	}
	if f.Changed("config") {
		cfg.Device.Options, _ = f.GetString("config")
	}
	if f.Changed("dev") {
		dev, _ := f.GetString("dev")
		cfg.Device.Index = parseDeviceIndex(dev)
	}
	if f.Changed("pcmrate") {
		s, _ := f.GetString("pcmrate")
		rate, err := parsePCMRate(s)
		if err != nil {
			return err
		}
		cfg.Decoder.PCMRate = rate
	}
	if f.Changed("mono") {
		mono, _ := f.GetBool("mono")
		cfg.Decoder.Stereo = !mono
	}
	if f.Changed("raw") {
		cfg.Output.Mode = audio.ModeRaw
		cfg.Output.Target, _ = f.GetString("raw")
	}
	if f.Changed("wav") {
		cfg.Output.Mode = audio.ModeWAV
		cfg.Output.Target, _ = f.GetString("wav")
	}
	if f.Changed("play") {
		play, _ := f.GetString("play")
		cfg.Output.Mode, cfg.Output.Target = parsePlayTarget(play)
	}
	if f.Changed("pps") {
		cfg.PPSFilename, _ = f.GetString("pps")
	}
	if f.Changed("buffer") {
		secs, _ := f.GetFloat64("buffer")
		if secs < 0 {
			return fmt.Errorf("invalid argument for -b: %g", secs)
		}
		cfg.Output.BufferS = secs
	}
	if f.Changed("quiet") {
		cfg.Quiet, _ = f.GetBool("quiet")
	}
	if f.Changed("pilotshift") {
		cfg.Decoder.PilotShift, _ = f.GetBool("pilotshift")
	}
	if f.Changed("usa") {
		cfg.Decoder.DeemphasisNA, _ = f.GetBool("usa")
	}
	if f.Changed("log-level") {
		cfg.LogLevel, _ = f.GetString("log-level")
	}
	return cfg.Validate()
}

// parseDeviceIndex maps anything that is not a number, such as "list", to -1.
func parseDeviceIndex(s string) int {
	idx, err := strconv.Atoi(s)
	if err != nil {
		return -1
	}
	return idx
}

// parsePCMRate parses a positive rate in Hz with an optional k suffix.
func parsePCMRate(s string) (int, error) {
	mult := 1
	if strings.HasSuffix(s, "k") {
		mult = 1000
		s = strings.TrimSuffix(s, "k")
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 1 || v > (1<<31-1)/mult {
		return 0, fmt.Errorf("invalid argument for -r: %q", s)
	}
	return v * mult, nil
}

// parsePlayTarget selects the PulseAudio sink for "pulse" or "pulse:<sink>"
// and the default output device for everything else.
func parsePlayTarget(s string) (mode, target string) {
	if s == audio.ModePulse {
		return audio.ModePulse, ""
	}
	if name, ok := strings.CutPrefix(s, audio.ModePulse+":"); ok {
		return audio.ModePulse, name
	}
	return audio.ModePlay, s
}

func decode(cfg *config.Config, log zerolog.Logger) error {
	stop := new(atomic.Bool)
	handleSignals(stop)

	var ppsWriter *pps.Writer
	if cfg.PPSFilename != "" {
		var err error
		if ppsWriter, err = pps.Open(cfg.PPSFilename); err != nil {
			return err
		}
		defer ppsWriter.Close()
		log.Info().Str("target", cfg.PPSFilename).Msg("writing pulse-per-second markers")
	}

	bufferSamples := cfg.OutputBufferSamples()
	if bufferSamples > 0 {
		log.Info().Float64("seconds", float64(bufferSamples)/float64(cfg.Decoder.PCMRate)).Msg("output buffer")
	}

	sink, err := audio.Open(cfg.Output.Mode, cfg.Output.Target, cfg.Decoder.PCMRate, cfg.Channels())
	if err != nil {
		return fmt.Errorf("audio output: %w", err)
	}
	defer func() {
		if err := sink.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close audio output")
		}
	}()
	log.Info().Str("mode", cfg.Output.Mode).Str("target", cfg.Output.Target).Msg("audio output")

	src, err := openSource(cfg, log)
	if err != nil {
		return err
	}

	freq := src.ConfiguredFrequency()
	tuner := src.Frequency()
	ifRate := src.SampleRate()
	log.Info().
		Float64("tuned_mhz", float64(freq)*1e-6).
		Float64("device_mhz", float64(tuner)*1e-6).
		Float64("if_rate", ifRate).
		Msg("source configured")
	src.LogParams(log)

	downsample := cfg.Downsample(ifRate)
	dec, err := dsp.NewFMDecoder(dsp.DecoderConfig{
		SampleRateIF:  ifRate,
		TuningOffset:  float64(freq - tuner),
		SampleRatePCM: float64(cfg.Decoder.PCMRate),
		Stereo:        cfg.Decoder.Stereo,
		Deemphasis:    cfg.Deemphasis(),
		BandwidthIF:   cfg.Decoder.BandwidthIF,
		FreqDev:       cfg.Decoder.FreqDev,
		BandwidthPCM:  cfg.PCMBandwidth(),
		Downsample:    downsample,
		PilotShift:    cfg.Decoder.PilotShift,
		PilotFreq:     config.PilotFrequency,
	})
	if err != nil {
		src.Stop()
		return fmt.Errorf("decoder: %w", err)
	}
	log.Info().
		Int("downsample", downsample).
		Int("pcm_rate", cfg.Decoder.PCMRate).
		Float64("bandwidth_khz", cfg.PCMBandwidth()*1e-3).
		Float64("deemphasis_us", cfg.Deemphasis()).
		Msg("decoder configured")

	p := pipeline.New(pipeline.Options{
		IFRate:              ifRate,
		PCMRate:             float64(cfg.Decoder.PCMRate),
		Channels:            cfg.Channels(),
		Frequency:           freq,
		Tuner:               tuner,
		OutputBufferSamples: bufferSamples,
		WarmupBlocks:        cfg.Pipeline.WarmupBlocks,
		OverflowSeconds:     cfg.Pipeline.OverflowSeconds,
		PPMWindow:           cfg.Pipeline.PPMWindow,
		OutputGain:          cfg.Pipeline.OutputGain,
		LevelWeight:         cfg.Pipeline.LevelWeight,
		Quiet:               cfg.Quiet,
		Status:              os.Stderr,
		PPS:                 ppsWriter,
		Logger:              log,
		Stop:                stop,
	}, dec, src, sink)

	if err := p.Run(); err != nil {
		return err
	}
	stats := p.Stats()
	log.Debug().
		Int("blocks", stats.BlocksDecoded).
		Int("samples", stats.SamplesWritten).
		Int("write_errors", stats.WriteErrors).
		Bool("stopped", p.Stopped()).
		Msg("decoding finished")
	return nil
}

// openSource opens and configures the selected device. An out of range index
// prints the device list instead.
func openSource(cfg *config.Config, log zerolog.Logger) (source.Source, error) {
	names, err := source.DeviceNames(cfg.Device.Type)
	if err != nil {
		return nil, err
	}
	idx := cfg.Device.Index
	if idx < 0 || idx >= len(names) {
		fmt.Fprintf(os.Stderr, "Found %d devices:\n", len(names))
		for i, name := range names {
			fmt.Fprintf(os.Stderr, "%2d: %s\n", i, name)
		}
		if idx == -1 {
			return nil, errDeviceList
		}
		return nil, fmt.Errorf("%w %d", source.ErrInvalidIndex, idx)
	}
	log.Info().Int("index", idx).Str("name", names[idx]).Msg("using device")

	src, err := source.Open(cfg.Device.Type, idx)
	if err != nil {
		return nil, err
	}
	if err := src.Configure(cfg.Device.Options); err != nil {
		src.Stop()
		return nil, fmt.Errorf("configuration: %w", err)
	}
	return src, nil
}
