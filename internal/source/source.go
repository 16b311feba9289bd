// Package source implements the acquisition backends that feed IQ samples
// into the decoding pipeline.
package source

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog"
	"hz.tools/rf"

	"go-softfm/internal/streambuf"
)

var (
	// ErrUnknownDevice is returned for an unsupported device family.
	ErrUnknownDevice = errors.New("unknown device type")
	// ErrInvalidIndex is returned when the device index is out of range.
	ErrInvalidIndex = errors.New("invalid device index")
	// ErrBadOption is returned for unknown or malformed configuration keys.
	ErrBadOption = errors.New("invalid configuration option")
	// ErrUnsupportedDevice is returned for a known device family that this
	// build has no driver for.
	ErrUnsupportedDevice = errors.New("device type not supported")
)

// Source is a tunable IQ sample source.
type Source interface {
	// Configure applies a comma separated list of key or key=value tokens.
	Configure(options string) error
	// ConfiguredFrequency is the station frequency that was asked for.
	ConfiguredFrequency() rf.Hz
	// Frequency is the frequency the device is actually tuned to.
	Frequency() rf.Hz
	// SampleRate is the IF sample rate in Hz.
	SampleRate() float64
	// Start streams blocks into buf from a separate goroutine until Stop is
	// called, stop is set or the stream ends. The end of the stream is
	// always pushed to buf.
	Start(buf *streambuf.Buffer[complex64], stop *atomic.Bool) error
	// Stop ends streaming and releases the device.
	Stop()
	// Err returns the error that ended streaming, if any.
	Err() error
	// LogParams logs the device specific settings.
	LogParams(log zerolog.Logger)
}

type family struct {
	names func() []string
	open  func(index int) (Source, error)
}

var families = map[string]family{
	"rtlsdr": {names: rtlSdrDeviceNames, open: openRtlSdr},
	"file":   {names: fileDeviceNames, open: openFile},
}

// unsupported lists device families that are recognised but have no Go
// driver in this build.
var unsupported = map[string]string{
	"hackrf": "no HackRF Go binding with a tagged release is available; record with hackrf_transfer and replay it with -t file -c format=cs8",
	"airspy": "no Airspy Go binding is available; record with airspy_rx -t 2 and replay it with -t file -c format=cs16",
}

// Families returns the supported device families.
func Families() []string {
	return []string{"rtlsdr", "file"}
}

// DeviceNames enumerates the devices of a family.
func DeviceNames(devType string) ([]string, error) {
	f, ok := families[strings.ToLower(devType)]
	if reason, known := unsupported[strings.ToLower(devType)]; !ok && known {
		return nil, fmt.Errorf("%w %q: %s", ErrUnsupportedDevice, devType, reason)
	}
	if !ok {
		return nil, fmt.Errorf("%w %q, must be one of %s", ErrUnknownDevice, devType, strings.Join(Families(), ", "))
	}
	return f.names(), nil
}

// Open opens device index of the given family. The caller owns the returned
// Source and must call Stop.
func Open(devType string, index int) (Source, error) {
	names, err := DeviceNames(devType)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(names) {
		return nil, fmt.Errorf("%w %d, found %d devices", ErrInvalidIndex, index, len(names))
	}
	return families[strings.ToLower(devType)].open(index)
}

// Option is one token of a configuration string.
type Option struct {
	Key      string
	Value    string
	HasValue bool
}

// ParseOptions splits a configuration string into its tokens.
func ParseOptions(s string) ([]Option, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	var opts []Option
	for _, tok := range strings.Split(s, ",") {
		tok = strings.TrimSpace(tok)
		key, value, hasValue := strings.Cut(tok, "=")
		key = strings.TrimSpace(key)
		if key == "" {
			return nil, fmt.Errorf("%w: empty key in %q", ErrBadOption, tok)
		}
		if hasValue && strings.TrimSpace(value) == "" {
			return nil, fmt.Errorf("%w: missing value for %q", ErrBadOption, key)
		}
		opts = append(opts, Option{Key: strings.ToLower(key), Value: strings.TrimSpace(value), HasValue: hasValue})
	}
	return opts, nil
}

func badOption(opt Option, format string, args ...any) error {
	return fmt.Errorf("%w %q: %s", ErrBadOption, opt.Key, fmt.Sprintf(format, args...))
}

func needValue(opt Option) error {
	if !opt.HasValue {
		return badOption(opt, "requires a value")
	}
	return nil
}

func noValue(opt Option) error {
	if opt.HasValue {
		return badOption(opt, "is a switch and takes no value")
	}
	return nil
}

// parseFrequency accepts plain numbers in Hz as well as values with units
// such as 96.6MHz.
func parseFrequency(opt Option) (rf.Hz, error) {
	if err := needValue(opt); err != nil {
		return 0, err
	}
	if v, err := strconv.ParseFloat(opt.Value, 64); err == nil {
		return rf.Hz(v), nil
	}
	hz, err := rf.ParseHz(opt.Value)
	if err != nil {
		return 0, badOption(opt, "bad frequency %q", opt.Value)
	}
	return hz, nil
}

func parseInt(opt Option) (int, error) {
	if err := needValue(opt); err != nil {
		return 0, err
	}
	v, err := strconv.Atoi(opt.Value)
	if err != nil {
		return 0, badOption(opt, "bad integer %q", opt.Value)
	}
	return v, nil
}

// streamer runs the read loop shared by all backends.
type streamer struct {
	quit atomic.Bool
	done chan struct{}
	err  atomic.Pointer[error]
}

// run calls read until it fails, stop is set or Stop is called, then pushes
// the end of the stream. io.EOF ends the stream without an error.
func (s *streamer) run(buf *streambuf.Buffer[complex64], stop *atomic.Bool, read func() ([]complex64, error)) {
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		defer buf.PushEnd()
		for !stop.Load() && !s.quit.Load() {
			block, err := read()
			buf.Push(block)
			if err != nil {
				if !errors.Is(err, io.EOF) {
					s.setErr(err)
				}
				return
			}
		}
	}()
}

func (s *streamer) stop() {
	s.quit.Store(true)
	if s.done != nil {
		<-s.done
	}
}

func (s *streamer) setErr(err error) {
	s.err.Store(&err)
}

// Err returns the error that ended the read loop.
func (s *streamer) Err() error {
	if p := s.err.Load(); p != nil {
		return *p
	}
	return nil
}
