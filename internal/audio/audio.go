// Package audio implements the PCM sinks the decoder writes to.
package audio

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// Output modes.
const (
	ModeRaw   = "raw"
	ModeWAV   = "wav"
	ModePlay  = "play"
	ModePulse = "pulse"
)

// ErrUnknownMode is returned by Open for an unsupported output mode.
var ErrUnknownMode = errors.New("unknown output mode")

// Sink consumes interleaved float PCM samples in the range -1..1.
type Sink interface {
	Write(samples []float32) error
	Close() error
}

// Open creates the sink for mode. target is a filename or "-" for the file
// based sinks and a device name for pulse.
func Open(mode, target string, sampleRate, channels int) (Sink, error) {
	if channels < 1 || channels > 2 {
		return nil, fmt.Errorf("unsupported channel count %d", channels)
	}
	switch mode {
	case ModeRaw:
		w, err := createTarget(target)
		if err != nil {
			return nil, err
		}
		return NewRawSink(w), nil
	case ModeWAV:
		if target == "-" || target == "" {
			return nil, errors.New("wav output requires a seekable file, not stdout")
		}
		f, err := os.Create(target)
		if err != nil {
			return nil, fmt.Errorf("failed to create output file: %w", err)
		}
		return NewWAVSink(f, sampleRate, channels), nil
	case ModePlay:
		return NewPlaySink(sampleRate, channels)
	case ModePulse:
		return NewPulseSink(target, sampleRate, channels)
	}
	return nil, fmt.Errorf("%w %q", ErrUnknownMode, mode)
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }

func createTarget(target string) (io.WriteCloser, error) {
	if target == "-" || target == "" {
		return nopCloser{os.Stdout}, nil
	}
	f, err := os.Create(target)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}
	return f, nil
}

// toInt16 scales and clips a sample to signed 16 bit.
func toInt16(s float32) int16 {
	v := s * 32767
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}
