package source

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/rs/zerolog"
	"hz.tools/rf"
	"hz.tools/rfcap"
	"hz.tools/sdr"
	"hz.tools/sdr/stream"

	"go-softfm/internal/streambuf"
)

// Supported IQ file formats.
const (
	FormatU8    = "cu8"
	FormatS8    = "cs8"
	FormatS16   = "cs16"
	FormatWAV   = "wav"
	FormatRfcap = "rfcap"
)

const defaultFileBlockLength = 65536

// FileSource replays IQ samples from a file or stdin.
type FileSource struct {
	streamer

	path        string
	format      string
	freq        rf.Hz
	sampleRate  float64
	realtime    bool
	blockLength int

	file    *os.File
	wav     *wav.Decoder
	capture sdr.Reader
}

func fileDeviceNames() []string {
	return []string{"IQ file or stdin"}
}

func openFile(int) (Source, error) {
	return &FileSource{}, nil
}

// formatFromPath guesses the sample format from the file extension.
func formatFromPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		return FormatWAV
	case ".rfcap":
		return FormatRfcap
	case ".cs16", ".s16", ".iq":
		return FormatS16
	case ".cs8", ".s8":
		return FormatS8
	}
	return FormatU8
}

// Configure parses path, format, srate, freq, realtime and blklen and opens
// the file.
func (s *FileSource) Configure(options string) error {
	opts, err := ParseOptions(options)
	if err != nil {
		return err
	}

	s.freq = 100 * rf.MHz
	s.blockLength = defaultFileBlockLength
	var rate int

	for _, opt := range opts {
		switch opt.Key {
		case "path":
			if err := needValue(opt); err != nil {
				return err
			}
			s.path = opt.Value
		case "format":
			if err := needValue(opt); err != nil {
				return err
			}
			switch f := strings.ToLower(opt.Value); f {
			case FormatU8, FormatS8, FormatS16, FormatWAV, FormatRfcap:
				s.format = f
			default:
				return badOption(opt, "unknown format %q", opt.Value)
			}
		case "srate":
			if rate, err = parseInt(opt); err != nil {
				return err
			}
			if rate <= 0 {
				return badOption(opt, "sample rate must be positive")
			}
		case "freq":
			if s.freq, err = parseFrequency(opt); err != nil {
				return err
			}
		case "realtime":
			if err := noValue(opt); err != nil {
				return err
			}
			s.realtime = true
		case "blklen":
			if s.blockLength, err = parseInt(opt); err != nil {
				return err
			}
			if s.blockLength <= 0 {
				return badOption(opt, "block length must be positive")
			}
		default:
			return badOption(opt, "unknown key for file")
		}
	}

	if s.path == "" {
		return fmt.Errorf("%w: file source requires path=<file> or path=-", ErrBadOption)
	}
	if s.format == "" {
		s.format = formatFromPath(s.path)
	}
	s.sampleRate = float64(rate)

	if s.path == "-" {
		s.file = os.Stdin
	} else if s.file, err = os.Open(s.path); err != nil {
		return fmt.Errorf("failed to open IQ file: %w", err)
	}

	switch s.format {
	case FormatWAV:
		return s.openWAV()
	case FormatRfcap:
		return s.openCapture()
	}
	if rate == 0 {
		return fmt.Errorf("%w: srate is required for %s files", ErrBadOption, s.format)
	}
	return nil
}

func (s *FileSource) openWAV() error {
	s.wav = wav.NewDecoder(s.file)
	if !s.wav.IsValidFile() {
		return fmt.Errorf("%s is not a valid WAV file", s.path)
	}
	// Move to start of PCM/IQ data
	if err := s.wav.FwdToPCM(); err != nil {
		return fmt.Errorf("failed to seek to PCM data: %w", err)
	}
	if d := s.wav.BitDepth; d < 8 || d > 32 {
		return fmt.Errorf("unsupported WAV bit depth %d", d)
	}
	if s.wav.NumChans != 2 {
		return fmt.Errorf("WAV IQ file must have 2 channels, found %d", s.wav.NumChans)
	}
	if s.sampleRate == 0 {
		s.sampleRate = float64(s.wav.SampleRate)
	}
	return nil
}

func (s *FileSource) openCapture() error {
	reader, _, err := rfcap.Reader(s.file)
	if err != nil {
		return fmt.Errorf("failed to read rfcap header: %w", err)
	}
	reader, err = stream.ConvertReader(reader, sdr.SampleFormatC64)
	if err != nil {
		return fmt.Errorf("failed to convert capture samples: %w", err)
	}
	s.capture = reader
	if s.sampleRate == 0 {
		s.sampleRate = float64(reader.SampleRate())
	}
	return nil
}

// ConfiguredFrequency implements Source.
func (s *FileSource) ConfiguredFrequency() rf.Hz {
	return s.freq
}

// Frequency implements Source. A recording has no tuning error.
func (s *FileSource) Frequency() rf.Hz {
	return s.freq
}

// SampleRate implements Source.
func (s *FileSource) SampleRate() float64 {
	return s.sampleRate
}

// Start implements Source.
func (s *FileSource) Start(buf *streambuf.Buffer[complex64], stop *atomic.Bool) error {
	if s.file == nil {
		return errors.New("file source is not configured")
	}
	read := s.reader()
	started := time.Now()
	var total int

	s.run(buf, stop, func() ([]complex64, error) {
		if s.realtime {
			due := started.Add(time.Duration(float64(total) / s.sampleRate * float64(time.Second)))
			time.Sleep(time.Until(due))
		} else {
			// Keep about one second queued instead of loading the whole file.
			for buf.QueuedSamples() > int(s.sampleRate) && !stop.Load() && !s.quit.Load() {
				time.Sleep(10 * time.Millisecond)
			}
		}
		block, err := read()
		total += len(block)
		return block, err
	})
	return nil
}

// reader returns the block reader for the configured format. Every reader
// returns io.EOF at the end of the file.
func (s *FileSource) reader() func() ([]complex64, error) {
	switch s.format {
	case FormatWAV:
		intBuf := &audio.IntBuffer{
			Format: s.wav.Format(),
			Data:   make([]int, s.blockLength*2), // 2 = I+Q
		}
		return func() ([]complex64, error) {
			n, err := s.wav.PCMBuffer(intBuf)
			if err != nil {
				return nil, err
			}
			if n == 0 {
				return nil, io.EOF
			}
			return convertInts(intBuf.Data[:n], int(s.wav.BitDepth)), nil
		}
	case FormatRfcap:
		samples := make(sdr.SamplesC64, s.blockLength)
		return func() ([]complex64, error) {
			n, err := sdr.ReadFull(s.capture, samples)
			block := make([]complex64, n)
			copy(block, samples[:n])
			if errors.Is(err, io.ErrUnexpectedEOF) {
				err = io.EOF
			}
			return block, err
		}
	}

	bytesPerSample := 2
	convert := convertU8
	switch s.format {
	case FormatS8:
		convert = convertS8
	case FormatS16:
		bytesPerSample = 4
		convert = convertS16LE
	}
	raw := make([]byte, s.blockLength*bytesPerSample)
	return func() ([]complex64, error) {
		n, err := io.ReadFull(s.file, raw)
		if errors.Is(err, io.ErrUnexpectedEOF) {
			err = io.EOF
		}
		return convert(raw[:n-n%bytesPerSample]), err
	}
}

// Stop implements Source.
func (s *FileSource) Stop() {
	s.stop()
	if s.file != nil && s.file != os.Stdin {
		s.file.Close()
	}
	s.file = nil
}

// LogParams implements Source.
func (s *FileSource) LogParams(log zerolog.Logger) {
	log.Info().
		Str("path", s.path).
		Str("format", s.format).
		Bool("realtime", s.realtime).
		Int("block_length", s.blockLength).
		Msg("file settings")
}
