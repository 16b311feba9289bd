package audio

import (
	"io"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const wavBitDepth = 16

// WAVSink writes a 16-bit PCM WAV file. The header sizes are patched on Close.
type WAVSink struct {
	w   io.WriteSeeker
	enc *wav.Encoder
	buf *audio.IntBuffer
}

// NewWAVSink takes ownership of w and closes it on Close if it is an
// io.Closer.
func NewWAVSink(w io.WriteSeeker, sampleRate, channels int) *WAVSink {
	return &WAVSink{
		w:   w,
		enc: wav.NewEncoder(w, sampleRate, wavBitDepth, channels, 1), // 1 = PCM
		buf: &audio.IntBuffer{
			Format: &audio.Format{
				NumChannels: channels,
				SampleRate:  sampleRate,
			},
			SourceBitDepth: wavBitDepth,
		},
	}
}

// Write implements Sink.
func (s *WAVSink) Write(samples []float32) error {
	if cap(s.buf.Data) < len(samples) {
		s.buf.Data = make([]int, len(samples))
	}
	s.buf.Data = s.buf.Data[:len(samples)]
	for i, v := range samples {
		s.buf.Data[i] = int(toInt16(v))
	}
	return s.enc.Write(s.buf)
}

// Close implements Sink.
func (s *WAVSink) Close() error {
	err := s.enc.Close()
	if c, ok := s.w.(io.Closer); ok {
		if cerr := c.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
