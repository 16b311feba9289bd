package audio

import (
	"bufio"
	"encoding/binary"
	"io"
)

// RawSink writes headerless signed 16-bit little-endian samples.
type RawSink struct {
	w     io.WriteCloser
	bw    *bufio.Writer
	bytes []byte
}

// NewRawSink takes ownership of w.
func NewRawSink(w io.WriteCloser) *RawSink {
	return &RawSink{w: w, bw: bufio.NewWriter(w)}
}

// Write implements Sink.
func (s *RawSink) Write(samples []float32) error {
	if cap(s.bytes) < 2*len(samples) {
		s.bytes = make([]byte, 2*len(samples))
	}
	b := s.bytes[:2*len(samples)]
	for i, v := range samples {
		binary.LittleEndian.PutUint16(b[2*i:], uint16(toInt16(v)))
	}
	if _, err := s.bw.Write(b); err != nil {
		return err
	}
	// Readers downstream of a pipe expect audio as soon as it is decoded.
	return s.bw.Flush()
}

// Close implements Sink.
func (s *RawSink) Close() error {
	if err := s.bw.Flush(); err != nil {
		s.w.Close()
		return err
	}
	return s.w.Close()
}
