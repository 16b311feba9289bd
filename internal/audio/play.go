package audio

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/ebitengine/oto/v3"
)

// PlaySink plays audio on the default output device.
type PlaySink struct {
	player *oto.Player
	writer *io.PipeWriter
	bytes  []byte
}

// NewPlaySink opens the default audio device. Only one PlaySink may exist per
// process.
func NewPlaySink(sampleRate, channels int) (*PlaySink, error) {
	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: channels,
		Format:       oto.FormatFloat32LE,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open audio device: %w", err)
	}
	<-ready

	reader, writer := io.Pipe()
	player := ctx.NewPlayer(reader)
	player.Play()
	return &PlaySink{player: player, writer: writer}, nil
}

// Write implements Sink. It blocks until the player has consumed the samples.
func (s *PlaySink) Write(samples []float32) error {
	if cap(s.bytes) < 4*len(samples) {
		s.bytes = make([]byte, 4*len(samples))
	}
	b := s.bytes[:4*len(samples)]
	for i, v := range samples {
		binary.LittleEndian.PutUint32(b[4*i:], math.Float32bits(v))
	}
	_, err := s.writer.Write(b)
	return err
}

// Close implements Sink. Queued audio is played before the player is closed.
func (s *PlaySink) Close() error {
	s.writer.Close()
	for s.player.IsPlaying() {
		time.Sleep(10 * time.Millisecond)
	}
	return s.player.Close()
}
