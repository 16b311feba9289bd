package audio

import (
	"fmt"

	"github.com/jfreymuth/pulse"

	"go-softfm/internal/streambuf"
)

// PulseSink plays audio through a PulseAudio server.
type PulseSink struct {
	client  *pulse.Client
	stream  *pulse.PlaybackStream
	queue   *streambuf.Buffer[float32]
	pending []float32
}

// NewPulseSink connects to the PulseAudio server and starts a playback stream
// on the named sink, or on the default sink when name is empty or "-".
func NewPulseSink(name string, sampleRate, channels int) (*PulseSink, error) {
	client, err := pulse.NewClient(pulse.ClientApplicationName("softfm"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to pulseaudio: %w", err)
	}

	s := &PulseSink{client: client, queue: streambuf.New[float32]()}
	opts := []pulse.PlaybackOption{pulse.PlaybackSampleRate(sampleRate), pulse.PlaybackMono}
	if channels == 2 {
		opts[1] = pulse.PlaybackStereo
	}
	if name != "" && name != "-" {
		sink, err := client.SinkByID(name)
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("unknown pulseaudio sink %q: %w", name, err)
		}
		opts = append(opts, pulse.PlaybackSink(sink))
	}

	s.stream, err = client.NewPlayback(pulse.Float32Reader(s.read), opts...)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to create playback stream: %w", err)
	}
	s.stream.Start()
	return s, nil
}

// read is called from the pulse client goroutine.
func (s *PulseSink) read(out []float32) (int, error) {
	if len(s.pending) == 0 {
		s.pending = s.queue.Pull()
		if s.pending == nil {
			return 0, pulse.EndOfData
		}
	}
	n := copy(out, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

// Write implements Sink.
func (s *PulseSink) Write(samples []float32) error {
	if err := s.stream.Error(); err != nil {
		return err
	}
	block := make([]float32, len(samples))
	copy(block, samples)
	s.queue.Push(block)
	return nil
}

// Close implements Sink. Queued audio is played before the stream is closed.
func (s *PulseSink) Close() error {
	s.queue.PushEnd()
	s.stream.Drain()
	err := s.stream.Error()
	s.stream.Close()
	s.client.Close()
	return err
}
