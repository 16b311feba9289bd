package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/wav"
)

type closeBuffer struct {
	bytes.Buffer
	closed bool
}

func (b *closeBuffer) Close() error {
	b.closed = true
	return nil
}

func TestToInt16Clipping(t *testing.T) {
	cases := []struct {
		in   float32
		want int16
	}{
		{0, 0},
		{0.5, 16383},
		{1, 32767},
		{1.5, 32767},
		{-1, -32767},
		{-2, -32768},
	}
	for _, c := range cases {
		if got := toInt16(c.in); got != c.want {
			t.Errorf("toInt16(%v): expected %d, got %d", c.in, c.want, got)
		}
	}
}

func TestRawSinkLayout(t *testing.T) {
	var out closeBuffer
	sink := NewRawSink(&out)
	if err := sink.Write([]float32{0, 1, -3, 0.25}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if out.Len() != 8 {
		t.Fatalf("expected 8 bytes after write, got %d", out.Len())
	}
	want := []int16{0, 32767, -32768, 8191}
	for i, w := range want {
		got := int16(binary.LittleEndian.Uint16(out.Bytes()[2*i:]))
		if got != w {
			t.Errorf("sample %d: expected %d, got %d", i, w, got)
		}
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if !out.closed {
		t.Error("expected the underlying writer to be closed")
	}
}

func TestWAVSinkRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.wav")
	sink, err := Open(ModeWAV, path, 48000, 2)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	samples := make([]float32, 2*480)
	for i := range samples {
		if i%2 == 0 {
			samples[i] = 0.5
		} else {
			samples[i] = -0.5
		}
	}
	for i := 0; i < 3; i++ {
		if err := sink.Write(samples); err != nil {
			t.Fatalf("write failed: %v", err)
		}
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		t.Fatal("expected a valid WAV file")
	}
	if dec.SampleRate != 48000 || dec.NumChans != 2 || dec.BitDepth != 16 {
		t.Errorf("unexpected format: %d Hz, %d channels, %d bits", dec.SampleRate, dec.NumChans, dec.BitDepth)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(buf.Data) != 3*len(samples) {
		t.Fatalf("expected %d samples, got %d", 3*len(samples), len(buf.Data))
	}
	if buf.Data[0] != 16383 || buf.Data[1] != -16383 {
		t.Errorf("unexpected first frame %d %d", buf.Data[0], buf.Data[1])
	}
}

func TestOpenErrors(t *testing.T) {
	if _, err := Open("alsa", "-", 48000, 2); !errors.Is(err, ErrUnknownMode) {
		t.Errorf("expected ErrUnknownMode, got %v", err)
	}
	if _, err := Open(ModeWAV, "-", 48000, 2); err == nil {
		t.Error("expected an error for wav on stdout")
	}
	if _, err := Open(ModeRaw, "-", 48000, 3); err == nil {
		t.Error("expected an error for three channels")
	}
}
