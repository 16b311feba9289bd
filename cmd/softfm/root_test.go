package main

import (
	"testing"

	"go-softfm/internal/audio"
	"go-softfm/internal/config"
)

func TestParsePCMRate(t *testing.T) {
	cases := map[string]int{"48000": 48000, "48k": 48000, "1": 1}
	for in, want := range cases {
		got, err := parsePCMRate(in)
		if err != nil || got != want {
			t.Errorf("parsePCMRate(%q): expected %d, got %d, %v", in, want, got, err)
		}
	}
	for _, bad := range []string{"", "0", "-5", "48kHz", "k", "3000000k"} {
		if _, err := parsePCMRate(bad); err == nil {
			t.Errorf("parsePCMRate(%q): expected an error", bad)
		}
	}
}

func TestParseDeviceIndex(t *testing.T) {
	if parseDeviceIndex("2") != 2 || parseDeviceIndex("list") != -1 {
		t.Error("unexpected device index parsing")
	}
}

func TestParsePlayTarget(t *testing.T) {
	cases := []struct{ in, mode, target string }{
		{"default", audio.ModePlay, "default"},
		{"pulse", audio.ModePulse, ""},
		{"pulse:alsa_output.usb", audio.ModePulse, "alsa_output.usb"},
	}
	for _, c := range cases {
		mode, target := parsePlayTarget(c.in)
		if mode != c.mode || target != c.target {
			t.Errorf("%q: expected %s %q, got %s %q", c.in, c.mode, c.target, mode, target)
		}
	}
}

func TestApplyFlags(t *testing.T) {
	cmd := newRootCmd()
	err := cmd.ParseFlags([]string{"-t", "file", "-c", "path=x.cu8,srate=1M", "-r", "32k", "-M", "-W", "out.wav", "-X", "-U", "-b", "2"})
	if err != nil {
		t.Fatalf("failed to parse flags: %v", err)
	}
	cfg := config.New()
	if err := applyFlags(cmd, cfg); err != nil {
		t.Fatalf("applyFlags failed: %v", err)
	}

	if cfg.Device.Type != "file" || cfg.Device.Options != "path=x.cu8,srate=1M" {
		t.Errorf("unexpected device config %+v", cfg.Device)
	}
	if cfg.Decoder.PCMRate != 32000 || cfg.Decoder.Stereo || !cfg.Decoder.PilotShift || !cfg.Decoder.DeemphasisNA {
		t.Errorf("unexpected decoder config %+v", cfg.Decoder)
	}
	if cfg.Output.Mode != audio.ModeWAV || cfg.Output.Target != "out.wav" {
		t.Errorf("unexpected output config %+v", cfg.Output)
	}
	if got := cfg.OutputBufferSamples(); got != 64000 {
		t.Errorf("expected a 2 s buffer of 64000 frames, got %d", got)
	}
}

func TestApplyFlags_PlayWithoutDevice(t *testing.T) {
	cmd := newRootCmd()
	if err := cmd.ParseFlags([]string{"-P"}); err != nil {
		t.Fatalf("failed to parse flags: %v", err)
	}
	cfg := config.New()
	if err := applyFlags(cmd, cfg); err != nil {
		t.Fatalf("applyFlags failed: %v", err)
	}
	if cfg.Output.Mode != audio.ModePlay {
		t.Errorf("expected play mode, got %s", cfg.Output.Mode)
	}
	if got := cfg.OutputBufferSamples(); got != cfg.Decoder.PCMRate {
		t.Errorf("expected a one second default buffer for live output, got %d", got)
	}
}

func TestApplyFlags_RejectsNegativeBuffer(t *testing.T) {
	cmd := newRootCmd()
	if err := cmd.ParseFlags([]string{"-b", "-1"}); err != nil {
		t.Fatalf("failed to parse flags: %v", err)
	}
	if err := applyFlags(cmd, config.New()); err == nil {
		t.Error("expected an error for a negative buffer")
	}
}
