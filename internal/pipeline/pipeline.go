// Package pipeline runs the decode loop between a source, the FM decoder and
// an audio sink.
package pipeline

import (
	"fmt"
	"io"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"hz.tools/rf"

	"go-softfm/internal/audio"
	"go-softfm/internal/dsp"
	"go-softfm/internal/pps"
	"go-softfm/internal/source"
	"go-softfm/internal/streambuf"
)

// Options configures a Pipeline. Zero values select the defaults noted on
// each field. WarmupBlocks has no default; config.New sets it to 4.
type Options struct {
	IFRate    float64
	PCMRate   float64
	Channels  int
	Frequency rf.Hz // station frequency that was asked for
	Tuner     rf.Hz // frequency the device is tuned to

	// OutputBufferSamples is the output buffer size in PCM frames. Zero
	// writes to the sink from the decode loop.
	OutputBufferSamples int

	WarmupBlocks    int     // blocks discarded at start, zero discards none
	OverflowSeconds float64 // queued input that triggers a warning, default 10
	PPMWindow       int     // default 40
	OutputGain      float64 // default 0.5
	LevelWeight     float64 // default 0.05

	Quiet  bool
	Status io.Writer   // status line, default io.Discard
	PPS    *pps.Writer // optional
	Logger zerolog.Logger
	Stop   *atomic.Bool
	Clock  func() time.Time
}

// Stats counts the work done by Run.
type Stats struct {
	BlocksDecoded    int
	BlocksDispatched int
	SamplesWritten   int
	WriteErrors      int
}

// Pipeline owns the buffers and the output goroutine of one decoding run.
type Pipeline struct {
	opts Options
	dec  *dsp.FMDecoder
	src  source.Source
	sink audio.Sink
	log  zerolog.Logger

	blocksDecoded    atomic.Int64
	blocksDispatched atomic.Int64
	samplesWritten   atomic.Int64
	writeErrors      atomic.Int64
}

// New creates a pipeline. The caller keeps ownership of src and sink.
func New(opts Options, dec *dsp.FMDecoder, src source.Source, sink audio.Sink) *Pipeline {
	if opts.OverflowSeconds <= 0 {
		opts.OverflowSeconds = 10
	}
	if opts.PPMWindow < 1 {
		opts.PPMWindow = 40
	}
	if opts.OutputGain == 0 {
		opts.OutputGain = 0.5
	}
	if opts.LevelWeight <= 0 {
		opts.LevelWeight = 0.05
	}
	if opts.Channels < 1 {
		opts.Channels = dec.Channels()
	}
	if opts.Status == nil {
		opts.Status = io.Discard
	}
	if opts.Stop == nil {
		opts.Stop = new(atomic.Bool)
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Pipeline{
		opts: opts,
		dec:  dec,
		src:  src,
		sink: sink,
		log:  opts.Logger.With().Str("component", "pipeline").Logger(),
	}
}

// Stats returns a snapshot of the counters. It is safe to call while Run is
// active.
func (p *Pipeline) Stats() Stats {
	return Stats{
		BlocksDecoded:    int(p.blocksDecoded.Load()),
		BlocksDispatched: int(p.blocksDispatched.Load()),
		SamplesWritten:   int(p.samplesWritten.Load()),
		WriteErrors:      int(p.writeErrors.Load()),
	}
}

// Run starts the source and decodes until the stream ends or the stop token
// is set. The source is stopped before Run returns.
func (p *Pipeline) Run() error {
	input := streambuf.New[complex64]()
	if err := p.src.Start(input, p.opts.Stop); err != nil {
		return fmt.Errorf("failed to start source: %w", err)
	}

	var output *streambuf.Buffer[float32]
	var wg sync.WaitGroup
	if p.opts.OutputBufferSamples > 0 {
		output = streambuf.New[float32]()
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.writeOutput(output, p.opts.OutputBufferSamples*p.opts.Channels)
		}()
	}

	p.decodeLoop(input, output)

	if !p.opts.Quiet {
		fmt.Fprintln(p.opts.Status)
	}

	p.src.Stop()
	if output != nil {
		output.PushEnd()
		wg.Wait()
	}

	if err := p.src.Err(); err != nil {
		return fmt.Errorf("source failed: %w", err)
	}
	return nil
}

func (p *Pipeline) decodeLoop(input *streambuf.Buffer[complex64], output *streambuf.Buffer[float32]) {
	tuner := float64(p.opts.Tuner)
	deltaIF := tuner - float64(p.opts.Frequency)
	ppmAverage := dsp.NewMovingAverage(p.opts.PPMWindow, 0)
	overflowWarned := false
	gotStereo := false
	audioLevel := 0.0

	blockTime := p.opts.Clock()

	for block := 0; !p.opts.Stop.Load(); block++ {
		if !overflowWarned && float64(input.QueuedSamples()) > p.opts.OverflowSeconds*p.opts.IFRate {
			p.log.Warn().Msg("input buffer is growing (system too slow)")
			overflowWarned = true
		}

		iq := input.Pull()
		if len(iq) == 0 {
			break
		}

		prevBlockTime := blockTime
		blockTime = p.opts.Clock()

		pcm := p.dec.Process(iq)
		p.blocksDecoded.Add(1)

		_, rms := dsp.MeanRMS(pcm)
		audioLevel = (1-p.opts.LevelWeight)*audioLevel + p.opts.LevelWeight*rms

		gain := float32(p.opts.OutputGain)
		for i := range pcm {
			pcm[i] *= gain
		}

		// Shown as the correction to make, not the one already made.
		if tuner != 0 {
			ppmAverage.Feed((p.dec.TuningOffset() + deltaIF) / tuner * -1e6)
		}

		if !p.opts.Quiet {
			p.writeStatus(block, ppmAverage.Average(), audioLevel, output)
		}

		if stereo := p.dec.StereoDetected(); stereo != gotStereo {
			gotStereo = stereo
			if !p.opts.Quiet {
				fmt.Fprintln(p.opts.Status)
			}
			if stereo {
				p.log.Info().Float64("pilot_level", p.dec.PilotLevel()).Msg("got stereo signal")
			} else {
				p.log.Info().Msg("lost stereo signal")
			}
		}

		if p.opts.PPS != nil {
			p.writePPS(prevBlockTime, blockTime)
		}

		// The first blocks are noisy while the IF filters start up.
		if block < p.opts.WarmupBlocks {
			continue
		}
		p.blocksDispatched.Add(1)
		if output != nil {
			output.Push(pcm)
		} else {
			p.write(pcm)
		}
	}
}

func (p *Pipeline) writeStatus(block int, ppm, audioLevel float64, output *streambuf.Buffer[float32]) {
	freqMHz := (float64(p.opts.Tuner) + p.dec.TuningOffset()) * 1e-6
	bufSeconds := -1.0
	if output != nil {
		bufSeconds = float64(output.QueuedSamples()) / float64(p.opts.Channels) / p.opts.PCMRate
	}
	fmt.Fprintf(p.opts.Status,
		"\rblk=%6d:f=%8.4fMHz:ppm=%+6.2f:IF=%+5.1fdB:BB=%+5.1fdB:AF=%+5.1fdB:buf=%.1fs",
		block, freqMHz, ppm,
		20*math.Log10(p.dec.IFLevel()),
		20*math.Log10(p.dec.BasebandLevel())+3.01,
		20*math.Log10(audioLevel)+3.01,
		bufSeconds)
}

// writePPS interpolates the wall clock time of each event between the
// arrival of the previous and the current block.
func (p *Pipeline) writePPS(prev, cur time.Time) {
	start := unixSeconds(prev)
	span := cur.Sub(prev).Seconds()
	for _, ev := range p.dec.PPSEvents() {
		ts := start + ev.BlockPosition*span
		if err := p.opts.PPS.Write(ev.PpsIndex, ev.SampleIndex, ts); err != nil {
			p.log.Error().Err(err).Msg("failed to write pps marker")
		}
	}
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func (p *Pipeline) write(samples []float32) {
	if err := p.sink.Write(samples); err != nil {
		p.writeErrors.Add(1)
		p.log.Error().Err(err).Msg("audio output failed")
		return
	}
	p.samplesWritten.Add(int64(len(samples)))
}

// writeOutput drains the output buffer into the sink. When the buffer runs
// empty it waits for minFill samples so that underruns do not repeat on
// every block.
func (p *Pipeline) writeOutput(output *streambuf.Buffer[float32], minFill int) {
	for !p.opts.Stop.Load() {
		if output.QueuedSamples() == 0 {
			output.WaitForFill(minFill)
		}
		if output.EndReached() {
			return
		}
		samples := output.Pull()
		if samples == nil {
			return
		}
		p.write(samples)
	}
}

// Stopped reports whether the stop token has been set.
func (p *Pipeline) Stopped() bool {
	return p.opts.Stop.Load()
}
