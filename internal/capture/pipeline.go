// Package capture turns a live audio source into a steady outbound flow of
// fixed-size PCM frames while the local participant holds the floor.
//
// The chain mirrors the production processing graph: high-pass (DC/rumble)
// -> low-pass (anti-alias guard) -> mono downmix -> resample to the wire
// rate -> carry-over accumulation -> 20ms frame slicing -> wire encoding ->
// fire-and-forget send.
package capture

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cloudcomputinginha/interview-rt/internal/metrics"
	"github.com/cloudcomputinginha/interview-rt/internal/pcm"
)

// ErrNotRunning is returned by Push when the pipeline is stopped.
var ErrNotRunning = errors.New("capture: pipeline not running")

// FrameSender transmits one encoded frame. Send failures mean the channel is
// not ready; the frame is dropped, never buffered. Recent audio beats
// complete audio under congestion. *wschan.Channel satisfies it.
type FrameSender interface {
	SendBinary(data []byte) error
}

// Config holds the capture chain parameters.
type Config struct {
	// InputSampleRate is the source's rate in Hz.
	InputSampleRate int
	// InputChannels is the source's channel count (interleaved).
	InputChannels int
	// TargetSampleRate is the fixed wire rate. Default 16000.
	TargetSampleRate int
	// FrameDuration is the fixed frame length. Default 20ms.
	FrameDuration time.Duration
	// HighPassHz removes DC and rumble. Default 20.
	HighPassHz float64
	// LowPassHz guards aliasing before downsampling. Default 7000.
	LowPassHz float64
}

func (c *Config) withDefaults() {
	if c.TargetSampleRate == 0 {
		c.TargetSampleRate = 16000
	}
	if c.FrameDuration == 0 {
		c.FrameDuration = 20 * time.Millisecond
	}
	if c.HighPassHz == 0 {
		c.HighPassHz = 20
	}
	if c.LowPassHz == 0 {
		c.LowPassHz = 7000
	}
	if c.InputChannels == 0 {
		c.InputChannels = 1
	}
	if c.InputSampleRate == 0 {
		c.InputSampleRate = c.TargetSampleRate
	}
}

// frameSamples returns the fixed frame length in samples at the target rate.
func (c Config) frameSamples() int {
	return int(time.Duration(c.TargetSampleRate) * c.FrameDuration / time.Second)
}

// Stats counts pipeline outcomes.
type Stats struct {
	FramesSent    uint64
	FramesDropped uint64
}

// Pipeline is the capture chain for one outbound stream.
type Pipeline struct {
	cfg    Config
	sender FrameSender
	log    *slog.Logger
	met    *metrics.Metrics

	mu      sync.Mutex
	running bool
	hp      []*pcm.HighPass
	lp      []*pcm.LowPass
	carry   []float32
	stats   Stats
}

// New builds a Pipeline; call Start before pushing audio. met may be nil.
func New(cfg Config, sender FrameSender, logger *slog.Logger, met *metrics.Metrics) *Pipeline {
	cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{cfg: cfg, sender: sender, log: logger, met: met}
}

// Start builds the filter bank and arms the pipeline. Calling Start on a
// running pipeline is a no-op.
func (p *Pipeline) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.hp = make([]*pcm.HighPass, p.cfg.InputChannels)
	p.lp = make([]*pcm.LowPass, p.cfg.InputChannels)
	for ch := 0; ch < p.cfg.InputChannels; ch++ {
		p.hp[ch] = pcm.NewHighPass(p.cfg.HighPassHz, p.cfg.InputSampleRate)
		p.lp[ch] = pcm.NewLowPass(p.cfg.LowPassHz, p.cfg.InputSampleRate)
	}
	p.carry = p.carry[:0]
	p.running = true
}

// Stop tears the chain down: filters released, carry-over cleared. Safe to
// call multiple times and while Push is in flight.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return
	}
	p.running = false
	p.hp = nil
	p.lp = nil
	p.carry = nil
}

// Running reports whether the pipeline is armed.
func (p *Pipeline) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Stats returns a snapshot of send counters.
func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Push feeds one interleaved block from the audio source. Block sizes may be
// irregular; leftover samples after frame slicing are retained for the next
// call, never dropped or zero-padded. Frames that cannot be sent are dropped
// silently.
func (p *Pipeline) Push(block []float32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return ErrNotRunning
	}
	if len(block) == 0 {
		return nil
	}

	channels := p.cfg.InputChannels
	filtered := make([]float32, len(block))
	for i, x := range block {
		ch := i % channels
		filtered[i] = p.lp[ch].ProcessSample(p.hp[ch].ProcessSample(x))
	}

	mono := pcm.DownmixAverage(filtered, channels)
	mono = pcm.ResampleLinear(mono, p.cfg.InputSampleRate, p.cfg.TargetSampleRate)
	p.carry = append(p.carry, mono...)

	frame := p.cfg.frameSamples()
	for len(p.carry) >= frame {
		data := pcm.Encode(p.carry[:frame])
		if err := p.sender.SendBinary(data); err != nil {
			p.stats.FramesDropped++
			p.met.RecordFrameDropped()
		} else {
			p.stats.FramesSent++
			p.met.RecordFrameSent()
		}
		n := copy(p.carry, p.carry[frame:])
		p.carry = p.carry[:n]
	}
	return nil
}
