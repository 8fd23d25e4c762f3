package capture

import (
	"context"
	"errors"
	"io"
	"math"
	"time"
)

// Source delivers interleaved sample blocks from a live input. ReadBlock
// returns io.EOF when the input ends; block sizes may vary call to call.
type Source interface {
	ReadBlock() ([]float32, error)
	Close() error
}

// Run pulls blocks from src into the pipeline until the context is done or
// the source ends. The source is closed on exit.
func Run(ctx context.Context, p *Pipeline, src Source) error {
	defer func() { _ = src.Close() }()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		block, err := src.ReadBlock()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := p.Push(block); err != nil {
			if errors.Is(err, ErrNotRunning) {
				// Floor lost mid-block: keep draining so the source clock
				// stays live, discard the audio.
				continue
			}
			return err
		}
	}
}

// ToneSource is a synthetic microphone: a fixed-frequency mono tone paced in
// real time. Used by the headless participant harness and load tests.
type ToneSource struct {
	SampleRate int
	Hz         float64
	Gain       float32
	// BlockDuration is the simulated callback block size. Default 10ms.
	BlockDuration time.Duration
	// Limit bounds the total emitted duration; zero means unlimited.
	Limit time.Duration

	phase   float64
	emitted time.Duration
	last    time.Time
}

// ReadBlock produces the next block, sleeping to match real-time pacing.
func (t *ToneSource) ReadBlock() ([]float32, error) {
	if t.BlockDuration == 0 {
		t.BlockDuration = 10 * time.Millisecond
	}
	if t.Limit > 0 && t.emitted >= t.Limit {
		return nil, io.EOF
	}
	if !t.last.IsZero() {
		if wait := t.BlockDuration - time.Since(t.last); wait > 0 {
			time.Sleep(wait)
		}
	}
	t.last = time.Now()

	n := int(time.Duration(t.SampleRate) * t.BlockDuration / time.Second)
	block := make([]float32, n)
	inc := 2 * math.Pi * t.Hz / float64(t.SampleRate)
	for i := range block {
		block[i] = t.Gain * float32(math.Sin(t.phase))
		t.phase += inc
	}
	t.emitted += t.BlockDuration
	return block, nil
}

// Close implements Source.
func (t *ToneSource) Close() error { return nil }
