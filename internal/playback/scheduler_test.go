package playback

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/cloudcomputinginha/interview-rt/internal/metrics"
	"github.com/cloudcomputinginha/interview-rt/internal/pcm"
)

var testMetrics = metrics.NewMetrics()

type fakeClock struct{ t time.Duration }

func (c *fakeClock) Now() time.Duration      { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t += d }

type scheduledChunk struct {
	at      time.Duration
	samples int
}

type fakeOutput struct {
	rate   int
	chunks []scheduledChunk
}

func (o *fakeOutput) ScheduleAt(samples []float32, at time.Duration) {
	o.chunks = append(o.chunks, scheduledChunk{at: at, samples: len(samples)})
}
func (o *fakeOutput) SampleRate() int { return o.rate }

// wireChunk builds durMs of silence as int16 LE wire bytes at rate.
func wireChunk(rate, durMs int) []byte {
	return pcm.EncodeWithAttenuation(make([]float32, rate*durMs/1000), 1.0)
}

func newTestScheduler(t *testing.T, cfg Config) (*Scheduler, *fakeOutput, *fakeClock) {
	t.Helper()
	out := &fakeOutput{rate: 48000}
	clock := &fakeClock{}
	s, err := New(cfg, out, clock, nil, nil)
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	return s, out, clock
}

func TestNewRequiresOutput(t *testing.T) {
	if _, err := New(Config{}, nil, nil, nil, nil); err != ErrNoAudioOutput {
		t.Fatalf("want ErrNoAudioOutput, got %v", err)
	}
}

func TestEnqueueSchedulesWithMinimalLead(t *testing.T) {
	s, out, clock := newTestScheduler(t, Config{})
	clock.advance(time.Second)

	s.Enqueue(wireChunk(48000, 20), 48000)
	if len(out.chunks) != 1 {
		t.Fatalf("chunks scheduled: %d", len(out.chunks))
	}
	want := clock.Now() + 20*time.Millisecond
	if out.chunks[0].at != want {
		t.Fatalf("first chunk at %v, want %v", out.chunks[0].at, want)
	}
	if out.chunks[0].samples != 960 {
		t.Fatalf("samples: %d", out.chunks[0].samples)
	}
	qs := s.QueueState()
	if qs.State != Receiving || qs.PlayHead != want+20*time.Millisecond {
		t.Fatalf("queue state: %+v", qs)
	}
}

func TestChunksAppendContiguously(t *testing.T) {
	s, out, clock := newTestScheduler(t, Config{})
	for i := 0; i < 5; i++ {
		s.Enqueue(wireChunk(48000, 20), 48000)
		clock.advance(20 * time.Millisecond)
	}
	for i := 1; i < len(out.chunks); i++ {
		prevEnd := out.chunks[i-1].at + 20*time.Millisecond
		if out.chunks[i].at != prevEnd {
			t.Fatalf("chunk %d at %v, want contiguous %v", i, out.chunks[i].at, prevEnd)
		}
	}
}

func TestResamplesInboundToOutputRate(t *testing.T) {
	s, out, _ := newTestScheduler(t, Config{})
	s.Enqueue(wireChunk(16000, 20), 16000) // 320 samples on the wire
	if out.chunks[0].samples != 960 {
		t.Fatalf("resampled samples: %d want 960", out.chunks[0].samples)
	}
}

func TestMalformedChunksDropped(t *testing.T) {
	s, out, _ := newTestScheduler(t, Config{})
	s.Enqueue(nil, 48000)
	s.Enqueue([]byte{0x01}, 48000)
	s.Enqueue(wireChunk(48000, 20), 0)
	if len(out.chunks) != 0 {
		t.Fatalf("malformed chunks were scheduled")
	}
	if qs := s.QueueState(); qs.ChunksDropped != 3 {
		t.Fatalf("dropped count: %+v", qs)
	}
}

func TestAdaptiveTargetConvergence(t *testing.T) {
	s, _, clock := newTestScheduler(t, Config{})

	// Sustained overdelivery: 20ms chunks arriving every 10ms. The queue
	// grows 10ms per chunk, so the target must climb to MaxTarget and stop.
	var targets []time.Duration
	for i := 0; i < 40; i++ {
		s.Enqueue(wireChunk(48000, 20), 48000)
		clock.advance(10 * time.Millisecond)
		targets = append(targets, s.QueueState().TargetBuffer)
	}
	if final := targets[len(targets)-1]; final != 180*time.Millisecond {
		t.Fatalf("target did not converge to max: %v", final)
	}
	// Once the queue pressure starts raising the target it must rise
	// monotonically, never oscillate.
	rising := false
	for i := 1; i < len(targets); i++ {
		if targets[i] > targets[i-1] {
			rising = true
		}
		if rising && targets[i] < targets[i-1] {
			t.Fatalf("target oscillated at chunk %d: %v -> %v", i, targets[i-1], targets[i])
		}
	}

	// Return to slow delivery: 20ms chunks every 30ms drain the queue and
	// the target must fall back to MinTarget.
	for i := 0; i < 60; i++ {
		s.Enqueue(wireChunk(48000, 20), 48000)
		clock.advance(30 * time.Millisecond)
	}
	if got := s.QueueState().TargetBuffer; got != 80*time.Millisecond {
		t.Fatalf("target did not decay to min: %v", got)
	}
}

func TestHardClampBoundsLatency(t *testing.T) {
	s, _, clock := newTestScheduler(t, Config{})
	// Overdeliver far past the clamp threshold.
	for i := 0; i < 60; i++ {
		s.Enqueue(wireChunk(48000, 20), 48000)
		clock.advance(5 * time.Millisecond)
	}
	qs := s.QueueState()
	if qs.Resyncs == 0 {
		t.Fatalf("no resync despite unbounded queue growth")
	}
	queued := qs.PlayHead - clock.Now()
	if queued > 400*time.Millisecond {
		t.Fatalf("queued duration unbounded after clamp: %v", queued)
	}
}

func TestBurstTriggersResync(t *testing.T) {
	s, _, clock := newTestScheduler(t, Config{})

	// Normal delivery first.
	for i := 0; i < 5; i++ {
		s.Enqueue(wireChunk(48000, 20), 48000)
		clock.advance(20 * time.Millisecond)
	}
	// Backlog dump: chunks 1ms apart.
	for i := 0; i < 5; i++ {
		s.Enqueue(wireChunk(48000, 20), 48000)
		clock.advance(time.Millisecond)
	}
	qs := s.QueueState()
	if qs.Resyncs == 0 || qs.LastResyncCause != ResyncBurst {
		t.Fatalf("burst did not resync: %+v", qs)
	}
	// After the resync the playhead must sit within the target buffer of
	// now (plus the chunks scheduled after the reset).
	queued := qs.PlayHead - clock.Now()
	if queued > qs.TargetBuffer+100*time.Millisecond {
		t.Fatalf("latency unbounded after burst: queued %v target %v", queued, qs.TargetBuffer)
	}
}

func TestWatchdogCatchesSustainedLag(t *testing.T) {
	// Wide clamp so only the watchdog can act; small max target so lag
	// cannot be absorbed by target growth.
	cfg := Config{
		MaxTarget:      100 * time.Millisecond,
		HardClamp:      2 * time.Second,
		WatchdogLag:    120 * time.Millisecond,
		WatchdogChunks: 3,
	}
	s, _, clock := newTestScheduler(t, cfg)
	for i := 0; i < 60; i++ {
		s.Enqueue(wireChunk(48000, 20), 48000)
		clock.advance(10 * time.Millisecond)
	}
	qs := s.QueueState()
	if qs.Resyncs == 0 || qs.LastResyncCause != ResyncWatchdog {
		t.Fatalf("watchdog never fired: %+v", qs)
	}
}

func TestNotifyVisibleResyncs(t *testing.T) {
	s, _, clock := newTestScheduler(t, Config{})
	s.Enqueue(wireChunk(48000, 20), 48000)
	clock.advance(5 * time.Second) // suspended tab: clock leapt forward
	s.NotifyVisible()
	qs := s.QueueState()
	if qs.LastResyncCause != ResyncVisibility {
		t.Fatalf("visibility resync missing: %+v", qs)
	}
	if qs.PlayHead != clock.Now()+qs.TargetBuffer {
		t.Fatalf("playhead not reset: %+v now=%v", qs, clock.Now())
	}
}

func TestNotifyVisibleNoopWhenIdle(t *testing.T) {
	s, _, _ := newTestScheduler(t, Config{})
	s.NotifyVisible()
	if qs := s.QueueState(); qs.Resyncs != 0 || qs.State != Idle {
		t.Fatalf("idle scheduler resynced: %+v", qs)
	}
}

func TestResetReturnsToIdle(t *testing.T) {
	s, _, _ := newTestScheduler(t, Config{})
	s.Enqueue(wireChunk(48000, 20), 48000)
	s.Reset()
	qs := s.QueueState()
	if qs.State != Idle || qs.PlayHead != 0 || qs.TargetBuffer != 120*time.Millisecond {
		t.Fatalf("reset incomplete: %+v", qs)
	}
}

func TestResyncIncrementsCauseCounter(t *testing.T) {
	out := &fakeOutput{rate: 48000}
	clock := &fakeClock{}
	s, err := New(Config{}, out, clock, nil, testMetrics)
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	before := testutil.ToFloat64(testMetrics.PlaybackResyncs.WithLabelValues(string(ResyncBurst)))

	// Five arrivals on the same clock instant read as a backlog dump.
	for i := 0; i < 5; i++ {
		s.Enqueue(wireChunk(48000, 20), 48000)
	}
	if s.QueueState().Resyncs == 0 {
		t.Fatal("expected a burst resync")
	}
	if got := testutil.ToFloat64(testMetrics.PlaybackResyncs.WithLabelValues(string(ResyncBurst))) - before; got < 1 {
		t.Fatalf("burst resync counter: got %v want >= 1", got)
	}
}
