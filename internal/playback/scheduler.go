// Package playback reconstructs a smooth timeline from an inbound, possibly
// irregular stream of PCM chunks. Each inbound stream gets one Scheduler
// that owns a virtual playhead on the audio output clock, an adaptive target
// buffer, and the detectors that force a resynchronization when smooth
// scheduling is no longer worth attempting.
package playback

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cloudcomputinginha/interview-rt/internal/metrics"
	"github.com/cloudcomputinginha/interview-rt/internal/pcm"
)

// ErrNoAudioOutput means the platform has no audio output capability. This
// is fatal to the scheduler only; turn sync and capture continue.
var ErrNoAudioOutput = errors.New("playback: no audio output available")

// Clock is a monotonic position on the audio output timeline. It is
// injectable so scheduling behavior is testable without a sound card.
type Clock interface {
	Now() time.Duration
}

// Output renders decoded samples at a timeline position.
type Output interface {
	// ScheduleAt queues samples to begin playing at timeline position at.
	ScheduleAt(samples []float32, at time.Duration)
	// SampleRate is the output device rate in Hz.
	SampleRate() int
}

// State is the per-stream scheduler state.
type State int

const (
	Idle State = iota
	Receiving
	Resynchronizing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Receiving:
		return "receiving"
	case Resynchronizing:
		return "resynchronizing"
	}
	return "unknown"
}

// ResyncCause labels what forced the last resynchronization.
type ResyncCause string

const (
	ResyncNone       ResyncCause = ""
	ResyncBurst      ResyncCause = "burst"
	ResyncHardClamp  ResyncCause = "hard_clamp"
	ResyncWatchdog   ResyncCause = "watchdog"
	ResyncVisibility ResyncCause = "visibility"
	ResyncManual     ResyncCause = "manual"
)

// Config tunes the scheduler. Zero values take the production defaults.
type Config struct {
	// MinLead keeps scheduling out of the past. Default 20ms.
	MinLead time.Duration
	// TargetBuffer is the initial desired queued-but-unplayed duration.
	// Default 120ms, bounded by [MinTarget, MaxTarget].
	TargetBuffer time.Duration
	MinTarget    time.Duration // default 80ms
	MaxTarget    time.Duration // default 180ms
	// IncreaseStep/DecreaseStep move the target when the queue leaves the
	// hysteresis band. Defaults 10ms / 5ms.
	IncreaseStep time.Duration
	DecreaseStep time.Duration
	// HighRatio/LowRatio bound the hysteresis band around the target.
	// Defaults 1.6 / 0.6.
	HighRatio float64
	LowRatio  float64
	// HardClamp is the absolute queued-duration limit; beyond it the
	// playhead jumps rather than accumulate latency. Default 300ms.
	HardClamp time.Duration
	// BurstGap and BurstChunks detect a backlog dump: BurstChunks
	// consecutive arrivals closer than BurstGap force a resync.
	// Defaults 5ms / 3.
	BurstGap    time.Duration
	BurstChunks int
	// WatchdogLag and WatchdogChunks catch slow drift the adaptive target
	// misses: lag at or above WatchdogLag for WatchdogChunks consecutive
	// chunks forces a resync. Defaults 120ms / 5.
	WatchdogLag    time.Duration
	WatchdogChunks int
}

func (c *Config) withDefaults() {
	if c.MinLead == 0 {
		c.MinLead = 20 * time.Millisecond
	}
	if c.TargetBuffer == 0 {
		c.TargetBuffer = 120 * time.Millisecond
	}
	if c.MinTarget == 0 {
		c.MinTarget = 80 * time.Millisecond
	}
	if c.MaxTarget == 0 {
		c.MaxTarget = 180 * time.Millisecond
	}
	if c.IncreaseStep == 0 {
		c.IncreaseStep = 10 * time.Millisecond
	}
	if c.DecreaseStep == 0 {
		c.DecreaseStep = 5 * time.Millisecond
	}
	if c.HighRatio == 0 {
		c.HighRatio = 1.6
	}
	if c.LowRatio == 0 {
		c.LowRatio = 0.6
	}
	if c.HardClamp == 0 {
		c.HardClamp = 300 * time.Millisecond
	}
	if c.BurstGap == 0 {
		c.BurstGap = 5 * time.Millisecond
	}
	if c.BurstChunks == 0 {
		c.BurstChunks = 3
	}
	if c.WatchdogLag == 0 {
		c.WatchdogLag = 120 * time.Millisecond
	}
	if c.WatchdogChunks == 0 {
		c.WatchdogChunks = 5
	}
}

// QueueState is a snapshot of the per-stream scalar state.
type QueueState struct {
	State           State
	PlayHead        time.Duration
	TargetBuffer    time.Duration
	BurstRun        int
	OverLagRun      int
	Resyncs         uint64
	LastResyncCause ResyncCause
	ChunksScheduled uint64
	ChunksDropped   uint64
}

// Scheduler converts one inbound PCM stream into scheduled output audio.
type Scheduler struct {
	cfg   Config
	out   Output
	clock Clock
	log   *slog.Logger
	met   *metrics.Metrics

	mu          sync.Mutex
	state       State
	playHead    time.Duration
	target      time.Duration
	burstRun    int
	overLagRun  int
	resyncs     uint64
	lastCause   ResyncCause
	scheduled   uint64
	dropped     uint64
	lastArrival time.Duration
	hasArrival  bool
}

// realClock follows the process monotonic clock from construction time.
type realClock struct{ start time.Time }

func (c realClock) Now() time.Duration { return time.Since(c.start) }

// NewRealClock returns a Clock anchored at now.
func NewRealClock() Clock { return realClock{start: time.Now()} }

// New builds a Scheduler. A nil output is the environment-fatal
// no-audio-device condition and fails construction. met may be nil.
func New(cfg Config, out Output, clock Clock, logger *slog.Logger, met *metrics.Metrics) (*Scheduler, error) {
	if out == nil {
		return nil, ErrNoAudioOutput
	}
	cfg.withDefaults()
	if clock == nil {
		clock = NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cfg:    cfg,
		out:    out,
		clock:  clock,
		log:    logger,
		met:    met,
		state:  Idle,
		target: cfg.TargetBuffer,
	}, nil
}

// Start moves the scheduler from Idle to Receiving.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.state == Idle {
		s.state = Receiving
	}
	s.mu.Unlock()
}

// Enqueue consumes one inbound wire chunk (int16 LE PCM at inRate, any
// length) and schedules it on the timeline. Empty or malformed chunks are
// dropped silently.
func (s *Scheduler) Enqueue(chunk []byte, inRate int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Idle {
		s.state = Receiving
	}
	if len(chunk) < 2 || inRate <= 0 {
		s.dropped++
		return
	}
	now := s.clock.Now()

	// Burst detection: a run of implausibly tight arrivals means a backlog
	// is being dumped (reload, tab resume); scheduling it smoothly would
	// pile up latency.
	if s.hasArrival && now-s.lastArrival < s.cfg.BurstGap {
		s.burstRun++
	} else {
		s.burstRun = 0
	}
	s.lastArrival = now
	s.hasArrival = true
	if s.burstRun >= s.cfg.BurstChunks {
		s.resyncLocked(now, ResyncBurst)
	}

	samples := pcm.Decode(chunk)
	samples = pcm.ResampleLinear(samples, inRate, s.out.SampleRate())
	pcm.ApplyEdgeFade(samples, s.out.SampleRate())

	// Never schedule in the past.
	if floor := now + s.cfg.MinLead; s.playHead < floor {
		s.playHead = floor
	}
	queued := s.playHead - now

	// Hard clamp: accept an audible jump over unbounded latency.
	if queued > s.cfg.HardClamp {
		s.resyncLocked(now, ResyncHardClamp)
		queued = s.playHead - now
	}

	// Adaptive target with hysteresis.
	switch {
	case queued > time.Duration(float64(s.target)*s.cfg.HighRatio):
		s.target += s.cfg.IncreaseStep
		if s.target > s.cfg.MaxTarget {
			s.target = s.cfg.MaxTarget
		}
	case queued < time.Duration(float64(s.target)*s.cfg.LowRatio):
		s.target -= s.cfg.DecreaseStep
		if s.target < s.cfg.MinTarget {
			s.target = s.cfg.MinTarget
		}
	}

	// Watchdog: sustained lag above threshold that the clamp never hits.
	if queued-s.target >= s.cfg.WatchdogLag {
		s.overLagRun++
		if s.overLagRun >= s.cfg.WatchdogChunks {
			s.resyncLocked(now, ResyncWatchdog)
		}
	} else {
		s.overLagRun = 0
	}

	s.out.ScheduleAt(samples, s.playHead)
	s.playHead += time.Duration(len(samples)) * time.Second / time.Duration(s.out.SampleRate())
	s.scheduled++
	s.met.ObserveQueueLag(s.playHead - now)
	if s.state == Resynchronizing {
		s.state = Receiving
	}
}

// resyncLocked resets the playhead to now+target and clears detector runs.
func (s *Scheduler) resyncLocked(now time.Duration, cause ResyncCause) {
	s.playHead = now + s.target
	s.burstRun = 0
	s.overLagRun = 0
	s.resyncs++
	s.lastCause = cause
	s.state = Resynchronizing
	s.met.RecordResync(string(cause))
	s.log.Info("playback resync", "cause", string(cause), "target", s.target)
}

// NotifyVisible forces a resync after the environment's audio clock may have
// been suspended (e.g. tab returning to foreground).
func (s *Scheduler) NotifyVisible() {
	s.mu.Lock()
	if s.state != Idle {
		s.resyncLocked(s.clock.Now(), ResyncVisibility)
	}
	s.mu.Unlock()
}

// Reset returns the scheduler to Idle and clears all scalar state.
func (s *Scheduler) Reset() {
	s.mu.Lock()
	s.state = Idle
	s.playHead = 0
	s.target = s.cfg.TargetBuffer
	s.burstRun = 0
	s.overLagRun = 0
	s.hasArrival = false
	s.lastCause = ResyncManual
	s.mu.Unlock()
}

// QueueState returns a snapshot of the scalar state.
func (s *Scheduler) QueueState() QueueState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return QueueState{
		State:           s.state,
		PlayHead:        s.playHead,
		TargetBuffer:    s.target,
		BurstRun:        s.burstRun,
		OverLagRun:      s.overLagRun,
		Resyncs:         s.resyncs,
		LastResyncCause: s.lastCause,
		ChunksScheduled: s.scheduled,
		ChunksDropped:   s.dropped,
	}
}
