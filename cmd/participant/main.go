// Command participant is a headless interview client: it bootstraps the
// session mapping, joins the control and audio channels, streams a synthetic
// microphone and schedules received audio. It doubles as a load-test client
// and a reference for embedding the internal packages.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cloudcomputinginha/interview-rt/internal/api"
	"github.com/cloudcomputinginha/interview-rt/internal/bootstrap"
	"github.com/cloudcomputinginha/interview-rt/internal/capture"
	"github.com/cloudcomputinginha/interview-rt/internal/config"
	"github.com/cloudcomputinginha/interview-rt/internal/interview"
	"github.com/cloudcomputinginha/interview-rt/internal/metrics"
	"github.com/cloudcomputinginha/interview-rt/internal/playback"
	"github.com/cloudcomputinginha/interview-rt/internal/retry"
	"github.com/cloudcomputinginha/interview-rt/internal/store"
	"github.com/cloudcomputinginha/interview-rt/internal/turnsync"
	"github.com/cloudcomputinginha/interview-rt/internal/wschan"
)

func main() {
	configPath := flag.String("config", "", "path to configuration file")
	interviewID := flag.String("interview", "", "interview id to join")
	participantID := flag.Int64("participant", 0, "local participant id")
	toneHz := flag.Float64("tone", 440, "synthetic microphone tone frequency")
	flag.Parse()

	if *interviewID == "" || *participantID == 0 {
		fmt.Fprintln(os.Stderr, "usage: participant -interview <id> -participant <id> [-config path]")
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	logger := initLogger(cfg.Logging)

	if err := run(cfg, logger, *interviewID, interview.ParticipantID(*participantID), *toneHz); err != nil {
		logger.Error("participant exited", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger, interviewID string, self interview.ParticipantID, toneHz float64) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("shutdown signal received")
		cancel()
	}()

	st := store.New()
	client := api.NewClient(cfg.Backend.BaseURL)
	met := metrics.NewMetrics()

	// Resolve every participant's session before opening any channel.
	orch := bootstrap.New(client, st, self, bootstrap.Options{
		Poll: retry.Policy{
			Interval:    cfg.Bootstrap.GetPollInterval(),
			MaxAttempts: cfg.Bootstrap.PollAttempts,
		},
		Logger:  logger,
		Metrics: met,
	})
	res, err := orch.Run(ctx, interviewID)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	logger.Info("bootstrap finished",
		"status", string(res.Status),
		"generator", res.Generator,
		"resolved", len(res.Bindings),
		"unresolved", len(res.Unresolved))

	ownSID, ok := res.Bindings[self]
	if !ok {
		return fmt.Errorf("no session resolved for participant %s", self)
	}
	// Turn state lives on the generator's session; everyone addresses it.
	authoritySID, ok := res.Bindings[res.Generator]
	if !ok {
		return fmt.Errorf("no session resolved for generator %s", res.Generator)
	}

	backoff := wschan.Backoff{
		Base:        cfg.Channel.GetBackoffBase(),
		Multiplier:  2,
		Cap:         cfg.Channel.GetBackoffCap(),
		MaxAttempts: cfg.Channel.MaxAttempts,
	}
	wsBase := "ws" + strings.TrimPrefix(cfg.Backend.BaseURL, "http")

	// Control channel and synchronizer. The synchronizer pointer is set
	// before Start, so the callbacks never observe it nil.
	var sync *turnsync.Synchronizer
	control := wschan.New(wschan.Options{
		Dial: wschan.DialURL(fmt.Sprintf("%s/ws/control?session=%s&participant=%s&mode=%s",
			wsBase, authoritySID, self, turnsync.ModeTag)),
		OnText:  func(data []byte) { sync.HandleFrame(data) },
		OnClose: func(err error) { sync.HandleClose(err) },
		Backoff: backoff,
		Logger:  logger,
		Metrics: met,
	})
	sync = turnsync.New(st, control, turnsync.Options{
		EnsureFollowUps: func(ctx context.Context, questionIndex int) error {
			return hydrateFollowUps(ctx, client, st, ownSID, questionIndex)
		},
		OnFinished: func() {
			logger.Info("interview finished")
			cancel()
		},
		Logger: logger,
	})
	if err := control.Start(ctx); err != nil {
		return fmt.Errorf("control channel: %w", err)
	}
	defer control.Close()

	// Inbound audio goes straight to the jitter scheduler.
	scheduler, err := playback.New(playback.Config{
		MinLead:   cfg.Playback.GetMinLead(),
		MinTarget: cfg.Playback.GetMinTarget(),
		MaxTarget: cfg.Playback.GetMaxTarget(),
		HardClamp: cfg.Playback.GetHardClamp(),
	}, silentOutput{rate: cfg.Capture.InputSampleRate}, playback.NewRealClock(), logger, met)
	if err != nil {
		return fmt.Errorf("playback: %w", err)
	}
	scheduler.Start()

	audio := wschan.New(wschan.Options{
		Dial: wschan.DialURL(fmt.Sprintf("%s/ws/audio?session=%s&participant=%s",
			wsBase, ownSID, self)),
		OnBinary: func(data []byte) { scheduler.Enqueue(data, cfg.Capture.TargetSampleRate) },
		Backoff:  backoff,
		Logger:   logger,
		Metrics:  met,
	})
	if err := audio.Start(ctx); err != nil {
		return fmt.Errorf("audio channel: %w", err)
	}
	defer audio.Close()

	// Outbound audio: synthetic microphone through the capture chain.
	pipeline := capture.New(capture.Config{
		InputSampleRate:  cfg.Capture.InputSampleRate,
		InputChannels:    cfg.Capture.InputChannels,
		TargetSampleRate: cfg.Capture.TargetSampleRate,
		FrameDuration:    cfg.Capture.GetFrameDuration(),
		HighPassHz:       cfg.Capture.HighPassHz,
		LowPassHz:        cfg.Capture.LowPassHz,
	}, audio, logger, met)
	pipeline.Start()
	defer pipeline.Stop()

	source := &capture.ToneSource{
		SampleRate: cfg.Capture.InputSampleRate,
		Hz:         toneHz,
		Gain:       0.2,
	}
	captureErr := make(chan error, 1)
	go func() { captureErr <- capture.Run(ctx, pipeline, source) }()

	select {
	case <-ctx.Done():
	case err := <-captureErr:
		if err != nil && ctx.Err() == nil {
			return fmt.Errorf("capture: %w", err)
		}
	}

	stats := pipeline.Stats()
	queue := scheduler.QueueState()
	logger.Info("session summary",
		"frames_sent", stats.FramesSent,
		"frames_dropped", stats.FramesDropped,
		"playback_state", queue.State.String(),
		"resyncs", queue.Resyncs)
	return nil
}

// hydrateFollowUps fetches generated follow-ups for one question and stores
// them. The backend response is untrusted: a snapshot shorter than the
// requested index is an error, not a panic.
func hydrateFollowUps(ctx context.Context, backend api.Backend, st *store.Store, sid interview.SessionID, questionIndex int) error {
	snap, err := backend.GenerateFollowUps(ctx, sid, questionIndex)
	if err != nil {
		return err
	}
	if questionIndex < 0 || questionIndex >= len(snap.Questions) {
		return fmt.Errorf("follow-up response for session %s has %d questions, want index %d",
			sid, len(snap.Questions), questionIndex)
	}
	return st.SetFollowUps(sid, questionIndex, snap.Questions[questionIndex].FollowUps)
}

// silentOutput discards scheduled samples. The harness has no sound device;
// the scheduler still exercises its full timing path.
type silentOutput struct{ rate int }

func (silentOutput) ScheduleAt([]float32, time.Duration) {}

func (o silentOutput) SampleRate() int { return o.rate }

func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	out := os.Stdout
	if cfg.Output == "stderr" {
		out = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}
	return slog.New(handler)
}
