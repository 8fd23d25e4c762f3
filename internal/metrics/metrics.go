// Package metrics registers the Prometheus instruments shared by the
// session authority and the participant harness.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the interview runtime.
type Metrics struct {
	// Control plane
	ControlConnections prometheus.Gauge
	CommandsApplied    *prometheus.CounterVec
	CommandsRejected   *prometheus.CounterVec
	StateBroadcasts    prometheus.Counter

	// Audio plane
	AudioConnections prometheus.Gauge
	FramesRelayed    prometheus.Counter
	FramesDropped    prometheus.Counter

	// Session issuance
	SessionsIssued     prometheus.Counter
	FollowUpsGenerated prometheus.Counter

	// Client side: capture chain
	CaptureFramesSent    prometheus.Counter
	CaptureFramesDropped prometheus.Counter

	// Client side: playback scheduling
	PlaybackResyncs  *prometheus.CounterVec
	PlaybackQueueLag prometheus.Histogram

	// Client side: channel and bootstrap lifecycle
	ReconnectAttempts prometheus.Counter
	BootstrapOutcomes *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics on the default registry.
// Call it once per process.
func NewMetrics() *Metrics {
	return &Metrics{
		ControlConnections: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "interview_control_connections",
			Help: "Current number of open control websocket connections",
		}),
		CommandsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "interview_commands_applied_total",
			Help: "Control commands accepted and applied, by command type",
		}, []string{"type"}),
		CommandsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "interview_commands_rejected_total",
			Help: "Control commands dropped by validation, by command type",
		}, []string{"type"}),
		StateBroadcasts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "interview_state_broadcasts_total",
			Help: "Turn state snapshots broadcast to control connections",
		}),
		AudioConnections: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "interview_audio_connections",
			Help: "Current number of open audio websocket connections",
		}),
		FramesRelayed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "interview_audio_frames_relayed_total",
			Help: "Binary audio frames relayed between participants",
		}),
		FramesDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "interview_audio_frames_dropped_total",
			Help: "Binary audio frames dropped on slow or closed peers",
		}),
		SessionsIssued: promauto.NewCounter(prometheus.CounterOpts{
			Name: "interview_sessions_issued_total",
			Help: "Sessions issued for interview participants",
		}),
		FollowUpsGenerated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "interview_followups_generated_total",
			Help: "Follow-up question batches generated for sessions",
		}),
		CaptureFramesSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "interview_capture_frames_sent_total",
			Help: "Encoded capture frames handed to the audio channel",
		}),
		CaptureFramesDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "interview_capture_frames_dropped_total",
			Help: "Capture frames dropped because the audio channel was not ready",
		}),
		PlaybackResyncs: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "interview_playback_resyncs_total",
			Help: "Playback timeline resyncs, by cause",
		}, []string{"cause"}),
		PlaybackQueueLag: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "interview_playback_queue_lag_seconds",
			Help:    "Queued-but-unplayed audio duration observed at enqueue time",
			Buckets: []float64{0.02, 0.05, 0.08, 0.12, 0.18, 0.3, 0.5, 1},
		}),
		ReconnectAttempts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "interview_channel_reconnect_attempts_total",
			Help: "Websocket redial attempts across all channels",
		}),
		BootstrapOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "interview_bootstrap_outcomes_total",
			Help: "Bootstrap runs by terminal status",
		}, []string{"status"}),
	}
}

// The Record helpers are nil-safe so components can hold an optional
// *Metrics without guarding every call site.

// RecordFrameSent counts one capture frame handed to the channel.
func (m *Metrics) RecordFrameSent() {
	if m != nil {
		m.CaptureFramesSent.Inc()
	}
}

// RecordFrameDropped counts one capture frame dropped on a not-ready channel.
func (m *Metrics) RecordFrameDropped() {
	if m != nil {
		m.CaptureFramesDropped.Inc()
	}
}

// RecordResync counts one playback resync by cause.
func (m *Metrics) RecordResync(cause string) {
	if m != nil {
		m.PlaybackResyncs.WithLabelValues(cause).Inc()
	}
}

// ObserveQueueLag records the queued audio duration at enqueue time.
func (m *Metrics) ObserveQueueLag(queued time.Duration) {
	if m != nil {
		m.PlaybackQueueLag.Observe(queued.Seconds())
	}
}

// RecordReconnectAttempt counts one websocket redial attempt.
func (m *Metrics) RecordReconnectAttempt() {
	if m != nil {
		m.ReconnectAttempts.Inc()
	}
}

// RecordBootstrapOutcome counts one bootstrap run by terminal status.
func (m *Metrics) RecordBootstrapOutcome(status string) {
	if m != nil {
		m.BootstrapOutcomes.WithLabelValues(status).Inc()
	}
}
