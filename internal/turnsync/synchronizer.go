package turnsync

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cloudcomputinginha/interview-rt/internal/interview"
	"github.com/cloudcomputinginha/interview-rt/internal/store"
)

// Sender is the outbound half of the control channel. *wschan.Channel
// satisfies it.
type Sender interface {
	SendJSON(v any) error
}

// Options configure a Synchronizer.
type Options struct {
	// EnsureFollowUps is called before the first advance away from a main
	// question, so follow-up content exists by the time the authority moves
	// the cursor. Optional.
	EnsureFollowUps func(ctx context.Context, questionIndex int) error
	// OnFinished fires once when the authority declares the interview over.
	OnFinished func()
	Logger     *slog.Logger
}

// Synchronizer projects authoritative control-channel messages into the
// store and sends advisory commands. It does not own the channel lifecycle:
// reconnect policy lives in wschan, and the caller clears the replica on
// terminal closure.
type Synchronizer struct {
	st   *store.Store
	send Sender
	opts Options
	log  *slog.Logger

	mu       sync.Mutex
	finished bool
}

// New builds a Synchronizer over an open control channel.
func New(st *store.Store, send Sender, opts Options) *Synchronizer {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Synchronizer{st: st, send: send, opts: opts, log: log}
}

// HandleFrame consumes one inbound text frame. Malformed frames are logged
// and dropped; one bad message must not take down the channel. Wire this to
// the channel's OnText callback.
func (s *Synchronizer) HandleFrame(data []byte) {
	msg, err := DecodeServerMessage(data)
	if err != nil {
		s.log.Warn("dropping control frame", "error", err)
		return
	}
	switch m := msg.(type) {
	case StateMessage:
		s.st.ReplaceTurnState(m.State)
	case STTText:
		s.st.AppendTranscript(store.TranscriptKey{
			Participant:   m.ParticipantID,
			QuestionIndex: m.QuestionIndex,
			FollowUpIndex: m.FollowUpIndex,
		}, m.Text)
	case STTStatus:
		s.st.SetTranscribing(m.Status == STTProcessing)
	case Finished:
		s.mu.Lock()
		first := !s.finished
		s.finished = true
		s.mu.Unlock()
		if first && s.opts.OnFinished != nil {
			s.opts.OnFinished()
		}
	}
}

// HandleClose destroys the replica when the channel closes; wire this to the
// channel's OnClose callback.
func (s *Synchronizer) HandleClose(err error) {
	if err != nil {
		s.log.Warn("control channel closed", "error", err)
	}
	s.st.ClearTurnState()
}

// Finished reports whether the authority declared the interview over.
func (s *Synchronizer) Finished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finished
}

// Advance requests the next question or follow-up. When the replica sits on
// a main question, follow-up content is hydrated first so the authority has
// something to advance into. The request itself is advisory.
func (s *Synchronizer) Advance(ctx context.Context) error {
	if ts, ok := s.st.TurnState(); ok && ts.OnMainQuestion() && s.opts.EnsureFollowUps != nil {
		if err := s.opts.EnsureFollowUps(ctx, ts.MainQuestionIndex); err != nil {
			return fmt.Errorf("ensure follow-ups for question %d: %w", ts.MainQuestionIndex, err)
		}
	}
	return s.sendCommand(Advance{})
}

// SetOrder proposes a new participant ordering.
func (s *Synchronizer) SetOrder(order []interview.ParticipantID) error {
	return s.sendCommand(SetOrder{Order: order})
}

// SetActive asks the authority to hand the floor to a participant.
func (s *Synchronizer) SetActive(pid interview.ParticipantID) error {
	return s.sendCommand(SetActive{ParticipantID: pid})
}

func (s *Synchronizer) sendCommand(c Command) error {
	data, err := EncodeCommand(c)
	if err != nil {
		return err
	}
	// Raw JSON passthrough: the envelope is already marshaled.
	return s.send.SendJSON(rawJSON(data))
}

// rawJSON lets pre-encoded command bytes travel through a JSON-writing
// channel without double encoding.
type rawJSON []byte

func (r rawJSON) MarshalJSON() ([]byte, error) { return r, nil }
