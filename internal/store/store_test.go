package store

import (
	"sync"
	"testing"
	"time"

	"github.com/cloudcomputinginha/interview-rt/internal/interview"
)

func snap(pid interview.ParticipantID, sid interview.SessionID) interview.SessionSnapshot {
	return interview.SessionSnapshot{
		SessionID:     sid,
		ParticipantID: pid,
		Cursor:        interview.Cursor{QuestionIndex: 0, FollowUpIndex: -1},
		Questions:     []interview.Question{{Text: "tell me about yourself"}},
	}
}

func TestSetSessionBindingImmutable(t *testing.T) {
	s := New()
	if err := s.SetSession(snap(1, "sid-1")); err != nil {
		t.Fatalf("first bind: %v", err)
	}
	// Refreshing under the same binding is allowed.
	if err := s.SetSession(snap(1, "sid-1")); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	// Re-binding to a different session is not.
	if err := s.SetSession(snap(1, "sid-other")); err == nil {
		t.Fatalf("expected rebind rejection")
	}
	sid, ok := s.SessionBinding(1)
	if !ok || sid != "sid-1" {
		t.Fatalf("binding: %v %v", sid, ok)
	}
}

func TestBindingsCopy(t *testing.T) {
	s := New()
	_ = s.SetSession(snap(1, "sid-1"))
	m := s.Bindings()
	m[2] = "sid-2"
	if _, ok := s.SessionBinding(2); ok {
		t.Fatalf("external map mutation leaked into store")
	}
}

func TestReplaceTurnStateWholesale(t *testing.T) {
	s := New()
	first := interview.TurnState{
		ActiveParticipantID:   1,
		MainQuestionIndex:     0,
		FollowUpIndex:         2,
		ParticipantOrder:      []interview.ParticipantID{1, 2},
		FollowUpByParticipant: map[interview.ParticipantID]int{1: 2, 2: 0},
	}
	s.ReplaceTurnState(first)

	// A later snapshot without per-participant progress must not retain the
	// previous map: full replacement, not patch.
	s.ReplaceTurnState(interview.TurnState{
		ActiveParticipantID: 2,
		MainQuestionIndex:   1,
		FollowUpIndex:       -1,
		ParticipantOrder:    []interview.ParticipantID{1, 2},
	})

	got, ok := s.TurnState()
	if !ok {
		t.Fatalf("no turn state")
	}
	if got.ActiveParticipantID != 2 || got.MainQuestionIndex != 1 || got.FollowUpIndex != -1 {
		t.Fatalf("unexpected state: %+v", got)
	}
	if len(got.FollowUpByParticipant) != 0 {
		t.Fatalf("stale follow-up map retained: %+v", got.FollowUpByParticipant)
	}
}

func TestReplaceTurnStateStaleSeqIgnored(t *testing.T) {
	s := New()
	s.ReplaceTurnState(interview.TurnState{MainQuestionIndex: 3, Seq: 10})
	s.ReplaceTurnState(interview.TurnState{MainQuestionIndex: 1, Seq: 9})
	got, _ := s.TurnState()
	if got.MainQuestionIndex != 3 {
		t.Fatalf("stale snapshot applied: %+v", got)
	}
	// No sequence information: arrival order wins.
	s.ReplaceTurnState(interview.TurnState{MainQuestionIndex: 5})
	got, _ = s.TurnState()
	if got.MainQuestionIndex != 5 {
		t.Fatalf("unsequenced snapshot not applied: %+v", got)
	}
}

func TestSubscribeTurnState(t *testing.T) {
	s := New()
	ch, cancel := s.SubscribeTurnState()
	defer cancel()
	s.ReplaceTurnState(interview.TurnState{ActiveParticipantID: 7})
	select {
	case got := <-ch:
		if got.ActiveParticipantID != 7 {
			t.Fatalf("wrong notification: %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatalf("no notification")
	}
	cancel()
	cancel() // idempotent
}

func TestSubscribeCancelDuringReplace(t *testing.T) {
	// A subscriber cancelling while a broadcast is in flight must never
	// panic the notifier. Run many cancel/replace pairs behind a start
	// barrier to give the race a chance to bite.
	s := New()
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		_, cancel := s.SubscribeTurnState()
		wg.Add(2)
		go func() {
			defer wg.Done()
			<-start
			cancel()
		}()
		go func() {
			defer wg.Done()
			<-start
			s.ReplaceTurnState(interview.TurnState{ActiveParticipantID: 7})
		}()
	}
	close(start)
	wg.Wait()

	// The store still works after the churn.
	ch, cancel := s.SubscribeTurnState()
	defer cancel()
	s.ReplaceTurnState(interview.TurnState{ActiveParticipantID: 9})
	select {
	case got := <-ch:
		if got.ActiveParticipantID != 9 {
			t.Fatalf("wrong notification: %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatalf("no notification")
	}
}

func TestClearTurnState(t *testing.T) {
	s := New()
	s.ReplaceTurnState(interview.TurnState{ActiveParticipantID: 1})
	s.ClearTurnState()
	if _, ok := s.TurnState(); ok {
		t.Fatalf("turn state survived clear")
	}
}

func TestSetFollowUps(t *testing.T) {
	s := New()
	_ = s.SetSession(snap(1, "sid-1"))
	fups := []interview.FollowUp{{Text: "why?"}, {Text: "how?"}}
	if err := s.SetFollowUps("sid-1", 0, fups); err != nil {
		t.Fatalf("set follow-ups: %v", err)
	}
	got, _ := s.SessionFor(1)
	if len(got.Questions[0].FollowUps) != 2 {
		t.Fatalf("follow-ups not stored: %+v", got.Questions[0])
	}
	if err := s.SetFollowUps("sid-1", 9, fups); err == nil {
		t.Fatalf("expected out-of-range error")
	}
	if err := s.SetFollowUps("missing", 0, fups); err == nil {
		t.Fatalf("expected unknown-session error")
	}
}

func TestTranscriptAccumulation(t *testing.T) {
	s := New()
	key := TranscriptKey{Participant: 1, QuestionIndex: 0, FollowUpIndex: -1}
	s.AppendTranscript(key, "I worked on ")
	s.AppendTranscript(key, "a realtime system")
	s.AppendTranscript(key, "")
	if got := s.Transcript(key); got != "I worked on a realtime system" {
		t.Fatalf("transcript: %q", got)
	}
	other := TranscriptKey{Participant: 2, QuestionIndex: 0, FollowUpIndex: -1}
	if got := s.Transcript(other); got != "" {
		t.Fatalf("unexpected transcript for other key: %q", got)
	}
	s.SetTranscribing(true)
	if !s.Transcribing() {
		t.Fatalf("transcribing flag not set")
	}
}
