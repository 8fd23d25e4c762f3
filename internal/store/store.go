// Package store is the single shared mutable state container of the realtime
// core. One Store instance is created per interview entry and handed to
// bootstrap, the turn synchronizer and the UI-facing readers; nothing in the
// module touches package-level state.
package store

import (
	"fmt"
	"sync"

	"github.com/cloudcomputinginha/interview-rt/internal/interview"
)

// TranscriptKey addresses an incremental transcription accumulator.
type TranscriptKey struct {
	Participant   interview.ParticipantID
	QuestionIndex int
	FollowUpIndex int
}

// Store holds session bindings, per-session question data, the turn-state
// replica and transcription progress. All methods are safe for concurrent
// use; values handed out are copies or replaced wholesale, never mutated in
// place.
type Store struct {
	mu sync.RWMutex

	bindings map[interview.ParticipantID]interview.SessionID
	sessions map[interview.SessionID]interview.SessionSnapshot

	turn    interview.TurnState
	hasTurn bool

	transcripts  map[TranscriptKey]string
	transcribing bool

	subs   map[int]chan interview.TurnState
	nextID int
}

// New returns an empty store.
func New() *Store {
	return &Store{
		bindings:    make(map[interview.ParticipantID]interview.SessionID),
		sessions:    make(map[interview.SessionID]interview.SessionSnapshot),
		transcripts: make(map[TranscriptKey]string),
		subs:        make(map[int]chan interview.TurnState),
	}
}

// SetSession records a resolved session for a participant: the
// participant->session binding plus the snapshot payload. A binding is
// immutable once set; re-binding a participant to a different session is an
// error, while refreshing the snapshot under the same binding is allowed.
func (s *Store) SetSession(snap interview.SessionSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.bindings[snap.ParticipantID]; ok && existing != snap.SessionID {
		return fmt.Errorf("store: participant %s already bound to session %s", snap.ParticipantID, existing)
	}
	s.bindings[snap.ParticipantID] = snap.SessionID
	s.sessions[snap.SessionID] = snap
	return nil
}

// SessionBinding returns the session bound to a participant.
func (s *Store) SessionBinding(pid interview.ParticipantID) (interview.SessionID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sid, ok := s.bindings[pid]
	return sid, ok
}

// Bindings returns a copy of the full participant->session map.
func (s *Store) Bindings() map[interview.ParticipantID]interview.SessionID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[interview.ParticipantID]interview.SessionID, len(s.bindings))
	for k, v := range s.bindings {
		out[k] = v
	}
	return out
}

// Session returns the stored snapshot for a session id.
func (s *Store) Session(sid interview.SessionID) (interview.SessionSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.sessions[sid]
	return snap, ok
}

// SessionFor returns the stored snapshot for a participant.
func (s *Store) SessionFor(pid interview.ParticipantID) (interview.SessionSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sid, ok := s.bindings[pid]
	if !ok {
		return interview.SessionSnapshot{}, false
	}
	snap, ok := s.sessions[sid]
	return snap, ok
}

// SetFollowUps replaces the follow-up list of one question in a stored
// session, used by hydration after generation.
func (s *Store) SetFollowUps(sid interview.SessionID, questionIndex int, fups []interview.FollowUp) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.sessions[sid]
	if !ok {
		return fmt.Errorf("store: unknown session %s", sid)
	}
	if questionIndex < 0 || questionIndex >= len(snap.Questions) {
		return fmt.Errorf("store: question index %d out of range for session %s", questionIndex, sid)
	}
	questions := append([]interview.Question(nil), snap.Questions...)
	q := questions[questionIndex]
	q.FollowUps = append([]interview.FollowUp(nil), fups...)
	questions[questionIndex] = q
	snap.Questions = questions
	s.sessions[sid] = snap
	return nil
}

// ReplaceTurnState installs a new turn-state snapshot wholesale and notifies
// subscribers. Snapshots carrying a sequence older than the installed one
// are ignored; sequence 0 means "no sequence information" and always wins.
func (s *Store) ReplaceTurnState(ts interview.TurnState) {
	s.mu.Lock()
	if s.hasTurn && ts.Seq != 0 && s.turn.Seq != 0 && ts.Seq <= s.turn.Seq {
		s.mu.Unlock()
		return
	}
	s.turn = ts.Clone()
	s.hasTurn = true
	snapshot := s.turn.Clone()
	// Sends stay under the lock: cancel closes the channel under the same
	// lock after removing it from the map, so a send can never hit a closed
	// channel. The sends are non-blocking, so the lock is held briefly.
	for _, ch := range s.subs {
		select {
		case ch <- snapshot:
		default: // slow subscriber keeps only the freshest state it reads
		}
	}
	s.mu.Unlock()
}

// ClearTurnState drops the replica, e.g. when the control channel closes.
func (s *Store) ClearTurnState() {
	s.mu.Lock()
	s.turn = interview.TurnState{}
	s.hasTurn = false
	s.mu.Unlock()
}

// TurnState returns a copy of the current replica.
func (s *Store) TurnState() (interview.TurnState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.turn.Clone(), s.hasTurn
}

// SubscribeTurnState registers a turn-state listener. The returned cancel
// must be called to release the subscription.
func (s *Store) SubscribeTurnState() (<-chan interview.TurnState, func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	ch := make(chan interview.TurnState, 8)
	s.subs[id] = ch
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		if _, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(ch)
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

// AppendTranscript appends an incremental transcription fragment at a
// (participant, question, follow-up) coordinate.
func (s *Store) AppendTranscript(key TranscriptKey, text string) {
	if text == "" {
		return
	}
	s.mu.Lock()
	s.transcripts[key] += text
	s.mu.Unlock()
}

// Transcript returns the accumulated text at a coordinate.
func (s *Store) Transcript(key TranscriptKey) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.transcripts[key]
}

// SetTranscribing flags whether the transcription pipeline reports work in
// progress.
func (s *Store) SetTranscribing(v bool) {
	s.mu.Lock()
	s.transcribing = v
	s.mu.Unlock()
}

// Transcribing reports the transcription-in-progress flag.
func (s *Store) Transcribing() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.transcribing
}
