// Package authority is a self-contained session authority: it owns interview
// metadata, issues sessions, generates follow-up content, arbitrates turn
// state over the control channel and relays audio frames between
// participants. It backs local development and the integration tests; a
// production deployment would put the same surface in front of real storage
// and a real question generator.
package authority

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/cloudcomputinginha/interview-rt/internal/interview"
	"github.com/cloudcomputinginha/interview-rt/internal/metrics"
)

// Service is the in-memory interview registry plus per-interview rooms.
type Service struct {
	log *slog.Logger
	met *metrics.Metrics

	mu         sync.Mutex
	interviews map[string]*interviewRec
	sessions   map[interview.SessionID]*interviewRec
}

type interviewRec struct {
	meta      interview.Metadata
	questions []interview.Question
	// sessions maps participants to their issued session, populated by
	// GenerateSessions.
	sessions map[interview.ParticipantID]interview.SessionID
	room     *room
}

// NewService builds an empty registry.
func NewService(log *slog.Logger, met *metrics.Metrics) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		log:        log,
		met:        met,
		interviews: make(map[string]*interviewRec),
		sessions:   make(map[interview.SessionID]*interviewRec),
	}
}

// CreateInterview registers an interview with its participant list and main
// questions. An empty id gets a generated one. The stored metadata is
// returned so callers see the assigned id.
func (s *Service) CreateInterview(meta interview.Metadata, questions []interview.Question) (interview.Metadata, error) {
	if len(meta.Participants) == 0 {
		return interview.Metadata{}, fmt.Errorf("authority: interview needs at least one participant")
	}
	if len(questions) == 0 {
		return interview.Metadata{}, fmt.Errorf("authority: interview needs at least one question")
	}
	if meta.InterviewID == "" {
		meta.InterviewID = uuid.NewString()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.interviews[meta.InterviewID]; ok {
		return interview.Metadata{}, fmt.Errorf("authority: interview %s already exists", meta.InterviewID)
	}
	rec := &interviewRec{
		meta:      meta,
		questions: append([]interview.Question(nil), questions...),
		sessions:  make(map[interview.ParticipantID]interview.SessionID),
	}
	rec.room = newRoom(s, rec.meta)
	s.interviews[meta.InterviewID] = rec
	s.log.Info("interview created",
		"interview_id", meta.InterviewID,
		"participants", len(meta.Participants),
		"questions", len(questions))
	return meta, nil
}

// Metadata returns the stored interview metadata.
func (s *Service) Metadata(interviewID string) (interview.Metadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.interviews[interviewID]
	if !ok {
		return interview.Metadata{}, fmt.Errorf("authority: unknown interview %s", interviewID)
	}
	return rec.meta, nil
}

// GenerateSessions issues a session for every participant that does not have
// one yet and returns snapshots for all of them. Repeated calls are
// idempotent.
func (s *Service) GenerateSessions(interviewID string) ([]interview.SessionSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.interviews[interviewID]
	if !ok {
		return nil, fmt.Errorf("authority: unknown interview %s", interviewID)
	}
	snaps := make([]interview.SessionSnapshot, 0, len(rec.meta.Participants))
	for _, p := range rec.meta.Participants {
		sid, ok := rec.sessions[p.ParticipantID]
		if !ok {
			sid = interview.SessionID(uuid.NewString())
			rec.sessions[p.ParticipantID] = sid
			s.sessions[sid] = rec
			if s.met != nil {
				s.met.SessionsIssued.Inc()
			}
		}
		snaps = append(snaps, s.snapshotLocked(rec, p.ParticipantID, sid))
	}
	return snaps, nil
}

// SessionFor resolves one participant's session by the (interview,
// participant) pair. It fails until GenerateSessions issued one.
func (s *Service) SessionFor(interviewID string, pid interview.ParticipantID) (interview.SessionSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.interviews[interviewID]
	if !ok {
		return interview.SessionSnapshot{}, fmt.Errorf("authority: unknown interview %s", interviewID)
	}
	sid, ok := rec.sessions[pid]
	if !ok {
		return interview.SessionSnapshot{}, fmt.Errorf("authority: participant %s has no session yet", pid)
	}
	return s.snapshotLocked(rec, pid, sid), nil
}

// Session refreshes a known session by id.
func (s *Service) Session(sid interview.SessionID) (interview.SessionSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[sid]
	if !ok {
		return interview.SessionSnapshot{}, fmt.Errorf("authority: unknown session %s", sid)
	}
	for pid, got := range rec.sessions {
		if got == sid {
			return s.snapshotLocked(rec, pid, sid), nil
		}
	}
	return interview.SessionSnapshot{}, fmt.Errorf("authority: session %s lost its participant", sid)
}

// followUpsPerQuestion is how many probes the stub generator attaches to a
// main question.
const followUpsPerQuestion = 2

// GenerateFollowUps synthesizes follow-up content for one main question and
// returns the refreshed snapshot. Already-populated questions are left
// untouched so repeated hydration is idempotent.
func (s *Service) GenerateFollowUps(sid interview.SessionID, questionIndex int) (interview.SessionSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[sid]
	if !ok {
		return interview.SessionSnapshot{}, fmt.Errorf("authority: unknown session %s", sid)
	}
	if questionIndex < 0 || questionIndex >= len(rec.questions) {
		return interview.SessionSnapshot{}, fmt.Errorf("authority: question index %d out of range", questionIndex)
	}
	q := &rec.questions[questionIndex]
	if len(q.FollowUps) == 0 {
		for i := 0; i < followUpsPerQuestion; i++ {
			q.FollowUps = append(q.FollowUps, interview.FollowUp{
				Text: fmt.Sprintf("Tell me more about that (%d.%d).", questionIndex+1, i+1),
			})
		}
		if s.met != nil {
			s.met.FollowUpsGenerated.Inc()
		}
	}
	for pid, got := range rec.sessions {
		if got == sid {
			return s.snapshotLocked(rec, pid, sid), nil
		}
	}
	return interview.SessionSnapshot{}, fmt.Errorf("authority: session %s lost its participant", sid)
}

// roomForSession returns the control/audio hub the session belongs to.
func (s *Service) roomForSession(sid interview.SessionID) (*room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[sid]
	if !ok {
		return nil, fmt.Errorf("authority: unknown session %s", sid)
	}
	return rec.room, nil
}

// questionsFor snapshots the interview's current question set, including any
// follow-ups generated since creation.
func (s *Service) questionsFor(interviewID string) []interview.Question {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.interviews[interviewID]
	if !ok {
		return nil
	}
	return append([]interview.Question(nil), rec.questions...)
}

func (s *Service) snapshotLocked(rec *interviewRec, pid interview.ParticipantID, sid interview.SessionID) interview.SessionSnapshot {
	return interview.SessionSnapshot{
		SessionID:     sid,
		ParticipantID: pid,
		Cursor:        interview.Cursor{QuestionIndex: 0, FollowUpIndex: -1},
		Questions:     append([]interview.Question(nil), rec.questions...),
	}
}
