// Package interview holds the domain model shared by the realtime core:
// participants, per-participant backend sessions, the two-level question
// structure and the replicated turn state.
package interview

import (
	"fmt"
	"sort"
	"strconv"
)

// ParticipantID identifies one participant in an interview. Identifiers are
// numeric; the minimum-id rule in bootstrap depends on that.
type ParticipantID int64

// NoParticipant marks an absent participant, e.g. a free floor.
const NoParticipant ParticipantID = -1

func (p ParticipantID) String() string {
	return strconv.FormatInt(int64(p), 10)
}

// ParseParticipantID parses the wire string form of a participant id.
func ParseParticipantID(s string) (ParticipantID, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return NoParticipant, fmt.Errorf("parse participant id %q: %w", s, err)
	}
	return ParticipantID(v), nil
}

// SessionID is an opaque backend session identifier.
type SessionID string

// FollowUp is a dynamically generated probe under a main question.
type FollowUp struct {
	Text     string `json:"text"`
	AudioRef string `json:"audio_ref,omitempty"`
}

// Question is one entry of the ordered main-question sequence.
type Question struct {
	Text      string     `json:"text"`
	AudioRef  string     `json:"audio_ref,omitempty"`
	FollowUps []FollowUp `json:"follow_ups,omitempty"`
}

// Cursor is a (main question, follow-up) coordinate. FollowUpIndex -1 means
// "on the main question".
type Cursor struct {
	QuestionIndex int `json:"question_index"`
	FollowUpIndex int `json:"follow_up_index"`
}

// SessionSnapshot is the backend's view of one participant's session.
type SessionSnapshot struct {
	SessionID     SessionID     `json:"session_id"`
	ParticipantID ParticipantID `json:"participant_id"`
	Cursor        Cursor        `json:"cursor"`
	Questions     []Question    `json:"questions"`
}

// Metadata describes an interview at entry time.
type Metadata struct {
	InterviewID  string        `json:"interview_id"`
	Title        string        `json:"title,omitempty"`
	Participants []Participant `json:"participants"`
}

// Participant is one entry of the interview's participant list.
type Participant struct {
	ParticipantID ParticipantID `json:"participant_id"`
	DisplayName   string        `json:"display_name,omitempty"`
}

// ParticipantIDs returns the participant ids in metadata order.
func (m Metadata) ParticipantIDs() []ParticipantID {
	ids := make([]ParticipantID, 0, len(m.Participants))
	for _, p := range m.Participants {
		ids = append(ids, p.ParticipantID)
	}
	return ids
}

// MinParticipant returns the numeric minimum of ids, the deterministic
// generator-election winner. ok is false for an empty list.
func MinParticipant(ids []ParticipantID) (ParticipantID, bool) {
	if len(ids) == 0 {
		return NoParticipant, false
	}
	min := ids[0]
	for _, id := range ids[1:] {
		if id < min {
			min = id
		}
	}
	return min, true
}

// TurnState is the replicated "whose turn is it" record. Instances are
// replaced wholesale on every authoritative snapshot, never merged.
type TurnState struct {
	// ActiveParticipantID holds the floor; NoParticipant when free.
	ActiveParticipantID ParticipantID
	MainQuestionIndex   int
	// FollowUpIndex is -1 on the main question, >=0 on a follow-up. Only
	// meaningful relative to MainQuestionIndex.
	FollowUpIndex    int
	ParticipantOrder []ParticipantID
	// FollowUpByParticipant is last-seen follow-up progress per participant,
	// bookkeeping for the UI, not authority.
	FollowUpByParticipant map[ParticipantID]int
	// Seq is a monotonic snapshot sequence when the authority provides one,
	// 0 otherwise.
	Seq int64
}

// OnMainQuestion reports whether the cursor sits on the main question rather
// than one of its follow-ups.
func (t TurnState) OnMainQuestion() bool { return t.FollowUpIndex < 0 }

// Clone deep-copies the state so stored snapshots cannot alias caller maps.
func (t TurnState) Clone() TurnState {
	out := t
	out.ParticipantOrder = append([]ParticipantID(nil), t.ParticipantOrder...)
	if t.FollowUpByParticipant != nil {
		out.FollowUpByParticipant = make(map[ParticipantID]int, len(t.FollowUpByParticipant))
		for k, v := range t.FollowUpByParticipant {
			out.FollowUpByParticipant[k] = v
		}
	}
	return out
}

// SortedIDs returns ids ascending, without mutating the input.
func SortedIDs(ids []ParticipantID) []ParticipantID {
	out := append([]ParticipantID(nil), ids...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
