// Package turnsync keeps a local TurnState replica consistent with the
// session authority over the JSON-framed control channel, and carries the
// advisory turn-change commands. Inbound frames are decoded once at the
// channel boundary into an explicit tagged union; unknown or malformed
// frames never cross it.
package turnsync

import (
	"encoding/json"
	"fmt"

	"github.com/cloudcomputinginha/interview-rt/internal/interview"
)

// ModeTag is the fixed mode discriminator in the control-channel address
// triple.
const ModeTag = "interview"

// STT pipeline progress values carried by stt_status.
const (
	STTProcessing = "processing"
	STTEnd        = "end"
)

// envelope is the raw wire shape; Type discriminates, the remaining fields
// are populated per message kind.
type envelope struct {
	Type string `json:"type"`

	// state
	Index             int            `json:"index,omitempty"`
	ActivePID         string         `json:"active_pid,omitempty"`
	FIndexCurrent     *int           `json:"f_index_current,omitempty"`
	Order             []string       `json:"order,omitempty"`
	ParticipantFIndex map[string]int `json:"participant_f_index,omitempty"`
	Seq               int64          `json:"seq,omitempty"`

	// stt_text
	Text          string `json:"text,omitempty"`
	ParticipantID string `json:"participant_id,omitempty"`
	FIndex        *int   `json:"f_index,omitempty"`

	// stt_status
	Status string `json:"status,omitempty"`
}

// ServerMessage is an inbound control-channel message.
type ServerMessage interface{ isServerMessage() }

// StateMessage carries a full TurnState snapshot; it replaces the replica.
type StateMessage struct{ State interview.TurnState }

// STTText is an incremental transcription fragment at a fixed coordinate.
type STTText struct {
	Text          string
	ParticipantID interview.ParticipantID
	QuestionIndex int
	FollowUpIndex int
}

// STTStatus reports transcription pipeline progress.
type STTStatus struct{ Status string }

// Finished signals the interview concluded.
type Finished struct{}

func (StateMessage) isServerMessage() {}
func (STTText) isServerMessage()      {}
func (STTStatus) isServerMessage()    {}
func (Finished) isServerMessage()     {}

// DecodeServerMessage parses one inbound text frame.
func DecodeServerMessage(data []byte) (ServerMessage, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("turnsync: malformed frame: %w", err)
	}
	switch env.Type {
	case "state":
		ts := interview.TurnState{
			ActiveParticipantID: interview.NoParticipant,
			MainQuestionIndex:   env.Index,
			FollowUpIndex:       -1,
			Seq:                 env.Seq,
		}
		if env.ActivePID != "" {
			pid, err := interview.ParseParticipantID(env.ActivePID)
			if err != nil {
				return nil, err
			}
			ts.ActiveParticipantID = pid
		}
		if env.FIndexCurrent != nil {
			ts.FollowUpIndex = *env.FIndexCurrent
		}
		for _, raw := range env.Order {
			pid, err := interview.ParseParticipantID(raw)
			if err != nil {
				return nil, err
			}
			ts.ParticipantOrder = append(ts.ParticipantOrder, pid)
		}
		if len(env.ParticipantFIndex) > 0 {
			ts.FollowUpByParticipant = make(map[interview.ParticipantID]int, len(env.ParticipantFIndex))
			for raw, idx := range env.ParticipantFIndex {
				pid, err := interview.ParseParticipantID(raw)
				if err != nil {
					return nil, err
				}
				ts.FollowUpByParticipant[pid] = idx
			}
		}
		return StateMessage{State: ts}, nil
	case "stt_text":
		pid, err := interview.ParseParticipantID(env.ParticipantID)
		if err != nil {
			return nil, err
		}
		fIndex := -1
		if env.FIndex != nil {
			fIndex = *env.FIndex
		}
		return STTText{
			Text:          env.Text,
			ParticipantID: pid,
			QuestionIndex: env.Index,
			FollowUpIndex: fIndex,
		}, nil
	case "stt_status":
		if env.Status != STTProcessing && env.Status != STTEnd {
			return nil, fmt.Errorf("turnsync: unknown stt status %q", env.Status)
		}
		return STTStatus{Status: env.Status}, nil
	case "finished":
		return Finished{}, nil
	default:
		return nil, fmt.Errorf("turnsync: unknown message type %q", env.Type)
	}
}

// EncodeStateMessage builds the wire form of a state snapshot. Used by the
// session authority; clients only decode.
func EncodeStateMessage(ts interview.TurnState) ([]byte, error) {
	env := envelope{
		Type:  "state",
		Index: ts.MainQuestionIndex,
		Seq:   ts.Seq,
	}
	f := ts.FollowUpIndex
	env.FIndexCurrent = &f
	if ts.ActiveParticipantID != interview.NoParticipant {
		env.ActivePID = ts.ActiveParticipantID.String()
	}
	env.Order = make([]string, 0, len(ts.ParticipantOrder))
	for _, pid := range ts.ParticipantOrder {
		env.Order = append(env.Order, pid.String())
	}
	if len(ts.FollowUpByParticipant) > 0 {
		env.ParticipantFIndex = make(map[string]int, len(ts.FollowUpByParticipant))
		for pid, idx := range ts.FollowUpByParticipant {
			env.ParticipantFIndex[pid.String()] = idx
		}
	}
	return json.Marshal(env)
}

// EncodeSTTText builds an stt_text frame.
func EncodeSTTText(m STTText) ([]byte, error) {
	f := m.FollowUpIndex
	return json.Marshal(envelope{
		Type:          "stt_text",
		Text:          m.Text,
		ParticipantID: m.ParticipantID.String(),
		Index:         m.QuestionIndex,
		FIndex:        &f,
	})
}

// EncodeSTTStatus builds an stt_status frame.
func EncodeSTTStatus(status string) ([]byte, error) {
	return json.Marshal(envelope{Type: "stt_status", Status: status})
}

// EncodeFinished builds the finished frame.
func EncodeFinished() ([]byte, error) {
	return json.Marshal(envelope{Type: "finished"})
}

// Command is an outbound advisory request; the authority alone decides and
// broadcasts the resulting truth.
type Command interface{ isCommand() }

// Advance asks the authority to move to the next question or follow-up.
type Advance struct{}

// SetOrder proposes a new participant ordering.
type SetOrder struct{ Order []interview.ParticipantID }

// SetActive asks for a specific participant to take the floor.
type SetActive struct{ ParticipantID interview.ParticipantID }

func (Advance) isCommand()   {}
func (SetOrder) isCommand()  {}
func (SetActive) isCommand() {}

type commandEnvelope struct {
	Type          string   `json:"type"`
	Order         []string `json:"order,omitempty"`
	ParticipantID string   `json:"participant_id,omitempty"`
}

// EncodeCommand builds the wire form of an outbound command.
func EncodeCommand(c Command) ([]byte, error) {
	switch cmd := c.(type) {
	case Advance:
		return json.Marshal(commandEnvelope{Type: "advance"})
	case SetOrder:
		order := make([]string, 0, len(cmd.Order))
		for _, pid := range cmd.Order {
			order = append(order, pid.String())
		}
		return json.Marshal(commandEnvelope{Type: "set_order", Order: order})
	case SetActive:
		return json.Marshal(commandEnvelope{Type: "set_active", ParticipantID: cmd.ParticipantID.String()})
	default:
		return nil, fmt.Errorf("turnsync: unknown command %T", c)
	}
}

// DecodeCommand parses an inbound command on the authority side.
func DecodeCommand(data []byte) (Command, error) {
	var env commandEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("turnsync: malformed command: %w", err)
	}
	switch env.Type {
	case "advance":
		return Advance{}, nil
	case "set_order":
		order := make([]interview.ParticipantID, 0, len(env.Order))
		for _, raw := range env.Order {
			pid, err := interview.ParseParticipantID(raw)
			if err != nil {
				return nil, err
			}
			order = append(order, pid)
		}
		return SetOrder{Order: order}, nil
	case "set_active":
		pid, err := interview.ParseParticipantID(env.ParticipantID)
		if err != nil {
			return nil, err
		}
		return SetActive{ParticipantID: pid}, nil
	default:
		return nil, fmt.Errorf("turnsync: unknown command type %q", env.Type)
	}
}
