package authority

import (
	"fmt"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/cloudcomputinginha/interview-rt/internal/interview"
	"github.com/cloudcomputinginha/interview-rt/internal/turnsync"
)

// room is the per-interview hub: one authoritative TurnState, the set of
// control connections it is broadcast to, and the set of audio connections
// frames are relayed across. All connection writes happen under mu, which
// also satisfies the one-writer rule of the websocket package.
type room struct {
	svc  *Service
	meta interview.Metadata

	mu       sync.Mutex
	started  bool
	finished bool
	state    interview.TurnState
	control  map[*websocket.Conn]interview.ParticipantID
	audio    map[*websocket.Conn]interview.ParticipantID
}

func newRoom(svc *Service, meta interview.Metadata) *room {
	return &room{
		svc:     svc,
		meta:    meta,
		control: make(map[*websocket.Conn]interview.ParticipantID),
		audio:   make(map[*websocket.Conn]interview.ParticipantID),
	}
}

func (r *room) isParticipant(pid interview.ParticipantID) bool {
	for _, p := range r.meta.Participants {
		if p.ParticipantID == pid {
			return true
		}
	}
	return false
}

// attachControl registers a control connection and sends it the current
// snapshot. The first connection seeds the turn state: metadata order, floor
// to the first participant, cursor on the first main question.
func (r *room) attachControl(conn *websocket.Conn, pid interview.ParticipantID) error {
	if !r.isParticipant(pid) {
		return fmt.Errorf("authority: participant %s not in interview %s", pid, r.meta.InterviewID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.started {
		order := r.meta.ParticipantIDs()
		r.state = interview.TurnState{
			ActiveParticipantID:   order[0],
			MainQuestionIndex:     0,
			FollowUpIndex:         -1,
			ParticipantOrder:      order,
			FollowUpByParticipant: make(map[interview.ParticipantID]int),
			Seq:                   1,
		}
		r.started = true
	}
	r.control[conn] = pid
	if r.svc.met != nil {
		r.svc.met.ControlConnections.Inc()
	}
	data, err := turnsync.EncodeStateMessage(r.state)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (r *room) detachControl(conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.control[conn]; ok {
		delete(r.control, conn)
		if r.svc.met != nil {
			r.svc.met.ControlConnections.Dec()
		}
	}
}

// handleCommand decodes and applies one control frame from a participant.
// Invalid or unauthorized commands are dropped; only accepted commands
// produce a broadcast.
func (r *room) handleCommand(from interview.ParticipantID, data []byte) {
	cmd, err := turnsync.DecodeCommand(data)
	if err != nil {
		r.svc.log.Warn("control frame dropped", "participant", from, "err", err)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished {
		r.rejectLocked(from, cmd, "interview finished")
		return
	}

	switch c := cmd.(type) {
	case turnsync.Advance:
		// Only the floor holder moves the cursor.
		if from != r.state.ActiveParticipantID {
			r.rejectLocked(from, cmd, "not the active participant")
			return
		}
		questions := r.svc.questionsFor(r.meta.InterviewID)
		done := advanceCursor(questions, &r.state)
		r.state.FollowUpByParticipant[from] = r.state.FollowUpIndex
		r.acceptLocked(cmd)
		r.broadcastStateLocked()
		if done {
			r.finished = true
			r.broadcastFinishedLocked()
		}
	case turnsync.SetOrder:
		if len(c.Order) == 0 {
			r.rejectLocked(from, cmd, "empty order")
			return
		}
		for _, pid := range c.Order {
			if !r.isParticipant(pid) {
				r.rejectLocked(from, cmd, "unknown participant in order")
				return
			}
		}
		r.state.ParticipantOrder = append([]interview.ParticipantID(nil), c.Order...)
		r.acceptLocked(cmd)
		r.broadcastStateLocked()
	case turnsync.SetActive:
		if !r.isParticipant(c.ParticipantID) {
			r.rejectLocked(from, cmd, "unknown participant")
			return
		}
		r.state.ActiveParticipantID = c.ParticipantID
		r.acceptLocked(cmd)
		r.broadcastStateLocked()
	}
}

// advanceCursor moves (main, follow-up) one step forward through the
// question sequence. It returns true when the cursor fell off the end.
func advanceCursor(questions []interview.Question, st *interview.TurnState) bool {
	if st.MainQuestionIndex >= len(questions) {
		return true
	}
	q := questions[st.MainQuestionIndex]
	if st.FollowUpIndex+1 < len(q.FollowUps) {
		st.FollowUpIndex++
		return false
	}
	if st.MainQuestionIndex+1 < len(questions) {
		st.MainQuestionIndex++
		st.FollowUpIndex = -1
		return false
	}
	return true
}

func (r *room) acceptLocked(cmd turnsync.Command) {
	if r.svc.met != nil {
		r.svc.met.CommandsApplied.WithLabelValues(commandLabel(cmd)).Inc()
	}
}

func (r *room) rejectLocked(from interview.ParticipantID, cmd turnsync.Command, reason string) {
	if r.svc.met != nil {
		r.svc.met.CommandsRejected.WithLabelValues(commandLabel(cmd)).Inc()
	}
	r.svc.log.Warn("command rejected",
		"interview_id", r.meta.InterviewID,
		"participant", from,
		"command", commandLabel(cmd),
		"reason", reason)
}

func commandLabel(cmd turnsync.Command) string {
	switch cmd.(type) {
	case turnsync.Advance:
		return "advance"
	case turnsync.SetOrder:
		return "set_order"
	case turnsync.SetActive:
		return "set_active"
	default:
		return "unknown"
	}
}

func (r *room) broadcastStateLocked() {
	r.state.Seq++
	data, err := turnsync.EncodeStateMessage(r.state)
	if err != nil {
		r.svc.log.Error("encode state failed", "err", err)
		return
	}
	if r.svc.met != nil {
		r.svc.met.StateBroadcasts.Inc()
	}
	for conn := range r.control {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			r.svc.log.Warn("state broadcast failed", "participant", r.control[conn], "err", err)
		}
	}
}

func (r *room) broadcastFinishedLocked() {
	data, err := turnsync.EncodeFinished()
	if err != nil {
		return
	}
	for conn := range r.control {
		_ = conn.WriteMessage(websocket.TextMessage, data)
	}
}

func (r *room) attachAudio(conn *websocket.Conn, pid interview.ParticipantID) error {
	if !r.isParticipant(pid) {
		return fmt.Errorf("authority: participant %s not in interview %s", pid, r.meta.InterviewID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audio[conn] = pid
	if r.svc.met != nil {
		r.svc.met.AudioConnections.Inc()
	}
	return nil
}

func (r *room) detachAudio(conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.audio[conn]; ok {
		delete(r.audio, conn)
		if r.svc.met != nil {
			r.svc.met.AudioConnections.Dec()
		}
	}
}

// relayAudio fans one binary frame out to every other audio connection in
// the interview. A failed peer write drops the frame for that peer only.
func (r *room) relayAudio(from *websocket.Conn, data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for conn := range r.audio {
		if conn == from {
			continue
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
			if r.svc.met != nil {
				r.svc.met.FramesDropped.Inc()
			}
			continue
		}
		if r.svc.met != nil {
			r.svc.met.FramesRelayed.Inc()
		}
	}
}
