// Package bootstrap resolves, once per interview entry, the mapping from
// every participant to their individual backend session.
//
// To avoid N clients concurrently creating duplicate sessions without a
// distributed lock, the participant with the numeric minimum id is elected
// generator: it alone issues the bulk create, everyone else polls. The rule
// is deterministic and collision-free using only data every client already
// has.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cloudcomputinginha/interview-rt/internal/api"
	"github.com/cloudcomputinginha/interview-rt/internal/interview"
	"github.com/cloudcomputinginha/interview-rt/internal/metrics"
	"github.com/cloudcomputinginha/interview-rt/internal/retry"
	"github.com/cloudcomputinginha/interview-rt/internal/store"
)

// Status is the orchestrator's terminal state.
type Status string

const (
	// StatusComplete means every participant resolved (trivially true for
	// an empty participant list).
	StatusComplete Status = "complete"
	// StatusPartial means some participants exhausted their retry budget.
	// Partial completion is not fatal: the interview proceeds without them.
	StatusPartial Status = "partial"
	// StatusFailed means bootstrap could not establish the participant
	// list at all.
	StatusFailed Status = "failed"
)

// Result is the read-only outcome of one bootstrap run.
type Result struct {
	Bindings   map[interview.ParticipantID]interview.SessionID
	Order      []interview.ParticipantID
	Unresolved []interview.ParticipantID
	Generator  interview.ParticipantID
	Status     Status
}

// Options configure an Orchestrator.
type Options struct {
	// Poll bounds each participant's session polling loop.
	// Default: 2s interval, 15 attempts.
	Poll   retry.Policy
	Logger *slog.Logger
	// Metrics counts terminal outcomes by status when set. Optional.
	Metrics *metrics.Metrics
}

// Orchestrator runs the session-resolution algorithm for one local
// participant.
type Orchestrator struct {
	backend api.Backend
	st      *store.Store
	self    interview.ParticipantID
	poll    retry.Policy
	log     *slog.Logger
	met     *metrics.Metrics
}

// New builds an Orchestrator for the local participant.
func New(backend api.Backend, st *store.Store, self interview.ParticipantID, opts Options) *Orchestrator {
	poll := opts.Poll
	if poll.MaxAttempts == 0 {
		poll = retry.Policy{Interval: 2 * time.Second, MaxAttempts: 15}
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{backend: backend, st: st, self: self, poll: poll, log: log, met: opts.Metrics}
}

// Run resolves every participant's session. Each resolved session is written
// to the store immediately, so resolution is observable incrementally;
// Result is the final summary.
func (o *Orchestrator) Run(ctx context.Context, interviewID string) (Result, error) {
	meta, err := retry.Do(ctx, o.poll, func(ctx context.Context) (interview.Metadata, error) {
		return o.backend.GetInterviewMetadata(ctx, interviewID)
	}, nil)
	if err != nil {
		o.met.RecordBootstrapOutcome(string(StatusFailed))
		return Result{Status: StatusFailed}, fmt.Errorf("fetch interview metadata: %w", err)
	}

	ids := meta.ParticipantIDs()
	if len(ids) == 0 {
		o.met.RecordBootstrapOutcome(string(StatusComplete))
		return Result{
			Bindings: map[interview.ParticipantID]interview.SessionID{},
			Status:   StatusComplete,
		}, nil
	}

	generator, _ := interview.MinParticipant(ids)
	o.log.Info("bootstrap starting",
		"interview", interviewID,
		"participants", len(ids),
		"generator", generator,
		"local", o.self,
	)

	pending := ids
	if o.self == generator {
		pending = o.generate(ctx, meta, ids)
	}
	unresolved := o.pollAll(ctx, interviewID, pending)

	res := Result{
		Bindings:   o.st.Bindings(),
		Order:      ids,
		Unresolved: unresolved,
		Generator:  generator,
		Status:     StatusComplete,
	}
	if len(unresolved) > 0 {
		res.Status = StatusPartial
		for _, pid := range unresolved {
			o.log.Warn("participant session unresolved", "participant", pid)
		}
	}
	o.met.RecordBootstrapOutcome(string(res.Status))
	return res, nil
}

// generate performs the one bulk create and returns the participants still
// missing from the response (bulk failure leaves everyone missing; the
// polling fallback covers them).
func (o *Orchestrator) generate(ctx context.Context, meta interview.Metadata, ids []interview.ParticipantID) []interview.ParticipantID {
	snaps, err := o.backend.GenerateAllSessions(ctx, meta)
	if err != nil {
		o.log.Warn("bulk session generation failed, falling back to polling", "error", err)
		return ids
	}
	resolved := make(map[interview.ParticipantID]bool, len(snaps))
	for _, snap := range snaps {
		if err := o.st.SetSession(snap); err != nil {
			o.log.Warn("rejecting generated session", "participant", snap.ParticipantID, "error", err)
			continue
		}
		resolved[snap.ParticipantID] = true
	}
	var missing []interview.ParticipantID
	for _, pid := range ids {
		if !resolved[pid] {
			missing = append(missing, pid)
		}
	}
	return missing
}

// pollAll resolves each pending participant by identity pair, in parallel,
// each with its own bounded retry budget. Returns the ids that exhausted
// their budget.
func (o *Orchestrator) pollAll(ctx context.Context, interviewID string, pending []interview.ParticipantID) []interview.ParticipantID {
	if len(pending) == 0 {
		return nil
	}
	var (
		mu         sync.Mutex
		unresolved []interview.ParticipantID
		wg         sync.WaitGroup
	)
	for _, pid := range pending {
		wg.Add(1)
		go func(pid interview.ParticipantID) {
			defer wg.Done()
			snap, err := retry.Do(ctx, o.poll, func(ctx context.Context) (interview.SessionSnapshot, error) {
				return o.backend.GetSessionByIdentityPair(ctx, interviewID, pid)
			}, func(s interview.SessionSnapshot) bool { return s.SessionID != "" })
			if err != nil {
				mu.Lock()
				unresolved = append(unresolved, pid)
				mu.Unlock()
				return
			}
			if err := o.st.SetSession(snap); err != nil {
				o.log.Warn("rejecting polled session", "participant", pid, "error", err)
				mu.Lock()
				unresolved = append(unresolved, pid)
				mu.Unlock()
			}
		}(pid)
	}
	wg.Wait()
	return unresolved
}
