package main

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/cloudcomputinginha/interview-rt/internal/interview"
	"github.com/cloudcomputinginha/interview-rt/internal/store"
)

// followUpBackend scripts only the follow-up call.
type followUpBackend struct {
	snap interview.SessionSnapshot
	err  error
}

func (b *followUpBackend) GetInterviewMetadata(ctx context.Context, id string) (interview.Metadata, error) {
	return interview.Metadata{}, errors.New("not scripted")
}

func (b *followUpBackend) GenerateAllSessions(ctx context.Context, meta interview.Metadata) ([]interview.SessionSnapshot, error) {
	return nil, errors.New("not scripted")
}

func (b *followUpBackend) GetSessionByIdentityPair(ctx context.Context, id string, pid interview.ParticipantID) (interview.SessionSnapshot, error) {
	return interview.SessionSnapshot{}, errors.New("not scripted")
}

func (b *followUpBackend) GetSessionByID(ctx context.Context, sid interview.SessionID) (interview.SessionSnapshot, error) {
	return interview.SessionSnapshot{}, errors.New("not scripted")
}

func (b *followUpBackend) GenerateFollowUps(ctx context.Context, sid interview.SessionID, q int) (interview.SessionSnapshot, error) {
	return b.snap, b.err
}

func seededStore(t *testing.T) *store.Store {
	t.Helper()
	st := store.New()
	err := st.SetSession(interview.SessionSnapshot{
		SessionID:     "sid-1",
		ParticipantID: 1,
		Cursor:        interview.Cursor{FollowUpIndex: -1},
		Questions:     []interview.Question{{Text: "q0"}, {Text: "q1"}},
	})
	if err != nil {
		t.Fatalf("seed session: %v", err)
	}
	return st
}

func TestHydrateFollowUpsStoresGenerated(t *testing.T) {
	st := seededStore(t)
	backend := &followUpBackend{
		snap: interview.SessionSnapshot{
			SessionID: "sid-1",
			Questions: []interview.Question{
				{Text: "q0"},
				{Text: "q1", FollowUps: []interview.FollowUp{{Text: "f0"}, {Text: "f1"}}},
			},
		},
	}
	if err := hydrateFollowUps(context.Background(), backend, st, "sid-1", 1); err != nil {
		t.Fatalf("hydrate: %v", err)
	}
	snap, ok := st.Session("sid-1")
	if !ok {
		t.Fatal("session missing after hydration")
	}
	if got := len(snap.Questions[1].FollowUps); got != 2 {
		t.Fatalf("follow-ups stored: got %d want 2", got)
	}
}

func TestHydrateFollowUpsRejectsShortResponse(t *testing.T) {
	// A response with fewer questions than the requested index must come
	// back as an error, never index past the slice.
	st := seededStore(t)
	backend := &followUpBackend{
		snap: interview.SessionSnapshot{
			SessionID: "sid-1",
			Questions: []interview.Question{{Text: "q0"}},
		},
	}
	err := hydrateFollowUps(context.Background(), backend, st, "sid-1", 1)
	if err == nil {
		t.Fatal("expected an error for a short response")
	}
	if !strings.Contains(err.Error(), "want index 1") {
		t.Fatalf("unexpected error: %v", err)
	}
	snap, _ := st.Session("sid-1")
	if len(snap.Questions[1].FollowUps) != 0 {
		t.Fatalf("store mutated by rejected response: %+v", snap.Questions[1])
	}
}

func TestHydrateFollowUpsPropagatesBackendError(t *testing.T) {
	st := seededStore(t)
	backend := &followUpBackend{err: errors.New("backend down")}
	if err := hydrateFollowUps(context.Background(), backend, st, "sid-1", 0); err == nil {
		t.Fatal("expected backend error")
	}
}
