// Package api is the HTTP client for the interview backend: metadata,
// session issuance and follow-up generation. It covers exactly the
// collaborator surface the realtime core needs; the wider platform API is
// out of scope.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cloudcomputinginha/interview-rt/internal/interview"
)

// Backend is the collaborator surface consumed by bootstrap and hydration.
// *Client implements it; tests substitute fakes.
type Backend interface {
	GetInterviewMetadata(ctx context.Context, interviewID string) (interview.Metadata, error)
	GenerateAllSessions(ctx context.Context, meta interview.Metadata) ([]interview.SessionSnapshot, error)
	GetSessionByIdentityPair(ctx context.Context, interviewID string, pid interview.ParticipantID) (interview.SessionSnapshot, error)
	GetSessionByID(ctx context.Context, sid interview.SessionID) (interview.SessionSnapshot, error)
	GenerateFollowUps(ctx context.Context, sid interview.SessionID, questionIndex int) (interview.SessionSnapshot, error)
}

// Client talks to the interview backend over JSON/HTTP.
type Client struct {
	HTTPClient *http.Client
	BaseURL    string
}

// NewClient builds a Client for the given base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
		BaseURL:    strings.TrimRight(baseURL, "/"),
	}
}

// GetInterviewMetadata fetches the participant list and interview info.
func (c *Client) GetInterviewMetadata(ctx context.Context, interviewID string) (interview.Metadata, error) {
	var meta interview.Metadata
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/interviews/%s", url.PathEscape(interviewID)), nil, &meta)
	return meta, err
}

// GenerateAllSessions asks the backend to create sessions for every
// participant in one call. The response may be partial; callers fall back to
// per-participant polling for the missing set.
func (c *Client) GenerateAllSessions(ctx context.Context, meta interview.Metadata) ([]interview.SessionSnapshot, error) {
	var snaps []interview.SessionSnapshot
	path := fmt.Sprintf("/interviews/%s/sessions/generate", url.PathEscape(meta.InterviewID))
	err := c.do(ctx, http.MethodPost, path, meta, &snaps)
	return snaps, err
}

// GetSessionByIdentityPair polls one participant's session by the
// (interview, participant) pair.
func (c *Client) GetSessionByIdentityPair(ctx context.Context, interviewID string, pid interview.ParticipantID) (interview.SessionSnapshot, error) {
	var snap interview.SessionSnapshot
	path := fmt.Sprintf("/interviews/%s/participants/%s/session", url.PathEscape(interviewID), pid)
	err := c.do(ctx, http.MethodGet, path, nil, &snap)
	return snap, err
}

// GetSessionByID refreshes a known session.
func (c *Client) GetSessionByID(ctx context.Context, sid interview.SessionID) (interview.SessionSnapshot, error) {
	var snap interview.SessionSnapshot
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/sessions/%s", url.PathEscape(string(sid))), nil, &snap)
	return snap, err
}

// GenerateFollowUps requests follow-up content for one main question and
// returns the refreshed session snapshot.
func (c *Client) GenerateFollowUps(ctx context.Context, sid interview.SessionID, questionIndex int) (interview.SessionSnapshot, error) {
	var snap interview.SessionSnapshot
	path := fmt.Sprintf("/sessions/%s/questions/%d/followups", url.PathEscape(string(sid)), questionIndex)
	err := c.do(ctx, http.MethodPost, path, nil, &snap)
	return snap, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("backend error: %s %s status=%d body=%s", method, path, resp.StatusCode, string(b))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
