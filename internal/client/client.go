// Package client is the HTTP client the capture and coordinator sides use
// to talk to the coaching backend.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vvou01/interview-pilot/internal/coach"
	"github.com/vvou01/interview-pilot/internal/storage"
	"github.com/vvou01/interview-pilot/internal/transcript"
)

type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func New(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// NotifySessionStart marks the session active on the backend. Idempotent on
// the server side; callers own the bounded-retry policy.
func (c *Client) NotifySessionStart(ctx context.Context, sessionID string) error {
	return c.do(ctx, http.MethodPost, "/api/sessions/"+sessionID+"/start", nil, nil)
}

// SendUtterance forwards a finalized utterance for transcript persistence
// and possible coaching.
func (c *Client) SendUtterance(ctx context.Context, sessionID string, u transcript.Utterance) (coach.Result, error) {
	req := coach.UtteranceRequest{
		SessionID:        sessionID,
		Role:             u.Role,
		Text:             u.Text,
		TimestampSeconds: u.TimestampSeconds,
	}
	var res coach.Result
	err := c.do(ctx, http.MethodPost, "/api/sessions/"+sessionID+"/utterances", req, &res)
	return res, err
}

func (c *Client) EndSession(ctx context.Context, sessionID string) error {
	return c.do(ctx, http.MethodPost, "/api/sessions/"+sessionID+"/end", nil, nil)
}

func (c *Client) GetSession(ctx context.Context, sessionID string) (storage.Session, error) {
	var sess storage.Session
	err := c.do(ctx, http.MethodGet, "/api/sessions/"+sessionID, nil, &sess)
	return sess, err
}

func (c *Client) GetTranscript(ctx context.Context, sessionID string) ([]transcript.Entry, error) {
	var entries []transcript.Entry
	err := c.do(ctx, http.MethodGet, "/api/sessions/"+sessionID+"/transcript", nil, &entries)
	return entries, err
}

// GetLatestSuggestion returns nil without error when the session exists but
// has no suggestion yet. An unknown session is storage.ErrNotFound.
func (c *Client) GetLatestSuggestion(ctx context.Context, sessionID string) (*storage.Suggestion, error) {
	var sug storage.Suggestion
	status, err := c.doStatus(ctx, http.MethodGet, "/api/sessions/"+sessionID+"/suggestions/latest", nil, &sug)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNoContent {
		return nil, nil
	}
	return &sug, nil
}

// GetReport returns nil without error while the debrief is still pending
// (or permanently failed; the backend does not distinguish). An unknown
// session is storage.ErrNotFound.
func (c *Client) GetReport(ctx context.Context, sessionID string) (*storage.DebriefReport, error) {
	var r storage.DebriefReport
	status, err := c.doStatus(ctx, http.MethodGet, "/api/sessions/"+sessionID+"/report", nil, &r)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNoContent {
		return nil, nil
	}
	return &r, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	_, err := c.doStatus(ctx, method, path, body, out)
	return err
}

func (c *Client) doStatus(ctx context.Context, method, path string, body, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return resp.StatusCode, coach.ErrUnauthorized
	case http.StatusForbidden:
		return resp.StatusCode, storage.ErrForbidden
	case http.StatusNotFound:
		return resp.StatusCode, storage.ErrNotFound
	}
	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return resp.StatusCode, fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, strings.TrimSpace(string(msg)))
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return resp.StatusCode, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("decode %s response: %w", path, err)
	}
	return resp.StatusCode, nil
}
