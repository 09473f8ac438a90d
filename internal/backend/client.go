// Package backend talks to the algorithm-execution service: step runs,
// the problem catalog, voice session tokens and session logging.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/chadiek/algoviz/internal/step"
)

type Client struct {
	HTTPClient *http.Client
	BaseURL    string
}

func NewClient(baseURL string) *Client {
	return &Client{
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		BaseURL:    strings.TrimRight(baseURL, "/"),
	}
}

// Problem is one catalog entry.
type Problem struct {
	Name            string         `json:"name"`
	Topic           string         `json:"topic"`
	Subtopic        string         `json:"subtopic"`
	Description     string         `json:"description"`
	LongDescription string         `json:"long_description"`
	RendererType    string         `json:"renderer_type"`
	DefaultParams   map[string]any `json:"default_params"`
}

// VoiceSession is an ephemeral credential for the realtime voice model.
type VoiceSession struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
	StepCount int    `json:"step_count"`
}

type runRequest struct {
	Problem string         `json:"problem"`
	Params  map[string]any `json:"params"`
	Compact bool           `json:"compact"`
}

// Run executes problem with params and returns its step sequence. A
// service-side {error} comes back as *step.ServiceError.
func (c *Client) Run(ctx context.Context, problem string, params map[string]any, compact bool) (*step.Run, error) {
	if params == nil {
		params = map[string]any{}
	}
	body, err := c.do(ctx, http.MethodPost, "/api/run", runRequest{Problem: problem, Params: params, Compact: compact})
	if err != nil {
		return nil, err
	}
	return step.DecodeRun(body)
}

// Problems lists the catalog.
func (c *Client) Problems(ctx context.Context) ([]Problem, error) {
	body, err := c.do(ctx, http.MethodGet, "/api/problems", nil)
	if err != nil {
		return nil, err
	}
	var out []Problem
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode problems: %w", err)
	}
	return out, nil
}

// VoiceSession mints a token for problemID.
func (c *Client) VoiceSession(ctx context.Context, problemID string) (*VoiceSession, error) {
	body, err := c.do(ctx, http.MethodPost, "/api/voice-session", map[string]string{"problem_id": problemID})
	if err != nil {
		return nil, err
	}
	var vs VoiceSession
	if err := json.Unmarshal(body, &vs); err != nil {
		return nil, fmt.Errorf("decode voice session: %w", err)
	}
	if vs.Token == "" {
		return nil, fmt.Errorf("voice session: empty token")
	}
	return &vs, nil
}

// LogSession posts a finished voice session record.
func (c *Client) LogSession(ctx context.Context, record any) error {
	_, err := c.do(ctx, http.MethodPost, "/api/log-session", record)
	return err
}

// do sends a JSON request and returns the body of a 2xx response. Error
// bodies of the form {"error": "..."} become *step.ServiceError.
func (c *Client) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var rd io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, rd)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s %s: read body: %w", method, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var se struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &se) == nil && se.Error != "" {
			return nil, &step.ServiceError{Message: se.Error}
		}
		return nil, fmt.Errorf("%s %s: status=%d body=%s", method, path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}
