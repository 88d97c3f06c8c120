// Package sandbox submits code to a Judge0-compatible remote execution API
// and polls for the result, translated into the same streamed-chunk contract
// as the local orchestrator.
package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/antonkrylov/coderoom/internal/exec"
)

const (
	defaultPollInterval   = 500 * time.Millisecond
	defaultOverallTimeout = 20 * time.Second
	httpTimeout           = 10 * time.Second

	// A remote status id of 3 or above means the submission finished
	// (1 = in queue, 2 = processing).
	statusFinished = 3
)

// languageIDs maps language keys to remote language ids. Unmapped keys fall
// back to the script-language id.
var languageIDs = map[string]int{
	"javascript": 63,
	"python":     71,
	"java":       62,
	"c":          50,
	"cpp":        54,
}

// Client talks to one remote sandbox endpoint.
type Client struct {
	BaseURL string
	Logger  *slog.Logger

	// HTTPClient defaults to one with a 10s timeout.
	HTTPClient *http.Client

	PollInterval   time.Duration // zero means 500ms
	OverallTimeout time.Duration // zero means 20s
}

func NewClient(baseURL string, logger *slog.Logger) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Logger:     logger,
		HTTPClient: &http.Client{Timeout: httpTimeout},
	}
}

type submitRequest struct {
	SourceCode string `json:"source_code"`
	LanguageID int    `json:"language_id"`
	Stdin      string `json:"stdin"`
}

type submitResponse struct {
	Token string `json:"token"`
}

type submission struct {
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
	Status struct {
		ID          int    `json:"id"`
		Description string `json:"description"`
	} `json:"status"`
}

// Run submits the request and forwards every poll response's available
// stdout/stderr immediately. Duplicate chunks are acceptable: this is
// advisory terminal output, not exactly-once data. Every path terminates
// with exactly one Done chunk.
func (c *Client) Run(ctx context.Context, req exec.Request, emit exec.EmitFunc) {
	langID, ok := languageIDs[strings.ToLower(req.Language)]
	if !ok {
		langID = languageIDs["javascript"]
	}

	emit(exec.Chunk{Output: fmt.Sprintf("Submitting run %s to sandbox (language_id=%d)...\n", req.RunID, langID)})

	token, err := c.submit(ctx, req.Code, langID)
	if err != nil {
		emit(exec.Chunk{Output: "Sandbox error: " + err.Error() + "\n", IsError: true, Done: true})
		return
	}
	if token == "" {
		emit(exec.Chunk{Output: "Runner did not return a token.\n", IsError: true, Done: true})
		return
	}

	emit(exec.Chunk{Output: fmt.Sprintf("Submitted (token=%s). Polling for result...\n", token)})

	interval := c.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	overall := c.OverallTimeout
	if overall <= 0 {
		overall = defaultOverallTimeout
	}
	deadline := time.Now().Add(overall)

	for {
		sub, err := c.poll(ctx, token)
		if err != nil {
			emit(exec.Chunk{Output: "Sandbox error: " + err.Error() + "\n", IsError: true, Done: true})
			return
		}
		if sub.Stdout != "" {
			emit(exec.Chunk{Output: sub.Stdout})
		}
		if sub.Stderr != "" {
			emit(exec.Chunk{Output: sub.Stderr, IsError: true})
		}
		if sub.Status.ID >= statusFinished {
			desc := sub.Status.Description
			if desc == "" {
				desc = "finished"
			}
			emit(exec.Chunk{Output: "\nStatus: " + desc + "\n", Done: true})
			return
		}
		if time.Now().After(deadline) {
			emit(exec.Chunk{Output: "\nTimed out waiting for runner.\n", IsError: true, Done: true})
			return
		}
		select {
		case <-ctx.Done():
			emit(exec.Chunk{Output: "\nSandbox run canceled.\n", IsError: true, Done: true})
			return
		case <-time.After(interval):
		}
	}
}

func (c *Client) submit(ctx context.Context, code string, langID int) (string, error) {
	body, err := json.Marshal(submitRequest{SourceCode: code, LanguageID: langID})
	if err != nil {
		return "", fmt.Errorf("encode submission: %w", err)
	}
	url := c.BaseURL + "/submissions?base64_encoded=false&wait=false"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient().Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("submit: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("submit: unexpected status %s", resp.Status)
	}
	var decoded submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("decode submit response: %w", err)
	}
	return decoded.Token, nil
}

func (c *Client) poll(ctx context.Context, token string) (*submission, error) {
	url := c.BaseURL + "/submissions/" + token + "?base64_encoded=false"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient().Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("poll: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("poll: unexpected status %s", resp.Status)
	}
	var sub submission
	if err := json.NewDecoder(resp.Body).Decode(&sub); err != nil {
		return nil, fmt.Errorf("decode poll response: %w", err)
	}
	return &sub, nil
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: httpTimeout}
}
