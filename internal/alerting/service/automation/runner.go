package automation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// RunnerClient talks to the external playbook step executor over HTTP.
// Calls carry an idempotency key so the remote side can dedupe retries.
type RunnerClient struct {
	base   string
	client *http.Client
}

func NewRunnerClient(baseURL string, timeout time.Duration) *RunnerClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &RunnerClient{
		base:   strings.TrimSuffix(baseURL, "/"),
		client: &http.Client{Timeout: timeout},
	}
}

type runnerResponse struct {
	Status string `json:"status"`
	ID     string `json:"id"`
}

// StatusError means the runner answered but reported a non-success outcome.
// Callers use it to tell an execution failure apart from a dependency
// failure (transport error, bad gateway, timeout).
type StatusError struct {
	Status string
	Code   int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("playbook runner reported status %q (http %d)", e.Status, e.Code)
}

// TestRun invokes POST /playbooks/test-run with a synthesized mock subject.
// The returned string is the remote execution id for the audit output_ref.
func (r *RunnerClient) TestRun(ctx context.Context, playbookID string, mockSubject map[string]any, idempotencyKey string) (string, error) {
	body := map[string]any{
		"jsonBody":    map[string]any{"playbookId": playbookID},
		"mockSubject": mockSubject,
	}
	return r.post(ctx, "/playbooks/test-run", body, idempotencyKey)
}

// Run invokes POST /enrich/playbooks/run for a real execution.
func (r *RunnerClient) Run(ctx context.Context, subjectKind, subjectID, playbookID, idempotencyKey string) (string, error) {
	body := map[string]any{
		"subjectKind":  subjectKind,
		"subjectId":    subjectID,
		"playbookId":   playbookID,
		"attachAsNote": true,
	}
	return r.post(ctx, "/enrich/playbooks/run", body, idempotencyKey)
}

func (r *RunnerClient) post(ctx context.Context, path string, body map[string]any, idempotencyKey string) (string, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal runner request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.base+path, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build runner request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Idempotency-Key", idempotencyKey)

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("call playbook runner: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if resp.StatusCode >= 500 {
		return "", fmt.Errorf("playbook runner status %d", resp.StatusCode)
	}

	var parsed runnerResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("decode runner response: %w", err)
	}
	if resp.StatusCode >= 300 || parsed.Status != "success" {
		return parsed.ID, &StatusError{Status: parsed.Status, Code: resp.StatusCode}
	}
	return parsed.ID, nil
}

// IdempotencyKey derives the stable key for one (alert, binding, kind) call.
func IdempotencyKey(alertID, bindingID, kind string) string {
	return fmt.Sprintf("alert:%s:binding:%s:%s", alertID, bindingID, kind)
}
