package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/vigilops/vigil/internal/alerting/service/alertstore"
)

// Sender delivers one notification to one destination.
type Sender interface {
	Send(ctx context.Context, dest Destination, alert *alertstore.Alert) error
}

// HTTPSender posts notifications over HTTP with a bounded timeout.
type HTTPSender struct {
	client *http.Client
}

func NewHTTPSender(timeout time.Duration) *HTTPSender {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPSender{client: &http.Client{Timeout: timeout}}
}

func (s *HTTPSender) Send(ctx context.Context, dest Destination, alert *alertstore.Alert) error {
	var body []byte
	switch dest.Type {
	case DestSlack:
		payload := map[string]string{
			"text": fmt.Sprintf("[%s] %s (count=%d)", alert.Severity, alert.Message, alert.Count),
		}
		body, _ = json.Marshal(payload)
	case DestWebhook:
		body, _ = json.Marshal(alert)
	default:
		return fmt.Errorf("unsupported destination type: %s", dest.Type)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, dest.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range dest.Headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", dest.Type, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s returned status %d", dest.Type, resp.StatusCode)
	}
	return nil
}
