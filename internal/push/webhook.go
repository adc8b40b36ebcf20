package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/foxzi/reengage/internal/personalize"
)

// WebhookSender posts notifications as JSON to an HTTP endpoint
type WebhookSender struct {
	url        string
	token      string
	httpClient *http.Client
}

// webhookRequest is the payload sent to the endpoint
type webhookRequest struct {
	UserID string            `json:"user_id"`
	Title  string            `json:"title"`
	Body   string            `json:"body"`
	URL    string            `json:"url"`
	Data   map[string]string `json:"data,omitempty"`
}

// NewWebhookSender creates a webhook sender. An empty token sends no
// Authorization header.
func NewWebhookSender(url, token string, timeout time.Duration) *WebhookSender {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookSender{
		url:   url,
		token: token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Send implements Sender. Network errors and 5xx responses are temporary,
// other 4xx responses are permanent.
func (s *WebhookSender) Send(ctx context.Context, userID string, msg personalize.Message) (Result, error) {
	data, err := json.Marshal(webhookRequest{
		UserID: userID,
		Title:  msg.Title,
		Body:   msg.Body,
		URL:    msg.URL,
		Data:   msg.Data,
	})
	if err != nil {
		return Result{}, Permanent(fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(data))
	if err != nil {
		return Result{}, Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return Result{}, &DeliveryError{Temporary: true, Message: fmt.Sprintf("do request: %v", err), Err: err}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	if resp.StatusCode >= 400 {
		err := fmt.Errorf("webhook returned HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(body))
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusRequestTimeout {
			return Result{}, &DeliveryError{Temporary: true, Message: err.Error(), Err: err}
		}
		return Result{}, Permanent(err)
	}

	// Endpoints that fan out to devices may report counts; anything else
	// counts as one successful delivery.
	var result Result
	if len(bytes.TrimSpace(body)) > 0 && json.Unmarshal(body, &result) == nil && result.Success+result.Failed > 0 {
		return result, nil
	}
	return Result{Success: 1}, nil
}
