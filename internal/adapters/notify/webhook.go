// Package notify delivers notify job payloads to an external notification
// endpoint over HTTP. Rendering and recipient resolution happen on the
// receiving side; this adapter only ships the template id and variables.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/waiterbildung/course-advisor/internal/domain"
	"github.com/waiterbildung/course-advisor/internal/domain/model"
)

const (
	defaultTimeout = 10 * time.Second
	maxErrorBody   = 1024
)

// Config controls webhook delivery.
type Config struct {
	// EndpointURL receives notification payloads via POST.
	EndpointURL string
	// AuthToken is sent as a bearer token when set.
	AuthToken string
	// Timeout bounds each delivery attempt.
	Timeout time.Duration
	// RetryLimit is the number of in-process retries after the first attempt.
	RetryLimit int
	// Client overrides the HTTP client, mainly for tests.
	Client *http.Client
}

// Sender posts notification payloads to the configured endpoint.
type Sender struct {
	endpointURL string
	authToken   string
	retryLimit  int
	client      *http.Client
}

// NewSender validates the configuration and builds a webhook sender.
func NewSender(cfg Config) (*Sender, error) {
	endpoint := strings.TrimSpace(cfg.EndpointURL)
	if endpoint == "" {
		return nil, errors.New("notify endpoint url is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}

	retryLimit := cfg.RetryLimit
	if retryLimit < 0 {
		retryLimit = 0
	}

	return &Sender{
		endpointURL: endpoint,
		authToken:   cfg.AuthToken,
		retryLimit:  retryLimit,
		client:      client,
	}, nil
}

// deliveryEnvelope is the wire shape posted to the notification endpoint.
type deliveryEnvelope struct {
	TemplateID string            `json:"template_id"`
	Recipient  string            `json:"recipient,omitempty"`
	Variables  map[string]string `json:"variables,omitempty"`
	SentAt     string            `json:"sent_at"`
}

// Send posts the payload, retrying transport failures in process. A response
// the endpoint rejects as invalid is not retried here; the job queue decides
// what happens next.
func (s *Sender) Send(ctx context.Context, payload model.NotifyJobPayload) error {
	if payload.TemplateID == "" {
		return &domain.ValidationError{Field: "template_id", Reason: "must not be empty"}
	}

	body, err := json.Marshal(deliveryEnvelope{
		TemplateID: payload.TemplateID,
		Recipient:  payload.Recipient,
		Variables:  payload.Variables,
		SentAt:     time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("marshal notification payload: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= s.retryLimit; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * 200 * time.Millisecond
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		lastErr = s.post(ctx, body)
		if lastErr == nil {
			return nil
		}

		var vErr *domain.ValidationError
		if errors.As(lastErr, &vErr) {
			return lastErr
		}
	}

	return fmt.Errorf("notification delivery failed after %d attempts: %w", s.retryLimit+1, lastErr)
}

func (s *Sender) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpointURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.authToken)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return &domain.TransientNetworkError{URL: s.endpointURL, Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		// The endpoint rejected the payload itself. Retrying the same
		// bytes cannot succeed.
		return &domain.ValidationError{
			Field:  "payload",
			Reason: fmt.Sprintf("endpoint rejected notification: status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail))),
		}
	}

	return &domain.TransientNetworkError{
		URL: s.endpointURL,
		Err: fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail))),
	}
}
