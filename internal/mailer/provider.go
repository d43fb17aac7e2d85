package mailer

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

// ErrProviderUnavailable means the circuit breaker refused the send; the job
// stays retryable.
var ErrProviderUnavailable = fmt.Errorf("email provider unavailable")

// SendError is a non-2xx provider response. The status code lets callers
// separate our misconfiguration (bad credentials) from recipient problems.
type SendError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *SendError) Error() string {
	return fmt.Sprintf("provider=%s status=%d: %s", e.Provider, e.StatusCode, e.Message)
}

// Auth reports whether the provider rejected our credentials. The failure is
// about this service, not the recipient; treating it as a bounce would
// suppress contacts over a bad API key.
func (e *SendError) Auth() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// Email is the wire contract with the transactional provider.
type Email struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
	Text    string `json:"text,omitempty"`
}

// Provider sends one email and returns the provider message id. Errors carry
// the provider's human-readable message so callers can pattern-match bounces.
type Provider interface {
	Name() string
	Send(ctx context.Context, email Email) (string, error)
}

type HTTPProvider struct {
	name   string
	url    string
	apiKey string
	from   string
	client *http.Client
	br     *MicroBreaker
}

func NewHTTPProvider(name, url, apiKey, from string, timeoutMs, failThreshold, openForMs int) *HTTPProvider {
	if timeoutMs <= 0 {
		timeoutMs = 5000
	}

	if failThreshold <= 0 {
		failThreshold = 3
	}

	if openForMs <= 0 {
		openForMs = 15000
	}

	return &HTTPProvider{
		name:   name,
		url:    url,
		apiKey: apiKey,
		from:   from,
		client: &http.Client{Timeout: time.Duration(timeoutMs) * time.Millisecond},
		br:     NewMicroBreaker(failThreshold, time.Duration(openForMs)*time.Millisecond),
	}
}

func (p *HTTPProvider) Name() string { return p.name }

func (p *HTTPProvider) Send(ctx context.Context, email Email) (string, error) {
	if !p.br.TryAcquire() {
		return "", ErrProviderUnavailable
	}

	if email.From == "" {
		email.From = p.from
	}

	id, err := p.post(ctx, email)
	if err != nil {
		p.br.OnFailure()
		return "", err
	}

	p.br.OnSuccess()

	return id, nil
}

type sendResponse struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

func (p *HTTPProvider) post(ctx context.Context, email Email) (string, error) {
	b, _ := json.Marshal(email)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(b))
	if err != nil {
		return "", err
	}

	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	res, err := p.client.Do(req)
	if err != nil {
		return "", err
	}

	defer res.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))

	if res.StatusCode/100 != 2 {
		// Keep the provider message in the error; bounce classification
		// pattern-matches it.
		var parsed sendResponse
		msg := strings.TrimSpace(string(body))
		if json.Unmarshal(body, &parsed) == nil && parsed.Message != "" {
			msg = parsed.Message
		}
		return "", &SendError{Provider: p.name, StatusCode: res.StatusCode, Message: msg}
	}

	var parsed sendResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("provider=%s decode response: %w", p.name, err)
	}

	return parsed.ID, nil
}
