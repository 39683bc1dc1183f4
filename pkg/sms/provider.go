package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Provider sends one message to one E.164 phone number and returns the
// gateway's message id. Implementations must be safe for concurrent
// use; the dispatcher calls Send from independent goroutines.
type Provider interface {
	Send(ctx context.Context, phone, body string) (SendResult, error)
}

type SendResult struct {
	MessageID string
}

type Config struct {
	Endpoint string        `env:"SMS_ENDPOINT"`
	APIKey   string        `env:"SMS_API_KEY"`
	Sender   string        `env:"SMS_SENDER"` // registered sender number
	Timeout  time.Duration `env:"SMS_TIMEOUT"`
}

// HTTPProvider talks to the SMS gateway's REST API.
type HTTPProvider struct {
	cfg    Config
	client *http.Client
}

func NewHTTPProvider(cfg Config) *HTTPProvider {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPProvider{cfg: cfg, client: &http.Client{Timeout: timeout}}
}

type sendRequest struct {
	To     string `json:"to"`
	From   string `json:"from"`
	Text   string `json:"text"`
	APIKey string `json:"apiKey"`
}

type sendResponse struct {
	MessageID string `json:"messageId"`
	Code      int    `json:"code"`
	Message   string `json:"message"`
}

func (p *HTTPProvider) Send(ctx context.Context, phone, body string) (SendResult, error) {
	payload, err := json.Marshal(sendRequest{
		To:     phone,
		From:   p.cfg.Sender,
		Text:   body,
		APIKey: p.cfg.APIKey,
	})
	if err != nil {
		return SendResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return SendResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return SendResult{}, fmt.Errorf("sms gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	var out sendResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return SendResult{}, fmt.Errorf("sms gateway returned malformed response: %w", err)
	}
	if resp.StatusCode != http.StatusOK || out.Code != 0 {
		return SendResult{}, fmt.Errorf("sms gateway rejected send: status=%d code=%d message=%s",
			resp.StatusCode, out.Code, out.Message)
	}
	return SendResult{MessageID: out.MessageID}, nil
}
