package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/aippoint/interview-api/internal/config"
)

// ResendSender delivers email through the Resend HTTP API
type ResendSender struct {
	config     config.NotifyConfig
	httpClient *http.Client
	backoff    time.Duration
	log        logrus.FieldLogger
}

type resendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
	ReplyTo string   `json:"reply_to,omitempty"`
}

type resendResponse struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

// permanentError marks a response that retrying cannot fix
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// NewResendSender creates a sender for cfg
func NewResendSender(cfg config.NotifyConfig, log logrus.FieldLogger) *ResendSender {
	return &ResendSender{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		backoff: time.Second,
		log:     log.WithField("component", "notify"),
	}
}

// NewSender returns a ResendSender when an API key is configured and a
// LogSender otherwise
func NewSender(cfg config.NotifyConfig, log logrus.FieldLogger) Sender {
	if cfg.ResendAPIKey == "" {
		return NewLogSender(log)
	}
	return NewResendSender(cfg, log)
}

// Send renders msg and posts it, retrying transport errors and 5xx responses
func (s *ResendSender) Send(ctx context.Context, msg Message) (string, error) {
	subject, html, err := render(msg)
	if err != nil {
		return "", err
	}

	payload, err := json.Marshal(resendRequest{
		From:    s.config.FromEmail,
		To:      []string{msg.Recipient},
		Subject: subject,
		HTML:    html,
		ReplyTo: s.config.ReplyTo,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal email: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < s.config.RetryCount; attempt++ {
		id, err := s.sendOnce(ctx, payload)
		if err == nil {
			s.log.WithFields(logrus.Fields{
				"template":  msg.Template,
				"recipient": msg.Recipient,
				"emailId":   id,
			}).Info("email sent")
			return id, nil
		}

		lastErr = err
		if _, ok := err.(*permanentError); ok {
			break
		}
		if attempt < s.config.RetryCount-1 {
			// Linear backoff between attempts
			waitTime := time.Duration(attempt+1) * s.backoff
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(waitTime):
			}
		}
	}

	return "", fmt.Errorf("failed to send %s email: %w", msg.Template, lastErr)
}

// sendOnce performs a single delivery attempt
func (s *ResendSender) sendOnce(ctx context.Context, payload []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.APIURL, bytes.NewReader(payload))
	if err != nil {
		return "", &permanentError{fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Authorization", "Bearer "+s.config.ResendAPIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	var out resendResponse
	_ = json.Unmarshal(body, &out)

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return "", fmt.Errorf("API returned status %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		msg := out.Message
		if msg == "" {
			msg = "Failed to send email"
		}
		return "", &permanentError{fmt.Errorf("API returned status %d: %s", resp.StatusCode, msg)}
	}
	return out.ID, nil
}
