// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Memberd Contributors

// Package mail dispatches member lifecycle emails through an HTTP mail API.
package mail

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

const (
	requestTimeout = 10 * time.Second
	maxRetries     = 3
	retryBase      = 500 * time.Millisecond
)

// Recipient identifies an email sender or receiver.
type Recipient struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// Message is the request payload for the mail API.
type Message struct {
	From     Recipient   `json:"from"`
	To       []Recipient `json:"to"`
	Subject  string      `json:"subject"`
	HTML     string      `json:"html,omitempty"`
	Text     string      `json:"text,omitempty"`
	Category string      `json:"category,omitempty"`
}

// Client sends messages to a JSON mail API with bearer authentication.
// Transient failures (network errors, 5xx responses) are retried with
// fibonacci backoff; 4xx responses fail immediately.
type Client struct {
	apiURL     string
	apiKey     string
	from       Recipient
	httpClient *http.Client
}

// NewClient creates a mail API client.
func NewClient(apiURL, apiKey string, from Recipient) (*Client, error) {
	if apiURL == "" {
		return nil, oops.Code("MAIL_INVALID_CONFIG").Errorf("mail API URL is required")
	}
	if from.Email == "" {
		return nil, oops.Code("MAIL_INVALID_CONFIG").Errorf("sender email is required")
	}
	return &Client{
		apiURL:     apiURL,
		apiKey:     apiKey,
		from:       from,
		httpClient: &http.Client{Timeout: requestTimeout},
	}, nil
}

// Send delivers a message. The message's From field is set by the client.
func (c *Client) Send(ctx context.Context, msg Message) error {
	msg.From = c.from

	payload, err := json.Marshal(msg)
	if err != nil {
		return oops.Code("MAIL_SEND_FAILED").
			With("operation", "marshal message").
			Wrap(err)
	}

	backoff := retry.WithMaxRetries(maxRetries, retry.NewFibonacci(retryBase))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		return c.post(ctx, payload)
	})
	if err != nil {
		return oops.Code("MAIL_SEND_FAILED").
			With("operation", "post message").
			Wrap(err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(payload))
	if err != nil {
		return oops.With("operation", "create request").Wrap(err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Network errors are worth retrying.
		return retry.RetryableError(err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusAccepted:
		return nil
	case resp.StatusCode >= 500:
		return retry.RetryableError(oops.
			With("status", resp.StatusCode).
			Errorf("mail API returned status %d", resp.StatusCode))
	default:
		return oops.
			With("status", resp.StatusCode).
			Errorf("mail API returned status %d", resp.StatusCode)
	}
}
