// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Memberd Contributors

package mail

import (
	"context"
	"html/template"
	"net/url"
	"strings"
	texttemplate "text/template"
	"time"

	"github.com/samber/oops"

	"github.com/memberd/memberd/internal/member"
)

var verificationHTML = template.Must(template.New("verification").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
  <div style="max-width: 600px; margin: 0 auto; padding: 20px;">
    <h2>Confirm your email address</h2>
    <p>Hello {{.UserName}},</p>
    <p>Thanks for registering. Click the button below to confirm your email address:</p>
    <p style="margin: 30px 0;">
      <a href="{{.Link}}" style="background-color: #007bff; color: white; padding: 12px 24px; text-decoration: none; border-radius: 4px; display: inline-block;">Confirm email</a>
    </p>
    <p>Or copy and paste this link into your browser:</p>
    <p style="word-break: break-all; color: #007bff;">{{.Link}}</p>
    <p>If you didn't create this account, please ignore this email.</p>
  </div>
</body>
</html>
`))

var verificationText = texttemplate.Must(texttemplate.New("verification").Parse(`Confirm your email address

Hello {{.UserName}},

Thanks for registering. Open the link below to confirm your email address:

{{.Link}}

If you didn't create this account, please ignore this email.
`))

var resetHTML = template.Must(template.New("reset").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
  <div style="max-width: 600px; margin: 0 auto; padding: 20px;">
    <h2>Password reset request</h2>
    <p>Hello {{.UserName}},</p>
    <p>We received a request to reset your password. Click the button below to choose a new one:</p>
    <p style="margin: 30px 0;">
      <a href="{{.Link}}" style="background-color: #007bff; color: white; padding: 12px 24px; text-decoration: none; border-radius: 4px; display: inline-block;">Reset password</a>
    </p>
    <p>Or copy and paste this link into your browser:</p>
    <p style="word-break: break-all; color: #007bff;">{{.Link}}</p>
    <p>This link is valid until {{.ExpiresAt}}.</p>
    <p>If you didn't request a password reset, please ignore this email.</p>
  </div>
</body>
</html>
`))

var resetText = texttemplate.Must(texttemplate.New("reset").Parse(`Password reset request

Hello {{.UserName}},

We received a request to reset your password. Open the link below to choose a new one:

{{.Link}}

This link is valid until {{.ExpiresAt}}.

If you didn't request a password reset, please ignore this email.
`))

// Notifier implements member.Notifier on top of the mail API client. It
// composes the verification and reset messages and builds the member-facing
// links from the configured public base URL.
type Notifier struct {
	client  *Client
	baseURL string
}

// NewNotifier creates a Notifier. baseURL is the public origin the links are
// built on, e.g. "https://members.example.com".
func NewNotifier(client *Client, baseURL string) (*Notifier, error) {
	if client == nil {
		return nil, oops.Code("MAIL_INVALID_CONFIG").Errorf("mail client is required")
	}
	baseURL = strings.TrimRight(baseURL, "/")
	if baseURL == "" {
		return nil, oops.Code("MAIL_INVALID_CONFIG").Errorf("public base URL is required")
	}
	return &Notifier{client: client, baseURL: baseURL}, nil
}

// SendVerification sends the email-verification message for a new account.
func (n *Notifier) SendVerification(ctx context.Context, recipient, userName, token string) error {
	data := struct {
		UserName string
		Link     string
	}{
		UserName: userName,
		Link:     n.link("/member/email-auth", token),
	}

	var htmlBody, textBody strings.Builder
	if err := verificationHTML.Execute(&htmlBody, data); err != nil {
		return oops.Code("MAIL_COMPOSE_FAILED").With("template", "verification_html").Wrap(err)
	}
	if err := verificationText.Execute(&textBody, data); err != nil {
		return oops.Code("MAIL_COMPOSE_FAILED").With("template", "verification_text").Wrap(err)
	}

	return n.client.Send(ctx, Message{
		To:       []Recipient{{Email: recipient, Name: userName}},
		Subject:  "Confirm your email address",
		HTML:     htmlBody.String(),
		Text:     textBody.String(),
		Category: "verification",
	})
}

// SendPasswordReset sends the password-reset message.
func (n *Notifier) SendPasswordReset(ctx context.Context, recipient, userName, token string, expiresAt time.Time) error {
	data := struct {
		UserName  string
		Link      string
		ExpiresAt string
	}{
		UserName:  userName,
		Link:      n.link("/member/reset/password", token),
		ExpiresAt: expiresAt.UTC().Format(time.RFC1123),
	}

	var htmlBody, textBody strings.Builder
	if err := resetHTML.Execute(&htmlBody, data); err != nil {
		return oops.Code("MAIL_COMPOSE_FAILED").With("template", "reset_html").Wrap(err)
	}
	if err := resetText.Execute(&textBody, data); err != nil {
		return oops.Code("MAIL_COMPOSE_FAILED").With("template", "reset_text").Wrap(err)
	}

	return n.client.Send(ctx, Message{
		To:       []Recipient{{Email: recipient, Name: userName}},
		Subject:  "Password reset request",
		HTML:     htmlBody.String(),
		Text:     textBody.String(),
		Category: "password_reset",
	})
}

func (n *Notifier) link(path, token string) string {
	return n.baseURL + path + "?id=" + url.QueryEscape(token)
}

// Compile-time interface check.
var _ member.Notifier = (*Notifier)(nil)
