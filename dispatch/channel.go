package dispatch

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/smtp"

	"github.com/rs/zerolog"
)

// ChatSendFunc is supplied by the boundary layer (the bot process) and
// performs the actual transport send for one user. The chat bot command/UI
// surface is external; this package only needs a narrow seam to invoke it.
type ChatSendFunc func(ctx context.Context, userID, body string) error

// ChatChannel is the required primary notification channel. It forwards to
// a boundary-supplied sender rather than owning any bot transport itself.
type ChatChannel struct {
	send ChatSendFunc
}

// NewChatChannel wraps send as a Channel.
func NewChatChannel(send ChatSendFunc) *ChatChannel {
	return &ChatChannel{send: send}
}

// Send ignores subject; chat messages carry only a body.
func (c *ChatChannel) Send(ctx context.Context, userID, subject, body string) error {
	return c.send(ctx, userID, body)
}

var _ Channel = (*ChatChannel)(nil)

// EmailConfig carries the process-wide SMTP settings: STARTTLS on port 587
// with username/password.
type EmailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// EmailChannel sends alert notifications over SMTP with STARTTLS.
type EmailChannel struct {
	cfg    EmailConfig
	logger zerolog.Logger
}

// NewEmailChannel constructs the SMTP channel from process configuration.
func NewEmailChannel(cfg EmailConfig, logger zerolog.Logger) *EmailChannel {
	return &EmailChannel{cfg: cfg, logger: logger}
}

// Send dials cfg.Host:cfg.Port, upgrades to TLS, authenticates, and sends a
// single-recipient message with subject and an HTML body. userID is the
// recipient's email address; resolving an account id to an address is a
// boundary concern left to the caller.
func (e *EmailChannel) Send(ctx context.Context, userID, subject, body string) error {
	addr := fmt.Sprintf("%s:%d", e.cfg.Host, e.cfg.Port)

	c, err := smtp.Dial(addr)
	if err != nil {
		return fmt.Errorf("smtp dial %s: %w", addr, err)
	}
	defer c.Close()

	if err := c.StartTLS(&tls.Config{ServerName: e.cfg.Host}); err != nil {
		return fmt.Errorf("smtp starttls: %w", err)
	}

	auth := smtp.PlainAuth("", e.cfg.Username, e.cfg.Password, e.cfg.Host)
	if err := c.Auth(auth); err != nil {
		return fmt.Errorf("smtp auth: %w", err)
	}

	if err := c.Mail(e.cfg.From); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	if err := c.Rcpt(userID); err != nil {
		return fmt.Errorf("smtp rcpt to: %w", err)
	}

	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nContent-Type: text/html; charset=UTF-8\r\n\r\n%s",
		e.cfg.From, userID, subject, body)
	if _, err := w.Write([]byte(msg)); err != nil {
		w.Close()
		return fmt.Errorf("smtp write body: %w", err)
	}
	return w.Close()
}

var _ Channel = (*EmailChannel)(nil)
