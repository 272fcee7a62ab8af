// Package mail delivers password-reset links.
package mail

import (
	"context"
	"fmt"
	"html"
	"net/url"
	"time"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"

	"attendance-service/internal/config"
	"attendance-service/internal/util"
)

// Mailer sends the raw reset token out of band.
type Mailer interface {
	SendPasswordReset(ctx context.Context, to, name, rawToken string, expiresAt time.Time) error
}

type SMTPMailer struct {
	dialer   *gomail.Dialer
	from     string
	resetURL string
}

func NewSMTPMailer(cfg *config.Config) *SMTPMailer {
	return &SMTPMailer{
		dialer:   gomail.NewDialer(cfg.Mail.Host, cfg.Mail.Port, cfg.Mail.Username, cfg.Mail.Password),
		from:     cfg.Mail.From,
		resetURL: cfg.Auth.ResetURL,
	}
}

func (m *SMTPMailer) SendPasswordReset(ctx context.Context, to, name, rawToken string, expiresAt time.Time) error {
	msg := gomail.NewMessage()
	msg.SetHeader("From", msg.FormatAddress(m.from, "Attendance"))
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", "Reset your password")
	msg.SetBody("text/plain", resetText(name, ResetLink(m.resetURL, rawToken), expiresAt))
	msg.AddAlternative("text/html", resetHTML(name, ResetLink(m.resetURL, rawToken), expiresAt))

	done := make(chan error, 1)
	go func() { done <- m.dialer.DialAndSend(msg) }()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("failed to send reset email: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LogMailer stands in for SMTP in development. It never logs the token.
type LogMailer struct {
	logger *zap.Logger
}

func NewLogMailer(logger *zap.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

func (m *LogMailer) SendPasswordReset(_ context.Context, to, _, _ string, expiresAt time.Time) error {
	m.logger.Info("Password reset email suppressed (SMTP disabled)",
		zap.String("to", util.MaskEmail(to)),
		zap.Time("expires_at", expiresAt))
	return nil
}

// ResetLink appends the token as a query parameter to base.
func ResetLink(base, rawToken string) string {
	u, err := url.Parse(base)
	if err != nil {
		return base + "?token=" + url.QueryEscape(rawToken)
	}
	q := u.Query()
	q.Set("token", rawToken)
	u.RawQuery = q.Encode()
	return u.String()
}

func resetText(name, link string, expiresAt time.Time) string {
	return fmt.Sprintf("Hello %s,\n\nUse the link below to reset your password. It expires at %s UTC and works once.\n\n%s\n\nIf you did not ask for this, ignore this email.\n",
		name, expiresAt.UTC().Format("15:04"), link)
}

func resetHTML(name, link string, expiresAt time.Time) string {
	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<body style="font-family: sans-serif; color: #333333;">
	<p>Hello <strong>%s</strong>,</p>
	<p>Use the button below to reset your password. It expires at %s UTC and works once.</p>
	<p><a href="%s" style="background-color: #2563eb; color: #ffffff; padding: 10px 20px; border-radius: 6px; text-decoration: none;">Reset password</a></p>
	<p style="font-size: 12px; color: #888888;">If you did not ask for this, ignore this email.</p>
</body>
</html>`, html.EscapeString(name), expiresAt.UTC().Format("15:04"), html.EscapeString(link))
}
