// Package mailer delivers password-reset links.
//
// SMTPNotifier sends real mail through gomail; LogNotifier is the fallback
// when SMTP is not configured and only records that a delivery happened.
// Both satisfy service.ResetNotifier.
package mailer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"gopkg.in/gomail.v2"

	"github.com/sakif/tripcms/internal/config"
	"github.com/sakif/tripcms/internal/model"
)

const resetSubject = "Reset your tripcms password"

// ErrNoRecipient is returned when the user has no email address.
var ErrNoRecipient = errors.New("mailer: user has no email address")

// Notifier delivers a reset link to a user.
type Notifier interface {
	SendPasswordReset(ctx context.Context, user *model.User, resetURL string) error
}

// Sender is the part of *gomail.Dialer the notifier uses.
type Sender interface {
	DialAndSend(m ...*gomail.Message) error
}

type SMTPNotifier struct {
	sender Sender
	from   string
}

// NewSMTPNotifier builds a notifier that dials cfg.Host for every message.
func NewSMTPNotifier(cfg config.SMTPConfig) *SMTPNotifier {
	return NewSMTPNotifierWithSender(
		gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		cfg.From,
	)
}

func NewSMTPNotifierWithSender(sender Sender, from string) *SMTPNotifier {
	return &SMTPNotifier{sender: sender, from: from}
}

// SendPasswordReset mails resetURL to user.Email.
func (n *SMTPNotifier) SendPasswordReset(ctx context.Context, user *model.User, resetURL string) error {
	if user.Email == "" {
		return ErrNoRecipient
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := gomail.NewMessage(gomail.SetEncoding(gomail.Unencoded))
	msg.SetHeader("From", n.from)
	msg.SetHeader("To", user.Email)
	msg.SetHeader("Subject", resetSubject)
	msg.SetBody("text/plain", resetBody(user.Username, resetURL))

	if err := n.sender.DialAndSend(msg); err != nil {
		// The SMTP error can echo the message back; keep it out of the chain.
		return fmt.Errorf("mailer: sending reset email to user %s failed", user.ID)
	}
	return nil
}

func resetBody(username, resetURL string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Hello %s,\n\n", username)
	b.WriteString("Someone asked to reset the password of your tripcms account.\n")
	b.WriteString("Open the link below within the next hour to choose a new one:\n\n")
	b.WriteString(resetURL)
	b.WriteString("\n\nIf you did not ask for this, you can ignore this message.\n")
	return b.String()
}

// LogNotifier records deliveries in the log without the link itself.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) SendPasswordReset(ctx context.Context, user *model.User, _ string) error {
	n.Logger.WarnContext(ctx, "SMTP not configured; password reset link not sent",
		slog.String("userID", user.ID),
	)
	return nil
}

// New picks SMTPNotifier when cfg is complete enough, LogNotifier otherwise.
func New(cfg config.SMTPConfig, logger *slog.Logger) Notifier {
	if cfg.Enabled() {
		return NewSMTPNotifier(cfg)
	}
	return LogNotifier{Logger: logger}
}
