// Package mail sends notification emails and composes the reminder messages.
package mail

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"
	"time"

	"github.com/ilisteam/ilis/internal/model"
)

// Notifier delivers a message to a recipient.
type Notifier interface {
	Send(ctx context.Context, recipient, subject, body string) error
}

// SMTPSender sends mail through an SMTP server with PLAIN auth over STARTTLS.
type SMTPSender struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

func (s *SMTPSender) Send(_ context.Context, recipient, subject, body string) error {
	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", s.From)
	fmt.Fprintf(&msg, "To: %s\r\n", recipient)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	msg.WriteString(body)

	addr := fmt.Sprintf("%s:%d", s.Host, s.Port)
	auth := smtp.PlainAuth("", s.Username, s.Password, s.Host)
	if err := smtp.SendMail(addr, auth, s.From, []string{recipient}, []byte(msg.String())); err != nil {
		return fmt.Errorf("sending mail to %s: %w", recipient, err)
	}
	return nil
}

// LogSender logs messages instead of sending them. Used in development and as
// a fallback when no SMTP server is configured.
type LogSender struct{}

func (LogSender) Send(_ context.Context, recipient, subject, body string) error {
	slog.Info("mail (not sent)", "to", recipient, "subject", subject, "body", body)
	return nil
}

// ReminderSubject is the subject line of return-reminder emails.
const ReminderSubject = "[ILIS] item return reminder"

// ReminderBody composes the return-reminder message for a lent request.
func ReminderBody(user *model.User, item *model.Item, rentEndsAt time.Time) string {
	return fmt.Sprintf(
		"Dear %s %s,\n\n"+
			"your rental of %q ends on %s at %s.\n"+
			"Please return the item to its storage in time.\n\n"+
			"ILIS",
		user.Name, user.Surname, item.NameEn,
		rentEndsAt.Format("2006.01.02"), rentEndsAt.Format("15:04"),
	)
}
