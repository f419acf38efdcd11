// Package email delivers security notifications over SMTP.
package email

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"gopkg.in/gomail.v2"

	"github.com/jwalitptl/hospital-api/internal/model"
)

type Service interface {
	SendSecurityAlert(ctx context.Context, to []string, entry *model.AuditEntry) error
}

type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type SMTPService struct {
	from string
	send func(...*gomail.Message) error
}

func NewSMTPService(cfg Config) *SMTPService {
	dialer := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	return &SMTPService{
		from: cfg.From,
		send: dialer.DialAndSend,
	}
}

func (s *SMTPService) SendSecurityAlert(ctx context.Context, to []string, entry *model.AuditEntry) error {
	if len(to) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	subject, body := renderAlert(entry)
	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", to...)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)

	if err := s.send(m); err != nil {
		return fmt.Errorf("failed to send security alert %s: %w", entry.ID, err)
	}
	return nil
}

// renderAlert builds the plain-text notification. The entry context only
// holds masked values, so it is copied as is.
func renderAlert(entry *model.AuditEntry) (string, string) {
	subject := fmt.Sprintf("[security] %s on %s", entry.Action, entry.ResourceType)

	var b strings.Builder
	fmt.Fprintf(&b, "Action:     %s\n", entry.Action)
	fmt.Fprintf(&b, "Resource:   %s", entry.ResourceType)
	if entry.ResourceID != nil {
		fmt.Fprintf(&b, " %s", *entry.ResourceID)
	}
	b.WriteString("\n")
	if entry.ActorID != nil {
		fmt.Fprintf(&b, "Actor:      %s\n", entry.ActorID)
	}
	fmt.Fprintf(&b, "IP address: %s\n", entry.IPAddress)
	fmt.Fprintf(&b, "When:       %s\n", entry.CreatedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Entry id:   %s\n", entry.ID)

	if len(entry.Context) > 0 {
		keys := make([]string, 0, len(entry.Context))
		for k := range entry.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("\nContext:\n")
		for _, k := range keys {
			fmt.Fprintf(&b, "  %s: %v\n", k, entry.Context[k])
		}
	}
	return subject, b.String()
}
