package mail

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/pingup-app/eventd/internal/config"
)

// SMTPSender submits HTML email through a plain SMTP relay (STARTTLS when
// the server offers it). Sends are fallible external calls; callers rely
// on the step executor's retry policy rather than retrying here.
type SMTPSender struct {
	addr string
	auth smtp.Auth
	from string
}

func NewSMTPSender(cfg *config.Config) *SMTPSender {
	var auth smtp.Auth
	if cfg.SMTPUser != "" {
		auth = smtp.PlainAuth("", cfg.SMTPUser, cfg.SMTPPass, cfg.SMTPHost)
	}
	return &SMTPSender{
		addr: cfg.SMTPHost + ":" + cfg.SMTPPort,
		auth: auth,
		from: cfg.SenderEmail,
	}
}

func (s *SMTPSender) Send(ctx context.Context, to, subject, htmlBody string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := buildMessage(s.from, to, subject, htmlBody)
	if err := smtp.SendMail(s.addr, s.auth, s.from, []string{to}, msg); err != nil {
		return fmt.Errorf("send mail to %s: %w", to, err)
	}
	return nil
}

func buildMessage(from, to, subject, htmlBody string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(htmlBody)
	b.WriteString("\r\n")
	return []byte(b.String())
}
