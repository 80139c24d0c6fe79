package delivery

import (
	"context"
	"time"

	"github.com/wneessen/go-mail"

	"reel/internal/config"
	"reel/internal/pkg/errors"
)

// SMTPMailer sends over SMTP with STARTTLS when the server offers it.
type SMTPMailer struct {
	cfg config.SMTPConfig
}

func NewSMTPMailer(cfg config.SMTPConfig) *SMTPMailer {
	return &SMTPMailer{cfg: cfg}
}

func (m *SMTPMailer) Send(ctx context.Context, to, subject, body string) error {
	msg := mail.NewMsg()
	if err := msg.From(m.cfg.From); err != nil {
		return errors.WrapWithCode(err, errors.CodeValidation, "smtp.send", "invalid SMTP_FROM")
	}
	if err := msg.To(to); err != nil {
		return errors.WrapWithCode(err, errors.CodeValidation, "smtp.send", "invalid recipient")
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, body)

	opts := []mail.Option{
		mail.WithPort(m.cfg.Port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
		mail.WithTimeout(30 * time.Second),
	}
	if m.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(m.cfg.Username),
			mail.WithPassword(m.cfg.Password),
		)
	}

	client, err := mail.NewClient(m.cfg.Host, opts...)
	if err != nil {
		return errors.WrapWithCode(err, errors.CodeValidation, "smtp.send", "configure smtp client")
	}
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return errors.WrapWithCode(err, errors.CodeUnavailable, "smtp.send", "send mail")
	}
	return nil
}
