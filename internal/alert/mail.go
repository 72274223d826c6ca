package alert

import (
	"context"
	"fmt"

	"github.com/wneessen/go-mail"
)

// Mailer delivers one alert message. Implementations must be safe for
// sequential reuse across supervision cycles.
type Mailer interface {
	Send(ctx context.Context, subject, body string) error
}

// SMTPConfig names the relay and addressing for outbound alert mail.
type SMTPConfig struct {
	Host     string
	Port     int
	UseTLS   bool
	Auth     bool
	Username string
	Password string
	From     string
	To       string
}

// SMTPMailer sends alert mail through a single SMTP relay. Each send dials
// a fresh connection; alert volume is a handful of messages per cycle at
// worst.
type SMTPMailer struct {
	cfg SMTPConfig
}

func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	return &SMTPMailer{cfg: cfg}
}

func (m *SMTPMailer) Send(ctx context.Context, subject, body string) error {
	msg := mail.NewMsg()
	if err := msg.From(m.cfg.From); err != nil {
		return fmt.Errorf("set from address: %w", err)
	}
	if err := msg.To(m.cfg.To); err != nil {
		return fmt.Errorf("set to address: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, body)

	opts := []mail.Option{mail.WithPort(m.cfg.Port)}
	if m.cfg.UseTLS {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	}
	if m.cfg.Auth {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(m.cfg.Username),
			mail.WithPassword(m.cfg.Password),
		)
	}

	client, err := mail.NewClient(m.cfg.Host, opts...)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	return client.DialAndSendWithContext(ctx, msg)
}
