package notifications

import (
	"context"
	"fmt"
	"time"

	"github.com/wneessen/go-mail"
)

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Timeout  time.Duration
}

// SMTPNotifier delivers mail through a relay, upgrading to TLS with
// STARTTLS when the server offers it.
type SMTPNotifier struct {
	client *mail.Client
	from   string
}

func NewSMTPNotifier(cfg SMTPConfig) (*SMTPNotifier, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
		mail.WithTimeout(cfg.Timeout),
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}

	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("smtp client: %w", err)
	}

	return &SMTPNotifier{client: client, from: cfg.From}, nil
}

func (n *SMTPNotifier) SendVerificationEmail(ctx context.Context, in SendVerificationEmailInput) error {
	msg, err := n.verificationMessage(in)
	if err != nil {
		return err
	}

	if err := n.client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("send verification email: %w", err)
	}
	return nil
}

func (n *SMTPNotifier) verificationMessage(in SendVerificationEmailInput) (*mail.Msg, error) {
	msg := mail.NewMsg()

	if err := msg.From(n.from); err != nil {
		return nil, fmt.Errorf("invalid from address: %w", err)
	}
	if err := msg.To(in.Email); err != nil {
		return nil, fmt.Errorf("invalid recipient: %w", err)
	}

	msg.Subject(verificationSubject)
	msg.SetBodyString(mail.TypeTextPlain, verificationText(in.VerifyURL))
	msg.AddAlternativeString(mail.TypeTextHTML, verificationHTML(in.VerifyURL))

	return msg, nil
}
