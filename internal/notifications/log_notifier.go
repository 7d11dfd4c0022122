package notifications

import (
	"context"
	"log/slog"
	"sync"
)

// LogNotifier records verification emails instead of mailing them. Used when
// no SMTP relay is configured and in tests, where Sent gives access to the
// links. The link carries a live token, so it is only logged at debug level.
type LogNotifier struct {
	log *slog.Logger

	mu   sync.Mutex
	sent []SendVerificationEmailInput
}

func NewLogNotifier(log *slog.Logger) *LogNotifier {
	if log == nil {
		log = slog.Default()
	}
	return &LogNotifier{log: log}
}

func (n *LogNotifier) SendVerificationEmail(ctx context.Context, in SendVerificationEmailInput) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	n.mu.Lock()
	n.sent = append(n.sent, in)
	n.mu.Unlock()

	n.log.InfoContext(ctx, "notification.verification_email", "email", in.Email)
	n.log.DebugContext(ctx, "notification.verification_link", "email", in.Email, "verify_url", in.VerifyURL)
	return nil
}

// Sent returns a copy of everything sent so far.
func (n *LogNotifier) Sent() []SendVerificationEmailInput {
	n.mu.Lock()
	defer n.mu.Unlock()

	out := make([]SendVerificationEmailInput, len(n.sent))
	copy(out, n.sent)
	return out
}
