package notifications

import (
	"context"
	"fmt"
	"html"
)

const (
	KindVerification = "verification"

	verificationSubject = "Verify Your Email"
)

type SendVerificationEmailInput struct {
	Email     string
	VerifyURL string
}

type Notifier interface {
	SendVerificationEmail(ctx context.Context, input SendVerificationEmailInput) error
}

// Metrics is implemented by observability.Prom.
type Metrics interface {
	MailResult(kind, result string)
}

func verificationHTML(verifyURL string) string {
	return fmt.Sprintf(`Please click <a href="%s">here</a> to verify your email.`, html.EscapeString(verifyURL))
}

func verificationText(verifyURL string) string {
	return "Please open the following link to verify your email: " + verifyURL
}
