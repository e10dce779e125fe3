package notification

import (
	"context"

	"github.com/rs/zerolog"
)

// EmailSender delivers email messages.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// LogEmailSender writes outgoing mail to the log instead of an SMTP relay.
type LogEmailSender struct {
	logger zerolog.Logger
}

func NewLogEmailSender(logger zerolog.Logger) *LogEmailSender {
	return &LogEmailSender{logger: logger.With().Str("component", "email").Logger()}
}

func (s *LogEmailSender) SendEmail(_ context.Context, to, subject, body string) error {
	s.logger.Info().Str("to", to).Str("subject", subject).Str("body", body).Msg("email")
	return nil
}
