package notification

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ckdcare/ckdcare/internal/platform/events"
)

type Service struct {
	notifications NotificationRepository
	templates     *TemplateEngine
	email         EmailSender
	publisher     events.Publisher
	logger        zerolog.Logger
}

func NewService(notifications NotificationRepository, templates *TemplateEngine, email EmailSender, publisher events.Publisher, logger zerolog.Logger) *Service {
	return &Service{
		notifications: notifications,
		templates:     templates,
		email:         email,
		publisher:     publisher,
		logger:        logger.With().Str("component", "notification").Logger(),
	}
}

func (s *Service) CreateNotification(ctx context.Context, n *Notification) error {
	n.Message = strings.TrimSpace(n.Message)
	if n.UserID == uuid.Nil {
		return invalidf("user_id is required")
	}
	if n.Message == "" {
		return invalidf("message is required")
	}
	if n.Severity == "" {
		n.Severity = SeverityInfo
	}
	if !n.Severity.Valid() {
		return invalidf("invalid severity: %q", n.Severity)
	}
	return s.notifications.Create(ctx, n)
}

func (s *Service) GetNotification(ctx context.Context, id uuid.UUID) (*Notification, error) {
	return s.notifications.GetByID(ctx, id)
}

func (s *Service) ListNotifications(ctx context.Context, userID uuid.UUID, unreadOnly bool, limit, offset int) ([]*Notification, int, error) {
	return s.notifications.ListByUser(ctx, userID, unreadOnly, limit, offset)
}

func (s *Service) MarkRead(ctx context.Context, id uuid.UUID) error {
	return s.notifications.MarkRead(ctx, id)
}

func (s *Service) MarkAllRead(ctx context.Context, userID uuid.UUID) (int64, error) {
	return s.notifications.MarkAllRead(ctx, userID)
}

func (s *Service) DeleteNotification(ctx context.Context, id uuid.UUID) error {
	return s.notifications.Delete(ctx, id)
}

func (s *Service) UnreadCount(ctx context.Context, userID uuid.UUID) (int, error) {
	return s.notifications.CountUnread(ctx, userID)
}

// Raise renders the alert template and stores one notification per
// recipient. Email delivery and event publishing are best effort: their
// failures are logged and do not fail the call.
func (s *Service) Raise(ctx context.Context, a Alert) ([]*Notification, error) {
	if len(a.Recipients) == 0 {
		return nil, nil
	}
	if a.Severity == "" {
		a.Severity = SeverityInfo
	}
	if !a.Severity.Valid() {
		return nil, invalidf("invalid severity: %q", a.Severity)
	}
	subject, body, err := s.templates.Render(a.Template, a.Data)
	if err != nil {
		return nil, fmt.Errorf("render alert: %w", err)
	}

	created := make([]*Notification, 0, len(a.Recipients))
	seen := make(map[uuid.UUID]bool, len(a.Recipients))
	ev := AlertEvent{
		Template: a.Template,
		Severity: a.Severity,
		Subject:  subject,
		Message:  body,
		Data:     a.Data,
	}
	for _, r := range a.Recipients {
		if seen[r.UserID] {
			continue
		}
		seen[r.UserID] = true

		n := &Notification{UserID: r.UserID, Message: body, Severity: a.Severity}
		if err := s.notifications.Create(ctx, n); err != nil {
			return created, fmt.Errorf("store notification for %s: %w", r.UserID, err)
		}
		created = append(created, n)
		ev.Recipients = append(ev.Recipients, r.UserID)
		ev.Notifications = append(ev.Notifications, n.ID)

		if a.SendEmail && r.Email != "" && s.email != nil {
			if err := s.email.SendEmail(ctx, r.Email, subject, body); err != nil {
				s.logger.Warn().Err(err).Str("to", r.Email).Msg("alert email failed")
			} else {
				ev.Emailed++
			}
		}
	}

	s.logger.Info().
		Str("template", a.Template).
		Str("severity", string(a.Severity)).
		Int("recipients", len(created)).
		Msg("alert raised")
	s.publish(ctx, events.TypeAlertRaised, ev)
	return created, nil
}

func (s *Service) publish(ctx context.Context, eventType string, payload interface{}) {
	if s.publisher == nil {
		return
	}
	e, err := events.New(eventType, payload)
	if err == nil {
		err = s.publisher.Publish(ctx, e)
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("event_type", eventType).Msg("publish failed")
	}
}
