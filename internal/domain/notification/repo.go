package notification

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("notification not found")

// ErrInvalid marks errors caused by the caller's input.
var ErrInvalid = errors.New("invalid input")

func invalidf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

type NotificationRepository interface {
	Create(ctx context.Context, n *Notification) error
	GetByID(ctx context.Context, id uuid.UUID) (*Notification, error)
	ListByUser(ctx context.Context, userID uuid.UUID, unreadOnly bool, limit, offset int) ([]*Notification, int, error)
	MarkRead(ctx context.Context, id uuid.UUID) error
	MarkAllRead(ctx context.Context, userID uuid.UUID) (int64, error)
	Delete(ctx context.Context, id uuid.UUID) error
	CountUnread(ctx context.Context, userID uuid.UUID) (int, error)
	CountUnreadBySeverity(ctx context.Context, severity Severity) (int, error)
}
