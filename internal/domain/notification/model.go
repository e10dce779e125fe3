package notification

import (
	"time"

	"github.com/google/uuid"
)

// Severity grades how urgently a notification needs attention.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityCritical:
		return true
	}
	return false
}

// Notification maps to the notifications table.
type Notification struct {
	ID        uuid.UUID `db:"id" json:"id"`
	UserID    uuid.UUID `db:"user_id" json:"user_id"`
	Message   string    `db:"message" json:"message"`
	Severity  Severity  `db:"severity" json:"severity"`
	IsRead    bool      `db:"is_read" json:"is_read"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Recipient is a user an alert is delivered to. Email is only used when the
// alert asks for email delivery.
type Recipient struct {
	UserID uuid.UUID `json:"user_id"`
	Email  string    `json:"email,omitempty"`
}

// Alert is a templated message raised for one or more users.
type Alert struct {
	Recipients []Recipient
	Severity   Severity
	Template   string
	Data       map[string]string
	SendEmail  bool
}

// AlertEvent is the payload published on the event bus for a raised alert.
type AlertEvent struct {
	Template      string            `json:"template"`
	Severity      Severity          `json:"severity"`
	Subject       string            `json:"subject"`
	Message       string            `json:"message"`
	Recipients    []uuid.UUID       `json:"recipients"`
	Notifications []uuid.UUID       `json:"notifications"`
	Data          map[string]string `json:"data,omitempty"`
	Emailed       int               `json:"emailed"`
}
