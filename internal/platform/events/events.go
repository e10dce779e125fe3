// Package events publishes domain events (alerts, stage changes) to an
// external bus so that other systems can react to them.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Event types emitted by the application.
const (
	TypeAlertRaised  = "alert.raised"
	TypeStageChanged = "patient.stage_changed"
	TypeLabRecorded  = "lab.recorded"
	TypeAuditAccess  = "audit.access"
)

// Event is the envelope written to the bus.
type Event struct {
	ID         uuid.UUID       `json:"id"`
	Type       string          `json:"type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

// New builds an event with a fresh identifier, marshalling payload as JSON.
func New(eventType string, payload interface{}) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{
		ID:         uuid.New(),
		Type:       eventType,
		OccurredAt: time.Now().UTC(),
		Payload:    data,
	}, nil
}

// Publisher delivers events to a bus.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// LogPublisher writes events to the log only. Used when no broker is configured.
type LogPublisher struct {
	logger zerolog.Logger
}

func NewLogPublisher(logger zerolog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger.With().Str("component", "events").Logger()}
}

func (p *LogPublisher) Publish(_ context.Context, e Event) error {
	p.logger.Info().
		Str("event_id", e.ID.String()).
		Str("event_type", e.Type).
		RawJSON("payload", e.Payload).
		Msg("event")
	return nil
}

func (p *LogPublisher) Close() error { return nil }
