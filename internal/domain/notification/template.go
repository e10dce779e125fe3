package notification

import (
	"fmt"
	"strings"
	"sync"
)

// Built-in template identifiers.
const (
	TemplateRequirementTriggered = "requirement-triggered"
	TemplateStageWorsened        = "stage-worsened"
	TemplateLabRecorded          = "lab-recorded"
	TemplateAppointmentBooked    = "appointment-booked"
)

// Template is a subject and body with {{key}} placeholders.
type Template struct {
	ID      string `json:"id"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// TemplateEngine holds the message templates used for alerts.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewTemplateEngine creates a TemplateEngine with the built-in templates registered.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{templates: make(map[string]*Template)}
	for _, t := range []Template{
		{
			ID:      TemplateRequirementTriggered,
			Subject: "{{test}} alert for {{patient_name}}",
			Body:    "{{patient_name}}: {{test}} of {{value}} {{unit}} is {{alert}} ({{workflow}}).",
		},
		{
			ID:      TemplateStageWorsened,
			Subject: "CKD progression for {{patient_name}}",
			Body:    "{{patient_name}} progressed from {{previous}} to {{current}} (eGFR {{egfr}}).",
		},
		{
			ID:      TemplateLabRecorded,
			Subject: "New {{test}} result",
			Body:    "Your {{test}} result of {{value}} {{unit}} from {{date}} is available.",
		},
		{
			ID:      TemplateAppointmentBooked,
			Subject: "Appointment on {{date}}",
			Body:    "An appointment has been booked on {{date}}: {{purpose}}.",
		},
	} {
		e.Register(t)
	}
	return e
}

// Register adds or replaces a template.
func (e *TemplateEngine) Register(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = &t
}

// Render replaces {{key}} placeholders with data. Placeholders without a
// value are left as-is.
func (e *TemplateEngine) Render(id string, data map[string]string) (subject, body string, err error) {
	e.mu.RLock()
	t, ok := e.templates[id]
	e.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("template %q not found", id)
	}

	subject, body = t.Subject, t.Body
	for k, v := range data {
		placeholder := "{{" + k + "}}"
		subject = strings.ReplaceAll(subject, placeholder, v)
		body = strings.ReplaceAll(body, placeholder, v)
	}
	return subject, body, nil
}
