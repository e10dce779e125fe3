package workflow

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ckdcare/ckdcare/pkg/ckd"
)

// Frequency is how often a required test must be repeated.
type Frequency string

const (
	FrequencyMonthly    Frequency = "monthly"
	FrequencyQuarterly  Frequency = "quarterly"
	FrequencySemiannual Frequency = "semiannual"
	FrequencyAnnual     Frequency = "annual"
)

var frequencyMonths = map[Frequency]int{
	FrequencyMonthly:    1,
	FrequencyQuarterly:  3,
	FrequencySemiannual: 6,
	FrequencyAnnual:     12,
}

func (f Frequency) Valid() bool {
	_, ok := frequencyMonths[f]
	return ok
}

// Months returns the interval in months, or 0 for an unknown frequency.
func (f Frequency) Months() int {
	return frequencyMonths[f]
}

// NextDue returns when a test last performed at last falls due again.
func NextDue(f Frequency, last time.Time) time.Time {
	return last.AddDate(0, f.Months(), 0)
}

type Comparator string

const (
	Below Comparator = "below"
	Above Comparator = "above"
)

type Action string

const (
	ActionNotification Action = "notification"
	ActionEmail        Action = "email"
)

// Alert is a threshold on a test value.
type Alert struct {
	Comparator Comparator `json:"comparator"`
	Value      float64    `json:"value"`
	Unit       string     `json:"unit,omitempty"`
}

// Crossed reports whether v is strictly beyond the threshold.
func (a *Alert) Crossed(v float64) bool {
	switch a.Comparator {
	case Below:
		return v < a.Value
	case Above:
		return v > a.Value
	}
	return false
}

func (a *Alert) String() string {
	s := fmt.Sprintf("%s %g", a.Comparator, a.Value)
	if a.Unit != "" {
		s += " " + a.Unit
	}
	return s
}

// Requirement maps to the workflow_requirements table.
type Requirement struct {
	ID         uuid.UUID `db:"id" json:"id"`
	WorkflowID uuid.UUID `db:"workflow_id" json:"workflow_id"`
	TestName   string    `db:"test_name" json:"test_name"`
	Frequency  Frequency `db:"frequency" json:"frequency"`
	Alert      *Alert    `json:"alert,omitempty"`
	Action     Action    `db:"action" json:"action"`
}

// Matches reports whether the requirement concerns the named test.
func (r *Requirement) Matches(testName string) bool {
	return strings.EqualFold(strings.TrimSpace(r.TestName), strings.TrimSpace(testName))
}

// Workflow maps to the workflows table. A nil CKDStage applies to every stage.
type Workflow struct {
	ID           uuid.UUID      `db:"id" json:"id"`
	Name         string         `db:"name" json:"name"`
	Description  *string        `db:"description" json:"description,omitempty"`
	CKDStage     *ckd.Stage     `db:"ckd_stage" json:"ckd_stage,omitempty"`
	CreatedBy    *uuid.UUID     `db:"created_by" json:"created_by,omitempty"`
	CreatedAt    time.Time      `db:"created_at" json:"created_at"`
	Requirements []*Requirement `json:"requirements"`
}

func (w *Workflow) AppliesTo(stage ckd.Stage) bool {
	return w.CKDStage == nil || *w.CKDStage == stage
}

// Trigger is a requirement whose alert threshold was crossed by a value.
type Trigger struct {
	WorkflowID   uuid.UUID    `json:"workflow_id"`
	WorkflowName string       `json:"workflow_name"`
	Requirement  *Requirement `json:"requirement"`
	Value        float64      `json:"value"`
}

// Evaluate returns the triggers raised by value for testName among the
// workflows applicable to stage.
func Evaluate(workflows []*Workflow, stage ckd.Stage, testName string, value float64) []Trigger {
	var out []Trigger
	for _, w := range workflows {
		if !w.AppliesTo(stage) {
			continue
		}
		for _, req := range w.Requirements {
			if req.Alert == nil || !req.Matches(testName) || !req.Alert.Crossed(value) {
				continue
			}
			out = append(out, Trigger{
				WorkflowID:   w.ID,
				WorkflowName: w.Name,
				Requirement:  req,
				Value:        value,
			})
		}
	}
	return out
}
