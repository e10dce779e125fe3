package report

import (
	"time"

	"github.com/ckdcare/ckdcare/internal/domain/identity"
	"github.com/ckdcare/ckdcare/internal/domain/workflow"
	"github.com/ckdcare/ckdcare/pkg/ckd"
)

// PatientReport is the printable summary of a patient's CKD follow-up.
type PatientReport struct {
	Patient         *identity.Patient `json:"patient"`
	Age             int               `json:"age"`
	Classification  Classification    `json:"classification"`
	RiskExplanation string            `json:"risk_explanation"`
	LabRows         []LabRow          `json:"lab_results"`
	Monitoring      []MonitoringRow   `json:"monitoring"`
	GeneratedAt     time.Time         `json:"generated_at"`
}

// Classification is the patient's current categorisation together with the
// measurements it was derived from, when known.
type Classification struct {
	Stage            ckd.Stage            `json:"ckd_stage"`
	ProteinuriaLevel ckd.ProteinuriaLevel `json:"proteinuria_level"`
	Risk             ckd.Risk             `json:"progression_risk"`
	EGFR             *float64             `json:"egfr,omitempty"`
	ACR              *float64             `json:"acr,omitempty"`
}

type LabRow struct {
	Date   string  `json:"date"`
	Test   string  `json:"test"`
	Value  float64 `json:"value"`
	Unit   string  `json:"unit,omitempty"`
	Range  string  `json:"range,omitempty"`
	Status string  `json:"status"`
}

// MonitoringRow is one test the patient's workflows require, with when it
// was last done and when it falls due.
type MonitoringRow struct {
	Test      string             `json:"test"`
	Frequency workflow.Frequency `json:"frequency"`
	LastDone  *string            `json:"last_done,omitempty"`
	NextDue   string             `json:"next_due"`
	Overdue   bool               `json:"overdue"`
}
