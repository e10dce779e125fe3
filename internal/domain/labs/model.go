package labs

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/ckdcare/ckdcare/internal/domain/workflow"
	"github.com/ckdcare/ckdcare/pkg/ckd"
)

// TestCode identifies what a lab test measures. egfr and acr results feed
// the patient's CKD classification.
type TestCode string

const (
	CodeEGFR       TestCode = "egfr"
	CodeACR        TestCode = "acr"
	CodeCreatinine TestCode = "creatinine"
	CodePotassium  TestCode = "potassium"
	CodeHemoglobin TestCode = "hemoglobin"
	CodeOther      TestCode = "other"
)

func (c TestCode) Valid() bool {
	switch c {
	case CodeEGFR, CodeACR, CodeCreatinine, CodePotassium, CodeHemoglobin, CodeOther:
		return true
	}
	return false
}

// RangeStatus compares a value with a test's reference range.
type RangeStatus string

const (
	StatusNormal       RangeStatus = "Normal"
	StatusBelowNormal  RangeStatus = "Below Normal"
	StatusAboveNormal  RangeStatus = "Above Normal"
	StatusNotSpecified RangeStatus = "Not specified"
)

// LabTest maps to the lab_tests table.
type LabTest struct {
	ID          uuid.UUID `db:"id" json:"id"`
	Name        string    `db:"test_name" json:"test_name"`
	Code        TestCode  `db:"code" json:"code"`
	Description *string   `db:"description" json:"description,omitempty"`
	Unit        *string   `db:"unit" json:"unit,omitempty"`
	NormalMin   *float64  `db:"normal_min" json:"normal_min,omitempty"`
	NormalMax   *float64  `db:"normal_max" json:"normal_max,omitempty"`
}

// RangeStatus reports where v sits relative to the reference range. Bounds
// are inclusive; a test with neither bound is Not specified.
func (t *LabTest) RangeStatus(v float64) RangeStatus {
	if t.NormalMin == nil && t.NormalMax == nil {
		return StatusNotSpecified
	}
	if t.NormalMin != nil && v < *t.NormalMin {
		return StatusBelowNormal
	}
	if t.NormalMax != nil && v > *t.NormalMax {
		return StatusAboveNormal
	}
	return StatusNormal
}

// Range renders the reference range for display, e.g. "3.5 - 5" or "≥ 90".
func (t *LabTest) Range() string {
	switch {
	case t.NormalMin != nil && t.NormalMax != nil:
		return fmt.Sprintf("%s - %s", formatValue(*t.NormalMin), formatValue(*t.NormalMax))
	case t.NormalMin != nil:
		return "≥ " + formatValue(*t.NormalMin)
	case t.NormalMax != nil:
		return "≤ " + formatValue(*t.NormalMax)
	}
	return ""
}

func (t *LabTest) UnitString() string {
	if t.Unit == nil {
		return ""
	}
	return *t.Unit
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// LabResult maps to the patient_lab_results table. Test is populated on reads.
type LabResult struct {
	ID         uuid.UUID `db:"id" json:"id"`
	PatientID  uuid.UUID `db:"patient_id" json:"patient_id"`
	DoctorID   uuid.UUID `db:"doctor_id" json:"doctor_id"`
	LabTestID  uuid.UUID `db:"lab_test_id" json:"lab_test_id"`
	Value      float64   `db:"result_value" json:"result_value"`
	ResultDate time.Time `db:"result_date" json:"result_date"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	Test       *LabTest  `json:"test,omitempty"`
}

// Status is the range status of the result, or Not specified when the test
// was not loaded.
func (r *LabResult) Status() RangeStatus {
	if r.Test == nil {
		return StatusNotSpecified
	}
	return r.Test.RangeStatus(r.Value)
}

// ResultFilter narrows a patient's result list.
// TestName matches the catalogue name case-insensitively.
type ResultFilter struct {
	LabTestID *uuid.UUID
	Code      TestCode
	TestName  string
	From      *time.Time
	To        *time.Time
}

// MonthlyValue is an average over one calendar month, Month formatted as
// YYYY-MM.
type MonthlyValue struct {
	Month string  `json:"month"`
	Value float64 `json:"value"`
}

// StageTransition is a change of CKD stage caused by a result.
type StageTransition struct {
	Previous ckd.Stage `json:"previous"`
	Current  ckd.Stage `json:"current"`
}

// RecordOutcome describes everything recording a result caused.
type RecordOutcome struct {
	Result        *LabResult         `json:"result"`
	Status        RangeStatus        `json:"status"`
	StageChange   *StageTransition   `json:"stage_change,omitempty"`
	Triggers      []workflow.Trigger `json:"triggers"`
	Notifications int                `json:"notifications"`
}

func f64(v float64) *float64 { return &v }
func str(s string) *string   { return &s }

// DefaultTests is the reference catalogue installed by seeding.
func DefaultTests() []*LabTest {
	return []*LabTest{
		{Name: "eGFR", Code: CodeEGFR, Description: str("Estimated glomerular filtration rate"), Unit: str("mL/min/1.73m²"), NormalMin: f64(90)},
		{Name: "ACR", Code: CodeACR, Description: str("Urine albumin-to-creatinine ratio"), Unit: str("mg/g"), NormalMax: f64(30)},
		{Name: "Creatinine", Code: CodeCreatinine, Description: str("Serum creatinine"), Unit: str("mg/dL"), NormalMin: f64(0.6), NormalMax: f64(1.2)},
		{Name: "Potassium", Code: CodePotassium, Description: str("Serum potassium"), Unit: str("mmol/L"), NormalMin: f64(3.5), NormalMax: f64(5)},
		{Name: "Hemoglobin", Code: CodeHemoglobin, Description: str("Blood hemoglobin"), Unit: str("g/dL"), NormalMin: f64(12), NormalMax: f64(17.5)},
	}
}
