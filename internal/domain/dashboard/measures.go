package dashboard

import "time"

// MeasureDefinition is a named aggregate query over clinic data.
type MeasureDefinition struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	SQL         string `json:"-"`
}

// MeasureReport holds the rows produced by evaluating a measure.
type MeasureReport struct {
	MeasureID   string                   `json:"measure_id"`
	MeasureName string                   `json:"measure_name"`
	GeneratedAt time.Time                `json:"generated_at"`
	Results     []map[string]interface{} `json:"results"`
}

// PredefinedMeasures is the list of available measures.
var PredefinedMeasures = []MeasureDefinition{
	{
		ID:          "stage-distribution",
		Name:        "CKD Stage Distribution",
		Description: "Number of patients per CKD stage",
		SQL:         `SELECT ckd_stage, COUNT(*) AS total FROM patients GROUP BY ckd_stage ORDER BY ckd_stage`,
	},
	{
		ID:          "classification-matrix",
		Name:        "Stage by Proteinuria",
		Description: "Number of patients per CKD stage and albuminuria category",
		SQL: `SELECT ckd_stage, proteinuria_level, COUNT(*) AS total FROM patients
			GROUP BY ckd_stage, proteinuria_level ORDER BY ckd_stage, proteinuria_level`,
	},
	{
		ID:          "appointments-by-status",
		Name:        "Appointments by Status",
		Description: "Count of appointments by lifecycle status",
		SQL:         `SELECT status, COUNT(*) AS total FROM appointments GROUP BY status ORDER BY total DESC`,
	},
	{
		ID:          "lab-volume-by-test",
		Name:        "Lab Volume by Test",
		Description: "Number of results recorded per lab test over the last year",
		SQL: `SELECT t.test_name, COUNT(*) AS total FROM patient_lab_results r
			JOIN lab_tests t ON t.id = r.lab_test_id
			WHERE r.result_date >= CURRENT_DATE - INTERVAL '1 year'
			GROUP BY t.test_name ORDER BY total DESC`,
	},
	{
		ID:          "unread-alerts-by-severity",
		Name:        "Unread Alerts by Severity",
		Description: "Unread notifications grouped by severity",
		SQL:         `SELECT severity, COUNT(*) AS total FROM notifications WHERE NOT is_read GROUP BY severity`,
	},
}

// FindMeasure looks up a measure by ID.
func FindMeasure(id string) *MeasureDefinition {
	for i := range PredefinedMeasures {
		if PredefinedMeasures[i].ID == id {
			return &PredefinedMeasures[i]
		}
	}
	return nil
}
