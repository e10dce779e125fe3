package dashboard

import (
	"time"

	"github.com/ckdcare/ckdcare/internal/domain/labs"
	"github.com/ckdcare/ckdcare/pkg/ckd"
)

// Stats is the clinic overview shown on the dashboard.
type Stats struct {
	TotalPatients        int                 `json:"total_patients"`
	UpcomingAppointments int                 `json:"upcoming_appointments"`
	CriticalAlerts       int                 `json:"critical_alerts"`
	PendingLabResults    int                 `json:"pending_lab_results"`
	StageDistribution    map[string]int      `json:"stage_distribution"`
	RiskDistribution     map[string]int      `json:"risk_distribution"`
	EGFRTrend            []labs.MonthlyValue `json:"egfr_trend"`
	GeneratedAt          time.Time           `json:"generated_at"`
}

// ClassificationCount is the number of patients with one stage and
// proteinuria level.
type ClassificationCount struct {
	Stage ckd.Stage
	Level ckd.ProteinuriaLevel
	Count int
}

// distributions folds classification counts into per-stage and per-risk
// totals. Every stage and risk category is present, zero when unused.
func distributions(counts []ClassificationCount) (stages, risks map[string]int) {
	stages = make(map[string]int, len(ckd.AllStages()))
	for _, s := range ckd.AllStages() {
		stages[s.String()] = 0
	}
	risks = make(map[string]int, len(ckd.AllRisks()))
	for _, r := range ckd.AllRisks() {
		risks[r.String()] = 0
	}
	for _, c := range counts {
		if c.Stage.Valid() {
			stages[c.Stage.String()] += c.Count
		}
		risks[ckd.RiskForStage(c.Stage, c.Level).String()] += c.Count
	}
	return stages, risks
}
