package report

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ckdcare/ckdcare/internal/domain/identity"
	"github.com/ckdcare/ckdcare/internal/domain/labs"
	"github.com/ckdcare/ckdcare/internal/domain/workflow"
	"github.com/ckdcare/ckdcare/pkg/ckd"
)

const dateLayout = "2006-01-02"

// maxLabRows bounds the lab history printed in a report.
const maxLabRows = 100

type PatientSource interface {
	GetPatient(ctx context.Context, id uuid.UUID) (*identity.Patient, error)
}

type ResultSource interface {
	ListResults(ctx context.Context, patientID uuid.UUID, f labs.ResultFilter, limit, offset int) ([]*labs.LabResult, int, error)
}

type WorkflowSource interface {
	ForStage(ctx context.Context, stage ckd.Stage) ([]*workflow.Workflow, error)
}

type Service struct {
	patients  PatientSource
	results   ResultSource
	workflows WorkflowSource
	logger    zerolog.Logger
	now       func() time.Time
}

func NewService(patients PatientSource, results ResultSource, workflows WorkflowSource, logger zerolog.Logger) *Service {
	return &Service{
		patients:  patients,
		results:   results,
		workflows: workflows,
		logger:    logger.With().Str("component", "report").Logger(),
		now:       time.Now,
	}
}

// Generate builds the report for a patient from their record, lab history
// and the monitoring workflows of their stage.
func (s *Service) Generate(ctx context.Context, patientID uuid.UUID) (*PatientReport, error) {
	p, err := s.patients.GetPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}
	return s.build(ctx, p)
}

func (s *Service) build(ctx context.Context, p *identity.Patient) (*PatientReport, error) {
	now := s.now().UTC()
	results, _, err := s.results.ListResults(ctx, p.ID, labs.ResultFilter{}, maxLabRows, 0)
	if err != nil {
		return nil, fmt.Errorf("lab results: %w", err)
	}
	workflows, err := s.workflows.ForStage(ctx, p.CKDStage)
	if err != nil {
		return nil, fmt.Errorf("workflows: %w", err)
	}

	risk := p.Risk()
	r := &PatientReport{
		Patient: p,
		Age:     p.Age(now),
		Classification: Classification{
			Stage:            p.CKDStage,
			ProteinuriaLevel: p.ProteinuriaLevel,
			Risk:             risk,
			EGFR:             p.LastEGFR,
			ACR:              p.LastACR,
		},
		RiskExplanation: risk.Explanation(),
		LabRows:         labRows(results),
		GeneratedAt:     now,
	}
	if r.Monitoring, err = s.monitoring(ctx, p.ID, workflows, now); err != nil {
		return nil, fmt.Errorf("monitoring: %w", err)
	}
	s.logger.Debug().Str("patient_id", p.ID.String()).Int("lab_rows", len(r.LabRows)).Msg("report generated")
	return r, nil
}

func labRows(results []*labs.LabResult) []LabRow {
	rows := make([]LabRow, 0, len(results))
	for _, res := range results {
		row := LabRow{
			Date:   res.ResultDate.Format(dateLayout),
			Value:  res.Value,
			Status: string(res.Status()),
		}
		if res.Test != nil {
			row.Test = res.Test.Name
			row.Unit = res.Test.UnitString()
			row.Range = res.Test.Range()
		}
		rows = append(rows, row)
	}
	return rows
}

// monitoring lists each required test once, at its most frequent schedule.
// The last result of each test is looked up on its own so a long lab history
// cannot hide it. A test never done is due now and counts as overdue.
func (s *Service) monitoring(ctx context.Context, patientID uuid.UUID, workflows []*workflow.Workflow, now time.Time) ([]MonitoringRow, error) {
	required := map[string]*workflow.Requirement{}
	for _, w := range workflows {
		for _, req := range w.Requirements {
			key := strings.ToLower(strings.TrimSpace(req.TestName))
			if cur, ok := required[key]; !ok || req.Frequency.Months() < cur.Frequency.Months() {
				required[key] = req
			}
		}
	}

	rows := make([]MonitoringRow, 0, len(required))
	for _, req := range required {
		row := MonitoringRow{Test: req.TestName, Frequency: req.Frequency}
		due := now
		latest, _, err := s.results.ListResults(ctx, patientID, labs.ResultFilter{TestName: req.TestName}, 1, 0)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", req.TestName, err)
		}
		if len(latest) > 0 {
			last := latest[0].ResultDate.Format(dateLayout)
			row.LastDone = &last
			due = workflow.NextDue(req.Frequency, latest[0].ResultDate)
		}
		row.NextDue = due.Format(dateLayout)
		row.Overdue = row.LastDone == nil || due.Before(now)
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].NextDue < rows[j].NextDue || (rows[i].NextDue == rows[j].NextDue && rows[i].Test < rows[j].Test)
	})
	return rows, nil
}
