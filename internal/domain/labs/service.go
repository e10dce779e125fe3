package labs

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ckdcare/ckdcare/internal/domain/identity"
	"github.com/ckdcare/ckdcare/internal/domain/notification"
	"github.com/ckdcare/ckdcare/internal/domain/workflow"
	"github.com/ckdcare/ckdcare/internal/platform/db"
	"github.com/ckdcare/ckdcare/internal/platform/events"
	"github.com/ckdcare/ckdcare/pkg/ckd"
)

// PatientDirectory is the part of the identity service lab ingestion needs.
type PatientDirectory interface {
	GetPatient(ctx context.Context, id uuid.UUID) (*identity.Patient, error)
	GetDoctor(ctx context.Context, id uuid.UUID) (*identity.Doctor, error)
	GetDoctorByUserID(ctx context.Context, userID uuid.UUID) (*identity.Doctor, error)
	ApplyMeasurements(ctx context.Context, patientID uuid.UUID, egfr, acr *float64) (*identity.StageChange, error)
}

type WorkflowEvaluator interface {
	Evaluate(ctx context.Context, stage ckd.Stage, testName string, value float64) ([]workflow.Trigger, error)
}

type AlertRaiser interface {
	Raise(ctx context.Context, a notification.Alert) ([]*notification.Notification, error)
}

type Service struct {
	tests     LabTestRepository
	results   LabResultRepository
	patients  PatientDirectory
	workflows WorkflowEvaluator
	alerts    AlertRaiser
	publisher events.Publisher
	tx        db.Transactor
	logger    zerolog.Logger
}

func NewService(tests LabTestRepository, results LabResultRepository, patients PatientDirectory,
	workflows WorkflowEvaluator, alerts AlertRaiser, publisher events.Publisher, tx db.Transactor, logger zerolog.Logger) *Service {
	return &Service{
		tests:     tests,
		results:   results,
		patients:  patients,
		workflows: workflows,
		alerts:    alerts,
		publisher: publisher,
		tx:        tx,
		logger:    logger.With().Str("component", "labs").Logger(),
	}
}

// -- Lab tests --

func validateTest(t *LabTest) error {
	t.Name = strings.TrimSpace(t.Name)
	if t.Name == "" {
		return invalidf("test_name is required")
	}
	if t.Code == "" {
		t.Code = CodeOther
	}
	if !t.Code.Valid() {
		return invalidf("invalid code: %q", t.Code)
	}
	for _, b := range []*float64{t.NormalMin, t.NormalMax} {
		if b != nil && (math.IsNaN(*b) || math.IsInf(*b, 0)) {
			return invalidf("reference range bounds must be finite")
		}
	}
	if t.NormalMin != nil && t.NormalMax != nil && *t.NormalMin > *t.NormalMax {
		return invalidf("normal_min must not exceed normal_max")
	}
	return nil
}

func (s *Service) CreateTest(ctx context.Context, t *LabTest) error {
	if err := validateTest(t); err != nil {
		return err
	}
	return s.tests.Create(ctx, t)
}

func (s *Service) GetTest(ctx context.Context, id uuid.UUID) (*LabTest, error) {
	return s.tests.GetByID(ctx, id)
}

func (s *Service) UpdateTest(ctx context.Context, t *LabTest) error {
	if err := validateTest(t); err != nil {
		return err
	}
	return s.tests.Update(ctx, t)
}

func (s *Service) DeleteTest(ctx context.Context, id uuid.UUID) error {
	return s.tests.Delete(ctx, id)
}

func (s *Service) ListTests(ctx context.Context) ([]*LabTest, error) {
	return s.tests.List(ctx)
}

// InstallDefaultTests creates the DefaultTests that do not exist yet, matched
// by name, and returns how many were created.
func (s *Service) InstallDefaultTests(ctx context.Context) (int, error) {
	created := 0
	for _, t := range DefaultTests() {
		_, err := s.tests.GetByName(ctx, t.Name)
		if err == nil {
			continue
		}
		if !errors.Is(err, ErrNotFound) {
			return created, err
		}
		if err := s.tests.Create(ctx, t); err != nil {
			return created, fmt.Errorf("install %q: %w", t.Name, err)
		}
		created++
	}
	return created, nil
}

// -- Lab results --

func (s *Service) GetResult(ctx context.Context, id uuid.UUID) (*LabResult, error) {
	return s.results.GetByID(ctx, id)
}

func (s *Service) DeleteResult(ctx context.Context, id uuid.UUID) error {
	return s.results.Delete(ctx, id)
}

func (s *Service) ListResults(ctx context.Context, patientID uuid.UUID, f ResultFilter, limit, offset int) ([]*LabResult, int, error) {
	return s.results.ListByPatient(ctx, patientID, f, limit, offset)
}

func (s *Service) MonthlyAverages(ctx context.Context, code TestCode, since time.Time) ([]MonthlyValue, error) {
	return s.results.MonthlyAverages(ctx, code, since)
}

// RecordResult stores a lab result and reacts to it. eGFR and ACR results
// that are the patient's newest for their test update the patient's
// classification; the value is then checked against the monitoring
// workflows of the patient's stage. Triggered requirements and stage
// worsening raise alerts for the patient and the ordering doctor.
func (s *Service) RecordResult(ctx context.Context, r *LabResult) (*RecordOutcome, error) {
	if r.PatientID == uuid.Nil || r.LabTestID == uuid.Nil || r.DoctorID == uuid.Nil {
		return nil, invalidf("patient_id, doctor_id and lab_test_id are required")
	}
	if r.ResultDate.IsZero() {
		r.ResultDate = time.Now().UTC().Truncate(24 * time.Hour)
	}

	test, err := s.tests.GetByID(ctx, r.LabTestID)
	if err != nil {
		return nil, fmt.Errorf("lab test: %w", err)
	}
	if err := ckd.ValidateMeasurement(test.Name, r.Value); err != nil {
		return nil, err
	}
	r.Test = test

	var (
		patient *identity.Patient
		doctor  *identity.Doctor
		change  *identity.StageChange
	)
	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		if patient, err = s.patients.GetPatient(ctx, r.PatientID); err != nil {
			return fmt.Errorf("patient: %w", err)
		}
		if doctor, err = s.patients.GetDoctor(ctx, r.DoctorID); err != nil {
			return fmt.Errorf("doctor: %w", err)
		}

		latest, err := s.results.LatestDate(ctx, r.PatientID, r.LabTestID)
		if err != nil {
			return err
		}
		if err := s.results.Create(ctx, r); err != nil {
			return err
		}
		if latest != nil && r.ResultDate.Before(*latest) {
			return nil
		}

		var egfr, acr *float64
		switch test.Code {
		case CodeEGFR:
			egfr = &r.Value
		case CodeACR:
			acr = &r.Value
		default:
			return nil
		}
		change, err = s.patients.ApplyMeasurements(ctx, r.PatientID, egfr, acr)
		return err
	})
	if err != nil {
		return nil, err
	}

	out := &RecordOutcome{Result: r, Status: test.RangeStatus(r.Value)}
	stage := patient.CKDStage
	if change != nil {
		stage = change.Current
		patient = change.Patient
		if change.Changed() {
			out.StageChange = &StageTransition{Previous: change.Previous, Current: change.Current}
		}
	}

	s.logger.Info().
		Str("patient_id", r.PatientID.String()).
		Str("test", test.Name).
		Float64("value", r.Value).
		Str("status", string(out.Status)).
		Msg("lab result recorded")
	s.publish(ctx, events.TypeLabRecorded, labRecordedEvent{
		ResultID:  r.ID,
		PatientID: r.PatientID,
		Test:      test.Name,
		Code:      test.Code,
		Value:     r.Value,
		Unit:      test.UnitString(),
		Status:    out.Status,
		Date:      r.ResultDate.Format("2006-01-02"),
	})

	triggers, err := s.workflows.Evaluate(ctx, stage, test.Name, r.Value)
	if err != nil {
		s.logger.Error().Err(err).Msg("workflow evaluation failed")
	}
	out.Triggers = triggers
	if out.Triggers == nil {
		out.Triggers = []workflow.Trigger{}
	}

	out.Notifications = s.raiseAlerts(ctx, patient, doctor, test, r, change, triggers)
	return out, nil
}

type labRecordedEvent struct {
	ResultID  uuid.UUID   `json:"result_id"`
	PatientID uuid.UUID   `json:"patient_id"`
	Test      string      `json:"test"`
	Code      TestCode    `json:"code"`
	Value     float64     `json:"value"`
	Unit      string      `json:"unit,omitempty"`
	Status    RangeStatus `json:"status"`
	Date      string      `json:"date"`
}

type stageChangedEvent struct {
	PatientID uuid.UUID `json:"patient_id"`
	Previous  ckd.Stage `json:"previous"`
	Current   ckd.Stage `json:"current"`
	Worsened  bool      `json:"worsened"`
	EGFR      *float64  `json:"egfr,omitempty"`
}

func recipients(p *identity.Patient, d *identity.Doctor) []notification.Recipient {
	var out []notification.Recipient
	if p.User != nil {
		out = append(out, notification.Recipient{UserID: p.UserID, Email: p.User.Email})
	} else {
		out = append(out, notification.Recipient{UserID: p.UserID})
	}
	if d.User != nil {
		out = append(out, notification.Recipient{UserID: d.UserID, Email: d.User.Email})
	} else {
		out = append(out, notification.Recipient{UserID: d.UserID})
	}
	return out
}

func patientName(p *identity.Patient) string {
	if p.User != nil {
		return p.User.FullName()
	}
	return p.ID.String()
}

// raiseAlerts returns how many notifications were stored. Failures are
// logged; the result itself is already committed.
func (s *Service) raiseAlerts(ctx context.Context, p *identity.Patient, d *identity.Doctor, test *LabTest,
	r *LabResult, change *identity.StageChange, triggers []workflow.Trigger) int {
	var alerts []notification.Alert
	both := recipients(p, d)
	name := patientName(p)

	alerts = append(alerts, notification.Alert{
		Recipients: both[:1],
		Severity:   notification.SeverityInfo,
		Template:   notification.TemplateLabRecorded,
		Data: map[string]string{
			"test":  test.Name,
			"value": formatValue(r.Value),
			"unit":  test.UnitString(),
			"date":  r.ResultDate.Format("2006-01-02"),
		},
	})

	for _, t := range triggers {
		alerts = append(alerts, notification.Alert{
			Recipients: both,
			Severity:   notification.SeverityWarning,
			Template:   notification.TemplateRequirementTriggered,
			SendEmail:  t.Requirement.Action == workflow.ActionEmail,
			Data: map[string]string{
				"patient_name": name,
				"test":         test.Name,
				"value":        formatValue(r.Value),
				"unit":         test.UnitString(),
				"alert":        t.Requirement.Alert.String(),
				"workflow":     t.WorkflowName,
			},
		})
	}

	if change != nil && change.Changed() {
		s.publish(ctx, events.TypeStageChanged, stageChangedEvent{
			PatientID: p.ID,
			Previous:  change.Previous,
			Current:   change.Current,
			Worsened:  change.Worsened(),
			EGFR:      p.LastEGFR,
		})
		if change.Worsened() {
			severity := notification.SeverityWarning
			if change.Current >= ckd.Stage4 {
				severity = notification.SeverityCritical
			}
			egfr := ""
			if p.LastEGFR != nil {
				egfr = formatValue(*p.LastEGFR)
			}
			alerts = append(alerts, notification.Alert{
				Recipients: both,
				Severity:   severity,
				Template:   notification.TemplateStageWorsened,
				SendEmail:  severity == notification.SeverityCritical,
				Data: map[string]string{
					"patient_name": name,
					"previous":     change.Previous.String(),
					"current":      change.Current.String(),
					"egfr":         egfr,
				},
			})
		}
	}

	stored := 0
	for _, a := range alerts {
		created, err := s.alerts.Raise(ctx, a)
		stored += len(created)
		if err != nil {
			s.logger.Error().Err(err).Str("template", a.Template).Msg("raise alert failed")
		}
	}
	return stored
}

func (s *Service) publish(ctx context.Context, eventType string, payload interface{}) {
	if s.publisher == nil {
		return
	}
	e, err := events.New(eventType, payload)
	if err == nil {
		err = s.publisher.Publish(ctx, e)
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("event_type", eventType).Msg("publish failed")
	}
}
