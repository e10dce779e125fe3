package scheduling

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ckdcare/ckdcare/internal/domain/identity"
	"github.com/ckdcare/ckdcare/internal/domain/notification"
)

// PatientDirectory resolves the people an appointment refers to.
type PatientDirectory interface {
	GetPatient(ctx context.Context, id uuid.UUID) (*identity.Patient, error)
	GetPatientByUserID(ctx context.Context, userID uuid.UUID) (*identity.Patient, error)
	GetDoctor(ctx context.Context, id uuid.UUID) (*identity.Doctor, error)
}

type AlertRaiser interface {
	Raise(ctx context.Context, a notification.Alert) ([]*notification.Notification, error)
}

type Service struct {
	appointments AppointmentRepository
	people       PatientDirectory
	alerts       AlertRaiser
	logger       zerolog.Logger
	now          func() time.Time
}

func NewService(appointments AppointmentRepository, people PatientDirectory, alerts AlertRaiser, logger zerolog.Logger) *Service {
	return &Service{
		appointments: appointments,
		people:       people,
		alerts:       alerts,
		logger:       logger.With().Str("component", "scheduling").Logger(),
		now:          time.Now,
	}
}

func trimPurpose(a *Appointment) {
	if a.Purpose == nil {
		return
	}
	p := strings.TrimSpace(*a.Purpose)
	if p == "" {
		a.Purpose = nil
		return
	}
	a.Purpose = &p
}

// CreateAppointment books an appointment and notifies the patient. New
// appointments start pending unless created already confirmed.
func (s *Service) CreateAppointment(ctx context.Context, a *Appointment) error {
	if a.PatientID == uuid.Nil {
		return invalidf("patient_id is required")
	}
	if a.DoctorID == uuid.Nil {
		return invalidf("doctor_id is required")
	}
	if a.AppointmentDate.IsZero() {
		return invalidf("appointment_date is required")
	}
	if a.Status == "" {
		a.Status = StatusPending
	}
	if a.Status != StatusPending && a.Status != StatusConfirmed {
		return invalidf("new appointments must be pending or confirmed, got %q", a.Status)
	}
	trimPurpose(a)

	patient, err := s.people.GetPatient(ctx, a.PatientID)
	if err != nil {
		return fmt.Errorf("patient: %w", err)
	}
	if _, err := s.people.GetDoctor(ctx, a.DoctorID); err != nil {
		return fmt.Errorf("doctor: %w", err)
	}
	if err := s.appointments.Create(ctx, a); err != nil {
		return err
	}

	purpose := "follow-up"
	if a.Purpose != nil {
		purpose = *a.Purpose
	}
	rc := notification.Recipient{UserID: patient.UserID}
	if patient.User != nil {
		rc.Email = patient.User.Email
	}
	if s.alerts != nil {
		if _, err := s.alerts.Raise(ctx, notification.Alert{
			Recipients: []notification.Recipient{rc},
			Severity:   notification.SeverityInfo,
			Template:   notification.TemplateAppointmentBooked,
			Data: map[string]string{
				"date":    a.AppointmentDate.Format("2006-01-02 15:04"),
				"purpose": purpose,
			},
		}); err != nil {
			s.logger.Warn().Err(err).Str("appointment_id", a.ID.String()).Msg("booking notification failed")
		}
	}
	return nil
}

func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.appointments.GetByID(ctx, id)
}

// RescheduleAppointment changes date, doctor or purpose. Status is not
// touched; cancelled and completed appointments cannot be changed.
func (s *Service) RescheduleAppointment(ctx context.Context, id uuid.UUID, date time.Time, doctorID uuid.UUID, purpose *string) (*Appointment, error) {
	a, err := s.appointments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Status.Terminal() {
		return nil, invalidf("appointment is %s and can no longer change", a.Status)
	}
	if !date.IsZero() {
		a.AppointmentDate = date
	}
	if doctorID != uuid.Nil && doctorID != a.DoctorID {
		if _, err := s.people.GetDoctor(ctx, doctorID); err != nil {
			return nil, fmt.Errorf("doctor: %w", err)
		}
		a.DoctorID = doctorID
	}
	if purpose != nil {
		a.Purpose = purpose
		trimPurpose(a)
	}
	if err := s.appointments.Update(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// ChangeStatus moves an appointment along its lifecycle:
// pending -> confirmed | cancelled, confirmed -> completed | cancelled.
func (s *Service) ChangeStatus(ctx context.Context, id uuid.UUID, next Status) (*Appointment, error) {
	if !next.Valid() {
		return nil, invalidf("invalid status: %q", next)
	}
	a, err := s.appointments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !a.Status.CanTransition(next) {
		return nil, invalidf("cannot change appointment from %s to %s", a.Status, next)
	}
	prev := a.Status
	a.Status = next
	if err := s.appointments.Update(ctx, a); err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("appointment_id", id.String()).
		Str("from", string(prev)).
		Str("to", string(next)).
		Msg("appointment status changed")
	return a, nil
}

func (s *Service) DeleteAppointment(ctx context.Context, id uuid.UUID) error {
	return s.appointments.Delete(ctx, id)
}

func (s *Service) ListAppointments(ctx context.Context, f AppointmentFilter, limit, offset int) ([]*Appointment, int, error) {
	return s.appointments.List(ctx, f, limit, offset)
}

// ListUpcoming lists appointments dated now or later that are not cancelled.
func (s *Service) ListUpcoming(ctx context.Context, f AppointmentFilter, limit, offset int) ([]*Appointment, int, error) {
	now := s.now()
	f.From = &now
	return s.appointments.List(ctx, f, limit, offset)
}

func (s *Service) CountUpcoming(ctx context.Context) (int, error) {
	return s.appointments.CountUpcoming(ctx, s.now())
}

func (s *Service) PatientForUser(ctx context.Context, userID uuid.UUID) (*identity.Patient, error) {
	return s.people.GetPatientByUserID(ctx, userID)
}
