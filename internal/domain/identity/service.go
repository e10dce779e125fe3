package identity

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ckdcare/ckdcare/internal/platform/auth"
	"github.com/ckdcare/ckdcare/internal/platform/db"
	"github.com/ckdcare/ckdcare/pkg/ckd"
)

type Service struct {
	users    UserRepository
	patients PatientRepository
	doctors  DoctorRepository
	tx       db.Transactor
	logger   zerolog.Logger
	now      func() time.Time
}

func NewService(users UserRepository, patients PatientRepository, doctors DoctorRepository, tx db.Transactor, logger zerolog.Logger) *Service {
	return &Service{
		users:    users,
		patients: patients,
		doctors:  doctors,
		tx:       tx,
		logger:   logger.With().Str("component", "identity").Logger(),
		now:      time.Now,
	}
}

func validateUser(u *User) error {
	u.FirstName = strings.TrimSpace(u.FirstName)
	u.LastName = strings.TrimSpace(u.LastName)
	u.Email = strings.TrimSpace(u.Email)
	if u.FirstName == "" || u.LastName == "" {
		return invalidf("first_name and last_name are required")
	}
	if u.Email == "" {
		return invalidf("email is required")
	}
	if _, err := mail.ParseAddress(u.Email); err != nil {
		return invalidf("invalid email: %s", u.Email)
	}
	return nil
}

func validateMeasurements(egfr, acr *float64) error {
	if egfr != nil {
		if err := ckd.ValidateMeasurement("egfr", *egfr); err != nil {
			return err
		}
	}
	if acr != nil {
		if err := ckd.ValidateMeasurement("acr", *acr); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) validatePatient(p *Patient) error {
	if p.BirthDate.IsZero() {
		return invalidf("birth_date is required")
	}
	if p.BirthDate.After(s.now()) {
		return invalidf("birth_date must not be in the future")
	}
	if !validGenders[p.Gender] {
		return invalidf("invalid gender: %q", p.Gender)
	}
	if err := validateMeasurements(p.LastEGFR, p.LastACR); err != nil {
		return err
	}
	p.deriveClassification()
	if !p.CKDStage.Valid() {
		return invalidf("ckd_stage or last_egfr_value is required")
	}
	return nil
}

// -- Patient --

// CreatePatient creates the user account and patient record together.
func (s *Service) CreatePatient(ctx context.Context, u *User, p *Patient) error {
	if err := validateUser(u); err != nil {
		return err
	}
	if err := s.validatePatient(p); err != nil {
		return err
	}
	u.Role = auth.RolePatient

	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := s.users.Create(ctx, u); err != nil {
			return fmt.Errorf("create user: %w", err)
		}
		p.UserID = u.ID
		return s.patients.Create(ctx, p)
	})
	if err != nil {
		return err
	}
	p.User = u
	s.logger.Info().Str("patient_id", p.ID.String()).Stringer("ckd_stage", p.CKDStage).Msg("patient created")
	return nil
}

func (s *Service) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.patients.GetByID(ctx, id)
}

func (s *Service) GetPatientByUserID(ctx context.Context, userID uuid.UUID) (*Patient, error) {
	return s.patients.GetByUserID(ctx, userID)
}

// UpdatePatient replaces the patient's demographic and clinical fields and,
// when p.User is set, the user's name and email.
func (s *Service) UpdatePatient(ctx context.Context, p *Patient) error {
	if err := s.validatePatient(p); err != nil {
		return err
	}
	if p.User != nil {
		if err := validateUser(p.User); err != nil {
			return err
		}
	}
	return s.tx.WithTx(ctx, func(ctx context.Context) error {
		existing, err := s.patients.GetByID(ctx, p.ID)
		if err != nil {
			return err
		}
		p.UserID = existing.UserID
		if err := s.patients.Update(ctx, p); err != nil {
			return err
		}
		if p.User == nil {
			p.User = existing.User
			return nil
		}
		p.User.ID = existing.UserID
		return s.users.Update(ctx, p.User)
	})
}

func (s *Service) DeletePatient(ctx context.Context, id uuid.UUID) error {
	return s.patients.Delete(ctx, id)
}

func (s *Service) ListPatients(ctx context.Context, f PatientFilter, limit, offset int) ([]*Patient, int, error) {
	return s.patients.List(ctx, f, limit, offset)
}

// ApplyMeasurements records a patient's latest eGFR and/or ACR and
// reclassifies them. Nil values leave the stored measurement unchanged.
func (s *Service) ApplyMeasurements(ctx context.Context, patientID uuid.UUID, egfr, acr *float64) (*StageChange, error) {
	if egfr == nil && acr == nil {
		return nil, invalidf("egfr or acr is required")
	}
	if err := validateMeasurements(egfr, acr); err != nil {
		return nil, err
	}

	var change *StageChange
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		p, err := s.patients.GetByID(ctx, patientID)
		if err != nil {
			return err
		}
		change = &StageChange{Patient: p, Previous: p.CKDStage}
		if egfr != nil {
			p.LastEGFR = egfr
		}
		if acr != nil {
			p.LastACR = acr
		}
		p.deriveClassification()
		change.Current = p.CKDStage
		return s.patients.UpdateMeasurements(ctx, p)
	})
	if err != nil {
		return nil, err
	}

	if change.Changed() {
		s.logger.Info().
			Str("patient_id", patientID.String()).
			Stringer("from", change.Previous).
			Stringer("to", change.Current).
			Msg("ckd stage changed")
	}
	return change, nil
}

// -- Doctor --

func (s *Service) CreateDoctor(ctx context.Context, u *User, d *Doctor) error {
	if err := validateUser(u); err != nil {
		return err
	}
	if strings.TrimSpace(d.Specialty) == "" {
		return invalidf("specialty is required")
	}
	u.Role = auth.RoleDoctor

	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := s.users.Create(ctx, u); err != nil {
			return fmt.Errorf("create user: %w", err)
		}
		d.UserID = u.ID
		return s.doctors.Create(ctx, d)
	})
	if err != nil {
		return err
	}
	d.User = u
	return nil
}

func (s *Service) GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	return s.doctors.GetByID(ctx, id)
}

func (s *Service) GetDoctorByUserID(ctx context.Context, userID uuid.UUID) (*Doctor, error) {
	return s.doctors.GetByUserID(ctx, userID)
}

func (s *Service) UpdateDoctor(ctx context.Context, d *Doctor) error {
	if strings.TrimSpace(d.Specialty) == "" {
		return invalidf("specialty is required")
	}
	return s.doctors.Update(ctx, d)
}

func (s *Service) DeleteDoctor(ctx context.Context, id uuid.UUID) error {
	return s.doctors.Delete(ctx, id)
}

func (s *Service) ListDoctors(ctx context.Context, limit, offset int) ([]*Doctor, int, error) {
	return s.doctors.List(ctx, limit, offset)
}

// -- User --

func (s *Service) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.users.GetByID(ctx, id)
}

// UpdateProfile changes a user's own name and email. Empty fields keep
// their current value; the role never changes.
func (s *Service) UpdateProfile(ctx context.Context, userID uuid.UUID, firstName, lastName, email string) (*User, error) {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	updated := *u
	if firstName != "" {
		updated.FirstName = firstName
	}
	if lastName != "" {
		updated.LastName = lastName
	}
	if email != "" {
		updated.Email = email
	}
	if err := validateUser(&updated); err != nil {
		return nil, err
	}
	if err := s.users.Update(ctx, &updated); err != nil {
		return nil, err
	}
	s.logger.Info().Str("user_id", userID.String()).Msg("profile updated")
	return &updated, nil
}
