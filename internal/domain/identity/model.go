package identity

import (
	"time"

	"github.com/google/uuid"

	"github.com/ckdcare/ckdcare/pkg/ckd"
)

const (
	GenderMale   = "M"
	GenderFemale = "F"
	GenderOther  = "Other"
)

var validGenders = map[string]bool{GenderMale: true, GenderFemale: true, GenderOther: true}

// User maps to the users table.
type User struct {
	ID        uuid.UUID `db:"id" json:"id"`
	FirstName string    `db:"first_name" json:"first_name"`
	LastName  string    `db:"last_name" json:"last_name"`
	Email     string    `db:"email" json:"email"`
	Role      string    `db:"role" json:"role"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

func (u *User) FullName() string {
	return u.FirstName + " " + u.LastName
}

// Patient maps to the patients table. User is populated on reads.
type Patient struct {
	ID               uuid.UUID            `db:"id" json:"id"`
	UserID           uuid.UUID            `db:"user_id" json:"user_id"`
	BirthDate        time.Time            `db:"birth_date" json:"birth_date"`
	Gender           string               `db:"gender" json:"gender"`
	Address          *string              `db:"address" json:"address,omitempty"`
	Phone            *string              `db:"phone" json:"phone,omitempty"`
	CKDStage         ckd.Stage            `db:"ckd_stage" json:"ckd_stage"`
	ProteinuriaLevel ckd.ProteinuriaLevel `db:"proteinuria_level" json:"proteinuria_level"`
	LastEGFR         *float64             `db:"last_egfr_value" json:"last_egfr_value,omitempty"`
	LastACR          *float64             `db:"last_proteinuria_value" json:"last_proteinuria_value,omitempty"`
	UpdatedAt        time.Time            `db:"updated_at" json:"updated_at"`
	User             *User                `json:"user,omitempty"`
}

func (p *Patient) Female() bool {
	return p.Gender == GenderFemale
}

// Age returns the patient's age in whole years at now.
func (p *Patient) Age(now time.Time) int {
	if p.BirthDate.IsZero() {
		return 0
	}
	years := now.Year() - p.BirthDate.Year()
	if now.Month() < p.BirthDate.Month() ||
		(now.Month() == p.BirthDate.Month() && now.Day() < p.BirthDate.Day()) {
		years--
	}
	if years < 0 {
		return 0
	}
	return years
}

// Risk returns the progression risk for the patient's current stage and
// proteinuria level.
func (p *Patient) Risk() ckd.Risk {
	return ckd.RiskForStage(p.CKDStage, p.ProteinuriaLevel)
}

// deriveClassification overwrites stage and level from the latest
// measurements when they are present.
func (p *Patient) deriveClassification() {
	if p.LastEGFR != nil {
		p.CKDStage = ckd.StageFromEGFR(*p.LastEGFR)
	}
	if p.LastACR != nil {
		p.ProteinuriaLevel = ckd.ProteinuriaFromACR(*p.LastACR)
	}
	if p.ProteinuriaLevel == 0 {
		p.ProteinuriaLevel = ckd.A1
	}
}

// Doctor maps to the doctors table.
type Doctor struct {
	ID        uuid.UUID `db:"id" json:"id"`
	UserID    uuid.UUID `db:"user_id" json:"user_id"`
	Specialty string    `db:"specialty" json:"specialty"`
	Hospital  *string   `db:"hospital" json:"hospital,omitempty"`
	User      *User     `json:"user,omitempty"`
}

// StageChange describes the effect of new measurements on a patient.
type StageChange struct {
	Patient  *Patient  `json:"patient"`
	Previous ckd.Stage `json:"previous_stage"`
	Current  ckd.Stage `json:"current_stage"`
}

func (c *StageChange) Changed() bool {
	return c.Previous != c.Current
}

// Worsened reports a progression to a more advanced stage.
func (c *StageChange) Worsened() bool {
	return c.Previous.Valid() && c.Current.Worse(c.Previous)
}

// PatientFilter narrows patient listings.
type PatientFilter struct {
	Name  string
	Stage ckd.Stage
}
