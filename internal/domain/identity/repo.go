package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("not found")

// ErrInvalid marks errors caused by the caller's input.
var ErrInvalid = errors.New("invalid input")

func invalidf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

type UserRepository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	Update(ctx context.Context, u *User) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type PatientRepository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetByUserID(ctx context.Context, userID uuid.UUID) (*Patient, error)
	Update(ctx context.Context, p *Patient) error
	UpdateMeasurements(ctx context.Context, p *Patient) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, f PatientFilter, limit, offset int) ([]*Patient, int, error)
}

type DoctorRepository interface {
	Create(ctx context.Context, d *Doctor) error
	GetByID(ctx context.Context, id uuid.UUID) (*Doctor, error)
	GetByUserID(ctx context.Context, userID uuid.UUID) (*Doctor, error)
	Update(ctx context.Context, d *Doctor) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, limit, offset int) ([]*Doctor, int, error)
}
