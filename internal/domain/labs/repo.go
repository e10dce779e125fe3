package labs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("not found")

// ErrInvalid marks errors caused by the caller's input.
var ErrInvalid = errors.New("invalid input")

func invalidf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

type LabTestRepository interface {
	Create(ctx context.Context, t *LabTest) error
	GetByID(ctx context.Context, id uuid.UUID) (*LabTest, error)
	GetByName(ctx context.Context, name string) (*LabTest, error)
	Update(ctx context.Context, t *LabTest) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context) ([]*LabTest, error)
}

type LabResultRepository interface {
	Create(ctx context.Context, r *LabResult) error
	GetByID(ctx context.Context, id uuid.UUID) (*LabResult, error)
	Delete(ctx context.Context, id uuid.UUID) error
	ListByPatient(ctx context.Context, patientID uuid.UUID, f ResultFilter, limit, offset int) ([]*LabResult, int, error)
	// LatestDate returns the most recent result date of a test for a
	// patient, or nil when there is none.
	LatestDate(ctx context.Context, patientID, labTestID uuid.UUID) (*time.Time, error)
	MonthlyAverages(ctx context.Context, code TestCode, since time.Time) ([]MonthlyValue, error)
	CountPatientsWithoutResultSince(ctx context.Context, since time.Time) (int, error)
}
