package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("appointment not found")

// ErrInvalid marks requests the appointment rules reject.
var ErrInvalid = errors.New("invalid appointment request")

func invalidf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

type AppointmentRepository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	Update(ctx context.Context, a *Appointment) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, f AppointmentFilter, limit, offset int) ([]*Appointment, int, error)
	CountUpcoming(ctx context.Context, now time.Time) (int, error)
}
