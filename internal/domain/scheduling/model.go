package scheduling

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
)

var transitions = map[Status][]Status{
	StatusPending:   {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusCompleted, StatusCancelled},
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCancelled, StatusCompleted:
		return true
	}
	return false
}

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// CanTransition reports whether an appointment may move from s to next.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Appointment maps to the appointments table.
type Appointment struct {
	ID              uuid.UUID `db:"id" json:"id"`
	PatientID       uuid.UUID `db:"patient_id" json:"patient_id"`
	DoctorID        uuid.UUID `db:"doctor_id" json:"doctor_id"`
	AppointmentDate time.Time `db:"appointment_date" json:"appointment_date"`
	Purpose         *string   `db:"purpose" json:"purpose,omitempty"`
	Status          Status    `db:"status" json:"status"`
}

// Upcoming reports whether the appointment still lies ahead of now and has
// not been cancelled.
func (a *Appointment) Upcoming(now time.Time) bool {
	return !a.AppointmentDate.Before(now) && a.Status != StatusCancelled
}

// AppointmentFilter narrows appointment listings. Zero fields are ignored.
type AppointmentFilter struct {
	PatientID *uuid.UUID
	DoctorID  *uuid.UUID
	Status    Status
	From      *time.Time
}
