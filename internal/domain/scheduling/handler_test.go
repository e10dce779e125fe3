package scheduling

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ckdcare/ckdcare/internal/platform/auth"
)

func callAs(method, target, body, userID string, roles ...string) (echo.Context, *httptest.ResponseRecorder) {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	req = req.WithContext(auth.WithIdentity(req.Context(), userID, roles...))
	rec := httptest.NewRecorder()
	return echo.New().NewContext(req, rec), rec
}

func httpCode(t *testing.T, err error) int {
	t.Helper()
	var he *echo.HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("expected *echo.HTTPError, got %v", err)
	}
	return he.Code
}

func TestHandler_CreateAppointment(t *testing.T) {
	f := newFixture()
	h := NewHandler(f.svc)
	body := `{"patient_id":"` + f.patient.ID.String() + `","doctor_id":"` + f.doctor.ID.String() +
		`","appointment_date":"2024-07-01T10:30:00Z","purpose":"Dialysis planning"}`

	c, rec := callAs(http.MethodPost, "/", body, f.doctor.UserID.String(), auth.RoleDoctor)
	if err := h.CreateAppointment(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var a Appointment
	json.Unmarshal(rec.Body.Bytes(), &a)
	if rec.Code != http.StatusCreated || a.Status != StatusPending {
		t.Errorf("unexpected response %d %+v", rec.Code, a)
	}

	c, _ = callAs(http.MethodPost, "/", `{"patient_id":"`+uuid.NewString()+`","doctor_id":"`+f.doctor.ID.String()+`","appointment_date":"2024-07-01T10:30:00Z"}`, f.doctor.UserID.String(), auth.RoleDoctor)
	if got := httpCode(t, h.CreateAppointment(c)); got != http.StatusNotFound {
		t.Errorf("unknown patient: status = %d, want 404", got)
	}
}

func TestHandler_PatientSeesOnlyOwnAppointments(t *testing.T) {
	f := newFixture()
	h := NewHandler(f.svc)
	mine := f.book(t, now.Add(time.Hour))

	other := &Appointment{PatientID: uuid.New(), DoctorID: f.doctor.ID, AppointmentDate: now.Add(time.Hour), Status: StatusPending}
	f.repo.Create(context.Background(), other)

	c, rec := callAs(http.MethodGet, "/?patient_id="+other.PatientID.String(), "", f.patient.UserID.String(), auth.RolePatient)
	if err := h.ListAppointments(c); err != nil {
		t.Fatalf("list: %v", err)
	}
	var resp struct {
		Data  []Appointment `json:"data"`
		Total int           `json:"total"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Total != 1 || resp.Data[0].ID != mine.ID {
		t.Errorf("patient must only see own appointments, got %+v", resp)
	}

	c, _ = callAs(http.MethodGet, "/", "", f.patient.UserID.String(), auth.RolePatient)
	c.SetParamNames("id")
	c.SetParamValues(other.ID.String())
	if got := httpCode(t, h.GetAppointment(c)); got != http.StatusNotFound {
		t.Errorf("foreign appointment: status = %d, want 404", got)
	}
}

func TestHandler_ChangeStatus(t *testing.T) {
	f := newFixture()
	h := NewHandler(f.svc)
	a := f.book(t, now.Add(time.Hour))

	c, _ := callAs(http.MethodPatch, "/", `{"status":"confirmed"}`, f.patient.UserID.String(), auth.RolePatient)
	c.SetParamNames("id")
	c.SetParamValues(a.ID.String())
	if got := httpCode(t, h.ChangeStatus(c)); got != http.StatusForbidden {
		t.Errorf("patient confirm: status = %d, want 403", got)
	}

	c, rec := callAs(http.MethodPatch, "/", `{"status":"cancelled"}`, f.patient.UserID.String(), auth.RolePatient)
	c.SetParamNames("id")
	c.SetParamValues(a.ID.String())
	if err := h.ChangeStatus(c); err != nil {
		t.Fatalf("patient cancel: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"status":"cancelled"`) {
		t.Errorf("unexpected body %s", rec.Body.String())
	}

	c, _ = callAs(http.MethodPatch, "/", `{"status":"confirmed"}`, f.doctor.UserID.String(), auth.RoleDoctor)
	c.SetParamNames("id")
	c.SetParamValues(a.ID.String())
	if got := httpCode(t, h.ChangeStatus(c)); got != http.StatusBadRequest {
		t.Errorf("cancelled -> confirmed: status = %d, want 400", got)
	}
}

func TestHandler_ListUpcoming(t *testing.T) {
	f := newFixture()
	h := NewHandler(f.svc)
	f.book(t, now.Add(-time.Hour))
	f.book(t, now.Add(time.Hour))

	c, rec := callAs(http.MethodGet, "/?doctor_id="+f.doctor.ID.String(), "", f.doctor.UserID.String(), auth.RoleDoctor)
	if err := h.ListUpcoming(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"total":1`) {
		t.Errorf("expected one upcoming appointment, got %s", rec.Body.String())
	}
}

type brokenAppointmentRepo struct{ *mockAppointmentRepo }

func (brokenAppointmentRepo) Create(context.Context, *Appointment) error {
	return errors.New("connection reset by peer")
}

func TestHandler_CreateAppointment_ErrorStatus(t *testing.T) {
	const date = `"appointment_date":"2024-10-01T09:00:00Z"`
	tests := []struct {
		name   string
		body   func(f *fixture) string
		broken bool
		want   int
	}{
		{"missing doctor", func(f *fixture) string {
			return `{"patient_id":"` + f.patient.ID.String() + `",` + date + `}`
		}, false, http.StatusBadRequest},
		{"unknown patient", func(f *fixture) string {
			return `{"patient_id":"` + uuid.NewString() + `","doctor_id":"` + f.doctor.ID.String() + `",` + date + `}`
		}, false, http.StatusNotFound},
		{"storage failure", func(f *fixture) string {
			return `{"patient_id":"` + f.patient.ID.String() + `","doctor_id":"` + f.doctor.ID.String() + `",` + date + `}`
		}, true, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			if tt.broken {
				f.svc.appointments = brokenAppointmentRepo{f.repo}
			}
			c, _ := callAs(http.MethodPost, "/", tt.body(f), f.doctor.UserID.String(), auth.RoleDoctor)
			if got := httpCode(t, NewHandler(f.svc).CreateAppointment(c)); got != tt.want {
				t.Errorf("status = %d, want %d", got, tt.want)
			}
		})
	}
}
