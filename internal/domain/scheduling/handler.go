package scheduling

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ckdcare/ckdcare/internal/domain/identity"
	"github.com/ckdcare/ckdcare/internal/platform/auth"
	"github.com/ckdcare/ckdcare/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	anyone := api.Group("/appointments", auth.RequireRole(auth.RoleDoctor, auth.RolePatient))
	anyone.GET("", h.ListAppointments)
	anyone.GET("/upcoming", h.ListUpcoming)
	anyone.GET("/:id", h.GetAppointment)
	anyone.PATCH("/:id/status", h.ChangeStatus)

	staff := api.Group("/appointments", auth.RequireRole(auth.RoleDoctor))
	staff.POST("", h.CreateAppointment)
	staff.PUT("/:id", h.UpdateAppointment)
	staff.DELETE("/:id", h.DeleteAppointment)
}

func httpError(err error) error {
	if errors.Is(err, ErrNotFound) || errors.Is(err, identity.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

func writeError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, identity.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrInvalid):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

// callerPatientID returns the caller's own patient id when the caller is a
// patient only, and nil for staff.
func (h *Handler) callerPatientID(ctx context.Context) (*uuid.UUID, error) {
	if !auth.IsPatientOnly(ctx) {
		return nil, nil
	}
	uid, err := uuid.Parse(auth.UserIDFromContext(ctx))
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusForbidden, "caller has no patient record")
	}
	p, err := h.svc.PatientForUser(ctx, uid)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusForbidden, "caller has no patient record")
	}
	return &p.ID, nil
}

// loadVisible fetches the appointment at :id, hiding other patients'
// appointments from patient callers.
func (h *Handler) loadVisible(c echo.Context) (*Appointment, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ctx := c.Request().Context()
	a, err := h.svc.GetAppointment(ctx, id)
	if err != nil {
		return nil, httpError(err)
	}
	own, err := h.callerPatientID(ctx)
	if err != nil {
		return nil, err
	}
	if own != nil && *own != a.PatientID {
		return nil, echo.NewHTTPError(http.StatusNotFound, ErrNotFound.Error())
	}
	return a, nil
}

// AppointmentRequest is the body of create and update calls.
type AppointmentRequest struct {
	PatientID       uuid.UUID `json:"patient_id"`
	DoctorID        uuid.UUID `json:"doctor_id"`
	AppointmentDate time.Time `json:"appointment_date"`
	Purpose         *string   `json:"purpose"`
	Status          Status    `json:"status"`
}

func (h *Handler) CreateAppointment(c echo.Context) error {
	var req AppointmentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a := &Appointment{
		PatientID:       req.PatientID,
		DoctorID:        req.DoctorID,
		AppointmentDate: req.AppointmentDate,
		Purpose:         req.Purpose,
		Status:          req.Status,
	}
	if err := h.svc.CreateAppointment(c.Request().Context(), a); err != nil {
		return writeError(err)
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) GetAppointment(c echo.Context) error {
	a, err := h.loadVisible(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) UpdateAppointment(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req AppointmentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a, err := h.svc.RescheduleAppointment(c.Request().Context(), id, req.AppointmentDate, req.DoctorID, req.Purpose)
	if err != nil {
		return writeError(err)
	}
	if req.Status != "" && req.Status != a.Status {
		if a, err = h.svc.ChangeStatus(c.Request().Context(), id, req.Status); err != nil {
			return writeError(err)
		}
	}
	return c.JSON(http.StatusOK, a)
}

// ChangeStatus applies a lifecycle transition. Patients may only cancel their
// own appointments.
func (h *Handler) ChangeStatus(c echo.Context) error {
	a, err := h.loadVisible(c)
	if err != nil {
		return err
	}
	var req struct {
		Status Status `json:"status"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	if auth.IsPatientOnly(ctx) && req.Status != StatusCancelled {
		return echo.NewHTTPError(http.StatusForbidden, "patients may only cancel appointments")
	}
	updated, err := h.svc.ChangeStatus(ctx, a.ID, req.Status)
	if err != nil {
		return writeError(err)
	}
	return c.JSON(http.StatusOK, updated)
}

func (h *Handler) DeleteAppointment(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.DeleteAppointment(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) filter(c echo.Context) (AppointmentFilter, error) {
	var f AppointmentFilter
	own, err := h.callerPatientID(c.Request().Context())
	if err != nil {
		return f, err
	}
	f.PatientID = own
	if v := c.QueryParam("patient_id"); v != "" && own == nil {
		id, err := uuid.Parse(v)
		if err != nil {
			return f, echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		f.PatientID = &id
	}
	if v := c.QueryParam("doctor_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return f, echo.NewHTTPError(http.StatusBadRequest, "invalid doctor_id")
		}
		f.DoctorID = &id
	}
	if v := c.QueryParam("status"); v != "" {
		f.Status = Status(v)
		if !f.Status.Valid() {
			return f, echo.NewHTTPError(http.StatusBadRequest, "invalid status")
		}
	}
	return f, nil
}

// ListAppointments lists appointments by date. Staff may filter by
// patient_id and doctor_id; patients always see only their own.
func (h *Handler) ListAppointments(c echo.Context) error {
	f, err := h.filter(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListAppointments(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) ListUpcoming(c echo.Context) error {
	f, err := h.filter(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListUpcoming(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}
