package labs

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ckdcare/ckdcare/internal/domain/identity"
	"github.com/ckdcare/ckdcare/internal/platform/auth"
	"github.com/ckdcare/ckdcare/internal/platform/db"
	"github.com/ckdcare/ckdcare/pkg/ckd"
	"github.com/ckdcare/ckdcare/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	anyone := api.Group("", auth.RequireRole(auth.RoleDoctor, auth.RolePatient))
	anyone.GET("/lab-tests", h.ListTests)
	anyone.GET("/lab-tests/:id", h.GetTest)
	anyone.GET("/patients/:id/lab-results", h.ListResults)
	anyone.GET("/lab-results/:id", h.GetResult)

	staff := api.Group("", auth.RequireRole(auth.RoleDoctor))
	staff.POST("/lab-tests", h.CreateTest)
	staff.PUT("/lab-tests/:id", h.UpdateTest)
	staff.POST("/patients/:id/lab-results", h.RecordResult)
	staff.DELETE("/lab-results/:id", h.DeleteResult)

	admin := api.Group("", auth.RequireRole(auth.RoleAdmin))
	admin.DELETE("/lab-tests/:id", h.DeleteTest)
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, identity.ErrNotFound)
}

func lookupError(err error, what string) error {
	if isNotFound(err) {
		return echo.NewHTTPError(http.StatusNotFound, what+" not found")
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

func writeError(err error) error {
	switch {
	case isNotFound(err):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrInvalid), errors.Is(err, ckd.ErrInvalidMeasurement):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case db.IsUniqueViolation(err):
		return echo.NewHTTPError(http.StatusConflict, "lab test already exists")
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

// authorizePatient loads the patient and hides it from patients other than
// its owner.
func (h *Handler) authorizePatient(c echo.Context, id uuid.UUID) (*identity.Patient, error) {
	ctx := c.Request().Context()
	p, err := h.svc.patients.GetPatient(ctx, id)
	if err != nil {
		return nil, lookupError(err, "patient")
	}
	if !identity.CanAccessPatient(ctx, p) {
		return nil, echo.NewHTTPError(http.StatusNotFound, "patient not found")
	}
	return p, nil
}

// -- Lab tests --

func (h *Handler) CreateTest(c echo.Context) error {
	var t LabTest
	if err := c.Bind(&t); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateTest(c.Request().Context(), &t); err != nil {
		return writeError(err)
	}
	return c.JSON(http.StatusCreated, t)
}

func (h *Handler) GetTest(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	t, err := h.svc.GetTest(c.Request().Context(), id)
	if err != nil {
		return lookupError(err, "lab test")
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) ListTests(c echo.Context) error {
	items, err := h.svc.ListTests(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if items == nil {
		items = []*LabTest{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) UpdateTest(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var t LabTest
	if err := c.Bind(&t); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	t.ID = id
	if err := h.svc.UpdateTest(c.Request().Context(), &t); err != nil {
		return writeError(err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) DeleteTest(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteTest(c.Request().Context(), id); err != nil {
		return lookupError(err, "lab test")
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Lab results --

// ResultRequest is the body of a result recording call. DoctorID defaults to
// the caller's doctor profile.
type ResultRequest struct {
	LabTestID  uuid.UUID  `json:"lab_test_id"`
	DoctorID   *uuid.UUID `json:"doctor_id"`
	Value      *float64   `json:"result_value"`
	ResultDate string     `json:"result_date"`
}

func (h *Handler) RecordResult(c echo.Context) error {
	patientID, err := parseID(c)
	if err != nil {
		return err
	}
	var req ResultRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Value == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "result_value is required")
	}
	r := &LabResult{PatientID: patientID, LabTestID: req.LabTestID, Value: *req.Value}
	if req.ResultDate != "" {
		d, err := time.Parse("2006-01-02", req.ResultDate)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid result_date, expected YYYY-MM-DD")
		}
		r.ResultDate = d
	}

	ctx := c.Request().Context()
	if req.DoctorID != nil {
		r.DoctorID = *req.DoctorID
	} else {
		uid, err := uuid.Parse(auth.UserIDFromContext(ctx))
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "doctor_id is required")
		}
		d, err := h.svc.patients.GetDoctorByUserID(ctx, uid)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "doctor_id is required")
		}
		r.DoctorID = d.ID
	}

	out, err := h.svc.RecordResult(ctx, r)
	if err != nil {
		return writeError(err)
	}
	return c.JSON(http.StatusCreated, out)
}

func (h *Handler) GetResult(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	r, err := h.svc.GetResult(c.Request().Context(), id)
	if err != nil {
		return lookupError(err, "lab result")
	}
	if _, err := h.authorizePatient(c, r.PatientID); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "lab result not found")
	}
	return c.JSON(http.StatusOK, resultView{r, r.Status()})
}

type resultView struct {
	*LabResult
	Status RangeStatus `json:"status"`
}

// ListResults lists a patient's results, newest first. Optional filters:
// test_id, code, from and to (YYYY-MM-DD).
func (h *Handler) ListResults(c echo.Context) error {
	patientID, err := parseID(c)
	if err != nil {
		return err
	}
	if _, err := h.authorizePatient(c, patientID); err != nil {
		return err
	}

	var f ResultFilter
	if v := c.QueryParam("test_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid test_id")
		}
		f.LabTestID = &id
	}
	if v := c.QueryParam("code"); v != "" {
		f.Code = TestCode(v)
		if !f.Code.Valid() {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid code")
		}
	}
	for _, p := range []struct {
		name string
		dst  **time.Time
	}{{"from", &f.From}, {"to", &f.To}} {
		if v := c.QueryParam(p.name); v != "" {
			d, err := time.Parse("2006-01-02", v)
			if err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid "+p.name)
			}
			*p.dst = &d
		}
	}

	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListResults(c.Request().Context(), patientID, f, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	views := make([]resultView, len(items))
	for i, r := range items {
		views[i] = resultView{r, r.Status()}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(views, total, pg.Limit, pg.Offset))
}

func (h *Handler) DeleteResult(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteResult(c.Request().Context(), id); err != nil {
		return lookupError(err, "lab result")
	}
	return c.NoContent(http.StatusNoContent)
}
