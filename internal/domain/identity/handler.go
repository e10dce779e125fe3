package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

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
	anyone.GET("/me", h.Me)
	anyone.PUT("/me", h.UpdateMe)
	anyone.GET("/patients/:id", h.GetPatient)
	anyone.GET("/doctors", h.ListDoctors)
	anyone.GET("/doctors/:id", h.GetDoctor)

	staff := api.Group("", auth.RequireRole(auth.RoleDoctor))
	staff.GET("/patients", h.ListPatients)
	staff.POST("/patients", h.CreatePatient)
	staff.PUT("/patients/:id", h.UpdatePatient)

	admin := api.Group("", auth.RequireRole(auth.RoleAdmin))
	admin.DELETE("/patients/:id", h.DeletePatient)
	admin.POST("/doctors", h.CreateDoctor)
	admin.PUT("/doctors/:id", h.UpdateDoctor)
	admin.DELETE("/doctors/:id", h.DeleteDoctor)
}

// CanAccessPatient reports whether the caller may read p. Patients may only
// see their own record; staff see every record.
func CanAccessPatient(ctx context.Context, p *Patient) bool {
	if !auth.IsPatientOnly(ctx) {
		return true
	}
	return p.UserID.String() == auth.UserIDFromContext(ctx)
}

// PatientRequest is the body of patient create and update calls.
type PatientRequest struct {
	FirstName        string                `json:"first_name"`
	LastName         string                `json:"last_name"`
	Email            string                `json:"email"`
	BirthDate        string                `json:"birth_date"`
	Gender           string                `json:"gender"`
	Address          *string               `json:"address"`
	Phone            *string               `json:"phone"`
	CKDStage         *ckd.Stage            `json:"ckd_stage"`
	ProteinuriaLevel *ckd.ProteinuriaLevel `json:"proteinuria_level"`
	LastEGFR         *float64              `json:"last_egfr_value"`
	LastACR          *float64              `json:"last_proteinuria_value"`
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", s)
	}
	return t, nil
}

func (r *PatientRequest) toModel() (*User, *Patient, error) {
	birth, err := parseDate(r.BirthDate)
	if err != nil {
		return nil, nil, err
	}
	u := &User{FirstName: r.FirstName, LastName: r.LastName, Email: r.Email}
	p := &Patient{
		BirthDate: birth,
		Gender:    r.Gender,
		Address:   r.Address,
		Phone:     r.Phone,
		LastEGFR:  r.LastEGFR,
		LastACR:   r.LastACR,
	}
	if r.CKDStage != nil {
		p.CKDStage = *r.CKDStage
	}
	if r.ProteinuriaLevel != nil {
		p.ProteinuriaLevel = *r.ProteinuriaLevel
	}
	return u, p, nil
}

// DoctorRequest is the body of doctor create and update calls.
type DoctorRequest struct {
	FirstName string  `json:"first_name"`
	LastName  string  `json:"last_name"`
	Email     string  `json:"email"`
	Specialty string  `json:"specialty"`
	Hospital  *string `json:"hospital"`
}

func lookupError(err error, what string) error {
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, what+" not found")
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

func writeError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrInvalid), errors.Is(err, ckd.ErrInvalidMeasurement):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case db.IsUniqueViolation(err):
		return echo.NewHTTPError(http.StatusConflict, "a user with this email already exists")
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

// -- Patient REST --

func (h *Handler) CreatePatient(c echo.Context) error {
	var req PatientRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	u, p, err := req.toModel()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreatePatient(c.Request().Context(), u, p); err != nil {
		return writeError(err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetPatient(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ctx := c.Request().Context()
	p, err := h.svc.GetPatient(ctx, id)
	if err != nil {
		return lookupError(err, "patient")
	}
	if !CanAccessPatient(ctx, p) {
		return echo.NewHTTPError(http.StatusNotFound, "patient not found")
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListPatients(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := PatientFilter{Name: c.QueryParam("name")}
	if st := c.QueryParam("stage"); st != "" {
		stage, err := ckd.ParseStage(st)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		f.Stage = stage
	}
	items, total, err := h.svc.ListPatients(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) UpdatePatient(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req PatientRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	u, p, err := req.toModel()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p.ID = id
	if u.FirstName != "" || u.LastName != "" || u.Email != "" {
		p.User = u
	}
	if err := h.svc.UpdatePatient(c.Request().Context(), p); err != nil {
		return writeError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) DeletePatient(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.DeletePatient(c.Request().Context(), id); err != nil {
		return lookupError(err, "patient")
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Doctor REST --

func (h *Handler) CreateDoctor(c echo.Context) error {
	var req DoctorRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	u := &User{FirstName: req.FirstName, LastName: req.LastName, Email: req.Email}
	d := &Doctor{Specialty: req.Specialty, Hospital: req.Hospital}
	if err := h.svc.CreateDoctor(c.Request().Context(), u, d); err != nil {
		return writeError(err)
	}
	return c.JSON(http.StatusCreated, d)
}

func (h *Handler) GetDoctor(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	d, err := h.svc.GetDoctor(c.Request().Context(), id)
	if err != nil {
		return lookupError(err, "doctor")
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) ListDoctors(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListDoctors(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) UpdateDoctor(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req DoctorRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	d := &Doctor{ID: id, Specialty: req.Specialty, Hospital: req.Hospital}
	if err := h.svc.UpdateDoctor(c.Request().Context(), d); err != nil {
		return writeError(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) DeleteDoctor(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.DeleteDoctor(c.Request().Context(), id); err != nil {
		return lookupError(err, "doctor")
	}
	return c.NoContent(http.StatusNoContent)
}

// Me returns the caller's user record and, depending on role, their patient
// or doctor profile.
func (h *Handler) Me(c echo.Context) error {
	ctx := c.Request().Context()
	uid := auth.UserIDFromContext(ctx)
	resp := map[string]interface{}{
		"user_id": uid,
		"roles":   auth.RolesFromContext(ctx),
	}

	id, err := uuid.Parse(uid)
	if err != nil {
		return c.JSON(http.StatusOK, resp)
	}
	u, err := h.svc.GetUser(ctx, id)
	if err != nil {
		return lookupError(err, "user")
	}
	resp["user"] = u
	switch u.Role {
	case auth.RolePatient:
		if p, err := h.svc.GetPatientByUserID(ctx, id); err == nil {
			resp["patient"] = p
		}
	case auth.RoleDoctor:
		if d, err := h.svc.GetDoctorByUserID(ctx, id); err == nil {
			resp["doctor"] = d
		}
	}
	return c.JSON(http.StatusOK, resp)
}

// ProfileRequest is the body of PUT /me.
type ProfileRequest struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
}

// UpdateMe lets any signed-in user change their own name and email.
func (h *Handler) UpdateMe(c echo.Context) error {
	ctx := c.Request().Context()
	id, err := uuid.Parse(auth.UserIDFromContext(ctx))
	if err != nil {
		return echo.NewHTTPError(http.StatusForbidden, "caller has no user account")
	}
	var req ProfileRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	u, err := h.svc.UpdateProfile(ctx, id, req.FirstName, req.LastName, req.Email)
	if err != nil {
		return writeError(err)
	}
	return c.JSON(http.StatusOK, u)
}
