package report

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ckdcare/ckdcare/internal/domain/identity"
	"github.com/ckdcare/ckdcare/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.RequireRole(auth.RoleDoctor, auth.RolePatient))
	g.GET("/patients/:id/report", h.GetReport)
}

// GetReport returns the patient report as JSON. Patients may only fetch
// their own.
func (h *Handler) GetReport(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ctx := c.Request().Context()
	p, err := h.svc.patients.GetPatient(ctx, id)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "patient not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !identity.CanAccessPatient(ctx, p) {
		return echo.NewHTTPError(http.StatusNotFound, "patient not found")
	}
	r, err := h.svc.build(ctx, p)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, r)
}
