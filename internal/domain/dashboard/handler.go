package dashboard

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ckdcare/ckdcare/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/dashboard", auth.RequireRole(auth.RoleDoctor))
	g.GET("/stats", h.GetStats)
	g.GET("/measures", h.ListMeasures)
	g.GET("/measures/:id", h.EvaluateMeasure)
}

func (h *Handler) GetStats(c echo.Context) error {
	stats, err := h.svc.Stats(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, stats)
}

func (h *Handler) ListMeasures(c echo.Context) error {
	return c.JSON(http.StatusOK, PredefinedMeasures)
}

func (h *Handler) EvaluateMeasure(c echo.Context) error {
	report, err := h.svc.EvaluateMeasure(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if report == nil {
		return echo.NewHTTPError(http.StatusNotFound, "measure not found")
	}
	return c.JSON(http.StatusOK, report)
}
