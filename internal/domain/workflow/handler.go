package workflow

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ckdcare/ckdcare/internal/platform/auth"
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
	g := api.Group("/workflows", auth.RequireRole(auth.RoleDoctor))
	g.GET("", h.ListWorkflows)
	g.GET("/:id", h.GetWorkflow)
	g.POST("", h.CreateWorkflow)
	g.PUT("/:id", h.UpdateWorkflow)
	g.DELETE("/:id", h.DeleteWorkflow)
	g.POST("/evaluate", h.EvaluateWorkflows)
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "workflow not found")
	case errors.Is(err, ErrInvalid):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

func (h *Handler) CreateWorkflow(c echo.Context) error {
	var w Workflow
	if err := c.Bind(&w); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateWorkflow(c.Request().Context(), &w); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, w)
}

func (h *Handler) GetWorkflow(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	w, err := h.svc.GetWorkflow(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, w)
}

func (h *Handler) ListWorkflows(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListWorkflows(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) UpdateWorkflow(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var w Workflow
	if err := c.Bind(&w); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	w.ID = id
	if err := h.svc.UpdateWorkflow(c.Request().Context(), &w); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, w)
}

func (h *Handler) DeleteWorkflow(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.DeleteWorkflow(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

type evaluateRequest struct {
	Stage    ckd.Stage `json:"ckd_stage"`
	TestName string    `json:"test_name"`
	Value    *float64  `json:"value"`
}

// EvaluateWorkflows previews which requirements a value would trigger.
func (h *Handler) EvaluateWorkflows(c echo.Context) error {
	var req evaluateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if !req.Stage.Valid() || req.TestName == "" || req.Value == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "ckd_stage, test_name and value are required")
	}
	if err := ckd.ValidateMeasurement(req.TestName, *req.Value); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	triggers, err := h.svc.Evaluate(c.Request().Context(), req.Stage, req.TestName, *req.Value)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if triggers == nil {
		triggers = []Trigger{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"triggers": triggers})
}
