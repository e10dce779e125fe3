package notification

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

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
	own := api.Group("/notifications", auth.RequireRole(auth.RolePatient, auth.RoleDoctor))
	own.GET("", h.ListNotifications)
	own.GET("/unread-count", h.UnreadCount)
	own.PUT("/read-all", h.MarkAllRead)
	own.PUT("/:id/read", h.MarkRead)
	own.DELETE("/:id", h.DeleteNotification)

	staff := api.Group("/notifications", auth.RequireRole(auth.RoleDoctor))
	staff.POST("", h.CreateNotification)
}

func callerID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusForbidden, "caller has no user id")
	}
	return id, nil
}

// owned loads the notification and checks it belongs to the caller. Admins
// may act on any notification.
func (h *Handler) owned(c echo.Context) (*Notification, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ctx := c.Request().Context()
	n, err := h.svc.GetNotification(ctx, id)
	if err != nil {
		return nil, httpError(err)
	}
	if !auth.HasRole(ctx, auth.RoleAdmin) && n.UserID.String() != auth.UserIDFromContext(ctx) {
		return nil, echo.NewHTTPError(http.StatusNotFound, "notification not found")
	}
	return n, nil
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "notification not found")
	case errors.Is(err, ErrInvalid):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

func (h *Handler) CreateNotification(c echo.Context) error {
	var n Notification
	if err := c.Bind(&n); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	n.IsRead = false
	if err := h.svc.CreateNotification(c.Request().Context(), &n); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, n)
}

// ListNotifications lists the caller's notifications, newest first.
// ?unread=true restricts the list to unread ones.
func (h *Handler) ListNotifications(c echo.Context) error {
	uid, err := callerID(c)
	if err != nil {
		return err
	}
	unreadOnly, _ := strconv.ParseBool(c.QueryParam("unread"))
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListNotifications(c.Request().Context(), uid, unreadOnly, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) UnreadCount(c echo.Context) error {
	uid, err := callerID(c)
	if err != nil {
		return err
	}
	n, err := h.svc.UnreadCount(c.Request().Context(), uid)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]int{"unread": n})
}

func (h *Handler) MarkRead(c echo.Context) error {
	n, err := h.owned(c)
	if err != nil {
		return err
	}
	if err := h.svc.MarkRead(c.Request().Context(), n.ID); err != nil {
		return httpError(err)
	}
	n.IsRead = true
	return c.JSON(http.StatusOK, n)
}

func (h *Handler) MarkAllRead(c echo.Context) error {
	uid, err := callerID(c)
	if err != nil {
		return err
	}
	updated, err := h.svc.MarkAllRead(c.Request().Context(), uid)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]int64{"updated": updated})
}

func (h *Handler) DeleteNotification(c echo.Context) error {
	n, err := h.owned(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteNotification(c.Request().Context(), n.ID); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
