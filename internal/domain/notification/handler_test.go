package notification

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ckdcare/ckdcare/internal/platform/auth"
)

func newTestHandler() (*Handler, *Service) {
	svc, _ := newTestService()
	return NewHandler(svc), svc
}

func asUser(e *echo.Echo, method, body string, user uuid.UUID, roles ...string) (echo.Context, *httptest.ResponseRecorder) {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, "/", nil)
	} else {
		req = httptest.NewRequest(method, "/", strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	req = req.WithContext(auth.WithIdentity(req.Context(), user.String(), roles...))
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestHandler_ListOwnNotifications(t *testing.T) {
	h, svc := newTestHandler()
	e := echo.New()
	me := uuid.New()
	svc.CreateNotification(context.Background(), &Notification{UserID: me, Message: "mine"})
	svc.CreateNotification(context.Background(), &Notification{UserID: uuid.New(), Message: "theirs"})

	c, rec := asUser(e, http.MethodGet, "", me, auth.RolePatient)
	if err := h.ListNotifications(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var resp struct {
		Data  []Notification `json:"data"`
		Total int            `json:"total"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Total != 1 || len(resp.Data) != 1 || resp.Data[0].Message != "mine" {
		t.Errorf("unexpected list %s", rec.Body.String())
	}
}

func TestHandler_MarkRead_OtherUsersNotification(t *testing.T) {
	h, svc := newTestHandler()
	e := echo.New()
	n := &Notification{UserID: uuid.New(), Message: "theirs"}
	svc.CreateNotification(context.Background(), n)

	c, _ := asUser(e, http.MethodPut, "", uuid.New(), auth.RolePatient)
	c.SetParamNames("id")
	c.SetParamValues(n.ID.String())
	err := h.MarkRead(c)
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %v", err)
	}
	if n.IsRead {
		t.Error("notification of another user must stay unread")
	}

	c, rec := asUser(e, http.MethodPut, "", n.UserID, auth.RolePatient)
	c.SetParamNames("id")
	c.SetParamValues(n.ID.String())
	if err := h.MarkRead(c); err != nil {
		t.Fatalf("owner mark read: %v", err)
	}
	if rec.Code != http.StatusOK || !n.IsRead {
		t.Errorf("expected read notification, got %d", rec.Code)
	}
}

func TestHandler_UnreadCountAndReadAll(t *testing.T) {
	h, svc := newTestHandler()
	e := echo.New()
	me := uuid.New()
	for i := 0; i < 2; i++ {
		svc.CreateNotification(context.Background(), &Notification{UserID: me, Message: "m"})
	}

	c, rec := asUser(e, http.MethodGet, "", me, auth.RoleDoctor)
	h.UnreadCount(c)
	if !strings.Contains(rec.Body.String(), `"unread":2`) {
		t.Errorf("unexpected count %s", rec.Body.String())
	}

	c, rec = asUser(e, http.MethodPut, "", me, auth.RoleDoctor)
	h.MarkAllRead(c)
	if !strings.Contains(rec.Body.String(), `"updated":2`) {
		t.Errorf("unexpected read-all %s", rec.Body.String())
	}
}

func TestHandler_CreateNotification(t *testing.T) {
	h, _ := newTestHandler()
	e := echo.New()
	target := uuid.New()

	c, rec := asUser(e, http.MethodPost, `{"user_id":"`+target.String()+`","message":"Please book a follow-up","severity":"warning","is_read":true}`, uuid.New(), auth.RoleDoctor)
	if err := h.CreateNotification(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var n Notification
	json.Unmarshal(rec.Body.Bytes(), &n)
	if rec.Code != http.StatusCreated || n.UserID != target || n.IsRead {
		t.Errorf("unexpected response %d %+v", rec.Code, n)
	}

	c, _ = asUser(e, http.MethodPost, `{"message":"x"}`, uuid.New(), auth.RoleDoctor)
	var he *echo.HTTPError
	if err := h.CreateNotification(c); !errors.As(err, &he) || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}

func TestHandler_CallerWithoutUserID(t *testing.T) {
	h, _ := newTestHandler()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), "dev-user", auth.RoleAdmin))
	c := e.NewContext(req, httptest.NewRecorder())
	var he *echo.HTTPError
	if err := h.ListNotifications(c); !errors.As(err, &he) || he.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %v", err)
	}
}
