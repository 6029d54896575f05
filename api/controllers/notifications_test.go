package controllers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/pricecircle-backend/api/middleware"
	"github.com/angelmondragon/pricecircle-backend/internal/notifications"
	"github.com/angelmondragon/pricecircle-backend/pkg/logger"
)

type stubInbox struct {
	listed   notifications.ListParams
	readUser uuid.UUID
	readID   uuid.UUID
	updated  int64
	err      error
}

func (s *stubInbox) List(_ context.Context, params notifications.ListParams) (*notifications.ListResult, error) {
	s.listed = params
	if s.err != nil {
		return nil, s.err
	}
	return &notifications.ListResult{Items: []notifications.NotificationDTO{}, Unread: 2}, nil
}

func (s *stubInbox) MarkRead(_ context.Context, userID, notificationID uuid.UUID) error {
	s.readUser, s.readID = userID, notificationID
	return s.err
}

func (s *stubInbox) MarkAllRead(_ context.Context, userID uuid.UUID) (int64, error) {
	s.readUser = userID
	return s.updated, s.err
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
}

func asUser(req *http.Request, userID uuid.UUID) *http.Request {
	return req.WithContext(middleware.WithUserID(req.Context(), userID.String()))
}

func decodeData[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var envelope struct {
		Data T `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	return envelope.Data
}

func TestListNotificationsPassesQuery(t *testing.T) {
	userID := uuid.New()
	inbox := &stubInbox{}

	req := asUser(httptest.NewRequest(http.MethodGet, "/api/v1/notifications?limit=5&cursor=abc&unreadOnly=true", nil), userID)
	rec := httptest.NewRecorder()
	ListNotifications(inbox, testLogger())(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, notifications.ListParams{UserID: userID, Limit: 5, Cursor: "abc", UnreadOnly: true}, inbox.listed)
	assert.EqualValues(t, 2, decodeData[notifications.ListResult](t, rec).Unread)
}

func TestListNotificationsRejectsBadQuery(t *testing.T) {
	for _, query := range []string{"limit=-1", "limit=abc", "unreadOnly=maybe", "cursor=a%20b"} {
		t.Run(query, func(t *testing.T) {
			req := asUser(httptest.NewRequest(http.MethodGet, "/api/v1/notifications?"+query, nil), uuid.New())
			rec := httptest.NewRecorder()
			ListNotifications(&stubInbox{}, testLogger())(rec, req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestMarkNotificationRead(t *testing.T) {
	userID, notificationID := uuid.New(), uuid.New()
	inbox := &stubInbox{}

	req := asUser(httptest.NewRequest(http.MethodPost, "/api/v1/notifications/"+notificationID.String()+"/read", nil), userID)
	req = addRouteParam(req, "notificationId", notificationID.String())
	rec := httptest.NewRecorder()
	MarkNotificationRead(inbox, testLogger())(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, userID, inbox.readUser)
	assert.Equal(t, notificationID, inbox.readID)
	assert.True(t, decodeData[map[string]bool](t, rec)["read"])
}

func TestMarkNotificationReadErrors(t *testing.T) {
	cases := []struct {
		name   string
		user   bool
		param  string
		status int
	}{
		{name: "no user", param: uuid.NewString(), status: http.StatusUnauthorized},
		{name: "bad id", user: true, param: "invalid", status: http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/notifications/x/read", nil)
			if tc.user {
				req = asUser(req, uuid.New())
			}
			req = addRouteParam(req, "notificationId", tc.param)
			rec := httptest.NewRecorder()
			MarkNotificationRead(&stubInbox{}, testLogger())(rec, req)
			assert.Equal(t, tc.status, rec.Code)
		})
	}
}

func TestMarkAllNotificationsRead(t *testing.T) {
	userID := uuid.New()
	inbox := &stubInbox{updated: 5}

	rec := httptest.NewRecorder()
	MarkAllNotificationsRead(inbox, testLogger())(rec, asUser(httptest.NewRequest(http.MethodPost, "/api/v1/notifications/read-all", nil), userID))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, userID, inbox.readUser)
	assert.EqualValues(t, 5, decodeData[map[string]int64](t, rec)["updated"])
}

func TestNotificationsWithoutService(t *testing.T) {
	rec := httptest.NewRecorder()
	ListNotifications(nil, testLogger())(rec, asUser(httptest.NewRequest(http.MethodGet, "/api/v1/notifications", nil), uuid.New()))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func addRouteParam(req *http.Request, key, value string) *http.Request {
	routeCtx := chi.RouteContext(req.Context())
	if routeCtx == nil {
		routeCtx = chi.NewRouteContext()
		req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))
	}
	routeCtx.URLParams.Add(key, value)
	return req
}
