package validators

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/pricecircle-backend/pkg/errors"
)

type sampleBody struct {
	Name     string  `json:"name" validate:"required,max=5"`
	ImageURL *string `json:"image_url" validate:"omitempty,url"`
}

func TestDecodeJSONBody(t *testing.T) {
	var body sampleBody
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"milk"}`))
	require.NoError(t, DecodeJSONBody(req, &body))
	assert.Equal(t, "milk", body.Name)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"milk","extra":1}`))
	err := DecodeJSONBody(req, &sampleBody{})
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"","image_url":"nope"}`))
	err = DecodeJSONBody(req, &sampleBody{})
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))
	details, ok := pkgerrors.As(err).Details().(map[string]string)
	require.True(t, ok)
	assert.Equal(t, "is required", details["name"])
	assert.Equal(t, "must be a valid url", details["image_url"])
}

func TestParseQueryInt(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?limit=20", nil)
	v, err := ParseQueryInt(req, "limit", 50, 1, 200)
	require.NoError(t, err)
	assert.Equal(t, 20, v)

	v, err = ParseQueryInt(httptest.NewRequest(http.MethodGet, "/", nil), "limit", 50, 1, 200)
	require.NoError(t, err)
	assert.Equal(t, 50, v)

	_, err = ParseQueryInt(httptest.NewRequest(http.MethodGet, "/?limit=0", nil), "limit", 50, 1, 200)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))

	_, err = ParseQueryInt(httptest.NewRequest(http.MethodGet, "/?limit=abc", nil), "limit", 50, 1, 200)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))
}

func TestParseQueryBool(t *testing.T) {
	v, err := ParseQueryBool(httptest.NewRequest(http.MethodGet, "/?unreadOnly=true", nil), "unreadOnly")
	require.NoError(t, err)
	assert.True(t, v)

	_, err = ParseQueryBool(httptest.NewRequest(http.MethodGet, "/?unreadOnly=maybe", nil), "unreadOnly")
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))
}

func TestParseUUIDParam(t *testing.T) {
	id := uuid.New()
	withParam := func(value string) *http.Request {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rc := chi.NewRouteContext()
		rc.URLParams.Add("messageId", value)
		return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rc))
	}

	got, err := ParseUUIDParam(withParam(id.String()), "messageId")
	require.NoError(t, err)
	assert.Equal(t, id, got)

	_, err = ParseUUIDParam(withParam("nope"), "messageId")
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))

	_, err = ParseUUIDParam(withParam(""), "messageId")
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))
}

func TestParseCursor(t *testing.T) {
	cursor, err := ParseCursor(httptest.NewRequest(http.MethodGet, "/?cursor=eyJpZCI6MX0", nil))
	require.NoError(t, err)
	assert.Equal(t, "eyJpZCI6MX0", cursor)

	cursor, err = ParseCursor(httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	assert.Empty(t, cursor)

	_, err = ParseCursor(httptest.NewRequest(http.MethodGet, "/?cursor="+strings.Repeat("a", MaxCursorLength+1), nil))
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))

	_, err = ParseCursor(httptest.NewRequest(http.MethodGet, "/?cursor=ab%09cd", nil))
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))
}

type messageBody struct {
	Content string `json:"content" validate:"required,notblank"`
}

func TestDecodeJSONBodyRejectsBlankAndOversized(t *testing.T) {
	err := DecodeJSONBody(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"content":"   "}`)), &messageBody{})
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))
	details, ok := pkgerrors.As(err).Details().(map[string]string)
	require.True(t, ok)
	assert.Equal(t, "must not be blank", details["content"])

	huge := `{"content":"` + strings.Repeat("x", MaxBodyBytes) + `"}`
	err = DecodeJSONBody(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(huge)), &messageBody{})
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))
	assert.Equal(t, "request body too large", pkgerrors.As(err).Message())

	err = DecodeJSONBody(httptest.NewRequest(http.MethodPost, "/", strings.NewReader("")), &messageBody{})
	assert.Equal(t, "request body is required", pkgerrors.As(err).Message())

	err = DecodeJSONBody(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"content":"a"}{"content":"b"}`)), &messageBody{})
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))
}
