package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
)

type echoHandler struct{}

type pingRequest struct {
	Name  string `json:"name" validate:"required"`
	Kind  string `json:"kind" default:"a" validate:"oneof=a b"`
	Extra string `json:"extra_field" validate:"required_if=Kind b"`
}

func (echoHandler) RegisterRoutes(e *echo.Echo) {
	e.POST("/ping", func(c echo.Context) error {
		var req pingRequest
		if errs := ReadAndValidateRequest(c, &req); errs != nil {
			return BadRequestResponse(c, errs)
		}
		return SuccessResponse(c, req)
	})
	e.GET("/private", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing token")
	})
	e.GET("/malformed", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusBadRequest, "unreadable query")
	})
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) (APIResponse, []map[string]interface{}) {
	t.Helper()
	var env struct {
		Status  int                      `json:"status"`
		Message string                   `json:"message"`
		Data    []map[string]interface{} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return APIResponse{Status: env.Status, Message: env.Message}, env.Data
}

func TestWrongMethodIs405Envelope(t *testing.T) {
	srv := NewServer([]Handler{echoHandler{}})
	rec := httptest.NewRecorder()
	srv.Echo().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))

	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	env, data := decodeEnvelope(t, rec)
	require.Equal(t, http.StatusMethodNotAllowed, env.Status)
	require.Equal(t, "ERR_METHOD_NOT_ALLOWED", data[0]["code"])
}

func TestValidationNamesJSONFields(t *testing.T) {
	srv := NewServer([]Handler{echoHandler{}})
	req := httptest.NewRequest(http.MethodPost, "/ping", strings.NewReader(`{"kind":"b"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	srv.Echo().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	_, data := decodeEnvelope(t, rec)
	fields := map[string]string{}
	for _, d := range data {
		fields[d["field"].(string)] = d["code"].(string)
	}
	require.Equal(t, "ERR_REQUIRED", fields["name"])
	require.Equal(t, "ERR_REQUIRED_IF", fields["extra_field"])
}

func TestDefaultsApplyBeforeValidation(t *testing.T) {
	srv := NewServer([]Handler{echoHandler{}})
	req := httptest.NewRequest(http.MethodPost, "/ping", strings.NewReader(`{"name":"x"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	srv.Echo().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))
	require.Contains(t, rec.Body.String(), `"kind":"a"`)
}

func TestUnknownRouteIs404Envelope(t *testing.T) {
	srv := NewServer(nil)
	rec := httptest.NewRecorder()
	srv.Echo().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))

	require.Equal(t, http.StatusNotFound, rec.Code)
	_, data := decodeEnvelope(t, rec)
	require.Equal(t, "ERR_NOT_FOUND", data[0]["code"])
}

func TestEchoErrorsKeepEnvelopeCodes(t *testing.T) {
	srv := NewServer([]Handler{echoHandler{}})
	for path, want := range map[string]struct {
		status int
		code   string
		msg    string
	}{
		"/private":   {http.StatusUnauthorized, "ERR_UNAUTHORIZED", "missing token"},
		"/malformed": {http.StatusBadRequest, "ERR_BAD_REQUEST", "unreadable query"},
	} {
		rec := httptest.NewRecorder()
		srv.Echo().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

		require.Equal(t, want.status, rec.Code, path)
		_, data := decodeEnvelope(t, rec)
		require.Equal(t, want.code, data[0]["code"], path)
		require.Equal(t, want.msg, data[0]["message"], path)
	}
}
