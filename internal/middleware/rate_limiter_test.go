package middleware

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func postForm(e *echo.Echo, path string, form url.Values, remote string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	req.RemoteAddr = remote
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestRateLimiter(t *testing.T) {
	e := echo.New()
	e.POST("/send", func(c echo.Context) error {
		return c.String(http.StatusOK, "OK")
	}, RateLimiter(3))

	t.Run("blocks a member exceeding the limit", func(t *testing.T) {
		form := url.Values{"sender_id": {"7"}}
		for i := range 3 {
			rec := postForm(e, "/send", form, "192.0.2.1:1234")
			require.Equal(t, http.StatusOK, rec.Code, "request %d should be allowed", i+1)
		}

		rec := postForm(e, "/send", form, "192.0.2.9:1234")
		assert.Equal(t, http.StatusTooManyRequests, rec.Code, "the member is limited regardless of address")
		assert.Contains(t, rec.Body.String(), `"success":false`)
	})

	t.Run("members are limited independently", func(t *testing.T) {
		rec := postForm(e, "/send", url.Values{"sender_id": {"8"}}, "192.0.2.1:1234")
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestRequireMember(t *testing.T) {
	e := echo.New()
	known := func(id string) bool { return id == "7" }
	e.GET("/messages", func(c echo.Context) error {
		return c.String(http.StatusOK, c.Get(MemberContextKey).(string))
	}, RequireMember(known))

	t.Run("known member", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/messages?member_id=7", nil)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "7", rec.Body.String())
	})

	t.Run("missing or unknown member", func(t *testing.T) {
		for _, target := range []string{"/messages", "/messages?member_id=99"} {
			req := httptest.NewRequest(http.MethodGet, target, nil)
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusForbidden, rec.Code, target)
			assert.JSONEq(t, `{"success":false,"error":"unknown member"}`, rec.Body.String())
		}
	})
}

func TestLoggerInjectsRequestLogger(t *testing.T) {
	e := echo.New()
	var injected bool
	e.GET("/", func(c echo.Context) error {
		_, injected = c.Request().Context().Value(loggerKey).(*slog.Logger)
		return c.NoContent(http.StatusNoContent)
	}, Logger(nil))

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.True(t, injected)
}
