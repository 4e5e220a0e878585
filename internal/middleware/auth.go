package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// MemberContextKey holds the resolved member id.
const MemberContextKey = "member_id"

// MemberParams are the request fields the member portal uses to name the
// acting member, in lookup order.
var MemberParams = []string{"member_id", "user_id", "sender_id"}

// RequireMember rejects requests that do not name a known member. The PHP
// endpoints answer with a JSON failure envelope rather than a redirect.
func RequireMember(known func(id string) bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id := MemberID(c)
			if id == "" || !known(id) {
				FromContext(c.Request().Context()).Warn("Rejected request for unknown member", "member_id", id, "path", c.Path())
				return c.JSON(http.StatusForbidden, map[string]any{
					"success": false,
					"error":   "unknown member",
				})
			}
			c.Set(MemberContextKey, id)
			return next(c)
		}
	}
}

// MemberID returns the first member field present on the request.
func MemberID(c echo.Context) string {
	if id, ok := c.Get(MemberContextKey).(string); ok && id != "" {
		return id
	}
	for _, name := range MemberParams {
		if v := c.FormValue(name); v != "" {
			return v
		}
	}
	return ""
}
