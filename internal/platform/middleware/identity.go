package middleware

import (
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

// CallerKey returns the identity used for rate limiting and audit actor
// attribution: the first entry of X-Forwarded-For when present, otherwise
// "anonymous". The real auth boundary lives upstream; this is attribution,
// not authentication.
func CallerKey(c echo.Context) string {
	if fwd := c.Request().Header.Get("X-Forwarded-For"); fwd != "" {
		first := strings.TrimSpace(strings.Split(fwd, ",")[0])
		if first != "" {
			return first
		}
	}
	return "anonymous"
}

// Actor resolves the audit actor for a request. A Bearer token's "sub" claim
// wins when present; the token is not verified here — verification belongs to
// the gateway in front of this service.
func Actor(c echo.Context) string {
	authz := c.Request().Header.Get("Authorization")
	if strings.HasPrefix(authz, "Bearer ") {
		tokenStr := strings.TrimPrefix(authz, "Bearer ")
		parser := jwt.NewParser()
		claims := jwt.MapClaims{}
		if _, _, err := parser.ParseUnverified(tokenStr, claims); err == nil {
			if sub, ok := claims["sub"].(string); ok && sub != "" {
				return sub
			}
		}
	}
	return CallerKey(c)
}
