package httpapi

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"dirscan/internal/metrics"
	"dirscan/utils"
)

// BearerAuth returns a middleware that requires a valid bearer token signed
// with secret. It protects the mutating control endpoints (trigger,
// reload, cleanup, delete); read-only endpoints are mounted outside it.
// An empty secret disables the check entirely, for local/dev runs.
func BearerAuth(secret string) gin.HandlerFunc {
	if secret == "" {
		return func(c *gin.Context) { c.Next() }
	}
	key := []byte(secret)

	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			metrics.RecordAuthAttempt("failure")
			utils.SendErrorResponse(c, http.StatusUnauthorized, "authorization header required", nil)
			c.Abort()
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			metrics.RecordAuthAttempt("failure")
			utils.SendErrorResponse(c, http.StatusUnauthorized, "invalid authorization header format", nil)
			c.Abort()
			return
		}

		token, err := jwt.Parse(parts[1], func(t *jwt.Token) (interface{}, error) {
			return key, nil
		}, jwt.WithValidMethods([]string{"HS256"}))
		if err != nil || !token.Valid {
			metrics.RecordAuthAttempt("failure")
			utils.SendErrorResponse(c, http.StatusUnauthorized, "invalid token", err)
			c.Abort()
			return
		}

		metrics.RecordAuthAttempt("success")
		c.Next()
	}
}
