package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signTestToken(t *testing.T, secret string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "tester",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func authTestRouter(secret string) *gin.Engine {
	router := gin.New()
	router.Use(BearerAuth(secret))
	router.GET("/protected", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	return router
}

func authRequest(router *gin.Engine, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestBearerAuth_EmptySecretDisablesCheck(t *testing.T) {
	router := authTestRouter("")
	w := authRequest(router, "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestBearerAuth_MissingHeader(t *testing.T) {
	router := authTestRouter("secret")
	w := authRequest(router, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestBearerAuth_MalformedHeader(t *testing.T) {
	router := authTestRouter("secret")

	w := authRequest(router, "Token abc")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = authRequest(router, "Bearer")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestBearerAuth_InvalidSignature(t *testing.T) {
	router := authTestRouter("secret")
	token := signTestToken(t, "other-secret")
	w := authRequest(router, "Bearer "+token)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestBearerAuth_ExpiredToken(t *testing.T) {
	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "tester",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})
	signed, err := expired.SignedString([]byte("secret"))
	require.NoError(t, err)

	router := authTestRouter("secret")
	w := authRequest(router, "Bearer "+signed)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestBearerAuth_ValidToken(t *testing.T) {
	router := authTestRouter("secret")
	token := signTestToken(t, "secret")
	w := authRequest(router, "Bearer "+token)
	assert.Equal(t, http.StatusOK, w.Code)
}
