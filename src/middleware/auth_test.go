package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func performRequest(mw gin.HandlerFunc, headers map[string]string) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(mw)
	r.GET("/protected", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	req := httptest.NewRequest("GET", "/protected", nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAPIKeyAuth_ValidKeyPasses(t *testing.T) {
	w := performRequest(APIKeyAuth("secret-key"), map[string]string{"X-API-Key": "secret-key"})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAPIKeyAuth_BearerFallback(t *testing.T) {
	w := performRequest(APIKeyAuth("secret-key"), map[string]string{"Authorization": "Bearer secret-key"})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAPIKeyAuth_WrongKeyRejected(t *testing.T) {
	w := performRequest(APIKeyAuth("secret-key"), map[string]string{"X-API-Key": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "invalid or missing API key")
}

func TestAPIKeyAuth_MissingKeyRejected(t *testing.T) {
	w := performRequest(APIKeyAuth("secret-key"), nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAPIKeyAuth_EmptyConfiguredKeyLeavesRoutesOpen(t *testing.T) {
	w := performRequest(APIKeyAuth(""), nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
