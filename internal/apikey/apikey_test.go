package apikey

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plinthhq/plinth/internal/directory"
)

func setupRouter(t *testing.T) (*gin.Engine, *directory.Tenant) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dir := directory.NewMemoryStore()
	ten := directory.NewTenant("Acme")
	require.NoError(t, dir.CreateTenant(context.Background(), ten))

	r := gin.New()
	r.Use(Middleware(dir))
	r.GET("/whoami", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"tenantId": TenantID(c),
			"mode":     Mode(c),
			"subject":  Subject(c),
		})
	})
	sub := r.Group("", RequireSubject())
	sub.GET("/needs-subject", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	return r, ten
}

func TestMiddleware_ResolvesTenantAndMode(t *testing.T) {
	router, ten := setupRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/whoami", nil)
	req.Header.Set(HeaderKey, ten.PublicKeys[directory.ModeLive])
	req.Header.Set(HeaderSubject, "user_1")
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), ten.ID)
	assert.Contains(t, w.Body.String(), `"mode":"live"`)
	assert.Contains(t, w.Body.String(), "user_1")
}

func TestMiddleware_RejectsMissingAndUnknownKeys(t *testing.T) {
	router, _ := setupRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/whoami", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/whoami", nil)
	req.Header.Set(HeaderKey, "pk_test_deadbeef")
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Wrong prefix entirely.
	w = httptest.NewRecorder()
	req = httptest.NewRequest("GET", "/whoami", nil)
	req.Header.Set(HeaderKey, "sk_test_deadbeef")
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequireSubject(t *testing.T) {
	router, ten := setupRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/needs-subject", nil)
	req.Header.Set(HeaderKey, ten.PublicKeys[directory.ModeTest])
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	req.Header.Set(HeaderSubject, "user_1")
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
}
