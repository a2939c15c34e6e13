package validation

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestIsValidIdent(t *testing.T) {
	valid := []string{"ten_a1b2", "user_1", "pro", "pk_test_abc", "a.b:c-d_e"}
	for _, s := range valid {
		assert.True(t, IsValidIdent(s), s)
	}

	invalid := []string{"", "has space", "semi;colon", "new\nline", strings.Repeat("x", MaxNameLength+1)}
	for _, s := range invalid {
		assert.False(t, IsValidIdent(s), s)
	}
}

func TestSanitizeString(t *testing.T) {
	assert.Equal(t, "hello", SanitizeString("  hello  ", 100))
	assert.Equal(t, "ab", SanitizeString("abcdef", 2))
	assert.Equal(t, "ab", SanitizeString("a\x00b", 100))
}

func TestValidate(t *testing.T) {
	errs := Validate(
		Required("name", ""),
		Ident("tenantId", "bad id"),
		MaxLength("note", strings.Repeat("x", 10), 5),
	)
	assert.Len(t, errs, 3)
	assert.Equal(t, "name", errs[0].Field)
	assert.Contains(t, errs.Error(), "name")

	errs = Validate(
		Required("name", "acme"),
		Ident("tenantId", "ten_abc"),
	)
	assert.Empty(t, errs)
}

func TestRequestSizeMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestSizeMiddleware(16))
	r.POST("/", func(c *gin.Context) {
		var body map[string]any
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "too_large"})
			return
		}
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", bytes.NewReader([]byte(`{"a":1}`))))
	assert.Equal(t, http.StatusOK, w.Code)

	big := bytes.NewReader([]byte(`{"a":"` + strings.Repeat("x", 64) + `"}`))
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", big))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}
