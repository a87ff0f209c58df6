package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestCompressBody(t *testing.T) {
	assert.Equal(t, `{"mode":"step_trace"}`, CompressBody([]byte("{\n  \"mode\": \"step_trace\"\n}")))
	assert.Equal(t, "", CompressBody(nil))

	long := CompressBody([]byte(`"` + strings.Repeat("a", 2000) + `"`))
	assert.Len(t, long, maxLoggedBody+3)
	assert.True(t, strings.HasSuffix(long, "..."))
}

func TestLogger_KeepsBodyForHandler(t *testing.T) {
	engine := gin.New()
	engine.Use(Logger())
	var got string
	engine.PUT("/v1/mode", func(c *gin.Context) {
		b, _ := io.ReadAll(c.Request.Body)
		got = string(b)
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodPut, "/v1/mode", strings.NewReader(`{"mode": "single_op"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, `{"mode": "single_op"}`, got)
}

func TestAuthMiddleware(t *testing.T) {
	engine := gin.New()
	engine.Use(AuthMiddleware("secret"))
	engine.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	for _, tc := range []struct {
		name   string
		header string
		query  string
		want   int
	}{
		{"missing", "", "", http.StatusUnauthorized},
		{"wrong", "Bearer nope", "", http.StatusUnauthorized},
		{"bearer", "Bearer secret", "", http.StatusOK},
		{"query", "", "?token=secret", http.StatusOK},
	} {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/x"+tc.query, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			engine.ServeHTTP(rec, req)
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestAuthMiddleware_Disabled(t *testing.T) {
	engine := gin.New()
	engine.Use(AuthMiddleware(""))
	engine.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRecovery(t *testing.T) {
	engine := gin.New()
	engine.Use(Recovery())
	engine.GET("/boom", func(c *gin.Context) { panic("boom") })

	rec := httptest.NewRecorder()
	require.NotPanics(t, func() {
		engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "stack")
}
