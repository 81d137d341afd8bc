package middleware

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"content-system-go/pkg/token"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRouter(m *token.JWTManager) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestLogger(), AuthMiddleware(m))
	r.GET("/ping", func(c *gin.Context) {
		email := ""
		if claims, ok := c.Get(ClaimsKey); ok {
			email = claims.(*token.CustomClaims).Email
		}
		c.String(http.StatusOK, "pong "+email)
	})
	r.POST("/echo", func(c *gin.Context) {
		body, _ := io.ReadAll(c.Request.Body)
		c.String(http.StatusOK, RequestID(c)+" "+string(body))
	})
	return r
}

func TestAuthMiddlewareDisabled(t *testing.T) {
	w := httptest.NewRecorder()
	newRouter(nil).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthMiddlewareRejects(t *testing.T) {
	r := newRouter(token.NewJWTManager("secret", 1))
	for _, header := range []string{"", "Token abc", "Bearer abc"} {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code, header)
	}
}

func TestAuthMiddlewareAccepts(t *testing.T) {
	m := token.NewJWTManager("secret", 1)
	tok, err := m.GenerateToken("anna@canonical.com", "Anna", "")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	w := httptest.NewRecorder()
	newRouter(m).ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pong anna@canonical.com", w.Body.String())
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short"))
	long := strings.Repeat("a", maxLoggedBody+10)
	assert.True(t, strings.HasSuffix(truncate(long), "...(truncated)"))
}

func TestRequestLoggerAssignsRequestID(t *testing.T) {
	r := newRouter(nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader("payload")))
	require.Equal(t, http.StatusOK, w.Code)
	id := w.Header().Get(RequestIDHeader)
	require.NotEmpty(t, id)
	// 请求体在记录后仍可被处理函数读取
	assert.Equal(t, id+" payload", w.Body.String())

	req := httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader("x"))
	req.Header.Set(RequestIDHeader, "req-42")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "req-42", w.Header().Get(RequestIDHeader))
	assert.Equal(t, "req-42 x", w.Body.String())
}

func TestBodyLogWriterKeepsPrefixOnly(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	blw := bodyLogWriter{ResponseWriter: c.Writer, body: &bytes.Buffer{}}

	payload := strings.Repeat("b", maxLoggedBody*3)
	n, err := blw.Write([]byte(payload))
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)
	assert.Equal(t, payload, rec.Body.String())
	assert.Equal(t, maxLoggedBody+1, blw.body.Len())
	assert.True(t, strings.HasSuffix(truncate(blw.body.String()), "...(truncated)"))
}
