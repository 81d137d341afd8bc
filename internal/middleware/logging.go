// Package middleware 存放 Gin 框架的中间件。
package middleware

import (
	"bytes"
	"io"
	"net/http"
	"time"

	"content-system-go/pkg/log"
	"content-system-go/pkg/token"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// RequestIDHeader 是请求 ID 的请求头和响应头。
	RequestIDHeader = "X-Request-ID"
	// RequestIDKey 是请求 ID 在 Gin 上下文中的键。
	RequestIDKey = "request_id"

	// maxLoggedBody 是日志中保留的请求体和响应体的最大长度。
	maxLoggedBody = 2048
)

// bodyLogWriter 在写出响应的同时保留前 maxLoggedBody 个字节。
type bodyLogWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w bodyLogWriter) Write(b []byte) (int, error) {
	if remaining := maxLoggedBody + 1 - w.body.Len(); remaining > 0 {
		if len(b) < remaining {
			remaining = len(b)
		}
		w.body.Write(b[:remaining])
	}
	return w.ResponseWriter.Write(b)
}

// RequestLogger 为每个请求分配请求 ID，并在请求结束后记录一条结构化日志。
// 成功的 GET 请求（模板树、搜索）只记录元数据，其余请求附带截断后的请求体和响应体。
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()

		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set(RequestIDKey, requestID)
		c.Header(RequestIDHeader, requestID)

		var requestBody []byte
		if c.Request.Body != nil && c.Request.Method != http.MethodGet {
			requestBody, _ = io.ReadAll(c.Request.Body)
			c.Request.Body = io.NopCloser(bytes.NewReader(requestBody))
		}

		blw := &bodyLogWriter{body: &bytes.Buffer{}, ResponseWriter: c.Writer}
		c.Writer = blw

		c.Next()

		statusCode := c.Writer.Status()
		fields := []interface{}{
			"requestID", requestID,
			"statusCode", statusCode,
			"latency", time.Since(startTime).String(),
			"clientIP", c.ClientIP(),
			"method", c.Request.Method,
			"route", c.FullPath(),
			"path", c.Request.URL.Path,
		}
		if site := c.Param("uri"); site != "" {
			fields = append(fields, "site", site)
		}
		if value, ok := c.Get(ClaimsKey); ok {
			if claims, ok := value.(*token.CustomClaims); ok {
				fields = append(fields, "user", claims.Email)
			}
		}
		if c.Request.Method != http.MethodGet || statusCode >= http.StatusBadRequest {
			fields = append(fields,
				"requestBody", truncate(string(requestBody)),
				"responseBody", truncate(blw.body.String()),
			)
		}

		if statusCode >= http.StatusInternalServerError {
			log.Warnw("HTTP Request Log", fields...)
			return
		}
		log.Infow("HTTP Request Log", fields...)
	}
}

// RequestID 返回当前请求的 ID，没有经过 RequestLogger 时返回空字符串。
func RequestID(c *gin.Context) string {
	return c.GetString(RequestIDKey)
}

func truncate(s string) string {
	if len(s) <= maxLoggedBody {
		return s
	}
	return s[:maxLoggedBody] + "...(truncated)"
}
