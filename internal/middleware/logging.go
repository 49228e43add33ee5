// Package middleware 存放 Gin 框架的中间件。
package middleware

import (
	"bytes"
	"io"
	"strconv"
	"strings"
	"time"

	"talanoor-go/pkg/log"
	"talanoor-go/pkg/metrics"

	"github.com/gin-gonic/gin"
)

// 这些路径的请求体包含密码或 token，不写入日志
var sensitivePaths = []string{"/users/login", "/users/register", "/auth/refreshToken"}

// bodyLogWriter 用于捕获响应体
type bodyLogWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

// Write 实现了 io.Writer 接口，将响应写入 gin.ResponseWriter 和一个内部的 buffer
func (w bodyLogWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func isSensitive(path string) bool {
	for _, p := range sensitivePaths {
		if strings.HasSuffix(path, p) {
			return true
		}
	}
	return false
}

// RequestLogger 是一个 Gin 中间件，记录请求日志并上报请求指标。
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()
		path := c.Request.URL.Path
		sensitive := isSensitive(path)

		// 读取并重新缓存请求体
		var requestBody []byte
		if c.Request.Body != nil && !sensitive {
			requestBody, _ = io.ReadAll(c.Request.Body)
			c.Request.Body = io.NopCloser(bytes.NewBuffer(requestBody))
		}

		// 使用自定义的 ResponseWriter 捕获响应
		blw := &bodyLogWriter{body: bytes.NewBufferString(""), ResponseWriter: c.Writer}
		c.Writer = blw

		c.Next()

		latency := time.Since(startTime)
		statusCode := c.Writer.Status()

		// 按路由模板统计，避免对话 ID 撑爆标签基数
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.RecordRequest(c.Request.Method, route, strconv.Itoa(statusCode), latency.Seconds())

		responseBody := blw.body.String()
		if sensitive {
			responseBody = "[redacted]"
		}
		log.Infow("HTTP Request Log",
			"statusCode", statusCode,
			"latency", latency.String(),
			"clientIP", c.ClientIP(),
			"method", c.Request.Method,
			"path", path,
			"requestBody", string(requestBody),
			"responseBody", responseBody,
		)
	}
}
