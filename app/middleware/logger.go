package middleware

import (
	"bytes"
	"io"
	"net/http"
	"strings"
	"time"

	"npuprof/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/pretty"
	"go.uber.org/zap"
)

const maxLoggedBody = 1000

// Logger logs one line per request. JSON request bodies are logged
// compacted; chunk uploads are binary and only their size is logged.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Start time
		start := time.Now()

		// Only JSON bodies are worth printing
		var body string
		if c.Request.Method != http.MethodGet && isJSON(c.ContentType()) {
			body = getRequestBody(c)
		}

		// Process request
		c.Next()

		// Skip 404s, metrics scrapes and health checks
		if c.Writer.Status() == http.StatusNotFound || c.FullPath() == "/metrics" || c.FullPath() == "/health" {
			return
		}

		fields := []zap.Field{
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
			zap.String("method", c.Request.Method),
			zap.String("uri", c.Request.RequestURI),
			zap.Int64("bytes_in", c.Request.ContentLength),
		}
		// Add request body to log if present
		if body != "" {
			fields = append(fields, zap.String("body", body))
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}
		logger.Info("[GIN]", fields...)
	}
}

func isJSON(contentType string) bool {
	return strings.HasSuffix(contentType, "json")
}

// getRequestBody reads the body and puts it back for the handler
func getRequestBody(c *gin.Context) string {
	if c.Request.Body == nil {
		return ""
	}
	bodyBytes, _ := io.ReadAll(c.Request.Body)
	// Reset request body since reading it clears it
	c.Request.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
	return CompressBody(bodyBytes)
}

// CompressBody strips whitespace from a JSON body and truncates it
func CompressBody(body []byte) string {
	if len(body) == 0 {
		return ""
	}

	// Compress JSON, ugly=true means remove all whitespace
	compressed := pretty.Ugly(body)
	if len(compressed) > maxLoggedBody {
		return string(compressed[:maxLoggedBody]) + "..."
	}
	return string(compressed)
}
