package middleware

import (
	"time"

	"github.com/annel0/voxel-terrain/internal/logging"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

// TraceIDKey ключ gin.Context с идентификатором трассировки запроса
const TraceIDKey = "trace_id"

// RequestLogger снабжает каждый HTTP-запрос trace-ID и пишет краткие логи.
type RequestLogger struct {
	log logging.Interface
}

func NewRequestLogger(log logging.Interface) *RequestLogger {
	return &RequestLogger{log: logging.OrNop(log)}
}

func (rl *RequestLogger) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		// trace-id из OpenTelemetry, если спан уже открыт otelgin
		span := trace.SpanFromContext(c.Request.Context())
		var traceID string
		if span.SpanContext().IsValid() {
			traceID = span.SpanContext().TraceID().String()
		} else {
			traceID = uuid.NewString()
		}
		c.Set(TraceIDKey, traceID)
		c.Header("X-Trace-Id", traceID)

		start := time.Now()
		method := c.Request.Method
		path := routePath(c)

		rl.log.Debugf("[HTTP] > %s %s ip=%s trace=%s", method, path, c.ClientIP(), traceID)

		c.Next()

		status := c.Writer.Status()
		latency := time.Since(start)
		if status >= 500 {
			rl.log.Errorf("[HTTP] < %s %s %d %s trace=%s", method, path, status, latency, traceID)
			return
		}
		rl.log.Infof("[HTTP] < %s %s %d %s trace=%s", method, path, status, latency, traceID)
	}
}

// routePath возвращает шаблон маршрута или сырой путь для несматченных запросов
func routePath(c *gin.Context) string {
	if p := c.FullPath(); p != "" {
		return p
	}
	return c.Request.URL.Path
}
