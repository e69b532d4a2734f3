package middleware

import (
    "time"

    "github.com/gin-gonic/gin"
    "github.com/google/uuid"

    "github.com/feichai0017/document-extractor/pkg/logger"
)

const RequestIDHeader = "X-Request-ID"

// RequestID propagates or assigns a request id and stores it in the request
// context for logger.ContextLogger.
func RequestID() gin.HandlerFunc {
    return func(c *gin.Context) {
        id := c.GetHeader(RequestIDHeader)
        if id == "" {
            id = uuid.NewString()
        }
        c.Request = c.Request.WithContext(logger.WithRequestID(c.Request.Context(), id))
        c.Header(RequestIDHeader, id)
        c.Next()
    }
}

// AccessLog logs one line per request.
func AccessLog(log logger.Logger) gin.HandlerFunc {
    ctxLog := logger.NewContextLogger(log.Named("http"))
    return func(c *gin.Context) {
        start := time.Now()
        c.Next()

        fields := []logger.Field{
            logger.String("method", c.Request.Method),
            logger.String("path", c.FullPath()),
            logger.Int("status", c.Writer.Status()),
            logger.Int("bytes", c.Writer.Size()),
            logger.Duration("latency", time.Since(start)),
        }
        l := ctxLog.FromContext(c.Request.Context())
        if c.Writer.Status() >= 500 {
            l.Error("Request failed", fields...)
            return
        }
        l.Info("Request served", fields...)
    }
}
