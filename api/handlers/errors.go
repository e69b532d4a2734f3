package handlers

import (
    "errors"
    "net/http"

    "github.com/gin-gonic/gin"

    "github.com/feichai0017/document-extractor/internal/models"
    "github.com/feichai0017/document-extractor/internal/service/document"
    "github.com/feichai0017/document-extractor/internal/utils/validator"
    "github.com/feichai0017/document-extractor/pkg/logger"
)

type ErrorResponse struct {
    Error   string                      `json:"error,omitempty"`
    Message string                      `json:"message"`
    Details []validator.ValidationError `json:"details,omitempty"`
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
    var invalid *document.InvalidFileError
    switch {
    case errors.As(err, &invalid):
        return http.StatusBadRequest
    case errors.Is(err, models.ErrUnsupportedFormat):
        return http.StatusUnsupportedMediaType
    case errors.Is(err, models.ErrCorruptContainer):
        return http.StatusUnprocessableEntity
    case errors.Is(err, models.ErrResourceExceeded):
        return http.StatusRequestEntityTooLarge
    case errors.Is(err, document.ErrTaskNotFound):
        return http.StatusNotFound
    case errors.Is(err, document.ErrResultNotReady):
        return http.StatusConflict
    default:
        return http.StatusInternalServerError
    }
}

func handleError(c *gin.Context, log logger.Logger, status int, message string, err error) {
    fields := []logger.Field{
        logger.String("path", c.Request.URL.Path),
        logger.Int("status", status),
    }
    if err != nil {
        fields = append(fields, logger.Error(err))
    }
    if status >= http.StatusInternalServerError {
        log.Error(message, fields...)
    } else {
        log.Warn(message, fields...)
    }

    response := ErrorResponse{Message: message}
    if err != nil {
        response.Error = err.Error()
        var invalid *document.InvalidFileError
        if errors.As(err, &invalid) {
            response.Details = invalid.Result.Errors
        }
    }
    c.AbortWithStatusJSON(status, response)
}
