package routes

import (
    "github.com/gin-gonic/gin"

    "github.com/feichai0017/document-extractor/api/handlers"
    "github.com/feichai0017/document-extractor/api/middleware"
    "github.com/feichai0017/document-extractor/pkg/logger"
)

func SetupRoutes(r *gin.Engine, h *handlers.Handlers, allowedOrigins []string, log logger.Logger) {
    r.Use(middleware.RequestID())
    r.Use(middleware.AccessLog(log))
    r.Use(middleware.CORS(allowedOrigins))

    v1 := r.Group("/api/v1")
    v1.GET("/health", h.Health.Health)
    v1.POST("/extract", h.Extract.Extract)

    if h.Document == nil {
        return
    }
    docs := v1.Group("/documents")
    {
        docs.POST("/process", h.Document.ProcessDocument)
        docs.POST("/batch", h.Document.ProcessBatch)
        docs.GET("/status/:taskId", h.Document.GetStatus)
        docs.GET("/download/:taskId", h.Document.DownloadResult)
        docs.DELETE("/task/:taskId", h.Document.CancelTask)
    }
}
