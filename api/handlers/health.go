package handlers

import (
    "net/http"
    "time"

    "github.com/gin-gonic/gin"
)

type HealthHandler struct {
    engine  string
    async   bool
    started time.Time
}

func NewHealthHandler(engine string, async bool) *HealthHandler {
    return &HealthHandler{engine: engine, async: async, started: time.Now()}
}

func (h *HealthHandler) Health(c *gin.Context) {
    c.JSON(http.StatusOK, gin.H{
        "status":    "ok",
        "ocrEngine": h.engine,
        "async":     h.async,
        "uptime":    time.Since(h.started).Round(time.Second).String(),
    })
}
