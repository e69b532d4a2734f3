package main

import (
    "context"
    "errors"
    "net/http"
    "os"
    "os/signal"
    "syscall"
    "time"

    "github.com/gin-gonic/gin"
    "github.com/redis/go-redis/v9"

    "github.com/feichai0017/document-extractor/api/handlers"
    "github.com/feichai0017/document-extractor/api/routes"
    "github.com/feichai0017/document-extractor/config"
    "github.com/feichai0017/document-extractor/internal/app"
    "github.com/feichai0017/document-extractor/internal/service/document"
    "github.com/feichai0017/document-extractor/pkg/logger"
)

func main() {
    sc := config.GetServerConfig()
    rc := config.GetRedisConfig()

    log, err := app.NewLogger("app", sc.LogLevel)
    if err != nil {
        panic(err)
    }
    defer log.Sync()

    ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
    defer stop()

    extractorCfg, err := config.LoadExtractorConfig(sc.ExtractorConfigPath)
    if err != nil {
        log.Fatal("Failed to load extractor config", logger.Error(err))
    }

    var rdb *redis.Client
    if extractorCfg.Analytics.Backend == "redis" {
        rdb = app.NewRedisClient(rc)
        defer rdb.Close()
    }

    ex, err := app.NewExtraction(ctx, extractorCfg, rdb, log)
    if err != nil {
        log.Fatal("Failed to initialize extraction", logger.Error(err))
    }

    var docService document.DocumentProcessor
    if sc.AsyncEnabled {
        docs, err := app.NewDocuments(ctx, sc, rc, ex, log)
        if err != nil {
            log.Fatal("Failed to initialize document service", logger.Error(err))
        }
        defer docs.Close()
        docService = docs.Service
    }

    gin.SetMode(sc.Mode)
    r := gin.New()
    r.Use(gin.Recovery())
    h := handlers.NewHandlers(docService, ex.Service, ex.Options, ex.Engine.Name(), log)
    routes.SetupRoutes(r, h, sc.AllowedOrigins, log)

    srv := &http.Server{
        Addr:              ":" + sc.Port,
        Handler:           r,
        ReadHeaderTimeout: 10 * time.Second,
    }

    go func() {
        log.Info("Server starting", logger.String("port", sc.Port), logger.Bool("async", sc.AsyncEnabled))
        if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
            log.Error("Server error", logger.Error(err))
            stop()
        }
    }()

    <-ctx.Done()
    log.Info("Shutting down server...")

    shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
    defer shutdownCancel()
    if err := srv.Shutdown(shutdownCtx); err != nil {
        log.Error("Server forced to shutdown", logger.Error(err))
        os.Exit(1)
    }
}
