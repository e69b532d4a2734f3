package main

import (
    "context"
    "os"
    "os/signal"
    "syscall"
    "time"

    "github.com/redis/go-redis/v9"

    "github.com/feichai0017/document-extractor/config"
    "github.com/feichai0017/document-extractor/internal/app"
    "github.com/feichai0017/document-extractor/pkg/logger"
    "github.com/feichai0017/document-extractor/pkg/worker"
)

const cleanupInterval = time.Hour

func main() {
    sc := config.GetServerConfig()
    rc := config.GetRedisConfig()

    log, err := app.NewLogger("worker", sc.LogLevel)
    if err != nil {
        panic(err)
    }
    defer log.Sync()

    ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
    defer stop()

    extractorCfg, err := config.LoadExtractorConfig(sc.ExtractorConfigPath)
    if err != nil {
        log.Error("Failed to load extractor config", logger.Error(err))
        os.Exit(1)
    }

    var rdb *redis.Client
    if extractorCfg.Analytics.Backend == "redis" {
        rdb = app.NewRedisClient(rc)
        defer rdb.Close()
    }

    ex, err := app.NewExtraction(ctx, extractorCfg, rdb, log)
    if err != nil {
        log.Error("Failed to initialize extraction", logger.Error(err))
        os.Exit(1)
    }

    docs, err := app.NewDocuments(ctx, sc, rc, ex, log)
    if err != nil {
        log.Error("Failed to create document service", logger.Error(err))
        os.Exit(1)
    }
    defer docs.Close()

    documentWorker, err := worker.NewDocumentWorker(app.WorkerConfig(rc), docs.Service, log)
    if err != nil {
        log.Error("Failed to create document worker", logger.Error(err))
        os.Exit(1)
    }
    if err := documentWorker.Start(ctx); err != nil {
        log.Error("Failed to start worker", logger.Error(err))
        os.Exit(1)
    }
    log.Info("Worker started", logger.Int("concurrency", rc.Concurrency))

    ticker := time.NewTicker(cleanupInterval)
    defer ticker.Stop()
    for {
        select {
        case <-ctx.Done():
            log.Info("Shutting down worker...")
            documentWorker.Stop()
            log.Info("Worker stopped")
            return
        case <-ticker.C:
            if err := docs.Service.CleanupTasks(ctx); err != nil {
                log.Warn("Cleanup failed", logger.Error(err))
            }
        }
    }
}
