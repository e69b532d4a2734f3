// Package app assembles the extraction pipeline and its supporting services
// from configuration. It is shared by the server, worker and CLI binaries.
package app

import (
    "context"
    "fmt"
    "strings"

    "github.com/redis/go-redis/v9"

    "github.com/feichai0017/document-extractor/config"
    "github.com/feichai0017/document-extractor/internal/agent"
    "github.com/feichai0017/document-extractor/internal/agent/document/pdf"
    "github.com/feichai0017/document-extractor/internal/agent/ocr"
    "github.com/feichai0017/document-extractor/internal/agent/preprocess"
    "github.com/feichai0017/document-extractor/internal/service/document"
    "github.com/feichai0017/document-extractor/internal/service/extract"
    "github.com/feichai0017/document-extractor/internal/utils/validator"
    "github.com/feichai0017/document-extractor/pkg/analytics"
    "github.com/feichai0017/document-extractor/pkg/logger"
    "github.com/feichai0017/document-extractor/pkg/queue"
    "github.com/feichai0017/document-extractor/pkg/storage"
    "github.com/feichai0017/document-extractor/pkg/worker"
)

// NewLogger logs JSON to stdout and logs/<name>.log.
func NewLogger(name, level string) (logger.Logger, error) {
    return logger.NewLogger(
        logger.WithLevel(level),
        logger.WithEncoding("json"),
        logger.WithOutputPaths([]string{"stdout", fmt.Sprintf("logs/%s.log", name)}),
    )
}

// Extraction is the assembled synchronous pipeline.
type Extraction struct {
    Service *extract.Service
    Engine  ocr.Engine
    Options extract.Options
}

// NewExtraction builds the OCR engine, rasterizer, router and analytics
// recorder. rdb is only used by the redis analytics backend and may be nil
// otherwise.
func NewExtraction(ctx context.Context, cfg *config.ExtractorConfig, rdb *redis.Client, log logger.Logger) (*Extraction, error) {
    engine, err := ocr.NewEngine(ctx, cfg.OCR, log)
    if err != nil {
        return nil, fmt.Errorf("failed to initialize OCR engine: %w", err)
    }

    recorder, err := NewRecorder(cfg.Analytics, rdb, log)
    if err != nil {
        return nil, err
    }

    rasterizer := pdf.NewCommandRasterizer(cfg.Rasterizer, log)
    router := agent.NewRouter(log, extract.Extractors(rasterizer, log)...)

    log.Info("Extraction pipeline ready",
        logger.String("ocrEngine", engine.Name()),
        logger.Bool("ocrEnabled", cfg.Extraction.OCREnabled),
        logger.Strings("preprocess", preprocess.NewPipeline(cfg.Extraction.Preprocess).Stages()),
        logger.String("analytics", cfg.Analytics.Backend),
    )
    return &Extraction{
        Service: extract.NewService(router, engine, recorder, log),
        Engine:  engine,
        Options: cfg.Extraction,
    }, nil
}

// NewRecorder selects the analytics backend. "none" or an empty backend
// disables analytics.
func NewRecorder(cfg config.AnalyticsConfig, rdb *redis.Client, log logger.Logger) (analytics.Recorder, error) {
    switch strings.ToLower(cfg.Backend) {
    case "", "none":
        return nil, nil
    case "log":
        return analytics.NewLogRecorder(log), nil
    case "redis":
        if rdb == nil {
            return nil, fmt.Errorf("redis analytics backend needs a redis client")
        }
        return analytics.NewRedisRecorder(rdb, cfg.Key, cfg.MaxLen), nil
    default:
        return nil, fmt.Errorf("unknown analytics backend %q", cfg.Backend)
    }
}

// NewRedisClient opens a client for the shared Redis instance.
func NewRedisClient(rc *config.RedisConfig) *redis.Client {
    return redis.NewClient(&redis.Options{
        Addr:     rc.Addr,
        Password: rc.Password,
        DB:       rc.DB,
    })
}

func QueueConfig(rc *config.RedisConfig) *queue.QueueConfig {
    return &queue.QueueConfig{
        RedisAddr:      rc.Addr,
        RedisPassword:  rc.Password,
        RedisDB:        rc.DB,
        MaxRetries:     rc.MaxRetries,
        ProcessTimeout: rc.ProcessTimeout,
    }
}

func WorkerConfig(rc *config.RedisConfig) *worker.Config {
    return &worker.Config{
        RedisAddr:     rc.Addr,
        RedisPassword: rc.Password,
        RedisDB:       rc.DB,
        Concurrency:   rc.Concurrency,
        Queues:        worker.DefaultQueues(),
        RetryDelay:    rc.RetryDelay,
    }
}

// Documents is the assembled asynchronous pipeline.
type Documents struct {
    Service *document.DocumentService
    Queue   *queue.AsynqQueue
}

func (d *Documents) Close() error {
    return d.Queue.Close()
}

// NewDocuments wires storage, the task queue and the document service around
// an extraction pipeline.
func NewDocuments(ctx context.Context, sc *config.ServerConfig, rc *config.RedisConfig, ex *Extraction, log logger.Logger) (*Documents, error) {
    store, err := storage.NewStorage(ctx, storage.StorageType(sc.StorageType), log)
    if err != nil {
        return nil, fmt.Errorf("failed to initialize storage: %w", err)
    }

    q, err := queue.NewAsynqQueue(QueueConfig(rc))
    if err != nil {
        return nil, fmt.Errorf("failed to initialize queue: %w", err)
    }

    cfg := document.DefaultServiceConfig()
    cfg.Options = ex.Options
    if sc.RetentionPeriod > 0 {
        cfg.RetentionPeriod = sc.RetentionPeriod
    }
    vcfg := validator.DefaultConfig()
    vcfg.MaxFileSize = ex.Options.MaxInputBytes
    vcfg.MaxPageCount = ex.Options.MaxUnits
    v := validator.NewDocumentValidator(log, vcfg)
    return &Documents{
        Service: document.NewService(ex.Service, v, q, store, log, cfg),
        Queue:   q,
    }, nil
}
