package worker

import (
    "context"
    "encoding/json"
    "fmt"
    "time"

    "github.com/hibiken/asynq"

    "github.com/feichai0017/document-extractor/internal/service/document"
    "github.com/feichai0017/document-extractor/pkg/logger"
    "github.com/feichai0017/document-extractor/pkg/queue"
)

// TaskHandler runs one decoded extraction task.
type TaskHandler interface {
    HandleDocument(ctx context.Context, task *queue.Task) error
}

type DocumentWorker struct {
    BaseWorker
    handler TaskHandler
}

func NewDocumentWorker(cfg *Config, handler TaskHandler, log logger.Logger) (*DocumentWorker, error) {
    if cfg.RedisAddr == "" {
        return nil, fmt.Errorf("redis address is required")
    }
    queues := cfg.Queues
    if len(queues) == 0 {
        queues = DefaultQueues()
    }
    retryDelay := cfg.RetryDelay
    if retryDelay <= 0 {
        retryDelay = time.Minute
    }
    log = log.Named("worker")

    server := asynq.NewServer(
        asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB},
        asynq.Config{
            Concurrency: cfg.Concurrency,
            Queues:      queues,
            RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
                return time.Duration(n) * retryDelay
            },
            ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
                log.Warn("Task attempt failed",
                    logger.String("type", task.Type()),
                    logger.Error(err),
                )
            }),
        },
    )

    w := &DocumentWorker{
        BaseWorker: BaseWorker{
            server: server,
            mux:    asynq.NewServeMux(),
            logger: log,
        },
        handler: handler,
    }
    w.registerHandlers()
    return w, nil
}

func (w *DocumentWorker) registerHandlers() {
    w.mux.HandleFunc(queue.TaskTypeExtract, w.handleExtract)
}

func (w *DocumentWorker) handleExtract(ctx context.Context, t *asynq.Task) error {
    task, err := decodeTask(t.Payload())
    if err != nil {
        w.logger.Error("Invalid task payload",
            logger.Error(err),
            logger.Int("payloadBytes", len(t.Payload())),
        )
        return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
    }

    ctx = logger.WithTaskID(ctx, task.ID)
    w.logger.Info("Processing extraction task",
        logger.String("taskId", task.ID),
        logger.String("filename", task.Payload.Filename),
    )
    writeProgress(t, w.logger, `{"status":"running","progress":0}`)

    if err := w.handler.HandleDocument(ctx, task); err != nil {
        writeProgress(t, w.logger, fmt.Sprintf(`{"status":"failed","error":%q}`, err.Error()))
        if document.IsFatal(err) {
            return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
        }
        return err
    }

    writeProgress(t, w.logger, `{"status":"completed","progress":1}`)
    return nil
}

func decodeTask(payload []byte) (*queue.Task, error) {
    var task queue.Task
    if err := json.Unmarshal(payload, &task); err != nil {
        return nil, fmt.Errorf("failed to unmarshal task: %w", err)
    }
    if task.ID == "" || task.Payload.ObjectKey == "" {
        return nil, fmt.Errorf("invalid task data: missing required fields")
    }
    return &task, nil
}

func writeProgress(t *asynq.Task, log logger.Logger, msg string) {
    rw := t.ResultWriter()
    if rw == nil {
        return
    }
    if _, err := rw.Write([]byte(msg)); err != nil {
        log.Error("Failed to write task result", logger.Error(err))
    }
}

func (w *DocumentWorker) Start(ctx context.Context) error {
    if err := w.server.Start(w.mux); err != nil {
        return fmt.Errorf("failed to start worker: %w", err)
    }

    go func() {
        <-ctx.Done()
        w.Stop()
    }()
    return nil
}
