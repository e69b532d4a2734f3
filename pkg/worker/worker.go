// Package worker consumes queued extraction tasks.
package worker

import (
    "context"
    "sync"
    "time"

    "github.com/hibiken/asynq"

    "github.com/feichai0017/document-extractor/pkg/logger"
    "github.com/feichai0017/document-extractor/pkg/queue"
)

type Worker interface {
    Start(ctx context.Context) error
    Stop() error
}

type Config struct {
    RedisAddr     string
    RedisPassword string
    RedisDB       int
    Concurrency   int
    Queues        map[string]int
    RetryDelay    time.Duration
}

// DefaultQueues weights the queues the way the producer assigns priorities.
func DefaultQueues() map[string]int {
    return map[string]int{
        queue.QueueCritical: 6,
        queue.QueueDefault:  3,
        queue.QueueLow:      1,
    }
}

type BaseWorker struct {
    server   *asynq.Server
    mux      *asynq.ServeMux
    logger   logger.Logger
    stopOnce sync.Once
}

// Stop waits for in-flight tasks and may be called more than once.
func (w *BaseWorker) Stop() error {
    w.stopOnce.Do(w.server.Shutdown)
    return nil
}
