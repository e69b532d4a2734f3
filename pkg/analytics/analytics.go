// Package analytics records one event per extraction.
package analytics

import (
    "context"
    "encoding/json"
    "fmt"
    "time"

    "github.com/redis/go-redis/v9"

    "github.com/feichai0017/document-extractor/internal/models"
    "github.com/feichai0017/document-extractor/pkg/logger"
)

// Event summarizes one extraction. It never carries document content.
type Event struct {
    Timestamp       time.Time           `json:"timestamp"`
    InputIdentifier string              `json:"inputIdentifier"`
    DocumentKind    models.DocumentKind `json:"documentKind,omitempty"`
    UnitCount       int                 `json:"unitCount"`
    Diagnostics     models.Diagnostics  `json:"diagnostics"`
    SizeBucket      string              `json:"sizeBucket"`
    Duration        time.Duration       `json:"duration"`
    Success         bool                `json:"success"`
    OCRUsed         bool                `json:"ocrUsed"`
    Error           string              `json:"error,omitempty"`
}

type Recorder interface {
    Record(ctx context.Context, ev Event) error
}

// SizeBucket maps an input size in bytes to a coarse label.
func SizeBucket(size int64) string {
    const mb = 1 << 20
    switch {
    case size < 100<<10:
        return "<100KB"
    case size < mb:
        return "100KB-1MB"
    case size < 10*mb:
        return "1MB-10MB"
    case size < 50*mb:
        return "10MB-50MB"
    default:
        return ">=50MB"
    }
}

// dispatchTimeout bounds a single Record call started by Dispatch.
const dispatchTimeout = 5 * time.Second

// Dispatch records ev in the background. Errors and panics raised by the
// recorder are logged and never reach the caller.
func Dispatch(ctx context.Context, rec Recorder, ev Event, log logger.Logger) {
    if rec == nil {
        return
    }
    ctx = context.WithoutCancel(ctx)
    go func() {
        defer func() {
            if r := recover(); r != nil {
                log.Error("Analytics recorder panicked",
                    logger.String("input", ev.InputIdentifier),
                    logger.Any("panic", r),
                )
            }
        }()
        ctx, cancel := context.WithTimeout(ctx, dispatchTimeout)
        defer cancel()
        if err := rec.Record(ctx, ev); err != nil {
            log.Warn("Failed to record analytics event",
                logger.String("input", ev.InputIdentifier),
                logger.Error(err),
            )
        }
    }()
}

// LogRecorder writes events to a logger.
type LogRecorder struct {
    logger logger.Logger
}

func NewLogRecorder(log logger.Logger) *LogRecorder {
    return &LogRecorder{logger: log.Named("analytics")}
}

func (r *LogRecorder) Record(ctx context.Context, ev Event) error {
    r.logger.Info("Extraction event",
        logger.String("input", ev.InputIdentifier),
        logger.String("kind", string(ev.DocumentKind)),
        logger.Int("units", ev.UnitCount),
        logger.String("sizeBucket", ev.SizeBucket),
        logger.Duration("duration", ev.Duration),
        logger.Bool("success", ev.Success),
        logger.Bool("ocrUsed", ev.OCRUsed),
        logger.Int("ocrInvocations", ev.Diagnostics.OCRInvocations),
        logger.Int("unitFailures", len(ev.Diagnostics.UnitFailures)),
    )
    return nil
}

// redisList is the subset of *redis.Client used by RedisRecorder.
type redisList interface {
    LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
    LTrim(ctx context.Context, key string, start, stop int64) *redis.StatusCmd
    LRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
}

const (
    DefaultRedisKey    = "extractor:analytics"
    DefaultRedisMaxLen = 10000
)

// RedisRecorder keeps the most recent events in a capped Redis list,
// newest first.
type RedisRecorder struct {
    client redisList
    key    string
    maxLen int64
}

func NewRedisRecorder(client *redis.Client, key string, maxLen int64) *RedisRecorder {
    return newRedisRecorder(client, key, maxLen)
}

func newRedisRecorder(client redisList, key string, maxLen int64) *RedisRecorder {
    if key == "" {
        key = DefaultRedisKey
    }
    if maxLen <= 0 {
        maxLen = DefaultRedisMaxLen
    }
    return &RedisRecorder{client: client, key: key, maxLen: maxLen}
}

func (r *RedisRecorder) Record(ctx context.Context, ev Event) error {
    data, err := json.Marshal(ev)
    if err != nil {
        return fmt.Errorf("failed to marshal event: %w", err)
    }
    if err := r.client.LPush(ctx, r.key, data).Err(); err != nil {
        return fmt.Errorf("failed to push event: %w", err)
    }
    if err := r.client.LTrim(ctx, r.key, 0, r.maxLen-1).Err(); err != nil {
        return fmt.Errorf("failed to trim event list: %w", err)
    }
    return nil
}

// Recent returns up to n of the newest events.
func (r *RedisRecorder) Recent(ctx context.Context, n int64) ([]Event, error) {
    if n <= 0 {
        return nil, nil
    }
    raw, err := r.client.LRange(ctx, r.key, 0, n-1).Result()
    if err != nil {
        return nil, fmt.Errorf("failed to read events: %w", err)
    }
    events := make([]Event, 0, len(raw))
    for _, s := range raw {
        var ev Event
        if err := json.Unmarshal([]byte(s), &ev); err != nil {
            return nil, fmt.Errorf("failed to decode event: %w", err)
        }
        events = append(events, ev)
    }
    return events, nil
}
