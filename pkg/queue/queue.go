// Package queue schedules asynchronous extraction tasks on asynq and keeps
// their status in Redis.
package queue

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "time"

    "github.com/hibiken/asynq"
    "github.com/redis/go-redis/v9"
)

const TaskTypeExtract = "document:extract"

// Queue names, highest weight first.
const (
    QueueCritical = "critical"
    QueueDefault  = "default"
    QueueLow      = "low"
)

var queueNames = []string{QueueCritical, QueueDefault, QueueLow}

// ErrTaskNotFound is returned when neither the status store nor asynq knows
// the task.
var ErrTaskNotFound = errors.New("task not found")

type Queue interface {
    Enqueue(ctx context.Context, task *Task) error
    GetTaskStatus(ctx context.Context, taskID string) (*TaskStatus, error)
    CancelTask(ctx context.Context, taskID string) error
    SaveFinalStatus(ctx context.Context, status *TaskStatus) error
}

// ExtractPayload locates the uploaded document and carries per-task
// overrides of the extraction options.
type ExtractPayload struct {
    ObjectKey  string `json:"objectKey"`
    Filename   string `json:"filename"`
    Size       int64  `json:"size"`
    OCREnabled *bool  `json:"ocrEnabled,omitempty"`
    Language   string `json:"language,omitempty"`
}

type Task struct {
    ID        string            `json:"id"`
    Type      string            `json:"type"`
    Priority  int               `json:"priority"`
    Payload   ExtractPayload    `json:"payload"`
    Metadata  map[string]string `json:"metadata"`
    CreatedAt time.Time         `json:"createdAt"`
}

type TaskStatus struct {
    TaskID     string    `json:"taskId"`
    Status     string    `json:"status"`
    Progress   float64   `json:"progress"`
    Error      string    `json:"error,omitempty"`
    StartedAt  time.Time `json:"startedAt"`
    FinishedAt time.Time `json:"finishedAt,omitempty"`
}

// Terminal reports whether the status will not change any more.
func (s *TaskStatus) Terminal() bool {
    switch s.Status {
    case "completed", "failed", "cancelled":
        return true
    }
    return false
}

type QueueConfig struct {
    RedisAddr      string
    RedisPassword  string
    RedisDB        int
    MaxRetries     int
    ProcessTimeout time.Duration
    StatusTTL      time.Duration
}

func (c *QueueConfig) RedisOpt() asynq.RedisClientOpt {
    return asynq.RedisClientOpt{
        Addr:     c.RedisAddr,
        Password: c.RedisPassword,
        DB:       c.RedisDB,
    }
}

// statusRedis is the subset of *redis.Client used for task status.
type statusRedis interface {
    Get(ctx context.Context, key string) *redis.StringCmd
    Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// StatusStore keeps task status snapshots in Redis with a TTL.
type StatusStore struct {
    redis statusRedis
    ttl   time.Duration
}

func NewStatusStore(client statusRedis, ttl time.Duration) *StatusStore {
    if ttl <= 0 {
        ttl = 24 * time.Hour
    }
    return &StatusStore{redis: client, ttl: ttl}
}

func statusKey(taskID string) string {
    return fmt.Sprintf("task_status:%s", taskID)
}

func (s *StatusStore) Save(ctx context.Context, status *TaskStatus) error {
    data, err := json.Marshal(status)
    if err != nil {
        return fmt.Errorf("failed to marshal status: %w", err)
    }
    if err := s.redis.Set(ctx, statusKey(status.TaskID), data, s.ttl).Err(); err != nil {
        return fmt.Errorf("failed to save status: %w", err)
    }
    return nil
}

// Load returns the stored status, or ErrTaskNotFound.
func (s *StatusStore) Load(ctx context.Context, taskID string) (*TaskStatus, error) {
    data, err := s.redis.Get(ctx, statusKey(taskID)).Bytes()
    if errors.Is(err, redis.Nil) {
        return nil, ErrTaskNotFound
    }
    if err != nil {
        return nil, fmt.Errorf("failed to get status from redis: %w", err)
    }
    var status TaskStatus
    if err := json.Unmarshal(data, &status); err != nil {
        return nil, fmt.Errorf("failed to unmarshal status: %w", err)
    }
    return &status, nil
}

type AsynqQueue struct {
    client    *asynq.Client
    inspector *asynq.Inspector
    redis     *redis.Client
    status    *StatusStore
    cfg       QueueConfig
}

func NewAsynqQueue(cfg *QueueConfig) (*AsynqQueue, error) {
    if cfg.RedisAddr == "" {
        return nil, fmt.Errorf("redis address is required")
    }
    redisOpt := cfg.RedisOpt()
    redisClient := redis.NewClient(&redis.Options{
        Addr:     cfg.RedisAddr,
        Password: cfg.RedisPassword,
        DB:       cfg.RedisDB,
    })

    return &AsynqQueue{
        client:    asynq.NewClient(redisOpt),
        inspector: asynq.NewInspector(redisOpt),
        redis:     redisClient,
        status:    NewStatusStore(redisClient, cfg.StatusTTL),
        cfg:       *cfg,
    }, nil
}

// Redis exposes the underlying client so other components can share it.
func (q *AsynqQueue) Redis() *redis.Client {
    return q.redis
}

func (q *AsynqQueue) Enqueue(ctx context.Context, task *Task) error {
    payload, err := json.Marshal(task)
    if err != nil {
        return fmt.Errorf("failed to marshal task: %w", err)
    }

    opts := []asynq.Option{
        asynq.MaxRetry(q.cfg.MaxRetries),
        asynq.TaskID(task.ID),
        asynq.Queue(queueFor(task.Priority)),
    }
    if q.cfg.ProcessTimeout > 0 {
        opts = append(opts, asynq.Timeout(q.cfg.ProcessTimeout))
    }

    if _, err := q.client.EnqueueContext(ctx, asynq.NewTask(task.Type, payload), opts...); err != nil {
        return fmt.Errorf("failed to enqueue task: %w", err)
    }
    return nil
}

func queueFor(priority int) string {
    switch priority {
    case 1:
        return QueueCritical
    case 2:
        return QueueDefault
    default:
        return QueueLow
    }
}

// GetTaskStatus prefers the stored snapshot and falls back to asynq's own
// view of the task.
func (q *AsynqQueue) GetTaskStatus(ctx context.Context, taskID string) (*TaskStatus, error) {
    status, err := q.status.Load(ctx, taskID)
    if err == nil {
        return status, nil
    }
    if !errors.Is(err, ErrTaskNotFound) {
        return nil, err
    }

    for _, name := range queueNames {
        info, err := q.inspector.GetTaskInfo(name, taskID)
        if err == nil {
            return convertAsynqStatus(info), nil
        }
    }
    return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
}

// CancelTask deletes a waiting task or signals a running one, then records
// the cancellation.
func (q *AsynqQueue) CancelTask(ctx context.Context, taskID string) error {
    var lastErr error
    cancelled := false
    for _, name := range queueNames {
        info, err := q.inspector.GetTaskInfo(name, taskID)
        if err != nil {
            lastErr = err
            continue
        }
        if info.State == asynq.TaskStateActive {
            err = q.inspector.CancelProcessing(taskID)
        } else {
            err = q.inspector.DeleteTask(name, taskID)
        }
        if err != nil {
            return fmt.Errorf("failed to cancel task: %w", err)
        }
        cancelled = true
        break
    }
    if !cancelled {
        return fmt.Errorf("failed to cancel task: %w", errors.Join(ErrTaskNotFound, lastErr))
    }

    return q.status.Save(ctx, &TaskStatus{
        TaskID:     taskID,
        Status:     "cancelled",
        FinishedAt: time.Now(),
    })
}

func (q *AsynqQueue) SaveFinalStatus(ctx context.Context, status *TaskStatus) error {
    return q.status.Save(ctx, status)
}

func (q *AsynqQueue) Close() error {
    return errors.Join(q.client.Close(), q.inspector.Close(), q.redis.Close())
}

func convertAsynqStatus(info *asynq.TaskInfo) *TaskStatus {
    status := &TaskStatus{
        TaskID:    info.ID,
        StartedAt: info.NextProcessAt,
    }

    switch info.State {
    case asynq.TaskStatePending, asynq.TaskStateScheduled:
        status.Status = "pending"
    case asynq.TaskStateActive:
        status.Status = "running"
        status.Progress = 0.5
    case asynq.TaskStateCompleted:
        status.Status = "completed"
        status.Progress = 1.0
        status.FinishedAt = info.CompletedAt
    case asynq.TaskStateRetry:
        status.Status = "running"
        status.Error = info.LastErr
    case asynq.TaskStateArchived:
        status.Status = "failed"
        status.Error = info.LastErr
        status.FinishedAt = info.LastFailedAt
    default:
        status.Status = "pending"
    }

    return status
}
