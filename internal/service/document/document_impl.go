package document

import (
    "bytes"
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "io"
    "mime/multipart"
    "path/filepath"
    "strconv"
    "strings"
    "time"

    "github.com/google/uuid"
    "golang.org/x/sync/errgroup"

    "github.com/feichai0017/document-extractor/internal/models"
    "github.com/feichai0017/document-extractor/internal/service/extract"
    "github.com/feichai0017/document-extractor/internal/utils/validator"
    "github.com/feichai0017/document-extractor/pkg/converters"
    "github.com/feichai0017/document-extractor/pkg/logger"
    "github.com/feichai0017/document-extractor/pkg/queue"
    "github.com/feichai0017/document-extractor/pkg/storage"
)

type DocumentService struct {
    extractor Extractor
    validator *validator.DocumentValidator
    queue     queue.Queue
    storage   storage.Storage
    logger    logger.Logger
    config    *ServiceConfig
}

type ServiceConfig struct {
    QueuePriority   int
    MaxConcurrent   int
    RetentionPeriod time.Duration
    // Options are the extraction options every task starts from.
    Options extract.Options
}

func DefaultServiceConfig() *ServiceConfig {
    return &ServiceConfig{
        QueuePriority:   2,
        MaxConcurrent:   5,
        RetentionPeriod: 24 * time.Hour,
        Options:         extract.DefaultOptions(),
    }
}

func NewService(
    extractor Extractor,
    v *validator.DocumentValidator,
    q queue.Queue,
    store storage.Storage,
    log logger.Logger,
    cfg *ServiceConfig,
) *DocumentService {
    if cfg == nil {
        cfg = DefaultServiceConfig()
    }
    if v == nil {
        v = validator.NewDocumentValidator(log, nil)
    }
    return &DocumentService{
        extractor: extractor,
        validator: v,
        queue:     q,
        storage:   store,
        logger:    log.Named("document"),
        config:    cfg,
    }
}

// ProcessFile validates and stores one upload, then queues its extraction.
func (s *DocumentService) ProcessFile(
    ctx context.Context,
    file multipart.File,
    header *multipart.FileHeader,
    overrides Overrides,
) (*models.ExtractionTask, error) {
    s.logger.Info("Starting file processing",
        logger.String("filename", header.Filename),
        logger.Int64("size", header.Size),
    )

    result, err := s.validator.Validate(header.Filename, file, header.Size)
    if err != nil {
        return nil, fmt.Errorf("failed to validate file: %w", err)
    }
    if !result.IsValid {
        s.logger.Warn("File validation failed",
            logger.String("filename", header.Filename),
            logger.Any("errors", result.Errors),
        )
        return nil, &InvalidFileError{Result: result}
    }
    if _, err := file.Seek(0, io.SeekStart); err != nil {
        return nil, fmt.Errorf("failed to rewind file: %w", err)
    }

    taskID := uuid.New().String()
    now := time.Now()
    task := &models.ExtractionTask{
        ID:       taskID,
        Status:   models.StatusPending,
        Type:     queue.TaskTypeExtract,
        Priority: s.config.QueuePriority,
        Metadata: map[string]string{
            "filename": header.Filename,
            "size":     strconv.FormatInt(header.Size, 10),
            "type":     strings.ToLower(filepath.Ext(header.Filename)),
            "mimeType": result.FileInfo.MimeType,
            "hash":     result.FileInfo.Hash,
        },
        CreatedAt: now,
        UpdatedAt: now,
    }

    key, err := s.storage.Store(ctx, file, storage.UploadKey(taskID, header.Filename))
    if err != nil {
        s.logger.Error("Failed to store file",
            logger.String("filename", header.Filename),
            logger.Error(err),
        )
        return nil, fmt.Errorf("failed to store file: %w", err)
    }

    queueTask := &queue.Task{
        ID:       taskID,
        Type:     task.Type,
        Priority: task.Priority,
        Payload: queue.ExtractPayload{
            ObjectKey:  key,
            Filename:   header.Filename,
            Size:       header.Size,
            OCREnabled: overrides.OCREnabled,
            Language:   overrides.Language,
        },
        Metadata:  task.Metadata,
        CreatedAt: task.CreatedAt,
    }

    // The status must exist before a worker can pick the task up.
    if err := s.queue.SaveFinalStatus(ctx, &queue.TaskStatus{
        TaskID:    taskID,
        Status:    string(models.StatusPending),
        StartedAt: now,
    }); err != nil {
        s.logger.Error("Failed to save initial status",
            logger.String("taskId", taskID),
            logger.Error(err),
        )
    }

    if err := s.queue.Enqueue(ctx, queueTask); err != nil {
        s.logger.Error("Failed to enqueue task",
            logger.String("taskId", taskID),
            logger.Error(err),
        )
        if delErr := s.storage.Delete(ctx, key); delErr != nil {
            s.logger.Warn("Failed to remove orphaned upload", logger.String("key", key), logger.Error(delErr))
        }
        return nil, fmt.Errorf("failed to enqueue task: %w", err)
    }

    s.logger.Info("Extraction task created",
        logger.String("taskId", taskID),
        logger.String("filename", header.Filename),
    )
    return task, nil
}

// ProcessBatch queues every file, returning the tasks in input order. The
// first failure cancels the files not yet started.
func (s *DocumentService) ProcessBatch(ctx context.Context, files []*multipart.FileHeader, overrides Overrides) ([]*models.ExtractionTask, error) {
    results := make([]*models.ExtractionTask, len(files))

    g, ctx := errgroup.WithContext(ctx)
    g.SetLimit(s.config.MaxConcurrent)

    for i, header := range files {
        i, header := i, header
        g.Go(func() error {
            if err := ctx.Err(); err != nil {
                return err
            }
            file, err := header.Open()
            if err != nil {
                return fmt.Errorf("failed to open file %s: %w", header.Filename, err)
            }
            defer file.Close()

            task, err := s.ProcessFile(ctx, file, header, overrides)
            if err != nil {
                return fmt.Errorf("failed to process file %s: %w", header.Filename, err)
            }
            results[i] = task
            return nil
        })
    }

    err := g.Wait()
    tasks := make([]*models.ExtractionTask, 0, len(files))
    for _, t := range results {
        if t != nil {
            tasks = append(tasks, t)
        }
    }
    return tasks, err
}

// HandleDocument runs one queued extraction and stores its result. Fatal
// extraction errors are returned unchanged so the caller can stop retrying.
func (s *DocumentService) HandleDocument(ctx context.Context, task *queue.Task) error {
    if task == nil || task.ID == "" || task.Payload.ObjectKey == "" {
        return fmt.Errorf("invalid task: missing required data")
    }
    log := s.logger.With(logger.String("taskId", task.ID))
    p := task.Payload
    start := time.Now()

    log.Info("Processing document", logger.String("filename", p.Filename))
    s.saveStatus(ctx, &queue.TaskStatus{
        TaskID:    task.ID,
        Status:    string(models.StatusRunning),
        StartedAt: start,
    })

    opts := Overrides{OCREnabled: p.OCREnabled, Language: p.Language}.Apply(s.config.Options)
    limit := opts.MaxInputBytes
    if limit <= 0 {
        limit = extract.DefaultMaxInputBytes
    }
    data, err := storage.ReadAll(ctx, s.storage, p.ObjectKey, limit)
    if err != nil {
        return s.fail(ctx, task, start, fmt.Errorf("failed to get file: %w", err))
    }

    res, err := s.extractor.Extract(ctx, extract.Input{Name: p.Filename, Data: data}, opts)
    if err != nil {
        return s.fail(ctx, task, start, fmt.Errorf("failed to extract document: %w", err))
    }

    doc := converters.NewProcessedDocument(res, converters.DocumentMetadata{
        FileName:     p.Filename,
        FileType:     strings.ToLower(filepath.Ext(p.Filename)),
        FileSize:     p.Size,
        ProcessingMs: time.Since(start).Milliseconds(),
    })
    doc.TaskID = task.ID

    resultData, err := json.Marshal(doc)
    if err != nil {
        return s.fail(ctx, task, start, fmt.Errorf("failed to marshal result: %w", err))
    }
    // The result is kept even when the task was cancelled mid-way.
    storeCtx := context.WithoutCancel(ctx)
    if _, err := s.storage.Store(storeCtx, bytes.NewReader(resultData), storage.ResultKey(task.ID)); err != nil {
        return s.fail(ctx, task, start, fmt.Errorf("failed to store result: %w", err))
    }

    final := &queue.TaskStatus{
        TaskID:     task.ID,
        Status:     string(models.StatusCompleted),
        Progress:   1.0,
        StartedAt:  start,
        FinishedAt: time.Now(),
    }
    if res.Partial {
        final.Status = string(models.StatusCancelled)
        final.Error = "extraction cancelled, partial result stored"
    }
    s.saveStatus(storeCtx, final)

    log.Info("Document processing completed",
        logger.Int("units", len(res.Units)),
        logger.Bool("partial", res.Partial),
        logger.Duration("duration", time.Since(start)),
    )
    if res.Partial {
        return ctx.Err()
    }
    return nil
}

func (s *DocumentService) fail(ctx context.Context, task *queue.Task, start time.Time, err error) error {
    s.logger.Error("Document processing failed",
        logger.String("taskId", task.ID),
        logger.Error(err),
    )
    s.saveStatus(context.WithoutCancel(ctx), &queue.TaskStatus{
        TaskID:     task.ID,
        Status:     string(models.StatusFailed),
        Error:      err.Error(),
        StartedAt:  start,
        FinishedAt: time.Now(),
    })
    return err
}

func (s *DocumentService) saveStatus(ctx context.Context, status *queue.TaskStatus) {
    if err := s.queue.SaveFinalStatus(ctx, status); err != nil {
        s.logger.Error("Failed to save task status",
            logger.String("taskId", status.TaskID),
            logger.String("status", status.Status),
            logger.Error(err),
        )
    }
}

func (s *DocumentService) GetProcessingStatus(ctx context.Context, taskID string) (*models.ExtractionTask, error) {
    status, err := s.queue.GetTaskStatus(ctx, taskID)
    if err != nil {
        return nil, fmt.Errorf("failed to get task status: %w", err)
    }

    return &models.ExtractionTask{
        ID:        status.TaskID,
        Status:    models.ParseStatus(status.Status),
        Type:      queue.TaskTypeExtract,
        Progress:  status.Progress,
        Error:     status.Error,
        Metadata:  make(map[string]string),
        CreatedAt: status.StartedAt,
        UpdatedAt: status.FinishedAt,
    }, nil
}

// GetProcessedDocument returns the stored result of a completed task, or the
// partial result of a cancelled one when there is any.
func (s *DocumentService) GetProcessedDocument(ctx context.Context, taskID string) (*converters.ProcessedDocument, error) {
    status, err := s.GetProcessingStatus(ctx, taskID)
    if err != nil {
        return nil, err
    }
    if status.Status != models.StatusCompleted && status.Status != models.StatusCancelled {
        return nil, fmt.Errorf("%w: task is %s", ErrResultNotReady, status.Status)
    }

    reader, err := s.storage.Get(ctx, storage.ResultKey(taskID))
    if storage.IsNotFound(err) {
        return nil, fmt.Errorf("%w: task is %s", ErrResultNotReady, status.Status)
    }
    if err != nil {
        return nil, fmt.Errorf("failed to get result: %w", err)
    }
    defer reader.Close()

    var result converters.ProcessedDocument
    if err := json.NewDecoder(reader).Decode(&result); err != nil {
        return nil, fmt.Errorf("failed to decode result: %w", err)
    }
    return &result, nil
}

func (s *DocumentService) CancelTask(ctx context.Context, taskID string) error {
    if err := s.queue.CancelTask(ctx, taskID); err != nil {
        return fmt.Errorf("failed to cancel task: %w", err)
    }
    s.logger.Info("Task cancelled", logger.String("taskId", taskID))
    return nil
}

// CleanupTasks removes uploads and results older than the retention period.
func (s *DocumentService) CleanupTasks(ctx context.Context) error {
    threshold := time.Now().Add(-s.config.RetentionPeriod)
    if err := s.storage.CleanupBefore(ctx, threshold); err != nil {
        return fmt.Errorf("failed to cleanup storage: %w", err)
    }
    s.logger.Info("Completed tasks cleanup", logger.Time("threshold", threshold))
    return nil
}

// IsFatal reports whether a HandleDocument error will fail again on retry.
func IsFatal(err error) bool {
    var invalid *InvalidFileError
    return models.IsFatal(err) || errors.As(err, &invalid) || storage.IsNotFound(err)
}
