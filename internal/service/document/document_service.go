// Package document runs extractions asynchronously: uploads are stored,
// queued, extracted by a worker and kept as downloadable results.
package document

import (
    "context"
    "errors"
    "fmt"
    "mime/multipart"
    "strings"

    "github.com/feichai0017/document-extractor/internal/models"
    "github.com/feichai0017/document-extractor/internal/service/extract"
    "github.com/feichai0017/document-extractor/internal/utils/validator"
    "github.com/feichai0017/document-extractor/pkg/converters"
    "github.com/feichai0017/document-extractor/pkg/queue"
)

type DocumentProcessor interface {
    ProcessFile(ctx context.Context, file multipart.File, header *multipart.FileHeader, overrides Overrides) (*models.ExtractionTask, error)
    ProcessBatch(ctx context.Context, files []*multipart.FileHeader, overrides Overrides) ([]*models.ExtractionTask, error)
    GetProcessingStatus(ctx context.Context, taskID string) (*models.ExtractionTask, error)
    HandleDocument(ctx context.Context, task *queue.Task) error
    GetProcessedDocument(ctx context.Context, taskID string) (*converters.ProcessedDocument, error)
    CancelTask(ctx context.Context, taskID string) error
    CleanupTasks(ctx context.Context) error
}

// Extractor is satisfied by *extract.Service.
type Extractor interface {
    Extract(ctx context.Context, in extract.Input, opts extract.Options) (*models.ExtractionResult, error)
}

// Overrides are the per-request changes to the configured options.
type Overrides struct {
    OCREnabled *bool
    Language   string
}

// Apply returns opts with the overrides set.
func (o Overrides) Apply(opts extract.Options) extract.Options {
    if o.OCREnabled != nil {
        opts.OCREnabled = *o.OCREnabled
    }
    if o.Language != "" {
        opts.Language = o.Language
    }
    return opts
}

var (
    ErrTaskNotFound   = queue.ErrTaskNotFound
    ErrResultNotReady = errors.New("result not ready")
)

// InvalidFileError reports an upload rejected by validation.
type InvalidFileError struct {
    Result *validator.ValidationResult
}

func (e *InvalidFileError) Error() string {
    msgs := make([]string, 0, len(e.Result.Errors))
    for _, ve := range e.Result.Errors {
        msgs = append(msgs, ve.Message)
    }
    return fmt.Sprintf("invalid file %s: %s", e.Result.FileInfo.Filename, strings.Join(msgs, "; "))
}
