// Package document defines the contract every container family implements and
// the helpers they share for turning rasters into content nodes.
package document

import (
    "context"
    "errors"
    "fmt"

    "github.com/feichai0017/document-extractor/internal/agent/ocr"
    "github.com/feichai0017/document-extractor/internal/models"
    "github.com/feichai0017/document-extractor/pkg/logger"
)

// Extractor opens one container family.
type Extractor interface {
    Kind() models.DocumentKind

    // Open parses the outer structure of data. Errors wrap
    // models.ErrCorruptContainer, models.ErrResourceExceeded or, for
    // content the family cannot read such as DRM, models.ErrUnsupportedFormat.
    Open(ctx context.Context, data []byte) (Container, error)
}

// Container exposes the units of an opened document. ProcessUnit may be
// called concurrently for different indexes.
type Container interface {
    UnitCount() int
    UnitKind(index int) models.UnitKind

    // ProcessUnit extracts one unit. Unit-local failures are recorded on the
    // returned unit; the error is non-nil only when ctx was cancelled.
    ProcessUnit(ctx context.Context, index int, env *Env) (models.Unit, error)

    Close() error
}

// Env carries the per-extraction settings shared by every unit.
type Env struct {
    Policy         ocr.Policy
    OCR            *ocr.Runner
    Language       string
    MaxGroupDepth  int
    MinNativeChars int
    Logger         logger.Logger
}

const (
    DefaultMaxGroupDepth  = 32
    DefaultMinNativeChars = 20
)

// MaxDepth is the deepest group level the walker descends into.
func (e *Env) MaxDepth() int {
    if e.MaxGroupDepth <= 0 {
        return DefaultMaxGroupDepth
    }
    return e.MaxGroupDepth
}

func (e *Env) MinChars() int {
    if e.MinNativeChars <= 0 {
        return DefaultMinNativeChars
    }
    return e.MinNativeChars
}

func (e *Env) Log() logger.Logger {
    if e.Logger == nil {
        return logger.NewNop()
    }
    return e.Logger
}

// Settle folds a unit-level error into the unit. Cancellation is passed
// back to the caller so the unit can be dropped; any other error fails the
// unit with the matching failure kind.
func Settle(unit models.Unit, err error) (models.Unit, error) {
    if err == nil {
        return unit, nil
    }
    if errors.Is(err, context.Canceled) {
        return unit, err
    }
    if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, models.ErrTimeout) {
        err = fmt.Errorf("%w: %v", models.ErrTimeout, err)
    }
    unit.Fail(models.FailureKindOf(err), err.Error())
    return unit, nil
}

// NewUnit returns an empty unit with its diagnostics accumulator ready.
func NewUnit(index int, kind models.UnitKind) models.Unit {
    return models.Unit{
        Index:  index,
        Kind:   kind,
        Source: models.SourceNative,
        Nodes:  []*models.ContentNode{},
    }
}
