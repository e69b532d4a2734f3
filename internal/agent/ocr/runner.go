package ocr

import (
    "context"
    "fmt"
    "image"
    "time"

    "golang.org/x/sync/semaphore"

    "github.com/feichai0017/document-extractor/internal/models"
    "github.com/feichai0017/document-extractor/pkg/logger"
)

// Preprocessor normalizes an image before recognition.
type Preprocessor interface {
    Process(img image.Image) (image.Image, error)
}

// Runner performs OCR attempts behind an admission gate that caps how many
// recognitions run at once, independent of the unit worker count.
type Runner struct {
    engine Engine
    pre    Preprocessor
    gate   *semaphore.Weighted
    logger logger.Logger
}

func NewRunner(engine Engine, pre Preprocessor, maxConcurrent int, log logger.Logger) *Runner {
    if maxConcurrent <= 0 {
        maxConcurrent = 1
    }
    return &Runner{
        engine: engine,
        pre:    pre,
        gate:   semaphore.NewWeighted(int64(maxConcurrent)),
        logger: log.Named("ocr"),
    }
}

func (r *Runner) Engine() Engine { return r.engine }

// RenderFunc produces the image to recognize once an attempt is admitted.
type RenderFunc func(ctx context.Context) (image.Image, error)

// Recognize runs one attempt on img. ctx is checked before admission, and
// diags.OCRInvocations counts calls that reached the engine. Errors wrap
// models.ErrTimeout, models.ErrEngineUnavailable, or context.Canceled.
func (r *Runner) Recognize(ctx context.Context, img image.Image, language string, diags *models.Diagnostics) (Recognition, error) {
    return r.RecognizeRendered(ctx, func(context.Context) (image.Image, error) { return img, nil }, language, diags)
}

// RecognizeRendered is Recognize for images that are expensive to produce,
// such as rasterized pages. render runs inside the admission gate, so at
// most maxConcurrent images are being rendered or recognized at once.
//
// The slot is held until the engine call returns. When ctx ends first the
// attempt is abandoned and its slot is freed by the call finishing in the
// background.
func (r *Runner) RecognizeRendered(ctx context.Context, render RenderFunc, language string, diags *models.Diagnostics) (Recognition, error) {
    if ctx.Err() != nil {
        return Recognition{}, ContextError(ctx)
    }
    if err := r.gate.Acquire(ctx, 1); err != nil {
        return Recognition{}, ContextError(ctx)
    }
    held := true
    defer func() {
        if held {
            r.gate.Release(1)
        }
    }()

    img, err := render(ctx)
    if err != nil {
        if ctx.Err() != nil {
            return Recognition{}, ContextError(ctx)
        }
        return Recognition{}, err
    }
    if r.pre != nil {
        processed, err := r.pre.Process(img)
        if err != nil {
            return Recognition{}, fmt.Errorf("failed to preprocess image: %w", err)
        }
        img = processed
    }
    if ctx.Err() != nil {
        return Recognition{}, ContextError(ctx)
    }

    type attempt struct {
        rec Recognition
        err error
    }
    done := make(chan attempt, 1)
    diags.OCRInvocations++
    start := time.Now()
    held = false
    go func() {
        defer r.gate.Release(1)
        rec, err := r.engine.Recognize(ctx, img, language)
        done <- attempt{rec, err}
    }()

    var a attempt
    select {
    case a = <-done:
    case <-ctx.Done():
        a.err = ContextError(ctx)
        r.logger.Debug("OCR attempt abandoned",
            logger.String("engine", r.engine.Name()),
            logger.Duration("elapsed", time.Since(start)),
        )
    }
    if a.err != nil {
        if ctx.Err() != nil {
            a.err = ContextError(ctx)
        }
        r.logger.Warn("OCR attempt failed",
            logger.String("engine", r.engine.Name()),
            logger.Duration("elapsed", time.Since(start)),
            logger.Error(a.err),
        )
        return Recognition{}, a.err
    }

    r.logger.Debug("OCR attempt finished",
        logger.String("engine", r.engine.Name()),
        logger.Int("chars", len(a.rec.Text)),
        logger.Float64("confidence", a.rec.Confidence),
        logger.Duration("elapsed", time.Since(start)),
    )
    return a.rec, nil
}
