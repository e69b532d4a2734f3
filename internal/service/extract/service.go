// Package extract is the entry point that turns one input into an
// ExtractionResult.
package extract

import (
    "bytes"
    "context"
    "errors"
    "fmt"
    "io"
    "os"
    "path/filepath"
    "time"

    "github.com/google/uuid"
    "golang.org/x/sync/errgroup"

    "github.com/feichai0017/document-extractor/internal/agent"
    "github.com/feichai0017/document-extractor/internal/agent/aggregate"
    "github.com/feichai0017/document-extractor/internal/agent/document"
    "github.com/feichai0017/document-extractor/internal/agent/document/delimited"
    "github.com/feichai0017/document-extractor/internal/agent/document/docx"
    "github.com/feichai0017/document-extractor/internal/agent/document/epub"
    "github.com/feichai0017/document-extractor/internal/agent/document/html"
    imagedoc "github.com/feichai0017/document-extractor/internal/agent/document/image"
    "github.com/feichai0017/document-extractor/internal/agent/document/odf"
    "github.com/feichai0017/document-extractor/internal/agent/document/pdf"
    "github.com/feichai0017/document-extractor/internal/agent/document/pptx"
    "github.com/feichai0017/document-extractor/internal/agent/document/text"
    "github.com/feichai0017/document-extractor/internal/agent/document/xlsx"
    "github.com/feichai0017/document-extractor/internal/agent/ocr"
    "github.com/feichai0017/document-extractor/internal/agent/preprocess"
    "github.com/feichai0017/document-extractor/internal/models"
    "github.com/feichai0017/document-extractor/pkg/analytics"
    "github.com/feichai0017/document-extractor/pkg/logger"
)

// Input names the document to extract. Data wins over Path when both are set.
type Input struct {
    Name string
    Path string
    Data []byte
}

func (in Input) name() string {
    if in.Name != "" {
        return in.Name
    }
    if in.Path != "" {
        return filepath.Base(in.Path)
    }
    return ""
}

// Extractors returns one extractor per supported document family.
func Extractors(rasterizer pdf.Rasterizer, log logger.Logger) []document.Extractor {
    return []document.Extractor{
        pdf.NewProcessor(rasterizer, log),
        pptx.NewExtractor(log),
        docx.NewExtractor(log),
        xlsx.NewExtractor(log),
        odf.NewTextExtractor(log),
        odf.NewPresentationExtractor(log),
        odf.NewSpreadsheetExtractor(log),
        epub.NewExtractor(log),
        delimited.NewExtractor(log),
        imagedoc.NewProcessor(log),
        html.NewExtractor(log),
        text.NewExtractor(log),
    }
}

type Service struct {
    router   *agent.Router
    engine   ocr.Engine
    recorder analytics.Recorder
    logger   logger.Logger
}

// NewService wires the router and OCR engine. A nil engine makes every OCR
// attempt fail as unavailable; a nil recorder disables analytics.
func NewService(router *agent.Router, engine ocr.Engine, recorder analytics.Recorder, log logger.Logger) *Service {
    if engine == nil {
        engine = ocr.NewUnavailableEngine(ocr.EngineNone, "no OCR engine configured")
    }
    return &Service{
        router:   router,
        engine:   engine,
        recorder: recorder,
        logger:   log.Named("extract"),
    }
}

// Extract routes, opens and processes one input. The returned error is
// always fatal and wraps models.ErrUnsupportedFormat,
// models.ErrCorruptContainer or models.ErrResourceExceeded; unit-level
// problems are reported in the result's diagnostics instead. When ctx is
// cancelled the units completed so far are returned with Partial set.
func (s *Service) Extract(ctx context.Context, in Input, opts Options) (*models.ExtractionResult, error) {
    start := time.Now()
    opts = opts.withDefaults()
    id := uuid.NewString()
    name := in.name()
    log := s.logger.With(logger.String("extractionId", id), logger.String("name", name))

    ev := analytics.Event{Timestamp: start, InputIdentifier: id}
    result, size, err := s.extract(ctx, in, name, opts, log)
    ev.SizeBucket = analytics.SizeBucket(size)
    ev.Duration = time.Since(start)
    if err != nil {
        log.Warn("Extraction failed", logger.Error(err), logger.Duration("duration", ev.Duration))
        ev.Error = err.Error()
        analytics.Dispatch(ctx, s.recorder, ev, s.logger)
        return nil, err
    }

    ev.Success = true
    ev.DocumentKind = result.DocumentKind
    ev.UnitCount = len(result.Units)
    ev.Diagnostics = result.Diagnostics
    ev.OCRUsed = result.Diagnostics.OCRInvocations > 0
    analytics.Dispatch(ctx, s.recorder, ev, s.logger)

    log.Info("Extraction completed",
        logger.String("kind", string(result.DocumentKind)),
        logger.Int("units", len(result.Units)),
        logger.Int("unitFailures", len(result.Diagnostics.UnitFailures)),
        logger.Int("ocrInvocations", result.Diagnostics.OCRInvocations),
        logger.Bool("partial", result.Partial),
        logger.Duration("duration", ev.Duration),
    )
    return result, nil
}

func (s *Service) extract(ctx context.Context, in Input, name string, opts Options, log logger.Logger) (*models.ExtractionResult, int64, error) {
    extractor, kind, data, err := s.load(in, name, opts.MaxInputBytes)
    if err != nil {
        return nil, int64(len(data)), err
    }
    size := int64(len(data))

    container, err := extractor.Open(ctx, data)
    if err != nil {
        if !models.IsFatal(err) {
            err = fmt.Errorf("%w: %v", models.ErrCorruptContainer, err)
        }
        return nil, size, fmt.Errorf("failed to open %s: %w", kind, err)
    }
    defer container.Close()

    count := container.UnitCount()
    if count > opts.MaxUnits {
        return nil, size, fmt.Errorf("%w: %d units exceeds limit of %d", models.ErrResourceExceeded, count, opts.MaxUnits)
    }
    log.Debug("Opened document",
        logger.String("kind", string(kind)),
        logger.Int("units", count),
        logger.Int64("size", size),
    )

    env := &document.Env{
        Policy:         opts.Policy(),
        OCR:            ocr.NewRunner(s.engine, preprocess.NewPipeline(opts.Preprocess), opts.MaxConcurrentOCR, log),
        Language:       opts.Language,
        MaxGroupDepth:  opts.MaxGroupDepth,
        MinNativeChars: opts.MinNativeChars,
        Logger:         log,
    }
    units, complete := s.processUnits(ctx, container, env, opts)
    return aggregate.Aggregate(kind, units, !complete), size, nil
}

// load reads the input and selects its extractor. For path inputs only the
// header is read before routing.
func (s *Service) load(in Input, name string, limit int64) (document.Extractor, models.DocumentKind, []byte, error) {
    if in.Data != nil || in.Path == "" {
        if int64(len(in.Data)) > limit {
            return nil, "", nil, fmt.Errorf("%w: input is %d bytes, limit %d", models.ErrResourceExceeded, len(in.Data), limit)
        }
        header := in.Data
        if len(header) > agent.HeaderSize {
            header = header[:agent.HeaderSize]
        }
        extractor, kind, err := s.router.Route(name, header, bytes.NewReader(in.Data), int64(len(in.Data)))
        if err != nil {
            return nil, "", nil, err
        }
        return extractor, kind, in.Data, nil
    }

    f, err := os.Open(in.Path)
    if err != nil {
        return nil, "", nil, fmt.Errorf("%w: failed to open input: %v", models.ErrCorruptContainer, err)
    }
    defer f.Close()

    info, err := f.Stat()
    if err != nil {
        return nil, "", nil, fmt.Errorf("%w: failed to stat input: %v", models.ErrCorruptContainer, err)
    }
    if info.Size() > limit {
        return nil, "", nil, fmt.Errorf("%w: input is %d bytes, limit %d", models.ErrResourceExceeded, info.Size(), limit)
    }

    header := make([]byte, agent.HeaderSize)
    n, err := io.ReadFull(f, header)
    if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
        return nil, "", nil, fmt.Errorf("%w: failed to read input: %v", models.ErrCorruptContainer, err)
    }
    extractor, kind, err := s.router.Route(name, header[:n], f, info.Size())
    if err != nil {
        return nil, "", nil, err
    }

    if _, err := f.Seek(0, io.SeekStart); err != nil {
        return nil, "", nil, fmt.Errorf("%w: failed to rewind input: %v", models.ErrCorruptContainer, err)
    }
    data, err := io.ReadAll(io.LimitReader(f, limit+1))
    if err != nil {
        return nil, "", nil, fmt.Errorf("%w: failed to read input: %v", models.ErrCorruptContainer, err)
    }
    if int64(len(data)) > limit {
        return nil, "", nil, fmt.Errorf("%w: input exceeds %d bytes", models.ErrResourceExceeded, limit)
    }
    return extractor, kind, data, nil
}

// processUnits runs every unit on a bounded worker pool. Units dropped by
// cancellation are left out; complete reports whether none were.
func (s *Service) processUnits(ctx context.Context, c document.Container, env *document.Env, opts Options) ([]models.Unit, bool) {
    count := c.UnitCount()
    results := make([]models.Unit, count)
    done := make([]bool, count)

    var g errgroup.Group
    g.SetLimit(opts.MaxWorkers)
    for i := 0; i < count; i++ {
        if ctx.Err() != nil {
            break
        }
        i := i
        g.Go(func() error {
            if ctx.Err() != nil {
                return nil
            }
            unit, err := s.processUnit(ctx, c, i, env, opts.UnitTimeout)
            if err != nil {
                env.Log().Debug("Unit dropped",
                    logger.Int("unit", i),
                    logger.Error(err),
                )
                return nil
            }
            if unit.Failed() {
                env.Log().Warn("Unit failed",
                    logger.Int("unit", i),
                    logger.String("kind", string(unit.Failure.Kind)),
                    logger.String("message", unit.Failure.Message),
                )
            }
            results[i] = unit
            done[i] = true
            return nil
        })
    }
    _ = g.Wait()

    units := make([]models.Unit, 0, count)
    for i, ok := range done {
        if ok {
            units = append(units, results[i])
        }
    }
    return units, len(units) == count
}

// processUnit runs one unit under its own timeout. Panics fail the unit
// instead of the extraction.
func (s *Service) processUnit(ctx context.Context, c document.Container, index int, env *document.Env, timeout time.Duration) (unit models.Unit, err error) {
    unitCtx, cancel := context.WithTimeout(ctx, timeout)
    defer cancel()

    defer func() {
        if r := recover(); r != nil {
            unit = document.NewUnit(index, c.UnitKind(index))
            unit.Fail(models.FailureUnitParse, fmt.Sprintf("panic while processing unit: %v", r))
            err = nil
        }
    }()

    unit, err = c.ProcessUnit(unitCtx, index, env)
    if err == nil {
        return unit, nil
    }
    if ctx.Err() != nil {
        return unit, err
    }
    // The unit's own deadline expired without the parent being cancelled.
    return document.Settle(unit, fmt.Errorf("%w: %v", models.ErrTimeout, err))
}
