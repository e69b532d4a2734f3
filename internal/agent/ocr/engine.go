// Package ocr adapts recognition backends behind one capability interface and
// decides, per unit, whether recognition should run at all.
package ocr

import (
    "context"
    "errors"
    "fmt"
    "image"
    "strings"

    "github.com/feichai0017/document-extractor/internal/models"
    "github.com/feichai0017/document-extractor/pkg/logger"
)

// Recognition is the output of one engine call. Confidence is on a 0-100
// scale and only meaningful when Scored is set.
type Recognition struct {
    Text       string
    Confidence float64
    Scored     bool
}

// Engine recognizes text in a raster image. Implementations return errors
// wrapping models.ErrEngineUnavailable when the backend is missing or
// unconfigured, and models.ErrTimeout when ctx expires.
type Engine interface {
    Name() string
    Recognize(ctx context.Context, img image.Image, language string) (Recognition, error)
}

const (
    EngineTesseract    = "tesseract"
    EngineTesseractCLI = "tesseract-cli"
    EngineTextract     = "textract"
    EngineOllama       = "ollama"
    EngineNone         = "none"
)

// Config selects and configures the backends. Engines are tried in order.
type Config struct {
    Engines   []string        `yaml:"engines" json:"engines"`
    Tesseract TesseractConfig `yaml:"tesseract" json:"tesseract"`
    Textract  TextractConfig  `yaml:"textract" json:"textract"`
    Ollama    OllamaConfig    `yaml:"ollama" json:"ollama"`
}

type TesseractConfig struct {
    // Binary is the executable used by the tesseract-cli backend.
    Binary      string `yaml:"binary" json:"binary"`
    PageSegMode int    `yaml:"page_seg_mode" json:"pageSegMode"`
    TessdataDir string `yaml:"tessdata_dir" json:"tessdataDir"`
}

func DefaultConfig() Config {
    return Config{
        Engines: []string{EngineTesseract, EngineTesseractCLI},
        Tesseract: TesseractConfig{
            Binary:      "tesseract",
            PageSegMode: 3,
        },
        Ollama: DefaultOllamaConfig(),
    }
}

// NewEngine builds the configured backend, or a Chain when several are named.
func NewEngine(ctx context.Context, cfg Config, log logger.Logger) (Engine, error) {
    if len(cfg.Engines) == 0 {
        return NewUnavailableEngine(EngineNone, "no OCR engine configured"), nil
    }
    engines := make([]Engine, 0, len(cfg.Engines))
    for _, name := range cfg.Engines {
        e, err := newEngine(ctx, strings.ToLower(strings.TrimSpace(name)), cfg, log)
        if err != nil {
            return nil, err
        }
        engines = append(engines, e)
    }
    if len(engines) == 1 {
        return engines[0], nil
    }
    return NewChain(log, engines...), nil
}

func newEngine(ctx context.Context, name string, cfg Config, log logger.Logger) (Engine, error) {
    switch name {
    case EngineTesseract:
        return NewTesseractEngine(cfg.Tesseract, log), nil
    case EngineTesseractCLI:
        return NewCommandEngine(cfg.Tesseract, log), nil
    case EngineTextract:
        e, err := NewTextractEngine(ctx, cfg.Textract, log)
        if err != nil {
            log.Warn("Textract engine unavailable", logger.Error(err))
            return NewUnavailableEngine(EngineTextract, err.Error()), nil
        }
        return e, nil
    case EngineOllama:
        return NewOllamaEngine(cfg.Ollama, log), nil
    case EngineNone:
        return NewUnavailableEngine(EngineNone, "OCR engine disabled by configuration"), nil
    default:
        return nil, fmt.Errorf("unknown OCR engine %q", name)
    }
}

// UnavailableEngine always reports models.ErrEngineUnavailable.
type UnavailableEngine struct {
    name   string
    reason string
}

func NewUnavailableEngine(name, reason string) *UnavailableEngine {
    return &UnavailableEngine{name: name, reason: reason}
}

func (e *UnavailableEngine) Name() string { return e.name }

func (e *UnavailableEngine) Recognize(ctx context.Context, img image.Image, language string) (Recognition, error) {
    return Recognition{}, fmt.Errorf("%w: %s", models.ErrEngineUnavailable, e.reason)
}

// Chain tries each engine in turn, moving on only when one is unavailable.
type Chain struct {
    engines []Engine
    logger  logger.Logger
}

func NewChain(log logger.Logger, engines ...Engine) *Chain {
    return &Chain{engines: engines, logger: log}
}

func (c *Chain) Name() string {
    names := make([]string, len(c.engines))
    for i, e := range c.engines {
        names[i] = e.Name()
    }
    return strings.Join(names, ",")
}

func (c *Chain) Recognize(ctx context.Context, img image.Image, language string) (Recognition, error) {
    var errs []error
    for _, e := range c.engines {
        rec, err := e.Recognize(ctx, img, language)
        if err == nil {
            return rec, nil
        }
        if !errors.Is(err, models.ErrEngineUnavailable) {
            return Recognition{}, err
        }
        c.logger.Debug("OCR engine unavailable, trying next",
            logger.String("engine", e.Name()),
            logger.Error(err),
        )
        errs = append(errs, err)
    }
    if len(errs) == 0 {
        return Recognition{}, fmt.Errorf("%w: empty engine chain", models.ErrEngineUnavailable)
    }
    return Recognition{}, errors.Join(errs...)
}

// ContextError converts an expired context into the unit-local timeout
// error and passes cancellation through unchanged.
func ContextError(ctx context.Context) error {
    err := ctx.Err()
    if errors.Is(err, context.DeadlineExceeded) {
        return fmt.Errorf("%w: %v", models.ErrTimeout, err)
    }
    return err
}
