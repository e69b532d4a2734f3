package pdf

import (
    "bytes"
    "context"
    "fmt"
    "image"
    "os"
    "os/exec"
    "path/filepath"
    "strconv"
    "strings"

    "github.com/feichai0017/document-extractor/internal/agent/document"
    "github.com/feichai0017/document-extractor/internal/agent/ocr"
    "github.com/feichai0017/document-extractor/internal/models"
    "github.com/feichai0017/document-extractor/pkg/logger"
)

// Rasterizer renders one page of a PDF to an image.
type Rasterizer interface {
    Rasterize(ctx context.Context, doc []byte, page int, dpi int) (image.Image, error)
}

type RasterizerConfig struct {
    // Binary is the pdftoppm executable.
    Binary string `yaml:"binary" json:"binary"`
}

func DefaultRasterizerConfig() RasterizerConfig {
    return RasterizerConfig{Binary: "pdftoppm"}
}

// CommandRasterizer renders pages with poppler's pdftoppm. Each call works in
// its own temporary directory, removed before returning.
type CommandRasterizer struct {
    binary   string
    logger   logger.Logger
    lookPath func(string) (string, error)
}

func NewCommandRasterizer(cfg RasterizerConfig, log logger.Logger) *CommandRasterizer {
    binary := cfg.Binary
    if binary == "" {
        binary = "pdftoppm"
    }
    return &CommandRasterizer{
        binary:   binary,
        logger:   log.Named("pdftoppm"),
        lookPath: exec.LookPath,
    }
}

func (r *CommandRasterizer) Rasterize(ctx context.Context, doc []byte, page int, dpi int) (image.Image, error) {
    path, err := r.lookPath(r.binary)
    if err != nil {
        return nil, fmt.Errorf("%w: rasterizer %s not found: %v", models.ErrEngineUnavailable, r.binary, err)
    }

    dir, err := os.MkdirTemp("", "extract-page-*")
    if err != nil {
        return nil, fmt.Errorf("failed to create temp dir: %w", err)
    }
    defer os.RemoveAll(dir)

    in := filepath.Join(dir, "in.pdf")
    if err := os.WriteFile(in, doc, 0o600); err != nil {
        return nil, fmt.Errorf("failed to write temp pdf: %w", err)
    }
    out := filepath.Join(dir, "page")

    n := strconv.Itoa(page)
    cmd := exec.CommandContext(ctx, path,
        "-f", n, "-l", n,
        "-r", strconv.Itoa(dpi),
        "-png", "-singlefile",
        in, out,
    )
    var stderr bytes.Buffer
    cmd.Stderr = &stderr
    if err := cmd.Run(); err != nil {
        if ctx.Err() != nil {
            return nil, ocr.ContextError(ctx)
        }
        return nil, fmt.Errorf("pdftoppm failed on page %d: %w: %s", page, err, strings.TrimSpace(stderr.String()))
    }

    data, err := os.ReadFile(out + ".png")
    if err != nil {
        return nil, fmt.Errorf("failed to read rendered page %d: %w", page, err)
    }
    img, _, err := document.DecodeImage(data)
    if err != nil {
        return nil, err
    }

    r.logger.Debug("Rendered page",
        logger.Int("page", page),
        logger.Int("dpi", dpi),
        logger.Int("width", img.Bounds().Dx()),
        logger.Int("height", img.Bounds().Dy()),
    )
    return img, nil
}
