// Package pdf extracts pages from PDF documents, falling back to OCR for
// pages whose native text layer is empty or sparse.
package pdf

import (
    "bytes"
    "context"
    "fmt"
    "image"
    "strings"
    "sync"
    "unicode"

    "github.com/ledongthuc/pdf"

    "github.com/feichai0017/document-extractor/internal/agent/document"
    "github.com/feichai0017/document-extractor/internal/agent/ocr"
    "github.com/feichai0017/document-extractor/internal/models"
    "github.com/feichai0017/document-extractor/pkg/logger"
)

type Processor struct {
    rasterizer Rasterizer
    logger     logger.Logger
}

func NewProcessor(rasterizer Rasterizer, log logger.Logger) *Processor {
    return &Processor{
        rasterizer: rasterizer,
        logger:     log.Named("pdf"),
    }
}

func (p *Processor) Kind() models.DocumentKind { return models.KindPDF }

func (p *Processor) Open(ctx context.Context, data []byte) (c document.Container, err error) {
    defer func() {
        if r := recover(); r != nil {
            c, err = nil, fmt.Errorf("%w: pdf reader panic: %v", models.ErrCorruptContainer, r)
        }
    }()

    reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
    if err != nil {
        return nil, fmt.Errorf("%w: %v", models.ErrCorruptContainer, err)
    }
    pages := reader.NumPage()

    p.logger.Debug("Opened PDF", logger.Int("pages", pages))
    return &container{
        reader:     reader,
        data:       data,
        pages:      pages,
        rasterizer: p.rasterizer,
        logger:     p.logger,
    }, nil
}

type container struct {
    // mu serializes access to the reader, which is not safe for concurrent use.
    mu         sync.Mutex
    reader     *pdf.Reader
    data       []byte
    pages      int
    rasterizer Rasterizer
    logger     logger.Logger
}

func (c *container) UnitCount() int { return c.pages }

func (c *container) UnitKind(int) models.UnitKind { return models.UnitPage }

func (c *container) Close() error { return nil }

func (c *container) ProcessUnit(ctx context.Context, index int, env *document.Env) (models.Unit, error) {
    unit := document.NewUnit(index, models.UnitPage)
    prov := models.Provenance{UnitIndex: index, UnitKind: models.UnitPage, Source: models.SourceNative}
    page := index + 1

    text, parseErr := c.nativeText(page)
    text = strings.TrimSpace(text)
    chars := countChars(text)

    var signal ocr.Signal
    switch {
    case parseErr != nil:
        c.logger.Warn("Page text layer unreadable, treating as empty",
            logger.Int("page", page),
            logger.Error(parseErr),
        )
        unit.Diagnostic = fmt.Sprintf("native text unavailable: %v", parseErr)
        signal = ocr.SignalEmpty
    case chars == 0:
        signal = ocr.SignalEmpty
    case chars < env.MinChars():
        signal = ocr.SignalSparse
    default:
        unit.Nodes = append(unit.Nodes, &models.ContentNode{Kind: models.NodeText, Text: text, Provenance: prov})
        return unit, nil
    }

    decision := env.Policy.Decide(signal)
    env.Log().Debug("Page needs OCR",
        logger.Int("page", page),
        logger.String("signal", signal.String()),
        logger.Int("chars", chars),
        logger.Bool("attempt", decision.Attempt),
        logger.Int("dpi", decision.DPI),
    )

    if !decision.Attempt {
        if chars > 0 {
            unit.Nodes = append(unit.Nodes, &models.ContentNode{Kind: models.NodeText, Text: text, Provenance: prov})
        }
        unit.Nodes = append(unit.Nodes, &models.ContentNode{
            Kind:       models.NodeUnsupported,
            Provenance: prov,
            Diagnostic: decision.Reason,
        })
        return unit, nil
    }

    if env.OCR == nil {
        return document.Settle(unit, fmt.Errorf("%w: no OCR runner configured", models.ErrEngineUnavailable))
    }
    render := func(ctx context.Context) (image.Image, error) {
        img, err := c.rasterizer.Rasterize(ctx, c.data, page, decision.DPI)
        if err != nil {
            return nil, fmt.Errorf("failed to rasterize: %w", err)
        }
        return img, nil
    }
    rec, err := env.OCR.RecognizeRendered(ctx, render, env.Language, &unit.Diagnostics)
    if err != nil {
        return document.Settle(unit, fmt.Errorf("page %d: %w", page, err))
    }

    node := &models.ContentNode{Kind: models.NodeText, Provenance: prov}
    document.ApplyRecognition(node, rec, decision)
    if node.Text == "" && chars > 0 {
        node.Text = text
        node.Confidence = nil
        node.Provenance.Source = models.SourceNative
        node.Diagnostic = "no text recognized, native text kept"
    }
    unit.Source = node.Provenance.Source
    unit.Nodes = append(unit.Nodes, node)
    return unit, nil
}

// nativeText reads a page's text layer. Panics inside the reader become
// parse errors for that page only.
func (c *container) nativeText(page int) (text string, err error) {
    c.mu.Lock()
    defer c.mu.Unlock()
    defer func() {
        if r := recover(); r != nil {
            text, err = "", fmt.Errorf("%w: page %d: %v", models.ErrUnitParse, page, r)
        }
    }()

    p := c.reader.Page(page)
    if p.V.IsNull() {
        return "", fmt.Errorf("%w: page %d has no page object", models.ErrUnitParse, page)
    }
    return p.GetPlainText(nil)
}

func countChars(s string) int {
    n := 0
    for _, r := range s {
        if !unicode.IsSpace(r) {
            n++
        }
    }
    return n
}
