//go:build ocr

package ocr

import (
    "bytes"
    "context"
    "fmt"
    "image"
    "image/png"
    "strings"

    "github.com/otiai10/gosseract/v2"

    "github.com/feichai0017/document-extractor/internal/models"
    "github.com/feichai0017/document-extractor/pkg/logger"
)

// TesseractEngine runs the embedded Tesseract library through gosseract.
// It needs libtesseract at build time and the "ocr" build tag.
type TesseractEngine struct {
    cfg    TesseractConfig
    logger logger.Logger
}

func NewTesseractEngine(cfg TesseractConfig, log logger.Logger) *TesseractEngine {
    return &TesseractEngine{cfg: cfg, logger: log.Named("tesseract")}
}

func (e *TesseractEngine) Name() string { return EngineTesseract }

// Recognize blocks until the cgo call returns; it cannot be interrupted
// once started. Runner abandons the call on ctx expiry and keeps its
// admission slot until the call finishes.
func (e *TesseractEngine) Recognize(ctx context.Context, img image.Image, language string) (Recognition, error) {
    if err := ctx.Err(); err != nil {
        return Recognition{}, ContextError(ctx)
    }
    return e.recognize(img, language)
}

func (e *TesseractEngine) recognize(img image.Image, language string) (Recognition, error) {
    client := gosseract.NewClient()
    defer client.Close()

    if err := client.SetLanguage(strings.Split(language, "+")...); err != nil {
        return Recognition{}, fmt.Errorf("failed to set language: %w", err)
    }
    if e.cfg.TessdataDir != "" {
        if err := client.SetTessdataPrefix(e.cfg.TessdataDir); err != nil {
            return Recognition{}, fmt.Errorf("failed to set tessdata prefix: %w", err)
        }
    }
    if err := client.SetPageSegMode(gosseract.PageSegMode(e.cfg.PageSegMode)); err != nil {
        return Recognition{}, fmt.Errorf("failed to set page segmentation mode: %w", err)
    }

    buf := new(bytes.Buffer)
    if err := png.Encode(buf, img); err != nil {
        return Recognition{}, fmt.Errorf("failed to encode image: %w", err)
    }
    if err := client.SetImageFromBytes(buf.Bytes()); err != nil {
        return Recognition{}, fmt.Errorf("failed to set image: %w", err)
    }

    text, err := client.Text()
    if err != nil {
        if strings.Contains(err.Error(), "initialize") {
            return Recognition{}, fmt.Errorf("%w: %v", models.ErrEngineUnavailable, err)
        }
        return Recognition{}, fmt.Errorf("failed to get text: %w", err)
    }

    rec := Recognition{Text: strings.TrimSpace(text)}
    boxes, err := client.GetBoundingBoxes(gosseract.RIL_WORD)
    if err != nil {
        e.logger.Warn("Failed to get bounding boxes", logger.Error(err))
        return rec, nil
    }
    var total float64
    var words int
    for _, box := range boxes {
        if strings.TrimSpace(box.Word) == "" {
            continue
        }
        total += box.Confidence
        words++
    }
    if words > 0 {
        rec.Confidence = total / float64(words)
        rec.Scored = true
    }
    return rec, nil
}
