//go:build !ocr

package ocr

import (
    "context"
    "fmt"
    "image"

    "github.com/feichai0017/document-extractor/internal/models"
    "github.com/feichai0017/document-extractor/pkg/logger"
)

// TesseractEngine is the stand-in used when the embedded recognizer is not
// compiled in. Rebuild with -tags ocr, or configure the tesseract-cli engine.
type TesseractEngine struct{}

func NewTesseractEngine(cfg TesseractConfig, log logger.Logger) *TesseractEngine {
    return &TesseractEngine{}
}

func (e *TesseractEngine) Name() string { return EngineTesseract }

func (e *TesseractEngine) Recognize(ctx context.Context, img image.Image, language string) (Recognition, error) {
    return Recognition{}, fmt.Errorf("%w: embedded tesseract not compiled in; rebuild with -tags ocr", models.ErrEngineUnavailable)
}
