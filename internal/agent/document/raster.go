package document

import (
    "bytes"
    "context"
    "errors"
    "fmt"
    "image"
    _ "image/gif"
    _ "image/jpeg"
    _ "image/png"
    "strings"

    _ "golang.org/x/image/bmp"
    _ "golang.org/x/image/tiff"
    _ "golang.org/x/image/webp"

    "github.com/feichai0017/document-extractor/internal/agent/ocr"
    "github.com/feichai0017/document-extractor/internal/models"
    "github.com/feichai0017/document-extractor/pkg/logger"
)

// MaxImagePixels bounds the decoded size of any single raster.
const MaxImagePixels = 1 << 26

// DecodeImage decodes PNG, JPEG, GIF, TIFF, BMP or WEBP data after checking
// its dimensions against MaxImagePixels.
func DecodeImage(data []byte) (image.Image, string, error) {
    cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
    if err != nil {
        return nil, "", fmt.Errorf("failed to decode image header: %w", err)
    }
    if int64(cfg.Width)*int64(cfg.Height) > MaxImagePixels {
        return nil, format, fmt.Errorf("%w: image is %dx%d pixels", models.ErrResourceExceeded, cfg.Width, cfg.Height)
    }
    img, format, err := image.Decode(bytes.NewReader(data))
    if err != nil {
        return nil, format, fmt.Errorf("failed to decode %s image: %w", format, err)
    }
    return img, format, nil
}

// RecognizeImage applies the fallback policy for signal to img and returns
// the resulting image placeholder. A skipped attempt yields a placeholder
// explaining why. OCR errors are returned unchanged for the caller to
// classify.
func RecognizeImage(ctx context.Context, env *Env, diags *models.Diagnostics, img image.Image, signal ocr.Signal, prov models.Provenance) (*models.ContentNode, error) {
    b := img.Bounds()
    node := &models.ContentNode{
        Kind:       models.NodeImagePlaceholder,
        Provenance: prov,
    }

    decision := env.Policy.Decide(signal)
    if !decision.Attempt {
        node.Diagnostic = fmt.Sprintf("image detected, %s (%dx%d)", decision.Reason, b.Dx(), b.Dy())
        return node, nil
    }
    if env.OCR == nil {
        return nil, fmt.Errorf("%w: no OCR runner configured", models.ErrEngineUnavailable)
    }

    node.OCRAttempted = true
    rec, err := env.OCR.Recognize(ctx, img, env.Language, diags)
    if err != nil {
        return nil, err
    }
    ApplyRecognition(node, rec, decision)
    return node, nil
}

// ApplyRecognition copies an OCR result onto node and flags it when it is
// empty or below the decision's confidence floor.
func ApplyRecognition(node *models.ContentNode, rec ocr.Recognition, decision ocr.Decision) {
    node.Text = strings.TrimSpace(rec.Text)
    node.Provenance.Source = models.SourceOCR
    if rec.Scored {
        c := rec.Confidence
        node.Confidence = &c
    }
    switch {
    case node.Text == "":
        node.Diagnostic = "no text recognized"
    default:
        node.Diagnostic = decision.LowConfidence(rec)
    }
}

// EmbeddedRaster turns a raster found inside a slide or document shape into
// an image placeholder. Failures stay on the placeholder and are recorded
// on unit, except timeouts and cancellation, which abort the unit.
func EmbeddedRaster(ctx context.Context, env *Env, unit *models.Unit, name string, load func() ([]byte, error), prov models.Provenance) (*models.ContentNode, error) {
    unit.Diagnostics.ImagesDetected++
    failed := func(kind models.FailureKind, msg string) *models.ContentNode {
        unit.RecordFailure(kind, msg)
        return &models.ContentNode{
            Kind:       models.NodeImagePlaceholder,
            Provenance: prov,
            Diagnostic: msg,
        }
    }

    if load == nil {
        return failed(models.FailureUnitParse, fmt.Sprintf("image %q has no data", name)), nil
    }
    data, err := load()
    if err != nil {
        return failed(models.FailureUnitParse, fmt.Sprintf("image %q could not be read: %v", name, err)), nil
    }
    img, format, err := DecodeImage(data)
    if err != nil {
        // Vector formats such as EMF and WMF land here; they are common and
        // not a unit failure.
        env.Log().Debug("Embedded image not decodable",
            logger.String("image", name),
            logger.Error(err),
        )
        return &models.ContentNode{
            Kind:       models.NodeImagePlaceholder,
            Provenance: prov,
            Diagnostic: fmt.Sprintf("image detected, unsupported image format %s", strings.TrimSpace(format+" "+name)),
        }, nil
    }

    node, err := RecognizeImage(ctx, env, &unit.Diagnostics, img, ocr.SignalEmbedded, prov)
    if err == nil {
        return node, nil
    }
    if errors.Is(err, context.Canceled) || errors.Is(err, models.ErrTimeout) {
        return nil, err
    }
    b := img.Bounds()
    n := failed(models.FailureKindOf(err), fmt.Sprintf("OCR failed for image %q (%dx%d): %v", name, b.Dx(), b.Dy(), err))
    n.OCRAttempted = true
    return n, nil
}
