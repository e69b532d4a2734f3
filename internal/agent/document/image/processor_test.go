package image

import (
    "bytes"
    "context"
    stdimage "image"
    "image/color"
    "image/jpeg"
    "image/png"
    "testing"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
    "golang.org/x/image/bmp"
    "golang.org/x/image/tiff"

    "github.com/feichai0017/document-extractor/internal/agent/document"
    "github.com/feichai0017/document-extractor/internal/agent/ocr"
    "github.com/feichai0017/document-extractor/internal/models"
    "github.com/feichai0017/document-extractor/pkg/logger"
)

type echoEngine struct{}

func (echoEngine) Name() string { return "echo" }

func (echoEngine) Recognize(ctx context.Context, img stdimage.Image, language string) (ocr.Recognition, error) {
    return ocr.Recognition{Text: "INVOICE " + language, Confidence: 93, Scored: true}, nil
}

func sample() stdimage.Image {
    img := stdimage.NewRGBA(stdimage.Rect(0, 0, 64, 32))
    for y := 0; y < 32; y++ {
        for x := 0; x < 64; x++ {
            img.Set(x, y, color.RGBA{R: 250, G: 250, B: 250, A: 255})
        }
    }
    return img
}

func env(enabled bool, engine ocr.Engine) *document.Env {
    log := logger.NewTestLogger()
    return &document.Env{
        Policy:   ocr.Policy{Enabled: enabled, DefaultDPI: 300, ConfidenceFloor: 60},
        OCR:      ocr.NewRunner(engine, nil, 1, log),
        Language: "deu",
        Logger:   log,
    }
}

func TestDecodesFormats(t *testing.T) {
    encoders := map[string]func(*bytes.Buffer) error{
        "png":  func(b *bytes.Buffer) error { return png.Encode(b, sample()) },
        "jpeg": func(b *bytes.Buffer) error { return jpeg.Encode(b, sample(), nil) },
        "tiff": func(b *bytes.Buffer) error { return tiff.Encode(b, sample(), nil) },
        "bmp":  func(b *bytes.Buffer) error { return bmp.Encode(b, sample()) },
    }
    for name, encode := range encoders {
        t.Run(name, func(t *testing.T) {
            var buf bytes.Buffer
            require.NoError(t, encode(&buf))

            c, err := NewProcessor(logger.NewTestLogger()).Open(context.Background(), buf.Bytes())
            require.NoError(t, err)
            require.Equal(t, 1, c.UnitCount())

            u, err := c.ProcessUnit(context.Background(), 0, env(true, echoEngine{}))
            require.NoError(t, err)
            assert.Equal(t, models.UnitImage, u.Kind)
            assert.Equal(t, models.SourceOCR, u.Source)
            require.Len(t, u.Nodes, 1)
            assert.Equal(t, models.NodeImagePlaceholder, u.Nodes[0].Kind)
            assert.True(t, u.Nodes[0].OCRAttempted)
            assert.Equal(t, "INVOICE deu", u.Nodes[0].Text)
            assert.Equal(t, 1, u.Diagnostics.OCRInvocations)
        })
    }
}

func TestOCRDisabled(t *testing.T) {
    var buf bytes.Buffer
    require.NoError(t, png.Encode(&buf, sample()))
    c, err := NewProcessor(logger.NewTestLogger()).Open(context.Background(), buf.Bytes())
    require.NoError(t, err)

    u, err := c.ProcessUnit(context.Background(), 0, env(false, echoEngine{}))
    require.NoError(t, err)
    assert.Equal(t, models.SourceNative, u.Source)
    assert.False(t, u.Nodes[0].OCRAttempted)
    assert.Equal(t, "image detected, OCR disabled (64x32)", u.Nodes[0].Diagnostic)
    assert.Equal(t, 0, u.Diagnostics.OCRInvocations)
}

func TestEngineUnavailableFailsUnit(t *testing.T) {
    var buf bytes.Buffer
    require.NoError(t, png.Encode(&buf, sample()))
    c, err := NewProcessor(logger.NewTestLogger()).Open(context.Background(), buf.Bytes())
    require.NoError(t, err)

    u, err := c.ProcessUnit(context.Background(), 0, env(true, ocr.NewUnavailableEngine("none", "off")))
    require.NoError(t, err)
    require.True(t, u.Failed())
    assert.Equal(t, models.FailureEngineUnavailable, u.Failure.Kind)
}

func TestCorruptImage(t *testing.T) {
    _, err := NewProcessor(logger.NewTestLogger()).Open(context.Background(), []byte("\x89PNG\r\n\x1a\nbroken"))
    assert.ErrorIs(t, err, models.ErrCorruptContainer)
}
