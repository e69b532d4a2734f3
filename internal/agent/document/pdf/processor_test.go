package pdf

import (
    "bytes"
    "context"
    "image"
    "os/exec"
    "strings"
    "sync"
    "sync/atomic"
    "testing"
    "time"

    "codeberg.org/go-pdf/fpdf"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/feichai0017/document-extractor/internal/agent/document"
    "github.com/feichai0017/document-extractor/internal/agent/ocr"
    "github.com/feichai0017/document-extractor/internal/models"
    "github.com/feichai0017/document-extractor/pkg/logger"
)

type fakeRasterizer struct {
    mu    sync.Mutex
    pages []int
    dpis  []int
    err   error
}

func (f *fakeRasterizer) Rasterize(ctx context.Context, doc []byte, page int, dpi int) (image.Image, error) {
    f.mu.Lock()
    defer f.mu.Unlock()
    f.pages = append(f.pages, page)
    f.dpis = append(f.dpis, dpi)
    if f.err != nil {
        return nil, f.err
    }
    return image.NewGray(image.Rect(0, 0, 10, 10)), nil
}

type fakeEngine struct {
    text  string
    delay time.Duration
}

func (f fakeEngine) Name() string { return "fake" }

func (f fakeEngine) Recognize(ctx context.Context, img image.Image, language string) (ocr.Recognition, error) {
    if f.delay > 0 {
        select {
        case <-time.After(f.delay):
        case <-ctx.Done():
            return ocr.Recognition{}, ocr.ContextError(ctx)
        }
    }
    return ocr.Recognition{Text: f.text, Confidence: 85, Scored: true}, nil
}

// threePages renders a dense page, an empty page and a sparse page.
func threePages(t *testing.T) []byte {
    t.Helper()
    doc := fpdf.New("P", "mm", "A4", "")
    doc.SetFont("Helvetica", "", 11)

    doc.AddPage()
    doc.MultiCell(0, 6, strings.Repeat("Lorem ipsum dolor sit amet, elit. ", 15), "", "L", false)

    doc.AddPage()

    doc.AddPage()
    doc.Text(20, 20, "Short caption!!")

    var buf bytes.Buffer
    require.NoError(t, doc.Output(&buf))
    return buf.Bytes()
}

func newEnv(enabled bool, engine ocr.Engine) *document.Env {
    log := logger.NewTestLogger()
    return &document.Env{
        Policy: ocr.Policy{
            Enabled:         enabled,
            EmbeddedEnabled: true,
            DefaultDPI:      300,
            SparseDPI:       400,
            ConfidenceFloor: 60,
        },
        OCR:            ocr.NewRunner(engine, nil, 2, log),
        Language:       "eng",
        MinNativeChars: 20,
        Logger:         log,
    }
}

func processAll(t *testing.T, c document.Container, env *document.Env) []models.Unit {
    t.Helper()
    units := make([]models.Unit, c.UnitCount())
    for i := range units {
        u, err := c.ProcessUnit(context.Background(), i, env)
        require.NoError(t, err)
        units[i] = u
    }
    return units
}

func TestDensityDrivesOCR(t *testing.T) {
    raster := &fakeRasterizer{}
    c, err := NewProcessor(raster, logger.NewTestLogger()).Open(context.Background(), threePages(t))
    require.NoError(t, err)
    require.Equal(t, 3, c.UnitCount())

    units := processAll(t, c, newEnv(true, fakeEngine{text: "recognized page"}))

    assert.Equal(t, models.SourceNative, units[0].Source)
    assert.Contains(t, units[0].Nodes[0].Text, "Lorem ipsum")
    assert.Equal(t, models.SourceOCR, units[1].Source)
    assert.Equal(t, models.SourceOCR, units[2].Source)
    assert.Equal(t, "recognized page", units[2].Nodes[0].Text)
    require.NotNil(t, units[2].Nodes[0].Confidence)

    invocations := 0
    for _, u := range units {
        invocations += u.Diagnostics.OCRInvocations
    }
    assert.Equal(t, 2, invocations)
    assert.Equal(t, []int{2, 3}, raster.pages)
    assert.Equal(t, []int{300, 400}, raster.dpis)
}

func TestOCRDisabledKeepsSparseText(t *testing.T) {
    raster := &fakeRasterizer{}
    c, err := NewProcessor(raster, logger.NewTestLogger()).Open(context.Background(), threePages(t))
    require.NoError(t, err)

    units := processAll(t, c, newEnv(false, fakeEngine{}))
    assert.Empty(t, raster.pages)

    empty := units[1]
    require.Len(t, empty.Nodes, 1)
    assert.Equal(t, models.NodeUnsupported, empty.Nodes[0].Kind)
    assert.Equal(t, ocr.ReasonDisabled, empty.Nodes[0].Diagnostic)

    sparse := units[2]
    require.Len(t, sparse.Nodes, 2)
    assert.Equal(t, models.NodeText, sparse.Nodes[0].Kind)
    assert.Contains(t, sparse.Nodes[0].Text, "Short")
    assert.Equal(t, ocr.ReasonDisabled, sparse.Nodes[1].Diagnostic)
    assert.Equal(t, 0, sparse.Diagnostics.OCRInvocations)
}

func TestEmptyOCRResultKeepsNativeText(t *testing.T) {
    c, err := NewProcessor(&fakeRasterizer{}, logger.NewTestLogger()).Open(context.Background(), threePages(t))
    require.NoError(t, err)

    u, err := c.ProcessUnit(context.Background(), 2, newEnv(true, fakeEngine{text: "  "}))
    require.NoError(t, err)
    assert.Equal(t, models.SourceNative, u.Source)
    assert.Contains(t, u.Nodes[0].Text, "Short")
    assert.Equal(t, "no text recognized, native text kept", u.Nodes[0].Diagnostic)
}

func TestRasterizerUnavailableFailsPage(t *testing.T) {
    r := NewCommandRasterizer(RasterizerConfig{Binary: "pdftoppm-missing"}, logger.NewTestLogger())
    r.lookPath = func(string) (string, error) { return "", exec.ErrNotFound }

    c, err := NewProcessor(r, logger.NewTestLogger()).Open(context.Background(), threePages(t))
    require.NoError(t, err)

    units := processAll(t, c, newEnv(true, fakeEngine{text: "x"}))
    assert.False(t, units[0].Failed())
    require.True(t, units[1].Failed())
    assert.Equal(t, models.FailureEngineUnavailable, units[1].Failure.Kind)
}

func TestPageTimeout(t *testing.T) {
    c, err := NewProcessor(&fakeRasterizer{}, logger.NewTestLogger()).Open(context.Background(), threePages(t))
    require.NoError(t, err)

    ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
    defer cancel()
    u, err := c.ProcessUnit(ctx, 1, newEnv(true, fakeEngine{delay: time.Second}))
    require.NoError(t, err)
    require.True(t, u.Failed())
    assert.Equal(t, models.FailureTimeout, u.Failure.Kind)
}

func TestPageCancelled(t *testing.T) {
    c, err := NewProcessor(&fakeRasterizer{}, logger.NewTestLogger()).Open(context.Background(), threePages(t))
    require.NoError(t, err)

    ctx, cancel := context.WithCancel(context.Background())
    cancel()
    _, err = c.ProcessUnit(ctx, 1, newEnv(true, fakeEngine{}))
    assert.ErrorIs(t, err, context.Canceled)
}

type countingRasterizer struct {
    active atomic.Int32
    peak   atomic.Int32
}

func (r *countingRasterizer) Rasterize(ctx context.Context, doc []byte, page int, dpi int) (image.Image, error) {
    n := r.active.Add(1)
    defer r.active.Add(-1)
    for {
        seen := r.peak.Load()
        if n <= seen || r.peak.CompareAndSwap(seen, n) {
            break
        }
    }
    time.Sleep(5 * time.Millisecond)
    return image.NewGray(image.Rect(0, 0, 10, 10)), nil
}

func TestRasterizationBoundedByOCRGate(t *testing.T) {
    doc := fpdf.New("P", "mm", "A4", "")
    for i := 0; i < 8; i++ {
        doc.AddPage()
    }
    var buf bytes.Buffer
    require.NoError(t, doc.Output(&buf))

    raster := &countingRasterizer{}
    c, err := NewProcessor(raster, logger.NewTestLogger()).Open(context.Background(), buf.Bytes())
    require.NoError(t, err)
    require.Equal(t, 8, c.UnitCount())

    env := newEnv(true, fakeEngine{text: "scanned"})
    env.OCR = ocr.NewRunner(fakeEngine{text: "scanned"}, nil, 1, env.Logger)

    var wg sync.WaitGroup
    for i := 0; i < c.UnitCount(); i++ {
        wg.Add(1)
        go func(i int) {
            defer wg.Done()
            u, err := c.ProcessUnit(context.Background(), i, env)
            assert.NoError(t, err)
            assert.Equal(t, models.SourceOCR, u.Source)
        }(i)
    }
    wg.Wait()
    assert.Equal(t, int32(1), raster.peak.Load())
}

func TestOpenCorrupt(t *testing.T) {
    _, err := NewProcessor(&fakeRasterizer{}, logger.NewTestLogger()).Open(context.Background(), []byte("%PDF-1.4 truncated"))
    assert.ErrorIs(t, err, models.ErrCorruptContainer)
}

func TestCommandRasterizer(t *testing.T) {
    if _, err := exec.LookPath("pdftoppm"); err != nil {
        t.Skip("pdftoppm not installed")
    }
    r := NewCommandRasterizer(DefaultRasterizerConfig(), logger.NewTestLogger())
    img, err := r.Rasterize(context.Background(), threePages(t), 1, 72)
    require.NoError(t, err)
    assert.InDelta(t, 595, img.Bounds().Dx(), 2)
}
