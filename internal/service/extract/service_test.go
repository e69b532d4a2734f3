package extract

import (
    "bytes"
    "context"
    "fmt"
    "image"
    "math/rand"
    "os"
    "path/filepath"
    "strings"
    "sync/atomic"
    "testing"
    "time"

    "codeberg.org/go-pdf/fpdf"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/feichai0017/document-extractor/internal/agent"
    "github.com/feichai0017/document-extractor/internal/agent/document"
    "github.com/feichai0017/document-extractor/internal/agent/ocr"
    "github.com/feichai0017/document-extractor/internal/agent/preprocess"
    "github.com/feichai0017/document-extractor/internal/models"
    "github.com/feichai0017/document-extractor/pkg/analytics"
    "github.com/feichai0017/document-extractor/pkg/logger"
)

type fakeRasterizer struct{}

func (fakeRasterizer) Rasterize(ctx context.Context, doc []byte, page int, dpi int) (image.Image, error) {
    return image.NewGray(image.Rect(0, 0, 16, 16)), nil
}

type countingEngine struct {
    calls atomic.Int32
}

func (e *countingEngine) Name() string { return "counting" }

func (e *countingEngine) Recognize(ctx context.Context, img image.Image, language string) (ocr.Recognition, error) {
    e.calls.Add(1)
    return ocr.Recognition{Text: "scanned text", Confidence: 90, Scored: true}, nil
}

// stubExtractor serves a scripted container under the text kind.
type stubExtractor struct {
    units   int
    kind    models.UnitKind
    process func(ctx context.Context, index int) (models.Unit, error)
}

func (s *stubExtractor) Kind() models.DocumentKind { return models.KindText }

func (s *stubExtractor) Open(ctx context.Context, data []byte) (document.Container, error) {
    return &stubContainer{ex: s}, nil
}

type stubContainer struct{ ex *stubExtractor }

func (c *stubContainer) UnitCount() int { return c.ex.units }

func (c *stubContainer) UnitKind(int) models.UnitKind { return c.ex.kind }

func (c *stubContainer) Close() error { return nil }

func (c *stubContainer) ProcessUnit(ctx context.Context, index int, env *document.Env) (models.Unit, error) {
    return c.ex.process(ctx, index)
}

func pageUnit(index int, text string) models.Unit {
    u := document.NewUnit(index, models.UnitPage)
    u.Nodes = append(u.Nodes, &models.ContentNode{Kind: models.NodeText, Text: text})
    return u
}

func newService(engine ocr.Engine, extractors ...document.Extractor) *Service {
    log := logger.NewTestLogger()
    if len(extractors) == 0 {
        extractors = Extractors(fakeRasterizer{}, log)
    }
    return NewService(agent.NewRouter(log, extractors...), engine, nil, log)
}

func testOptions() Options {
    opts := DefaultOptions()
    opts.Preprocess = preprocess.Config{Grayscale: true}
    return opts
}

func threePagePDF(t *testing.T) []byte {
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

func TestExtractPDFFallsBackPerPage(t *testing.T) {
    engine := &countingEngine{}
    res, err := newService(engine).Extract(context.Background(), Input{Name: "scan.pdf", Data: threePagePDF(t)}, testOptions())
    require.NoError(t, err)

    assert.Equal(t, models.KindPDF, res.DocumentKind)
    require.Len(t, res.Units, 3)
    assert.Equal(t, models.SourceNative, res.Units[0].Source)
    assert.Equal(t, models.SourceOCR, res.Units[1].Source)
    assert.Equal(t, models.SourceOCR, res.Units[2].Source)
    assert.Equal(t, 2, res.Diagnostics.OCRInvocations)
    assert.EqualValues(t, 2, engine.calls.Load())
    assert.False(t, res.Partial)

    assert.True(t, strings.HasPrefix(res.Text, "--- Page 1 ---\nLorem ipsum"))
    assert.Contains(t, res.Text, "--- Page 2 ---\nscanned text")
    assert.Contains(t, res.Text, "--- Page 3 ---\nscanned text")
}

func TestExtractOCRDisabledNeverCallsEngine(t *testing.T) {
    engine := &countingEngine{}
    opts := testOptions()
    opts.OCREnabled = false

    res, err := newService(engine).Extract(context.Background(), Input{Name: "scan.pdf", Data: threePagePDF(t)}, opts)
    require.NoError(t, err)
    assert.Zero(t, res.Diagnostics.OCRInvocations)
    assert.Zero(t, engine.calls.Load())
    assert.Contains(t, res.Text, "Short caption!!")
}

func TestExtractFatalErrors(t *testing.T) {
    tooSmall := testOptions()
    tooSmall.MaxInputBytes = 4

    tests := []struct {
        name string
        in   Input
        opts Options
        want error
    }{
        {"unknown format", Input{Name: "blob.xyz", Data: []byte{0x00, 0x13, 0x37, 0xFE, 0x80}}, testOptions(), models.ErrUnsupportedFormat},
        {"legacy word", Input{Name: "old.doc", Data: []byte("x")}, testOptions(), models.ErrUnsupportedFormat},
        {"legacy excel", Input{Name: "old.xls", Data: []byte("x")}, testOptions(), models.ErrUnsupportedFormat},
        {"corrupt epub", Input{Name: "bad.epub", Data: []byte("PK\x03\x04 truncated")}, testOptions(), models.ErrCorruptContainer},
        {"corrupt pdf", Input{Name: "bad.pdf", Data: []byte("%PDF-1.4\nnot really a pdf")}, testOptions(), models.ErrCorruptContainer},
        {"corrupt pptx", Input{Name: "bad.pptx", Data: []byte("PK\x03\x04 truncated")}, testOptions(), models.ErrCorruptContainer},
        {"input too large", Input{Name: "a.txt", Data: []byte("hello world")}, tooSmall, models.ErrResourceExceeded},
        {"missing path", Input{Path: filepath.Join(t.TempDir(), "absent.txt")}, testOptions(), models.ErrCorruptContainer},
    }
    for _, tt := range tests {
        t.Run(tt.name, func(t *testing.T) {
            res, err := newService(&countingEngine{}).Extract(context.Background(), tt.in, tt.opts)
            assert.Nil(t, res)
            assert.ErrorIs(t, err, tt.want)
            assert.True(t, models.IsFatal(err))
        })
    }
}

func TestExtractDelimitedAsSheet(t *testing.T) {
    res, err := newService(&countingEngine{}).Extract(context.Background(),
        Input{Name: "rates.csv", Data: []byte("code;rate\nEUR;1,08\n")}, testOptions())
    require.NoError(t, err)

    assert.Equal(t, models.KindCSV, res.DocumentKind)
    require.Len(t, res.Units, 1)
    assert.Equal(t, models.UnitSheet, res.Units[0].Kind)
    assert.Equal(t, "--- Sheet 1 ---\ncode | rate\nEUR | 1,08", res.Text)
}

func TestExtractTooManyUnits(t *testing.T) {
    stub := &stubExtractor{units: 10, kind: models.UnitPage}
    opts := testOptions()
    opts.MaxUnits = 5
    _, err := newService(nil, stub).Extract(context.Background(), Input{Name: "a.txt", Data: []byte("x")}, opts)
    assert.ErrorIs(t, err, models.ErrResourceExceeded)
}

func TestExtractFromPath(t *testing.T) {
    path := filepath.Join(t.TempDir(), "notes.txt")
    require.NoError(t, os.WriteFile(path, []byte("first paragraph\n\nsecond paragraph\n"), 0o644))

    res, err := newService(nil).Extract(context.Background(), Input{Path: path}, testOptions())
    require.NoError(t, err)
    assert.Equal(t, models.KindText, res.DocumentKind)
    assert.Equal(t, "first paragraph\nsecond paragraph", res.Text)
}

func TestExtractPreservesOrder(t *testing.T) {
    const n = 40
    rng := rand.New(rand.NewSource(42))
    delays := make([]time.Duration, n)
    for i := range delays {
        delays[i] = time.Duration(rng.Intn(5)) * time.Millisecond
    }
    stub := &stubExtractor{units: n, kind: models.UnitPage, process: func(ctx context.Context, i int) (models.Unit, error) {
        time.Sleep(delays[i])
        return pageUnit(i, fmt.Sprintf("content %d", i)), nil
    }}
    opts := testOptions()
    opts.MaxWorkers = 8

    var want []string
    for i := 0; i < n; i++ {
        want = append(want, fmt.Sprintf("--- Page %d ---\ncontent %d", i+1, i))
    }

    svc := newService(nil, stub)
    for round := 0; round < 3; round++ {
        res, err := svc.Extract(context.Background(), Input{Name: "a.txt", Data: []byte("x")}, opts)
        require.NoError(t, err)
        require.Len(t, res.Units, n)
        for i, u := range res.Units {
            assert.Equal(t, i, u.Index)
        }
        assert.Equal(t, strings.Join(want, "\n\n"), res.Text)
    }
}

func TestExtractIsDeterministic(t *testing.T) {
    svc := newService(&countingEngine{})
    data := threePagePDF(t)
    first, err := svc.Extract(context.Background(), Input{Name: "a.pdf", Data: data}, testOptions())
    require.NoError(t, err)
    second, err := svc.Extract(context.Background(), Input{Name: "a.pdf", Data: data}, testOptions())
    require.NoError(t, err)
    assert.Equal(t, first, second)
}

func TestExtractUnitTimeoutIsolated(t *testing.T) {
    stub := &stubExtractor{units: 3, kind: models.UnitPage, process: func(ctx context.Context, i int) (models.Unit, error) {
        if i == 1 {
            <-ctx.Done()
            return document.Settle(document.NewUnit(i, models.UnitPage), ocr.ContextError(ctx))
        }
        return pageUnit(i, fmt.Sprintf("page %d", i)), nil
    }}
    opts := testOptions()
    opts.UnitTimeout = 50 * time.Millisecond

    res, err := newService(nil, stub).Extract(context.Background(), Input{Name: "a.txt", Data: []byte("x")}, opts)
    require.NoError(t, err)
    require.Len(t, res.Units, 3)
    require.NotNil(t, res.Units[1].Failure)
    assert.Equal(t, models.FailureTimeout, res.Units[1].Failure.Kind)
    assert.Equal(t, "--- Page 1 ---\npage 0\n\n--- Page 3 ---\npage 2", res.Text)
    assert.False(t, res.Partial)
}

func TestExtractPanicFailsUnit(t *testing.T) {
    stub := &stubExtractor{units: 2, kind: models.UnitPage, process: func(ctx context.Context, i int) (models.Unit, error) {
        if i == 0 {
            panic("broken page tree")
        }
        return pageUnit(i, "fine"), nil
    }}
    res, err := newService(nil, stub).Extract(context.Background(), Input{Name: "a.txt", Data: []byte("x")}, testOptions())
    require.NoError(t, err)
    require.Len(t, res.Units, 2)
    require.NotNil(t, res.Units[0].Failure)
    assert.Equal(t, models.FailureUnitParse, res.Units[0].Failure.Kind)
    assert.Contains(t, res.Units[0].Failure.Message, "broken page tree")
    assert.Equal(t, "--- Page 2 ---\nfine", res.Text)
}

func TestExtractCancelledReturnsPartial(t *testing.T) {
    ctx, cancel := context.WithCancel(context.Background())
    defer cancel()

    stub := &stubExtractor{units: 5, kind: models.UnitPage, process: func(ctx context.Context, i int) (models.Unit, error) {
        if i < 2 {
            return pageUnit(i, fmt.Sprintf("page %d", i)), nil
        }
        cancel()
        <-ctx.Done()
        return document.NewUnit(i, models.UnitPage), ctx.Err()
    }}
    opts := testOptions()
    opts.MaxWorkers = 1

    res, err := newService(nil, stub).Extract(ctx, Input{Name: "a.txt", Data: []byte("x")}, opts)
    require.NoError(t, err)
    assert.True(t, res.Partial)
    require.Len(t, res.Units, 2)
    assert.Equal(t, "--- Page 1 ---\npage 0\n\n--- Page 2 ---\npage 1", res.Text)
}

type chanRecorder chan analytics.Event

func (c chanRecorder) Record(ctx context.Context, ev analytics.Event) error {
    c <- ev
    return nil
}

func TestExtractRecordsAnalytics(t *testing.T) {
    events := make(chanRecorder, 2)
    log := logger.NewTestLogger()
    svc := NewService(agent.NewRouter(log, Extractors(fakeRasterizer{}, log)...), &countingEngine{}, events, log)

    _, err := svc.Extract(context.Background(), Input{Name: "scan.pdf", Data: threePagePDF(t)}, testOptions())
    require.NoError(t, err)
    _, err = svc.Extract(context.Background(), Input{Name: "blob.xyz", Data: []byte{0x00, 0x01}}, testOptions())
    require.Error(t, err)

    var got []analytics.Event
    for i := 0; i < 2; i++ {
        select {
        case ev := <-events:
            got = append(got, ev)
        case <-time.After(time.Second):
            t.Fatal("analytics event not recorded")
        }
    }

    var ok, failed analytics.Event
    for _, ev := range got {
        if ev.Success {
            ok = ev
        } else {
            failed = ev
        }
    }
    assert.Equal(t, models.KindPDF, ok.DocumentKind)
    assert.Equal(t, 3, ok.UnitCount)
    assert.True(t, ok.OCRUsed)
    assert.Equal(t, "<100KB", ok.SizeBucket)
    assert.NotEmpty(t, ok.InputIdentifier)
    assert.Contains(t, failed.Error, "unsupported format")
}
