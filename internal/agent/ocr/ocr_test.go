package ocr

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "image"
    "image/color"
    "net/http"
    "net/http/httptest"
    "os/exec"
    "sync"
    "sync/atomic"
    "testing"
    "time"

    "github.com/aws/aws-sdk-go-v2/aws"
    "github.com/aws/aws-sdk-go-v2/service/textract"
    "github.com/aws/aws-sdk-go-v2/service/textract/types"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/feichai0017/document-extractor/internal/models"
    "github.com/feichai0017/document-extractor/pkg/logger"
)

type fakeEngine struct {
    name    string
    text    string
    conf    float64
    delay   time.Duration
    err     error
    calls   atomic.Int32
    active  atomic.Int32
    maxSeen atomic.Int32
}

func (f *fakeEngine) Name() string { return f.name }

func (f *fakeEngine) Recognize(ctx context.Context, img image.Image, language string) (Recognition, error) {
    f.calls.Add(1)
    n := f.active.Add(1)
    defer f.active.Add(-1)
    for {
        seen := f.maxSeen.Load()
        if n <= seen || f.maxSeen.CompareAndSwap(seen, n) {
            break
        }
    }
    if f.delay > 0 {
        select {
        case <-time.After(f.delay):
        case <-ctx.Done():
            return Recognition{}, ContextError(ctx)
        }
    }
    if f.err != nil {
        return Recognition{}, f.err
    }
    return Recognition{Text: f.text, Confidence: f.conf, Scored: true}, nil
}

func blank() image.Image {
    img := image.NewGray(image.Rect(0, 0, 8, 8))
    for i := range img.Pix {
        img.Pix[i] = 255
    }
    img.SetGray(3, 3, color.Gray{})
    return img
}

func TestPolicyDecide(t *testing.T) {
    embeddedFloor := 40.0
    p := Policy{
        Enabled:                 true,
        EmbeddedEnabled:         true,
        DefaultDPI:              300,
        SparseDPI:               400,
        ConfidenceFloor:         60,
        EmbeddedConfidenceFloor: &embeddedFloor,
    }

    tests := []struct {
        name    string
        policy  Policy
        signal  Signal
        attempt bool
        dpi     int
        floor   float64
    }{
        {"empty page", p, SignalEmpty, true, 300, 60},
        {"sparse page", p, SignalSparse, true, 400, 60},
        {"embedded raster", p, SignalEmbedded, true, 300, 40},
        {"image input", p, SignalImage, true, 300, 60},
        {"disabled", Policy{}, SignalSparse, false, 0, 0},
        {"embedded off", Policy{Enabled: true, DefaultDPI: 300}, SignalEmbedded, false, 0, 0},
    }
    for _, tt := range tests {
        t.Run(tt.name, func(t *testing.T) {
            d := tt.policy.Decide(tt.signal)
            assert.Equal(t, tt.attempt, d.Attempt)
            assert.Equal(t, tt.dpi, d.DPI)
            assert.Equal(t, tt.floor, d.Floor)
        })
    }

    assert.Equal(t, ReasonDisabled, Policy{}.Decide(SignalEmpty).Reason)
}

func TestDecisionLowConfidence(t *testing.T) {
    d := Decision{Attempt: true, Floor: 60}
    assert.Equal(t, "", d.LowConfidence(Recognition{Confidence: 75, Scored: true}))
    assert.Equal(t, "", d.LowConfidence(Recognition{Confidence: 10}))
    assert.Equal(t, "low confidence (42.0 < 60.0)", d.LowConfidence(Recognition{Confidence: 42, Scored: true}))
}

func TestRunnerGateLimitsConcurrency(t *testing.T) {
    engine := &fakeEngine{name: "fake", text: "hello", conf: 90, delay: 20 * time.Millisecond}
    runner := NewRunner(engine, nil, 2, logger.NewTestLogger())

    var wg sync.WaitGroup
    for i := 0; i < 8; i++ {
        wg.Add(1)
        go func() {
            defer wg.Done()
            var d models.Diagnostics
            rec, err := runner.Recognize(context.Background(), blank(), "eng", &d)
            assert.NoError(t, err)
            assert.Equal(t, "hello", rec.Text)
            assert.Equal(t, 1, d.OCRInvocations)
        }()
    }
    wg.Wait()

    assert.Equal(t, int32(8), engine.calls.Load())
    assert.LessOrEqual(t, engine.maxSeen.Load(), int32(2))
}

func TestRunnerTimeout(t *testing.T) {
    engine := &fakeEngine{name: "slow", delay: time.Second}
    runner := NewRunner(engine, nil, 1, logger.NewTestLogger())

    ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
    defer cancel()

    var d models.Diagnostics
    _, err := runner.Recognize(ctx, blank(), "eng", &d)
    require.Error(t, err)
    assert.ErrorIs(t, err, models.ErrTimeout)
    assert.Equal(t, 1, d.OCRInvocations)
}

func TestRunnerCancelledBeforeAdmission(t *testing.T) {
    engine := &fakeEngine{name: "fake"}
    runner := NewRunner(engine, nil, 1, logger.NewTestLogger())

    ctx, cancel := context.WithCancel(context.Background())
    cancel()

    var d models.Diagnostics
    _, err := runner.Recognize(ctx, blank(), "eng", &d)
    assert.ErrorIs(t, err, context.Canceled)
    assert.Equal(t, 0, d.OCRInvocations)
    assert.Equal(t, int32(0), engine.calls.Load())
}

// stuckEngine ignores ctx, like a cgo call that cannot be interrupted.
type stuckEngine struct {
    release chan struct{}
    entered atomic.Int32
}

func (e *stuckEngine) Name() string { return "stuck" }

func (e *stuckEngine) Recognize(ctx context.Context, img image.Image, language string) (Recognition, error) {
    e.entered.Add(1)
    <-e.release
    return Recognition{Text: "late"}, nil
}

func TestRunnerHoldsSlotForAbandonedCall(t *testing.T) {
    engine := &stuckEngine{release: make(chan struct{})}
    runner := NewRunner(engine, nil, 1, logger.NewTestLogger())

    ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
    defer cancel()
    var d models.Diagnostics
    _, err := runner.Recognize(ctx, blank(), "eng", &d)
    require.ErrorIs(t, err, models.ErrTimeout)

    second := make(chan error, 1)
    go func() {
        var d models.Diagnostics
        _, err := runner.Recognize(context.Background(), blank(), "eng", &d)
        second <- err
    }()

    time.Sleep(30 * time.Millisecond)
    assert.Equal(t, int32(1), engine.entered.Load(), "second attempt admitted while the first call is still running")

    close(engine.release)
    require.NoError(t, <-second)
    assert.Equal(t, int32(2), engine.entered.Load())
}

func TestRecognizeRenderedInsideGate(t *testing.T) {
    runner := NewRunner(&fakeEngine{name: "fake", text: "page"}, nil, 2, logger.NewTestLogger())

    var active, peak atomic.Int32
    render := func(ctx context.Context) (image.Image, error) {
        n := active.Add(1)
        defer active.Add(-1)
        for {
            seen := peak.Load()
            if n <= seen || peak.CompareAndSwap(seen, n) {
                break
            }
        }
        time.Sleep(5 * time.Millisecond)
        return blank(), nil
    }

    var wg sync.WaitGroup
    for i := 0; i < 8; i++ {
        wg.Add(1)
        go func() {
            defer wg.Done()
            var d models.Diagnostics
            rec, err := runner.RecognizeRendered(context.Background(), render, "eng", &d)
            assert.NoError(t, err)
            assert.Equal(t, "page", rec.Text)
        }()
    }
    wg.Wait()
    assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestRecognizeRenderedRenderFailure(t *testing.T) {
    engine := &fakeEngine{name: "fake"}
    runner := NewRunner(engine, nil, 1, logger.NewTestLogger())
    var d models.Diagnostics
    _, err := runner.RecognizeRendered(context.Background(), func(context.Context) (image.Image, error) {
        return nil, errors.New("no renderer")
    }, "eng", &d)
    assert.ErrorContains(t, err, "no renderer")
    assert.Equal(t, 0, d.OCRInvocations)
    assert.Equal(t, int32(0), engine.calls.Load())
}

type failingPre struct{}

func (failingPre) Process(image.Image) (image.Image, error) { return nil, errors.New("bad pixels") }

func TestRunnerPreprocessFailure(t *testing.T) {
    runner := NewRunner(&fakeEngine{name: "fake"}, failingPre{}, 1, logger.NewTestLogger())
    var d models.Diagnostics
    _, err := runner.Recognize(context.Background(), blank(), "eng", &d)
    assert.ErrorContains(t, err, "bad pixels")
    assert.Equal(t, 0, d.OCRInvocations)
}

func TestChainFallsThroughUnavailable(t *testing.T) {
    second := &fakeEngine{name: "second", text: "ok", conf: 80}
    chain := NewChain(logger.NewTestLogger(), NewUnavailableEngine("first", "missing"), second)

    rec, err := chain.Recognize(context.Background(), blank(), "eng")
    require.NoError(t, err)
    assert.Equal(t, "ok", rec.Text)
    assert.Equal(t, "first,second", chain.Name())
}

func TestChainStopsOnOtherErrors(t *testing.T) {
    boom := &fakeEngine{name: "boom", err: errors.New("engine crashed")}
    never := &fakeEngine{name: "never"}
    chain := NewChain(logger.NewTestLogger(), boom, never)

    _, err := chain.Recognize(context.Background(), blank(), "eng")
    assert.ErrorContains(t, err, "engine crashed")
    assert.Equal(t, int32(0), never.calls.Load())
}

func TestChainAllUnavailable(t *testing.T) {
    chain := NewChain(logger.NewTestLogger(), NewUnavailableEngine("a", "x"), NewUnavailableEngine("b", "y"))
    _, err := chain.Recognize(context.Background(), blank(), "eng")
    assert.ErrorIs(t, err, models.ErrEngineUnavailable)
}

func TestNewEngine(t *testing.T) {
    log := logger.NewTestLogger()

    e, err := NewEngine(context.Background(), Config{Engines: []string{"none"}}, log)
    require.NoError(t, err)
    _, err = e.Recognize(context.Background(), blank(), "eng")
    assert.ErrorIs(t, err, models.ErrEngineUnavailable)

    e, err = NewEngine(context.Background(), DefaultConfig(), log)
    require.NoError(t, err)
    assert.Equal(t, "tesseract,tesseract-cli", e.Name())

    // textract without a region degrades to an unavailable engine
    e, err = NewEngine(context.Background(), Config{Engines: []string{"textract"}}, log)
    require.NoError(t, err)
    assert.Equal(t, EngineTextract, e.Name())

    _, err = NewEngine(context.Background(), Config{Engines: []string{"abbyy"}}, log)
    assert.Error(t, err)
}

func TestParseTSV(t *testing.T) {
    tsv := "level\tpage_num\tblock_num\tpar_num\tline_num\tword_num\tleft\ttop\twidth\theight\tconf\ttext\n" +
        "1\t1\t0\t0\t0\t0\t0\t0\t100\t100\t-1\t\n" +
        "5\t1\t1\t1\t1\t1\t0\t0\t10\t10\t90\tQuarterly\n" +
        "5\t1\t1\t1\t1\t2\t0\t0\t10\t10\t80\treport\n" +
        "5\t1\t1\t1\t2\t1\t0\t0\t10\t10\t70\t2024\n" +
        "5\t1\t2\t1\t1\t1\t0\t0\t10\t10\t60\tTotals\n" +
        "5\t1\t2\t1\t1\t2\t0\t0\t10\t10\t-1\t \n"

    rec, err := parseTSV([]byte(tsv))
    require.NoError(t, err)
    assert.Equal(t, "Quarterly report\n2024\n\nTotals", rec.Text)
    assert.True(t, rec.Scored)
    assert.InDelta(t, 75.0, rec.Confidence, 0.001)
}

func TestParseTSVEmpty(t *testing.T) {
    rec, err := parseTSV([]byte("level\tpage_num\n"))
    require.NoError(t, err)
    assert.Equal(t, "", rec.Text)
    assert.False(t, rec.Scored)
}

func TestCommandEngineMissingBinary(t *testing.T) {
    e := NewCommandEngine(TesseractConfig{Binary: "tesseract-does-not-exist"}, logger.NewTestLogger())
    e.lookPath = func(string) (string, error) { return "", exec.ErrNotFound }

    _, err := e.Recognize(context.Background(), blank(), "eng")
    assert.ErrorIs(t, err, models.ErrEngineUnavailable)
}

func TestCommandEngineRealBinary(t *testing.T) {
    if _, err := exec.LookPath("tesseract"); err != nil {
        t.Skip("tesseract not installed")
    }
    e := NewCommandEngine(TesseractConfig{Binary: "tesseract", PageSegMode: 3}, logger.NewTestLogger())
    _, err := e.Recognize(context.Background(), blank(), "eng")
    if errors.Is(err, models.ErrEngineUnavailable) {
        t.Skip("tesseract language data missing")
    }
    assert.NoError(t, err)
}

type fakeTextract struct {
    out *textract.DetectDocumentTextOutput
    err error
}

func (f *fakeTextract) DetectDocumentText(ctx context.Context, params *textract.DetectDocumentTextInput, optFns ...func(*textract.Options)) (*textract.DetectDocumentTextOutput, error) {
    if len(params.Document.Bytes) == 0 {
        return nil, errors.New("empty document")
    }
    return f.out, f.err
}

func TestTextractEngine(t *testing.T) {
    client := &fakeTextract{out: &textract.DetectDocumentTextOutput{Blocks: []types.Block{
        {BlockType: types.BlockTypePage},
        {BlockType: types.BlockTypeLine, Text: aws.String("Invoice 42"), Confidence: aws.Float32(98)},
        {BlockType: types.BlockTypeWord, Text: aws.String("Invoice"), Confidence: aws.Float32(98)},
        {BlockType: types.BlockTypeLine, Text: aws.String("smudge"), Confidence: aws.Float32(10)},
        {BlockType: types.BlockTypeLine, Text: aws.String("Total 7"), Confidence: aws.Float32(90)},
    }}}
    e := newTextractEngine(client, TextractConfig{MinLineConfidence: 50}, logger.NewTestLogger())

    rec, err := e.Recognize(context.Background(), blank(), "eng")
    require.NoError(t, err)
    assert.Equal(t, "Invoice 42\nTotal 7", rec.Text)
    assert.True(t, rec.Scored)
    assert.InDelta(t, 94.0, rec.Confidence, 0.001)
}

func TestTextractEngineErrorIsUnavailable(t *testing.T) {
    e := newTextractEngine(&fakeTextract{err: errors.New("AccessDenied")}, TextractConfig{}, logger.NewTestLogger())
    _, err := e.Recognize(context.Background(), blank(), "eng")
    assert.ErrorIs(t, err, models.ErrEngineUnavailable)
}

func TestOllamaEngine(t *testing.T) {
    srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        assert.Equal(t, "/api/generate", r.URL.Path)
        var body map[string]interface{}
        require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
        assert.Equal(t, "llava", body["model"])
        assert.Len(t, body["images"], 1)
        assert.Contains(t, body["prompt"], "deu")
        fmt.Fprint(w, `{"response":"  Guten Tag \n","done":true}`)
    }))
    defer srv.Close()

    cfg := DefaultOllamaConfig()
    cfg.Endpoint = srv.URL
    cfg.Model = "llava"
    cfg.MaxPoolSize = 1
    e := NewOllamaEngine(cfg, logger.NewTestLogger())
    defer e.Close()

    rec, err := e.Recognize(context.Background(), blank(), "deu")
    require.NoError(t, err)
    assert.Equal(t, "Guten Tag", rec.Text)
    assert.False(t, rec.Scored)
}

func TestOllamaEngineUnreachable(t *testing.T) {
    srv := httptest.NewServer(http.NotFoundHandler())
    url := srv.URL
    srv.Close()

    cfg := DefaultOllamaConfig()
    cfg.Endpoint = url
    e := NewOllamaEngine(cfg, logger.NewTestLogger())

    _, err := e.Recognize(context.Background(), blank(), "eng")
    assert.ErrorIs(t, err, models.ErrEngineUnavailable)
}
