package pptx

import (
    "archive/zip"
    "bytes"
    "context"
    "fmt"
    "image"
    "image/color"
    "image/png"
    "strings"
    "testing"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/feichai0017/document-extractor/internal/agent/document"
    "github.com/feichai0017/document-extractor/internal/agent/ocr"
    "github.com/feichai0017/document-extractor/internal/models"
    "github.com/feichai0017/document-extractor/pkg/logger"
)

const (
    nsP = `xmlns:p="http://schemas.openxmlformats.org/presentationml/2006/main"`
    nsA = `xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main"`
    nsR = `xmlns:r="http://schemas.openxmlformats.org/officeDocument/2006/relationships"`
)

type stubEngine struct{ text string }

func (s stubEngine) Name() string { return "stub" }

func (s stubEngine) Recognize(ctx context.Context, img image.Image, language string) (ocr.Recognition, error) {
    return ocr.Recognition{Text: s.text, Confidence: 88, Scored: true}, nil
}

func textShape(name, text string) string {
    return fmt.Sprintf(`<p:sp><p:nvSpPr><p:cNvPr id="2" name=%q/></p:nvSpPr>
<p:txBody><a:bodyPr/><a:p><a:r><a:t>%s</a:t></a:r></a:p></p:txBody></p:sp>`, name, text)
}

func slideXML(shapes ...string) string {
    return `<?xml version="1.0" encoding="UTF-8"?><p:sld ` + nsP + ` ` + nsA + ` ` + nsR + `><p:cSld><p:spTree>` +
        `<p:nvGrpSpPr><p:cNvPr id="1" name=""/></p:nvGrpSpPr><p:grpSpPr/>` +
        strings.Join(shapes, "") + `</p:spTree></p:cSld></p:sld>`
}

// deck builds a presentation whose slide order comes from sldIdLst; files
// maps slide file numbers to their XML, listed in presentation order.
func deck(t *testing.T, order []int, files map[int]string, extra map[string][]byte) []byte {
    t.Helper()
    var ids, rels strings.Builder
    for i, n := range order {
        fmt.Fprintf(&ids, `<p:sldId id="%d" r:id="rId%d"/>`, 256+i, n+10)
        fmt.Fprintf(&rels, `<Relationship Id="rId%d" Type="slide" Target="slides/slide%d.xml"/>`, n+10, n)
    }
    parts := map[string][]byte{
        "ppt/presentation.xml": []byte(`<?xml version="1.0"?><p:presentation ` + nsP + ` ` + nsR + `><p:sldIdLst>` +
            ids.String() + `</p:sldIdLst></p:presentation>`),
        "ppt/_rels/presentation.xml.rels": []byte(`<?xml version="1.0"?><Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">` +
            rels.String() + `</Relationships>`),
    }
    for n, body := range files {
        parts[fmt.Sprintf("ppt/slides/slide%d.xml", n)] = []byte(body)
    }
    for name, body := range extra {
        parts[name] = body
    }

    var buf bytes.Buffer
    zw := zip.NewWriter(&buf)
    for name, body := range parts {
        w, err := zw.Create(name)
        require.NoError(t, err)
        _, err = w.Write(body)
        require.NoError(t, err)
    }
    require.NoError(t, zw.Close())
    return buf.Bytes()
}

func env(enabled bool, engine ocr.Engine) *document.Env {
    log := logger.NewTestLogger()
    return &document.Env{
        Policy:        ocr.Policy{Enabled: enabled, EmbeddedEnabled: true, DefaultDPI: 300, ConfidenceFloor: 60},
        OCR:           ocr.NewRunner(engine, nil, 1, log),
        Language:      "eng",
        MaxGroupDepth: 32,
        Logger:        log,
    }
}

func processAll(t *testing.T, c document.Container, e *document.Env) []models.Unit {
    t.Helper()
    units := make([]models.Unit, c.UnitCount())
    for i := range units {
        u, err := c.ProcessUnit(context.Background(), i, e)
        require.NoError(t, err)
        units[i] = u
    }
    return units
}

func TestMalformedSlideIsolated(t *testing.T) {
    files := map[int]string{}
    for i := 1; i <= 5; i++ {
        files[i] = slideXML(textShape("Title", fmt.Sprintf("Slide %d body", i)))
    }
    files[3] = `<p:sld ` + nsP + `><p:cSld><p:spTree><p:sp>`

    data := deck(t, []int{1, 2, 3, 4, 5}, files, nil)
    c, err := NewExtractor(logger.NewTestLogger()).Open(context.Background(), data)
    require.NoError(t, err)
    require.Equal(t, 5, c.UnitCount())

    units := processAll(t, c, env(false, stubEngine{}))
    for i, u := range units {
        assert.Equal(t, i, u.Index)
        assert.Equal(t, models.UnitSlide, u.Kind)
        if i == 2 {
            require.True(t, u.Failed())
            assert.Equal(t, models.FailureUnitParse, u.Failure.Kind)
            require.Len(t, u.Nodes, 1)
            assert.Equal(t, models.NodeUnsupported, u.Nodes[0].Kind)
            continue
        }
        assert.False(t, u.Failed())
        require.Len(t, u.Nodes, 1)
        assert.Equal(t, fmt.Sprintf("Slide %d body", i+1), u.Nodes[0].Text)
    }
}

func TestSlideOrderFollowsPresentation(t *testing.T) {
    files := map[int]string{
        1: slideXML(textShape("T", "first file")),
        2: slideXML(textShape("T", "second file")),
    }
    data := deck(t, []int{2, 1}, files, nil)
    c, err := NewExtractor(logger.NewTestLogger()).Open(context.Background(), data)
    require.NoError(t, err)

    units := processAll(t, c, env(false, stubEngine{}))
    assert.Equal(t, "second file", units[0].Nodes[0].Text)
    assert.Equal(t, "first file", units[1].Nodes[0].Text)
}

func TestShapeKinds(t *testing.T) {
    img := image.NewGray(image.Rect(0, 0, 30, 10))
    img.SetGray(2, 2, color.Gray{Y: 200})
    var pngBuf bytes.Buffer
    require.NoError(t, png.Encode(&pngBuf, img))

    group := `<p:grpSp><p:nvGrpSpPr><p:cNvPr id="5" name="Group 5"/></p:nvGrpSpPr><p:grpSpPr/>` +
        textShape("Inner", "inside group") +
        `<p:pic><p:nvPicPr><p:cNvPr id="6" name="Picture 6"/></p:nvPicPr><p:blipFill><a:blip r:embed="rId2"/></p:blipFill></p:pic>` +
        `</p:grpSp>`
    table := `<p:graphicFrame><p:nvGraphicFramePr><p:cNvPr id="7" name="Table 7"/></p:nvGraphicFramePr>` +
        `<a:graphic><a:graphicData uri="http://schemas.openxmlformats.org/drawingml/2006/table"><a:tbl>` +
        `<a:tr><a:tc><a:txBody><a:p><a:r><a:t>Region</a:t></a:r></a:p></a:txBody></a:tc><a:tc><a:txBody><a:p><a:r><a:t>Sales</a:t></a:r></a:p></a:txBody></a:tc></a:tr>` +
        `<a:tr><a:tc><a:txBody><a:p><a:r><a:t>North</a:t></a:r></a:p></a:txBody></a:tc><a:tc><a:txBody><a:p><a:r><a:t>12</a:t></a:r></a:p></a:txBody></a:tc></a:tr>` +
        `</a:tbl></a:graphicData></a:graphic></p:graphicFrame>`
    chart := `<p:graphicFrame><p:nvGraphicFramePr><p:cNvPr id="8" name="Chart 8"/></p:nvGraphicFramePr>` +
        `<a:graphic><a:graphicData uri="http://schemas.openxmlformats.org/drawingml/2006/chart"/></a:graphic></p:graphicFrame>`

    files := map[int]string{1: slideXML(textShape("Title", "Quarterly"), group, table, chart)}
    extra := map[string][]byte{
        "ppt/slides/_rels/slide1.xml.rels": []byte(`<?xml version="1.0"?><Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">` +
            `<Relationship Id="rId2" Type="image" Target="../media/image1.png"/></Relationships>`),
        "ppt/media/image1.png": pngBuf.Bytes(),
    }
    data := deck(t, []int{1}, files, extra)

    c, err := NewExtractor(logger.NewTestLogger()).Open(context.Background(), data)
    require.NoError(t, err)

    units := processAll(t, c, env(true, stubEngine{text: "chart legend"}))
    u := units[0]
    require.Len(t, u.Nodes, 4)

    assert.Equal(t, models.NodeText, u.Nodes[0].Kind)
    assert.Equal(t, "Quarterly", u.Nodes[0].Text)

    g := u.Nodes[1]
    assert.Equal(t, models.NodeGroup, g.Kind)
    require.Len(t, g.Children, 2)
    assert.Equal(t, "inside group", g.Children[0].Text)
    assert.Equal(t, models.NodeImagePlaceholder, g.Children[1].Kind)
    assert.True(t, g.Children[1].OCRAttempted)
    assert.Equal(t, "chart legend", g.Children[1].Text)

    assert.Equal(t, models.NodeTable, u.Nodes[2].Kind)
    assert.Equal(t, [][]string{{"Region", "Sales"}, {"North", "12"}}, u.Nodes[2].TableRows)

    assert.Equal(t, models.NodeUnsupported, u.Nodes[3].Kind)
    assert.Equal(t, `chart "Chart 8"`, u.Nodes[3].Diagnostic)

    assert.Equal(t, 1, u.Diagnostics.ImagesDetected)
    assert.Equal(t, 1, u.Diagnostics.OCRInvocations)
    assert.Equal(t, 1, u.Diagnostics.UnsupportedShapes)
}

func TestOpenRejectsNonPresentation(t *testing.T) {
    _, err := NewExtractor(logger.NewTestLogger()).Open(context.Background(), []byte("not a zip"))
    assert.ErrorIs(t, err, models.ErrCorruptContainer)

    var buf bytes.Buffer
    zw := zip.NewWriter(&buf)
    _, err = zw.Create("word/document.xml")
    require.NoError(t, err)
    require.NoError(t, zw.Close())
    _, err = NewExtractor(logger.NewTestLogger()).Open(context.Background(), buf.Bytes())
    assert.ErrorIs(t, err, models.ErrCorruptContainer)
}
