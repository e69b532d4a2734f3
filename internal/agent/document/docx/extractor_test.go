package docx

import (
    "archive/zip"
    "bytes"
    "context"
    "image"
    "image/png"
    "testing"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/feichai0017/document-extractor/internal/agent/document"
    "github.com/feichai0017/document-extractor/internal/agent/ocr"
    "github.com/feichai0017/document-extractor/internal/models"
    "github.com/feichai0017/document-extractor/pkg/logger"
)

const ns = `xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main" ` +
    `xmlns:wp="http://schemas.openxmlformats.org/drawingml/2006/wordprocessingDrawing" ` +
    `xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main" ` +
    `xmlns:pic="http://schemas.openxmlformats.org/drawingml/2006/picture" ` +
    `xmlns:wps="http://schemas.microsoft.com/office/word/2010/wordprocessingShape" ` +
    `xmlns:wpg="http://schemas.microsoft.com/office/word/2010/wordprocessingGroup" ` +
    `xmlns:mc="http://schemas.openxmlformats.org/markup-compatibility/2006" ` +
    `xmlns:r="http://schemas.openxmlformats.org/officeDocument/2006/relationships"`

type stubEngine struct{}

func (stubEngine) Name() string { return "stub" }

func (stubEngine) Recognize(ctx context.Context, img image.Image, language string) (ocr.Recognition, error) {
    return ocr.Recognition{Text: "scanned signature", Confidence: 77, Scored: true}, nil
}

func build(t *testing.T, parts map[string]string, binary map[string][]byte) []byte {
    t.Helper()
    var buf bytes.Buffer
    zw := zip.NewWriter(&buf)
    for name, body := range parts {
        w, err := zw.Create(name)
        require.NoError(t, err)
        _, err = w.Write([]byte(body))
        require.NoError(t, err)
    }
    for name, body := range binary {
        w, err := zw.Create(name)
        require.NoError(t, err)
        _, err = w.Write(body)
        require.NoError(t, err)
    }
    require.NoError(t, zw.Close())
    return buf.Bytes()
}

func para(text string) string {
    return `<w:p><w:r><w:t xml:space="preserve">` + text + `</w:t></w:r></w:p>`
}

func testEnv(enabled bool) *document.Env {
    log := logger.NewTestLogger()
    return &document.Env{
        Policy:        ocr.Policy{Enabled: enabled, EmbeddedEnabled: true, DefaultDPI: 300, ConfidenceFloor: 60},
        OCR:           ocr.NewRunner(stubEngine{}, nil, 1, log),
        Language:      "eng",
        MaxGroupDepth: 32,
        Logger:        log,
    }
}

func pngData(t *testing.T) []byte {
    var buf bytes.Buffer
    require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 12, 6))))
    return buf.Bytes()
}

func TestBodyStructure(t *testing.T) {
    body := `<?xml version="1.0"?><w:document ` + ns + `><w:body>` +
        `<w:p><w:r><w:t>Hello</w:t></w:r><w:r><w:tab/><w:t>world</w:t></w:r><w:hyperlink><w:r><w:t> link</w:t></w:r></w:hyperlink></w:p>` +
        `<w:tbl><w:tr><w:tc>` + para("Name") + `</w:tc><w:tc>` + para("Qty") + `</w:tc></w:tr>` +
        `<w:tr><w:tc>` + para("Bolts") + para("M8") + `</w:tc><w:tc>` + para("40") + `</w:tc></w:tr></w:tbl>` +
        `<w:sdt><w:sdtPr><w:alias w:val="Terms"/></w:sdtPr><w:sdtContent>` + para("Clause one") + `</w:sdtContent></w:sdt>` +
        `<w:p><w:r><w:drawing><wp:inline><wp:docPr id="1" name="Signature"/><a:graphic>` +
        `<a:graphicData uri="http://schemas.openxmlformats.org/drawingml/2006/picture"><pic:pic>` +
        `<pic:nvPicPr><pic:cNvPr id="0" name="sig.png"/></pic:nvPicPr><pic:blipFill><a:blip r:embed="rId5"/></pic:blipFill>` +
        `</pic:pic></a:graphicData></a:graphic></wp:inline></w:drawing></w:r></w:p>` +
        `<w:p><w:r><mc:AlternateContent><mc:Choice Requires="wps"><w:drawing><wp:anchor><wp:docPr id="2" name="Text Box 2"/><a:graphic>` +
        `<a:graphicData uri="http://schemas.microsoft.com/office/word/2010/wordprocessingShape"><wps:wsp><wps:txbx><w:txbxContent>` +
        para("Boxed note") + `</w:txbxContent></wps:txbx></wps:wsp></a:graphicData></a:graphic></wp:anchor></w:drawing></mc:Choice>` +
        `<mc:Fallback><w:pict/></mc:Fallback></mc:AlternateContent></w:r></w:p>` +
        `<w:p><w:r><w:drawing><wp:inline><wp:docPr id="3" name="Chart 3"/><a:graphic>` +
        `<a:graphicData uri="http://schemas.openxmlformats.org/drawingml/2006/chart"><c:chart xmlns:c="urn:c"/></a:graphicData></a:graphic></wp:inline></w:drawing></w:r></w:p>` +
        `<w:p><w:r><w:object/></w:r></w:p>` +
        `<w:sectPr/></w:body></w:document>`

    data := build(t, map[string]string{
        "word/document.xml": body,
        "word/_rels/document.xml.rels": `<?xml version="1.0"?><Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">` +
            `<Relationship Id="rId5" Type="image" Target="media/image1.png"/></Relationships>`,
    }, map[string][]byte{"word/media/image1.png": pngData(t)})

    c, err := NewExtractor(logger.NewTestLogger()).Open(context.Background(), data)
    require.NoError(t, err)
    require.Equal(t, 1, c.UnitCount())

    u, err := c.ProcessUnit(context.Background(), 0, testEnv(true))
    require.NoError(t, err)
    assert.Equal(t, models.UnitBody, u.Kind)
    require.Len(t, u.Nodes, 7)

    assert.Equal(t, "Hello\tworld link", u.Nodes[0].Text)
    assert.Equal(t, models.UnitParagraph, u.Nodes[0].Provenance.UnitKind)

    assert.Equal(t, [][]string{{"Name", "Qty"}, {"Bolts M8", "40"}}, u.Nodes[1].TableRows)

    assert.Equal(t, models.NodeGroup, u.Nodes[2].Kind)
    require.Len(t, u.Nodes[2].Children, 1)
    assert.Equal(t, "Clause one", u.Nodes[2].Children[0].Text)

    assert.Equal(t, models.NodeImagePlaceholder, u.Nodes[3].Kind)
    assert.Equal(t, "scanned signature", u.Nodes[3].Text)

    assert.Equal(t, "Boxed note", u.Nodes[4].Text)

    assert.Equal(t, models.NodeUnsupported, u.Nodes[5].Kind)
    assert.Equal(t, `chart "Chart 3"`, u.Nodes[5].Diagnostic)
    assert.Equal(t, models.NodeUnsupported, u.Nodes[6].Kind)
    assert.Equal(t, "embedded object", u.Nodes[6].Diagnostic)

    assert.Equal(t, 1, u.Diagnostics.ImagesDetected)
    assert.Equal(t, 2, u.Diagnostics.UnsupportedShapes)
}

func TestHeadersAndFootersFollowBody(t *testing.T) {
    data := build(t, map[string]string{
        "word/document.xml": `<w:document ` + ns + `><w:body>` + para("Body text") + `</w:body></w:document>`,
        "word/header10.xml": `<w:hdr ` + ns + `>` + para("Header ten") + `</w:hdr>`,
        "word/header2.xml":  `<w:hdr ` + ns + `>` + para("Header two") + `</w:hdr>`,
        "word/footer1.xml":  `<w:ftr ` + ns + `>` + para("Page footer") + `</w:ftr>`,
    }, nil)

    c, err := NewExtractor(logger.NewTestLogger()).Open(context.Background(), data)
    require.NoError(t, err)
    require.Equal(t, 4, c.UnitCount())

    want := []struct {
        kind models.UnitKind
        text string
    }{
        {models.UnitBody, "Body text"},
        {models.UnitHeader, "Header two"},
        {models.UnitHeader, "Header ten"},
        {models.UnitFooter, "Page footer"},
    }
    for i, w := range want {
        assert.Equal(t, w.kind, c.UnitKind(i))
        u, err := c.ProcessUnit(context.Background(), i, testEnv(false))
        require.NoError(t, err)
        require.Len(t, u.Nodes, 1)
        assert.Equal(t, w.text, u.Nodes[0].Text)
    }
}

func TestMalformedBodyKeepsHeaders(t *testing.T) {
    data := build(t, map[string]string{
        "word/document.xml": `<w:document ` + ns + `><w:body><w:p>`,
        "word/header1.xml":  `<w:hdr ` + ns + `>` + para("Still here") + `</w:hdr>`,
    }, nil)

    c, err := NewExtractor(logger.NewTestLogger()).Open(context.Background(), data)
    require.NoError(t, err)

    body, err := c.ProcessUnit(context.Background(), 0, testEnv(false))
    require.NoError(t, err)
    require.True(t, body.Failed())
    assert.Equal(t, models.FailureUnitParse, body.Failure.Kind)

    header, err := c.ProcessUnit(context.Background(), 1, testEnv(false))
    require.NoError(t, err)
    assert.False(t, header.Failed())
    assert.Equal(t, "Still here", header.Nodes[0].Text)
}

func TestOpenWithoutDocumentPart(t *testing.T) {
    data := build(t, map[string]string{"ppt/presentation.xml": "<p/>"}, nil)
    _, err := NewExtractor(logger.NewTestLogger()).Open(context.Background(), data)
    assert.ErrorIs(t, err, models.ErrCorruptContainer)
}

func drawingPara(id, name, rel string) string {
    return `<w:p><w:r><w:drawing><wp:inline><wp:docPr id="` + id + `" name="` + name + `"/><a:graphic>` +
        `<a:graphicData uri="http://schemas.openxmlformats.org/drawingml/2006/picture"><pic:pic>` +
        `<pic:blipFill><a:blip r:embed="` + rel + `"/></pic:blipFill>` +
        `</pic:pic></a:graphicData></a:graphic></wp:inline></w:drawing></w:r></w:p>`
}

func TestDrawingsInCellsAndTextBoxes(t *testing.T) {
    body := `<w:document ` + ns + `><w:body>` +
        `<w:tbl><w:tr><w:tc>` + para("Logo") + `</w:tc><w:tc>` + drawingPara("1", "Cell logo", "rId5") + `</w:tc></w:tr></w:tbl>` +
        `<w:p><w:r><w:drawing><wp:anchor><wp:docPr id="2" name="Text Box 2"/><a:graphic>` +
        `<a:graphicData uri="http://schemas.microsoft.com/office/word/2010/wordprocessingShape"><wps:wsp><wps:txbx><w:txbxContent>` +
        para("Stamp") + drawingPara("3", "Boxed stamp", "rId5") +
        `</w:txbxContent></wps:txbx></wps:wsp></a:graphicData></a:graphic></wp:anchor></w:drawing></w:r></w:p>` +
        `</w:body></w:document>`

    data := build(t, map[string]string{
        "word/document.xml": body,
        "word/_rels/document.xml.rels": `<?xml version="1.0"?><Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">` +
            `<Relationship Id="rId5" Type="image" Target="media/image1.png"/></Relationships>`,
    }, map[string][]byte{"word/media/image1.png": pngData(t)})

    c, err := NewExtractor(logger.NewTestLogger()).Open(context.Background(), data)
    require.NoError(t, err)
    u, err := c.ProcessUnit(context.Background(), 0, testEnv(true))
    require.NoError(t, err)
    require.False(t, u.Failed())

    // The paragraph anchoring the box has no text of its own.
    require.Len(t, u.Nodes, 3)
    assert.Equal(t, models.NodeTable, u.Nodes[0].Kind)
    assert.Equal(t, [][]string{{"Logo", ""}}, u.Nodes[0].TableRows)

    assert.Equal(t, models.NodeImagePlaceholder, u.Nodes[1].Kind)
    assert.Equal(t, "scanned signature", u.Nodes[1].Text)

    box := u.Nodes[2]
    assert.Equal(t, models.NodeGroup, box.Kind)
    require.Len(t, box.Children, 2)
    assert.Equal(t, "Stamp", box.Children[0].Text)
    assert.Equal(t, models.NodeImagePlaceholder, box.Children[1].Kind)

    assert.Equal(t, 2, u.Diagnostics.ImagesDetected)
    assert.Equal(t, 2, u.Diagnostics.OCRInvocations)
}
