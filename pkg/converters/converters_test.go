package converters

import (
    "encoding/csv"
    "encoding/json"
    "strings"
    "testing"
    "time"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/feichai0017/document-extractor/internal/models"
)

func sampleResult() *models.ExtractionResult {
    conf := 42.5
    return &models.ExtractionResult{
        DocumentKind: models.KindPPTX,
        Text:         "--- Slide 1 ---\nTitle\nq | a",
        Units: []models.Unit{{
            Index:  0,
            Kind:   models.UnitSlide,
            Source: models.SourceNative,
            Nodes: []*models.ContentNode{
                {Kind: models.NodeText, Text: "Title", Provenance: models.Provenance{Source: models.SourceNative}},
                {Kind: models.NodeGroup, Children: []*models.ContentNode{
                    {Kind: models.NodeTable, TableRows: [][]string{{"q", "a"}}},
                    {Kind: models.NodeImagePlaceholder, Text: "blurry", Confidence: &conf, OCRAttempted: true,
                        Provenance: models.Provenance{Source: models.SourceOCR}, Diagnostic: "low confidence (42.50 < 60.00)"},
                }},
            },
        }},
        Diagnostics: models.Diagnostics{OCRInvocations: 1, UnitFailures: []models.UnitFailure{}},
    }
}

func TestToCSV(t *testing.T) {
    data, err := ToCSV(sampleResult())
    require.NoError(t, err)

    rows, err := csv.NewReader(strings.NewReader(string(data))).ReadAll()
    require.NoError(t, err)
    require.Len(t, rows, 5)
    assert.Equal(t, csvHeader, rows[0])
    assert.Equal(t, []string{"0", "slide", "text", "native", "", "Title", ""}, rows[1])
    assert.Equal(t, "group", rows[2][2])
    assert.Equal(t, "q | a", rows[3][5])
    assert.Equal(t, []string{"0", "slide", "image_placeholder", "ocr", "42.50", "blurry", "low confidence (42.50 < 60.00)"}, rows[4])
}

func TestToJSON(t *testing.T) {
    now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
    defer func() { now = time.Now }()

    data, err := ToJSON(sampleResult(), DocumentMetadata{FileName: "deck.pptx"})
    require.NoError(t, err)

    var raw map[string]interface{}
    require.NoError(t, json.Unmarshal(data, &raw))
    assert.Equal(t, "--- Slide 1 ---\nTitle\nq | a", raw["extracted_text"])
    assert.Equal(t, "2024-05-01T12:00:00Z", raw["extraction_timestamp"])
    assert.Equal(t, []interface{}{"--- Slide 1 ---", "Title", "q | a"}, raw["lines"])

    var doc ProcessedDocument
    require.NoError(t, json.Unmarshal(data, &doc))
    assert.Equal(t, 1, doc.Metadata.UnitCount)
    assert.Equal(t, "deck.pptx", doc.Metadata.FileName)
    res := doc.Result()
    assert.Equal(t, models.KindPPTX, res.DocumentKind)
    assert.Equal(t, 1, res.Diagnostics.OCRInvocations)
}

func TestExport(t *testing.T) {
    res := sampleResult()
    tests := []struct {
        format      string
        contentType string
    }{
        {"text", "text/plain; charset=utf-8"},
        {"TXT", "text/plain; charset=utf-8"},
        {"csv", "text/csv; charset=utf-8"},
        {"", "application/json; charset=utf-8"},
    }
    for _, tt := range tests {
        data, ct, err := Export(tt.format, res, DocumentMetadata{})
        require.NoError(t, err, tt.format)
        assert.Equal(t, tt.contentType, ct)
        assert.NotEmpty(t, data)
    }

    _, _, err := Export("xml", res, DocumentMetadata{})
    assert.ErrorContains(t, err, "unsupported export format")
}
