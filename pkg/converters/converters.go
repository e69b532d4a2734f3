// Package converters serializes extraction results for export.
package converters

import (
    "bytes"
    "encoding/csv"
    "encoding/json"
    "fmt"
    "strconv"
    "strings"
    "time"

    "github.com/feichai0017/document-extractor/internal/agent/aggregate"
    "github.com/feichai0017/document-extractor/internal/models"
)

const (
    FormatText = "text"
    FormatCSV  = "csv"
    FormatJSON = "json"
)

// now is replaced in tests.
var now = time.Now

// ProcessedDocument is the stored and downloadable form of a result.
type ProcessedDocument struct {
    TaskID              string              `json:"taskId,omitempty"`
    ExtractedText       string              `json:"extracted_text"`
    ExtractionTimestamp time.Time           `json:"extraction_timestamp"`
    Lines               []string            `json:"lines"`
    DocumentKind        models.DocumentKind `json:"documentKind"`
    Units               []models.Unit       `json:"units"`
    Diagnostics         models.Diagnostics  `json:"diagnostics"`
    Partial             bool                `json:"partial,omitempty"`
    Metadata            DocumentMetadata    `json:"metadata"`
}

type DocumentMetadata struct {
    FileName     string `json:"fileName,omitempty"`
    FileType     string `json:"fileType,omitempty"`
    FileSize     int64  `json:"fileSize,omitempty"`
    UnitCount    int    `json:"unitCount"`
    ProcessingMs int64  `json:"processingMs,omitempty"`
}

// NewProcessedDocument wraps res without copying its units.
func NewProcessedDocument(res *models.ExtractionResult, meta DocumentMetadata) *ProcessedDocument {
    meta.UnitCount = len(res.Units)
    return &ProcessedDocument{
        ExtractedText:       res.Text,
        ExtractionTimestamp: now().UTC(),
        Lines:               strings.Split(res.Text, "\n"),
        DocumentKind:        res.DocumentKind,
        Units:               res.Units,
        Diagnostics:         res.Diagnostics,
        Partial:             res.Partial,
        Metadata:            meta,
    }
}

// Result rebuilds the extraction result carried by d.
func (d *ProcessedDocument) Result() *models.ExtractionResult {
    return &models.ExtractionResult{
        DocumentKind: d.DocumentKind,
        Units:        d.Units,
        Text:         d.ExtractedText,
        Diagnostics:  d.Diagnostics,
        Partial:      d.Partial,
    }
}

func ToText(res *models.ExtractionResult) []byte {
    return []byte(res.Text)
}

var csvHeader = []string{"unit_index", "unit_kind", "node_kind", "source", "confidence", "text", "diagnostic"}

// ToCSV writes one row per content node, groups flattened in document
// order. Table cells are joined with " | ", one table row per line.
func ToCSV(res *models.ExtractionResult) ([]byte, error) {
    var buf bytes.Buffer
    w := csv.NewWriter(&buf)
    if err := w.Write(csvHeader); err != nil {
        return nil, fmt.Errorf("failed to write csv header: %w", err)
    }

    var werr error
    for _, u := range res.Units {
        for _, root := range u.Nodes {
            root.Walk(func(n *models.ContentNode) {
                if werr != nil {
                    return
                }
                werr = w.Write(csvRow(u, n))
            })
        }
    }
    if werr != nil {
        return nil, fmt.Errorf("failed to write csv row: %w", werr)
    }
    w.Flush()
    if err := w.Error(); err != nil {
        return nil, fmt.Errorf("failed to flush csv: %w", err)
    }
    return buf.Bytes(), nil
}

func csvRow(u models.Unit, n *models.ContentNode) []string {
    text := n.Text
    if n.Kind == models.NodeTable {
        text = aggregate.UnitText(models.Unit{Nodes: []*models.ContentNode{n}})
    }
    confidence := ""
    if n.Confidence != nil {
        confidence = strconv.FormatFloat(*n.Confidence, 'f', 2, 64)
    }
    source := n.Provenance.Source
    if source == "" {
        source = u.Source
    }
    return []string{
        strconv.Itoa(u.Index),
        string(u.Kind),
        string(n.Kind),
        string(source),
        confidence,
        text,
        n.Diagnostic,
    }
}

func ToJSON(res *models.ExtractionResult, meta DocumentMetadata) ([]byte, error) {
    data, err := json.MarshalIndent(NewProcessedDocument(res, meta), "", "  ")
    if err != nil {
        return nil, fmt.Errorf("failed to marshal result: %w", err)
    }
    return data, nil
}

// Export serializes res in format and returns the matching content type.
func Export(format string, res *models.ExtractionResult, meta DocumentMetadata) ([]byte, string, error) {
    switch strings.ToLower(format) {
    case FormatText, "txt":
        return ToText(res), "text/plain; charset=utf-8", nil
    case FormatCSV:
        data, err := ToCSV(res)
        return data, "text/csv; charset=utf-8", err
    case FormatJSON, "":
        data, err := ToJSON(res, meta)
        return data, "application/json; charset=utf-8", err
    default:
        return nil, "", fmt.Errorf("unsupported export format %q", format)
    }
}
