// Package delimited extracts delimited text files as a single table.
package delimited

import (
    "bytes"
    "context"
    "encoding/csv"
    "errors"
    "fmt"
    "io"
    "strings"

    "golang.org/x/text/encoding/unicode"
    "golang.org/x/text/transform"

    "github.com/feichai0017/document-extractor/internal/agent/document"
    "github.com/feichai0017/document-extractor/internal/agent/document/text"
    "github.com/feichai0017/document-extractor/internal/agent/document/walker"
    "github.com/feichai0017/document-extractor/internal/models"
    "github.com/feichai0017/document-extractor/pkg/logger"
)

// MaxCells caps the number of fields read from one file.
const MaxCells = 1 << 20

type Extractor struct {
    logger logger.Logger
}

func NewExtractor(log logger.Logger) *Extractor {
    return &Extractor{logger: log.Named("delimited")}
}

func (e *Extractor) Kind() models.DocumentKind { return models.KindCSV }

func (e *Extractor) Open(ctx context.Context, data []byte) (document.Container, error) {
    decoded, _, err := transform.Bytes(unicode.BOMOverride(unicode.UTF8.NewDecoder()), data)
    if err != nil {
        return nil, fmt.Errorf("%w: %v", models.ErrCorruptContainer, err)
    }
    return &container{data: decoded, logger: e.logger}, nil
}

type container struct {
    data   []byte
    logger logger.Logger
}

func (c *container) UnitCount() int { return 1 }

func (c *container) UnitKind(int) models.UnitKind { return models.UnitSheet }

func (c *container) Close() error { return nil }

func (c *container) ProcessUnit(ctx context.Context, index int, env *document.Env) (models.Unit, error) {
    unit := document.NewUnit(index, models.UnitSheet)

    rows, err := Records(c.data)
    switch {
    case errors.Is(err, models.ErrResourceExceeded):
        return document.Settle(unit, err)
    case err != nil:
        // Not really delimited; keep the text.
        c.logger.Warn("Delimited parse failed, falling back to plain text", logger.Error(err))
        var shapes []walker.Shape
        for _, p := range text.Paragraphs(string(c.data)) {
            shapes = append(shapes, walker.Shape{Kind: walker.ShapeText, Text: p, Origin: models.UnitParagraph})
        }
        return document.Settle(unit, walker.Walk(ctx, env, &unit, shapes))
    }
    return document.Settle(unit, walker.Walk(ctx, env, &unit, []walker.Shape{{Kind: walker.ShapeTable, Rows: rows}}))
}

// Records reads every record of data. The delimiter is whichever of comma,
// semicolon or tab appears most on the first line.
func Records(data []byte) ([][]string, error) {
    r := csv.NewReader(bytes.NewReader(data))
    r.Comma = Delimiter(data)
    r.LazyQuotes = true
    r.FieldsPerRecord = -1

    var (
        rows  [][]string
        cells int
    )
    for {
        rec, err := r.Read()
        if err == io.EOF {
            return rows, nil
        }
        if err != nil {
            return nil, err
        }
        if cells += len(rec); cells > MaxCells {
            return nil, fmt.Errorf("%w: more than %d fields", models.ErrResourceExceeded, MaxCells)
        }
        rows = append(rows, rec)
    }
}

func Delimiter(data []byte) rune {
    line, _, _ := strings.Cut(string(data[:min(len(data), 4096)]), "\n")
    best, count := ',', strings.Count(line, ",")
    for _, d := range []rune{';', '\t'} {
        if n := strings.Count(line, string(d)); n > count {
            best, count = d, n
        }
    }
    return best
}
