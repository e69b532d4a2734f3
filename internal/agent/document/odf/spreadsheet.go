package odf

import (
    "context"

    "github.com/feichai0017/document-extractor/internal/agent/document"
    "github.com/feichai0017/document-extractor/internal/agent/document/ooxml"
    "github.com/feichai0017/document-extractor/internal/agent/document/walker"
    "github.com/feichai0017/document-extractor/internal/models"
    "github.com/feichai0017/document-extractor/pkg/logger"
)

// SpreadsheetExtractor reads OpenDocument spreadsheets, one unit per
// table:table.
type SpreadsheetExtractor struct {
    logger logger.Logger
}

func NewSpreadsheetExtractor(log logger.Logger) *SpreadsheetExtractor {
    return &SpreadsheetExtractor{logger: log.Named("ods")}
}

func (e *SpreadsheetExtractor) Kind() models.DocumentKind { return models.KindODS }

func (e *SpreadsheetExtractor) Open(ctx context.Context, data []byte) (document.Container, error) {
    archive, body, err := openBody(data, "spreadsheet")
    if err != nil {
        return nil, err
    }
    var tables []*element
    for _, c := range body.children {
        if c.name == "table" {
            tables = append(tables, c)
        }
    }
    e.logger.Debug("Opened spreadsheet", logger.Int("sheets", len(tables)))
    return &sheetContainer{archive: archive, tables: tables}, nil
}

type sheetContainer struct {
    archive *ooxml.Archive
    tables  []*element
}

func (c *sheetContainer) UnitCount() int { return len(c.tables) }

func (c *sheetContainer) UnitKind(int) models.UnitKind { return models.UnitSheet }

func (c *sheetContainer) Close() error { return nil }

// ProcessUnit emits the sheet name, its cells as one table, then the
// frames anchored on the sheet or in its cells.
func (c *sheetContainer) ProcessUnit(ctx context.Context, index int, env *document.Env) (models.Unit, error) {
    unit := document.NewUnit(index, models.UnitSheet)
    tbl := c.tables[index]

    b := builder{archive: c.archive}
    var extras []walker.Shape
    shapes := []walker.Shape{
        {Kind: walker.ShapeText, Text: tbl.attr("name")},
        {Kind: walker.ShapeTable, Rows: b.tableRows(tbl, &extras)},
    }
    if drawn := tbl.child("shapes"); drawn != nil {
        shapes = append(shapes, b.blocks(drawn.children)...)
    }
    shapes = append(shapes, extras...)
    if b.err != nil {
        return document.Settle(unit, b.err)
    }
    return document.Settle(unit, walker.Walk(ctx, env, &unit, shapes))
}
