// Package xlsx extracts the worksheets of Excel workbooks, one unit per
// sheet in workbook order.
package xlsx

import (
    "context"
    "fmt"
    "strconv"
    "strings"

    "github.com/feichai0017/document-extractor/internal/agent/document"
    "github.com/feichai0017/document-extractor/internal/agent/document/ooxml"
    "github.com/feichai0017/document-extractor/internal/agent/document/walker"
    "github.com/feichai0017/document-extractor/internal/models"
    "github.com/feichai0017/document-extractor/pkg/logger"
)

const (
    workbookPart = "xl/workbook.xml"
    stringsPart  = "xl/sharedStrings.xml"

    // MaxCells caps the dense grid built for one sheet.
    MaxCells = 1 << 20
)

type Extractor struct {
    logger logger.Logger
}

func NewExtractor(log logger.Logger) *Extractor {
    return &Extractor{logger: log.Named("xlsx")}
}

func (e *Extractor) Kind() models.DocumentKind { return models.KindXLSX }

type sheet struct {
    name string
    part string
}

// Open reads the sheet list and the shared string table.
func (e *Extractor) Open(ctx context.Context, data []byte) (document.Container, error) {
    archive, err := ooxml.Open(data)
    if err != nil {
        return nil, err
    }
    if !archive.Has(workbookPart) {
        return nil, fmt.Errorf("%w: missing %s", models.ErrCorruptContainer, workbookPart)
    }
    wb, err := archive.ReadXML(workbookPart)
    if err != nil {
        return nil, fmt.Errorf("%w: workbook: %v", models.ErrCorruptContainer, err)
    }
    rels, err := archive.Rels(workbookPart)
    if err != nil {
        return nil, fmt.Errorf("%w: %v", models.ErrCorruptContainer, err)
    }

    var sheets []sheet
    if list := wb.Child("sheets"); list != nil {
        for i, s := range list.FindAll("sheet") {
            part := fmt.Sprintf("xl/worksheets/sheet%d.xml", i+1)
            if rel, ok := rels[s.AttrNS(ooxml.RelationshipNS, "id")]; ok && !rel.External() {
                part = ooxml.ResolveTarget(workbookPart, rel.Target)
            }
            sheets = append(sheets, sheet{name: s.Attr("name"), part: part})
        }
    }

    shared, err := sharedStrings(archive)
    if err != nil {
        return nil, fmt.Errorf("%w: shared strings: %v", models.ErrCorruptContainer, err)
    }

    e.logger.Debug("Opened workbook",
        logger.Int("sheets", len(sheets)),
        logger.Int("sharedStrings", len(shared)),
    )
    return &container{archive: archive, sheets: sheets, shared: shared, logger: e.logger}, nil
}

// sharedStrings reads the string table. Rich text entries concatenate their
// runs. Workbooks without a table have no shared strings.
func sharedStrings(archive *ooxml.Archive) ([]string, error) {
    if !archive.Has(stringsPart) {
        return nil, nil
    }
    sst, err := archive.ReadXML(stringsPart)
    if err != nil {
        return nil, err
    }
    items := sst.FindAll("si")
    out := make([]string, len(items))
    for i, si := range items {
        out[i] = inlineText(si)
    }
    return out, nil
}

// inlineText reads an si or is element, skipping phonetic runs.
func inlineText(n *ooxml.Node) string {
    var sb strings.Builder
    for i := range n.Nodes {
        c := &n.Nodes[i]
        switch c.Local() {
        case "t":
            sb.WriteString(c.Content)
        case "r":
            sb.WriteString(c.Text("t"))
        }
    }
    return sb.String()
}

type container struct {
    archive *ooxml.Archive
    sheets  []sheet
    shared  []string
    logger  logger.Logger
}

func (c *container) UnitCount() int { return len(c.sheets) }

func (c *container) UnitKind(int) models.UnitKind { return models.UnitSheet }

func (c *container) Close() error { return nil }

func (c *container) ProcessUnit(ctx context.Context, index int, env *document.Env) (models.Unit, error) {
    s := c.sheets[index]
    unit := document.NewUnit(index, models.UnitSheet)

    root, err := c.archive.ReadXML(s.part)
    if err != nil {
        c.logger.Warn("Worksheet could not be parsed",
            logger.String("sheet", s.name),
            logger.String("part", s.part),
            logger.Error(err),
        )
        return document.Settle(unit, fmt.Errorf("%w: %s: %v", models.ErrUnitParse, s.part, err))
    }
    rows, err := c.grid(root)
    if err != nil {
        return document.Settle(unit, fmt.Errorf("sheet %q: %w", s.name, err))
    }

    shapes := []walker.Shape{
        {Kind: walker.ShapeText, Text: s.name},
        {Kind: walker.ShapeTable, Rows: rows},
    }
    shapes = append(shapes, c.drawings(root, s.part)...)
    return document.Settle(unit, walker.Walk(ctx, env, &unit, shapes))
}

type cell struct {
    row, col int
    value    string
}

// grid lays the sheet's cells out densely from A1 to the last used cell.
func (c *container) grid(root *ooxml.Node) ([][]string, error) {
    data := root.Child("sheetData")
    if data == nil {
        return nil, nil
    }
    var (
        cells          []cell
        maxRow, maxCol = -1, -1
        nextRow        int
    )
    for _, r := range data.FindAll("row") {
        rowIdx := nextRow
        if n, err := strconv.Atoi(r.Attr("r")); err == nil && n > 0 {
            rowIdx = n - 1
        }
        nextRow = rowIdx + 1

        nextCol := 0
        for _, x := range r.FindAll("c") {
            col := nextCol
            if ref := x.Attr("r"); ref != "" {
                if cc, _, err := ParseCellRef(ref); err == nil {
                    col = cc
                }
            }
            nextCol = col + 1

            v := c.value(x)
            if v == "" {
                continue
            }
            cells = append(cells, cell{row: rowIdx, col: col, value: v})
            maxRow = max(maxRow, rowIdx)
            maxCol = max(maxCol, col)
        }
    }
    if len(cells) == 0 {
        return nil, nil
    }
    if (maxRow+1)*(maxCol+1) > MaxCells {
        return nil, fmt.Errorf("%w: %d rows by %d columns", models.ErrResourceExceeded, maxRow+1, maxCol+1)
    }

    rows := make([][]string, maxRow+1)
    for i := range rows {
        rows[i] = make([]string, maxCol+1)
    }
    for _, x := range cells {
        rows[x.row][x.col] = x.value
    }
    return rows, nil
}

// value renders a cell's cached value. Formulas without one are empty.
func (c *container) value(x *ooxml.Node) string {
    v := ""
    if n := x.Child("v"); n != nil {
        v = n.Content
    }
    switch x.Attr("t") {
    case "s":
        idx, err := strconv.Atoi(strings.TrimSpace(v))
        if err != nil || idx < 0 || idx >= len(c.shared) {
            return ""
        }
        return c.shared[idx]
    case "b":
        if strings.TrimSpace(v) == "1" {
            return "TRUE"
        }
        return "FALSE"
    case "inlineStr":
        if is := x.Child("is"); is != nil {
            return inlineText(is)
        }
        return ""
    default:
        return v
    }
}

// drawings returns the pictures, text boxes and charts anchored on the sheet.
func (c *container) drawings(root *ooxml.Node, part string) []walker.Shape {
    var out []walker.Shape
    rels, err := c.archive.Rels(part)
    if err != nil {
        c.logger.Warn("Worksheet relationships unreadable", logger.String("part", part), logger.Error(err))
        return nil
    }
    for _, d := range root.FindAll("drawing") {
        rel, ok := rels[d.AttrNS(ooxml.RelationshipNS, "id")]
        if !ok || rel.External() {
            continue
        }
        name := ooxml.ResolveTarget(part, rel.Target)
        drawing, err := c.archive.ReadXML(name)
        if err != nil {
            out = append(out, walker.Shape{Kind: walker.ShapeUnsupported, Description: "unreadable drawing " + name})
            continue
        }
        drels, err := c.archive.Rels(name)
        if err != nil {
            drels = map[string]ooxml.Relationship{}
        }
        out = append(out, c.anchors(drawing.Nodes, name, drels)...)
    }
    return out
}

func (c *container) anchors(nodes []ooxml.Node, part string, rels map[string]ooxml.Relationship) []walker.Shape {
    var out []walker.Shape
    for i := range nodes {
        n := &nodes[i]
        switch n.Local() {
        case "twoCellAnchor", "oneCellAnchor", "absoluteAnchor", "grpSp":
            out = append(out, c.anchors(n.Nodes, part, rels)...)
        case "pic":
            name := ""
            if pr := n.Find("cNvPr"); pr != nil {
                name = pr.Attr("name")
            }
            blip := n.Find("blip")
            if blip == nil || blip.AttrNS(ooxml.RelationshipNS, "embed") == "" {
                out = append(out, walker.Shape{Kind: walker.ShapeUnsupported, Name: name, Description: "linked image"})
                continue
            }
            out = append(out, walker.Shape{
                Kind: walker.ShapeRaster,
                Name: name,
                Load: c.archive.Loader(part, rels, blip.AttrNS(ooxml.RelationshipNS, "embed")),
            })
        case "sp":
            if body := n.Child("txBody"); body != nil {
                var lines []string
                for _, p := range body.FindAll("p") {
                    lines = append(lines, p.Text("t"))
                }
                out = append(out, walker.Shape{Kind: walker.ShapeText, Text: strings.Join(lines, "\n")})
            }
        case "graphicFrame":
            out = append(out, walker.Shape{Kind: walker.ShapeUnsupported, Description: "chart"})
        }
    }
    return out
}

// ParseCellRef converts a reference like "B3" to zero-based column and row.
func ParseCellRef(ref string) (col, row int, err error) {
    i := 0
    for i < len(ref) && ((ref[i] >= 'A' && ref[i] <= 'Z') || (ref[i] >= 'a' && ref[i] <= 'z')) {
        i++
    }
    if i == 0 || i == len(ref) || i > 3 {
        return 0, 0, fmt.Errorf("invalid cell reference %q", ref)
    }
    for _, ch := range strings.ToUpper(ref[:i]) {
        col = col*26 + int(ch-'A'+1)
    }
    n, err := strconv.Atoi(ref[i:])
    if err != nil || n < 1 {
        return 0, 0, fmt.Errorf("invalid cell reference %q", ref)
    }
    return col - 1, n - 1, nil
}
