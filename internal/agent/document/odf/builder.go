// Package odf extracts OpenDocument text documents, presentations and
// spreadsheets.
package odf

import (
    "encoding/base64"
    "fmt"
    "path"
    "strconv"
    "strings"

    "github.com/feichai0017/document-extractor/internal/agent/document/ooxml"
    "github.com/feichai0017/document-extractor/internal/agent/document/walker"
    "github.com/feichai0017/document-extractor/internal/models"
)

const (
    contentPart = "content.xml"
    stylesPart  = "styles.xml"

    // MaxCells caps the expanded size of one table.
    MaxCells = 1 << 20
)

// drawShapes are the draw: elements whose only content is their text.
var drawShapes = map[string]bool{
    "custom-shape": true, "rect": true, "ellipse": true, "circle": true, "polygon": true,
    "polyline": true, "regular-polygon": true, "path": true, "line": true, "connector": true,
    "caption": true, "measure": true,
}

// skipInline are inline elements that carry no body text.
var skipInline = map[string]bool{
    "annotation": true, "note-citation": true, "tracked-changes": true, "ruby-text": true,
    "bookmark": true, "bookmark-start": true, "bookmark-end": true, "change-start": true,
    "change-end": true, "change": true, "soft-page-break": true,
}

// builder normalizes ODF content into walker shapes. The first resource
// limit hit is kept in err.
type builder struct {
    archive *ooxml.Archive
    err     error
}

func (b *builder) blocks(nodes []*element) []walker.Shape {
    var out []walker.Shape
    for _, n := range nodes {
        switch n.name {
        case "p", "h":
            out = append(out, b.paragraph(n)...)
        case "list":
            g := walker.Shape{Kind: walker.ShapeGroup}
            for _, item := range n.children {
                if item.name == "list-item" || item.name == "list-header" {
                    g.Children = append(g.Children, b.blocks(item.children)...)
                }
            }
            out = append(out, g)
        case "section":
            out = append(out, walker.Shape{Kind: walker.ShapeGroup, Name: n.attr("name"), Children: b.blocks(n.children)})
        case "table-of-content", "alphabetical-index", "illustration-index", "table-index",
            "object-index", "user-index", "bibliography":
            if body := n.child("index-body"); body != nil {
                out = append(out, b.blocks(body.children)...)
            }
        case "table":
            var extras []walker.Shape
            out = append(out, walker.Shape{Kind: walker.ShapeTable, Rows: b.tableRows(n, &extras)})
            out = append(out, extras...)
        case "shapes":
            out = append(out, b.blocks(n.children)...)
        case "frame":
            out = append(out, b.frame(n))
        case "g":
            out = append(out, walker.Shape{Kind: walker.ShapeGroup, Name: n.attr("name"), Children: b.blocks(n.children)})
        case "a":
            out = append(out, b.blocks(n.children)...)
        default:
            if drawShapes[n.name] {
                out = append(out, b.shapeText(n))
            }
        }
    }
    return out
}

// paragraph returns the paragraph's text followed by the frames and notes
// anchored in it.
func (b *builder) paragraph(p *element) []walker.Shape {
    var (
        sb     strings.Builder
        extras []walker.Shape
    )
    b.inline(p.children, &sb, &extras)
    out := make([]walker.Shape, 0, 1+len(extras))
    out = append(out, walker.Shape{Kind: walker.ShapeText, Text: sb.String(), Origin: models.UnitParagraph})
    return append(out, extras...)
}

func (b *builder) inline(nodes []*element, sb *strings.Builder, extras *[]walker.Shape) {
    for _, n := range nodes {
        switch {
        case n.name == "":
            sb.WriteString(whitespace(n.text))
        case n.name == "s":
            count := 1
            if c, err := strconv.Atoi(n.attr("c")); err == nil && c > 0 {
                count = min(c, 1024)
            }
            sb.WriteString(strings.Repeat(" ", count))
        case n.name == "tab":
            sb.WriteByte('\t')
        case n.name == "line-break":
            sb.WriteByte('\n')
        case n.name == "frame":
            *extras = append(*extras, b.frame(n))
        case n.name == "note":
            if body := n.child("note-body"); body != nil {
                *extras = append(*extras, b.blocks(body.children)...)
            }
        case drawShapes[n.name]:
            *extras = append(*extras, b.shapeText(n))
        case n.name == "g":
            *extras = append(*extras, walker.Shape{Kind: walker.ShapeGroup, Name: n.attr("name"), Children: b.blocks(n.children)})
        case skipInline[n.name]:
        default:
            b.inline(n.children, sb, extras)
        }
    }
}

func (b *builder) shapeText(n *element) walker.Shape {
    var extras []walker.Shape
    text := walker.Shape{Kind: walker.ShapeText, Name: n.attr("name"), Text: b.plainText(n, &extras)}
    if len(extras) == 0 {
        return text
    }
    return walker.Shape{Kind: walker.ShapeGroup, Name: text.Name, Children: append([]walker.Shape{text}, extras...)}
}

// frame resolves a draw:frame to its first image, text box or object.
func (b *builder) frame(f *element) walker.Shape {
    name := f.attr("name")
    for _, c := range f.children {
        switch c.name {
        case "image":
            return b.image(c, name)
        case "text-box":
            return walker.Shape{Kind: walker.ShapeGroup, Name: name, Children: b.blocks(c.children)}
        case "object", "object-ole":
            return walker.Shape{Kind: walker.ShapeUnsupported, Name: name, Description: "embedded object"}
        case "plugin", "applet", "floating-frame":
            return walker.Shape{Kind: walker.ShapeUnsupported, Name: name, Description: c.name}
        }
    }
    return walker.Shape{Kind: walker.ShapeUnsupported, Name: name, Description: "empty frame"}
}

func (b *builder) image(img *element, name string) walker.Shape {
    if bin := img.child("binary-data"); bin != nil {
        payload := plainContent(bin)
        return walker.Shape{Kind: walker.ShapeRaster, Name: name, Load: func() ([]byte, error) {
            data, err := base64.StdEncoding.DecodeString(strings.Join(strings.Fields(payload), ""))
            if err != nil {
                return nil, fmt.Errorf("failed to decode inline image: %w", err)
            }
            return data, nil
        }}
    }
    href := img.attr("href")
    if href == "" || strings.Contains(href, "://") {
        return walker.Shape{Kind: walker.ShapeUnsupported, Name: name, Description: "linked image"}
    }
    part := strings.TrimPrefix(path.Clean(strings.TrimPrefix(href, "./")), "/")
    return walker.Shape{Kind: walker.ShapeRaster, Name: name, Load: func() ([]byte, error) {
        return b.archive.Read(part)
    }}
}

// plainText joins the paragraphs under n with newlines. Frames met on the
// way go to extras.
func (b *builder) plainText(n *element, extras *[]walker.Shape) string {
    var lines []string
    var walk func(nodes []*element)
    walk = func(nodes []*element) {
        for _, c := range nodes {
            switch c.name {
            case "p", "h":
                var sb strings.Builder
                b.inline(c.children, &sb, extras)
                lines = append(lines, strings.TrimSpace(sb.String()))
            case "frame":
                *extras = append(*extras, b.frame(c))
            case "":
            default:
                walk(c.children)
            }
        }
    }
    walk(n.children)
    return strings.TrimSpace(strings.Join(lines, "\n"))
}

// tableRows expands repeated rows and columns. Empty rows and trailing
// empty cells are dropped before expansion so that the filler a spreadsheet
// writes out to its row and column limits costs nothing.
func (b *builder) tableRows(tbl *element, extras *[]walker.Shape) [][]string {
    var (
        rows  [][]string
        cells int
    )
    for _, tr := range tableRowElements(tbl) {
        row := b.rowCells(tr, extras)
        if len(row) == 0 {
            continue
        }
        repeat := repeated(tr, "number-rows-repeated")
        if cells += len(row) * repeat; cells > MaxCells {
            if b.err == nil {
                b.err = fmt.Errorf("%w: table exceeds %d cells", models.ErrResourceExceeded, MaxCells)
            }
            return rows
        }
        for i := 0; i < repeat; i++ {
            rows = append(rows, row)
        }
    }
    return rows
}

func tableRowElements(tbl *element) []*element {
    var out []*element
    for _, c := range tbl.children {
        switch c.name {
        case "table-row":
            out = append(out, c)
        case "table-header-rows", "table-rows", "table-row-group":
            out = append(out, tableRowElements(c)...)
        }
    }
    return out
}

func (b *builder) rowCells(tr *element, extras *[]walker.Shape) []string {
    var (
        row     []string
        pending int
    )
    for _, tc := range tr.children {
        if tc.name != "table-cell" && tc.name != "covered-table-cell" {
            continue
        }
        text := strings.ReplaceAll(b.plainText(tc, extras), "\n", " ")
        repeat := repeated(tc, "number-columns-repeated")
        if text == "" {
            pending += repeat
            continue
        }
        if len(row)+pending+repeat > MaxCells {
            if b.err == nil {
                b.err = fmt.Errorf("%w: row exceeds %d cells", models.ErrResourceExceeded, MaxCells)
            }
            return row
        }
        for ; pending > 0; pending-- {
            row = append(row, "")
        }
        for i := 0; i < repeat; i++ {
            row = append(row, text)
        }
    }
    return row
}

func repeated(e *element, attr string) int {
    n, err := strconv.Atoi(e.attr(attr))
    if err != nil || n < 1 {
        return 1
    }
    return n
}

// plainContent concatenates the character data under e.
func plainContent(e *element) string {
    var sb strings.Builder
    for _, c := range e.children {
        if c.name == "" {
            sb.WriteString(c.text)
        } else {
            sb.WriteString(plainContent(c))
        }
    }
    return sb.String()
}
