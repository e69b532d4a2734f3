// Package docx extracts the body, headers and footers of Word documents.
package docx

import (
    "context"
    "fmt"
    "strings"

    "github.com/feichai0017/document-extractor/internal/agent/document"
    "github.com/feichai0017/document-extractor/internal/agent/document/ooxml"
    "github.com/feichai0017/document-extractor/internal/agent/document/walker"
    "github.com/feichai0017/document-extractor/internal/models"
    "github.com/feichai0017/document-extractor/pkg/logger"
)

const documentPart = "word/document.xml"

type Extractor struct {
    logger logger.Logger
}

func NewExtractor(log logger.Logger) *Extractor {
    return &Extractor{logger: log.Named("docx")}
}

func (e *Extractor) Kind() models.DocumentKind { return models.KindDOCX }

type part struct {
    name string
    kind models.UnitKind
}

// Open lists the parts. Unit 0 is the body; headers then footers follow in
// part-name order.
func (e *Extractor) Open(ctx context.Context, data []byte) (document.Container, error) {
    archive, err := ooxml.Open(data)
    if err != nil {
        return nil, err
    }
    if !archive.Has(documentPart) {
        return nil, fmt.Errorf("%w: missing %s", models.ErrCorruptContainer, documentPart)
    }

    parts := []part{{name: documentPart, kind: models.UnitBody}}
    for _, name := range archive.Names("word/header", ".xml") {
        parts = append(parts, part{name: name, kind: models.UnitHeader})
    }
    for _, name := range archive.Names("word/footer", ".xml") {
        parts = append(parts, part{name: name, kind: models.UnitFooter})
    }

    e.logger.Debug("Opened document", logger.Int("parts", len(parts)))
    return &container{archive: archive, parts: parts, logger: e.logger}, nil
}

type container struct {
    archive *ooxml.Archive
    parts   []part
    logger  logger.Logger
}

func (c *container) UnitCount() int { return len(c.parts) }

func (c *container) UnitKind(index int) models.UnitKind { return c.parts[index].kind }

func (c *container) Close() error { return nil }

func (c *container) ProcessUnit(ctx context.Context, index int, env *document.Env) (models.Unit, error) {
    p := c.parts[index]
    unit := document.NewUnit(index, p.kind)

    root, err := c.archive.ReadXML(p.name)
    if err != nil {
        c.logger.Warn("Document part could not be parsed",
            logger.String("part", p.name),
            logger.Error(err),
        )
        return document.Settle(unit, fmt.Errorf("%w: %s: %v", models.ErrUnitParse, p.name, err))
    }
    rels, err := c.archive.Rels(p.name)
    if err != nil {
        c.logger.Warn("Part relationships unreadable", logger.String("part", p.name), logger.Error(err))
        rels = map[string]ooxml.Relationship{}
    }

    content := root
    if p.kind == models.UnitBody {
        if content = root.Child("body"); content == nil {
            return unit, nil
        }
    }
    b := builder{archive: c.archive, part: p.name, rels: rels}
    return document.Settle(unit, walker.Walk(ctx, env, &unit, b.blocks(content.Nodes)))
}

// builder normalizes WordprocessingML into walker shapes.
type builder struct {
    archive *ooxml.Archive
    part    string
    rels    map[string]ooxml.Relationship
}

func (b *builder) blocks(nodes []ooxml.Node) []walker.Shape {
    var out []walker.Shape
    for i := range nodes {
        n := &nodes[i]
        switch n.Local() {
        case "p":
            out = append(out, b.paragraph(n)...)
        case "tbl":
            var extras []walker.Shape
            out = append(out, walker.Shape{Kind: walker.ShapeTable, Rows: b.tableRows(n, &extras)})
            out = append(out, extras...)
        case "sdt":
            g := walker.Shape{Kind: walker.ShapeGroup}
            if alias := n.Path("sdtPr", "alias"); alias != nil {
                g.Name = alias.Attr("val")
            }
            if body := n.Child("sdtContent"); body != nil {
                g.Children = b.blocks(body.Nodes)
            }
            out = append(out, g)
        case "customXml":
            out = append(out, b.blocks(n.Nodes)...)
        case "AlternateContent":
            if choice := n.Child("Choice"); choice != nil {
                out = append(out, b.blocks(choice.Nodes)...)
            } else {
                out = append(out, walker.Shape{Kind: walker.ShapeUnsupported, Description: "alternate content"})
            }
        }
    }
    return out
}

// paragraph returns the paragraph's text followed by the drawings and
// objects anchored in it.
func (b *builder) paragraph(p *ooxml.Node) []walker.Shape {
    var (
        sb     strings.Builder
        extras []walker.Shape
    )
    b.inline(p.Nodes, &sb, &extras)
    out := make([]walker.Shape, 0, 1+len(extras))
    out = append(out, walker.Shape{Kind: walker.ShapeText, Text: sb.String(), Origin: models.UnitParagraph})
    return append(out, extras...)
}

func (b *builder) inline(nodes []ooxml.Node, sb *strings.Builder, extras *[]walker.Shape) {
    for i := range nodes {
        n := &nodes[i]
        switch n.Local() {
        case "r":
            b.run(n.Nodes, sb, extras)
        case "hyperlink", "ins", "smartTag", "fldSimple", "customXml", "sdtContent", "moveTo":
            b.inline(n.Nodes, sb, extras)
        case "sdt":
            if body := n.Child("sdtContent"); body != nil {
                b.inline(body.Nodes, sb, extras)
            }
        case "AlternateContent":
            if choice := n.Child("Choice"); choice != nil {
                b.inline(choice.Nodes, sb, extras)
            }
        }
    }
}

func (b *builder) run(nodes []ooxml.Node, sb *strings.Builder, extras *[]walker.Shape) {
    for i := range nodes {
        n := &nodes[i]
        switch n.Local() {
        case "t":
            sb.WriteString(n.Content)
        case "tab":
            sb.WriteByte('\t')
        case "br", "cr":
            sb.WriteByte('\n')
        case "drawing":
            *extras = append(*extras, b.drawing(n))
        case "pict":
            *extras = append(*extras, walker.Shape{Kind: walker.ShapeUnsupported, Description: "VML picture"})
        case "object":
            *extras = append(*extras, walker.Shape{Kind: walker.ShapeUnsupported, Description: "embedded object"})
        case "AlternateContent":
            if choice := n.Child("Choice"); choice != nil {
                b.run(choice.Nodes, sb, extras)
            }
        }
    }
}

func (b *builder) drawing(d *ooxml.Node) walker.Shape {
    name := ""
    if pr := d.Find("docPr"); pr != nil {
        name = pr.Attr("name")
    }
    data := d.Find("graphicData")
    if data == nil {
        return walker.Shape{Kind: walker.ShapeUnsupported, Name: name, Description: "empty drawing"}
    }
    return b.graphic(data, name)
}

func (b *builder) graphic(data *ooxml.Node, name string) walker.Shape {
    for i := range data.Nodes {
        n := &data.Nodes[i]
        switch n.Local() {
        case "pic":
            return b.picture(n, name)
        case "wgp":
            return walker.Shape{Kind: walker.ShapeGroup, Name: name, Children: b.groupItems(n.Nodes)}
        case "wsp":
            return b.textBox(n, name)
        case "chart":
            return walker.Shape{Kind: walker.ShapeUnsupported, Name: name, Description: "chart"}
        }
    }
    desc := "graphic"
    if strings.Contains(data.Attr("uri"), "/diagram") {
        desc = "SmartArt diagram"
    }
    return walker.Shape{Kind: walker.ShapeUnsupported, Name: name, Description: desc}
}

func (b *builder) groupItems(nodes []ooxml.Node) []walker.Shape {
    var out []walker.Shape
    for i := range nodes {
        n := &nodes[i]
        switch n.Local() {
        case "pic":
            out = append(out, b.picture(n, ""))
        case "wsp":
            out = append(out, b.textBox(n, ""))
        case "grpSp":
            out = append(out, walker.Shape{Kind: walker.ShapeGroup, Children: b.groupItems(n.Nodes)})
        case "graphicFrame":
            if data := n.Find("graphicData"); data != nil {
                out = append(out, b.graphic(data, ""))
            }
        }
    }
    return out
}

func (b *builder) picture(n *ooxml.Node, name string) walker.Shape {
    if pr := n.Find("cNvPr"); pr != nil && pr.Attr("name") != "" {
        name = pr.Attr("name")
    }
    blip := n.Find("blip")
    if blip == nil {
        return walker.Shape{Kind: walker.ShapeUnsupported, Name: name, Description: "picture without image data"}
    }
    embed := blip.AttrNS(ooxml.RelationshipNS, "embed")
    if embed == "" {
        return walker.Shape{Kind: walker.ShapeUnsupported, Name: name, Description: "linked image"}
    }
    return walker.Shape{Kind: walker.ShapeRaster, Name: name, Load: b.archive.Loader(b.part, b.rels, embed)}
}

// textBox reads the paragraphs of a shape's text box. Shapes without one
// carry no text. Drawings inside the box make it a group.
func (b *builder) textBox(n *ooxml.Node, name string) walker.Shape {
    box := n.Find("txbxContent")
    if box == nil {
        return walker.Shape{Kind: walker.ShapeText, Name: name}
    }
    var extras []walker.Shape
    text := walker.Shape{Kind: walker.ShapeText, Name: name, Text: b.plainText(box, &extras), Origin: models.UnitParagraph}
    if len(extras) == 0 {
        return text
    }
    return walker.Shape{Kind: walker.ShapeGroup, Name: name, Children: append([]walker.Shape{text}, extras...)}
}

// plainText joins the text of every paragraph under n with newlines. Drawings
// and objects anchored in those paragraphs are appended to extras.
func (b *builder) plainText(n *ooxml.Node, extras *[]walker.Shape) string {
    paras := n.FindAll("p")
    lines := make([]string, 0, len(paras))
    for _, p := range paras {
        var sb strings.Builder
        b.inline(p.Nodes, &sb, extras)
        lines = append(lines, sb.String())
    }
    return strings.TrimSpace(strings.Join(lines, "\n"))
}

// tableRows reads the cell text of tbl. Drawings in cells go to extras in
// row-major order.
func (b *builder) tableRows(tbl *ooxml.Node, extras *[]walker.Shape) [][]string {
    var rows [][]string
    for i := range tbl.Nodes {
        tr := &tbl.Nodes[i]
        if tr.Local() != "tr" {
            continue
        }
        var row []string
        for j := range tr.Nodes {
            tc := &tr.Nodes[j]
            if tc.Local() != "tc" {
                continue
            }
            row = append(row, strings.ReplaceAll(b.plainText(tc, extras), "\n", " "))
        }
        rows = append(rows, row)
    }
    return rows
}
