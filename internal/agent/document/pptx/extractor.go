// Package pptx extracts slides from PowerPoint presentations.
package pptx

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

const presentationPart = "ppt/presentation.xml"

type Extractor struct {
    logger logger.Logger
}

func NewExtractor(log logger.Logger) *Extractor {
    return &Extractor{logger: log.Named("pptx")}
}

func (e *Extractor) Kind() models.DocumentKind { return models.KindPPTX }

// Open resolves the slide order from presentation.xml. Slides listed there
// but missing from the package surface later as unit failures.
func (e *Extractor) Open(ctx context.Context, data []byte) (document.Container, error) {
    archive, err := ooxml.Open(data)
    if err != nil {
        return nil, err
    }
    if !archive.Has(presentationPart) {
        return nil, fmt.Errorf("%w: missing %s", models.ErrCorruptContainer, presentationPart)
    }
    root, err := archive.ReadXML(presentationPart)
    if err != nil {
        return nil, fmt.Errorf("%w: %s: %v", models.ErrCorruptContainer, presentationPart, err)
    }
    rels, err := archive.Rels(presentationPart)
    if err != nil {
        return nil, fmt.Errorf("%w: %v", models.ErrCorruptContainer, err)
    }

    var slides []string
    if list := root.Child("sldIdLst"); list != nil {
        for i := range list.Nodes {
            id := list.Nodes[i].AttrNS(ooxml.RelationshipNS, "id")
            rel, ok := rels[id]
            if !ok {
                e.logger.Warn("Slide relationship not found", logger.String("rid", id))
                continue
            }
            slides = append(slides, ooxml.ResolveTarget(presentationPart, rel.Target))
        }
    } else {
        slides = archive.Names("ppt/slides/slide", ".xml")
    }

    e.logger.Debug("Opened presentation", logger.Int("slides", len(slides)))
    return &container{archive: archive, slides: slides, logger: e.logger}, nil
}

type container struct {
    archive *ooxml.Archive
    slides  []string
    logger  logger.Logger
}

func (c *container) UnitCount() int { return len(c.slides) }

func (c *container) UnitKind(int) models.UnitKind { return models.UnitSlide }

func (c *container) Close() error { return nil }

func (c *container) ProcessUnit(ctx context.Context, index int, env *document.Env) (models.Unit, error) {
    unit := document.NewUnit(index, models.UnitSlide)
    part := c.slides[index]

    root, err := c.archive.ReadXML(part)
    if err != nil {
        c.logger.Warn("Slide could not be parsed",
            logger.Int("slide", index+1),
            logger.String("part", part),
            logger.Error(err),
        )
        return document.Settle(unit, fmt.Errorf("%w: slide %d: %v", models.ErrUnitParse, index+1, err))
    }
    rels, err := c.archive.Rels(part)
    if err != nil {
        c.logger.Warn("Slide relationships unreadable", logger.String("part", part), logger.Error(err))
        rels = map[string]ooxml.Relationship{}
    }

    tree := root.Find("spTree")
    if tree == nil {
        return unit, nil
    }
    b := builder{archive: c.archive, part: part, rels: rels}
    return document.Settle(unit, walker.Walk(ctx, env, &unit, b.shapes(tree.Nodes)))
}

// builder normalizes slide XML into walker shapes.
type builder struct {
    archive *ooxml.Archive
    part    string
    rels    map[string]ooxml.Relationship
}

func (b *builder) shapes(nodes []ooxml.Node) []walker.Shape {
    out := make([]walker.Shape, 0, len(nodes))
    for i := range nodes {
        n := &nodes[i]
        switch n.Local() {
        case "sp":
            if txBody := n.Child("txBody"); txBody != nil {
                out = append(out, walker.Shape{Kind: walker.ShapeText, Name: shapeName(n), Text: bodyText(txBody, "\n")})
            }
        case "grpSp":
            out = append(out, walker.Shape{Kind: walker.ShapeGroup, Name: shapeName(n), Children: b.shapes(n.Nodes)})
        case "pic":
            out = append(out, b.picture(n))
        case "graphicFrame":
            out = append(out, graphicFrame(n))
        case "AlternateContent":
            out = append(out, walker.Shape{Kind: walker.ShapeUnsupported, Description: "alternate content"})
        case "contentPart":
            out = append(out, walker.Shape{Kind: walker.ShapeUnsupported, Description: "ink annotation"})
        case "cxnSp", "nvGrpSpPr", "grpSpPr", "extLst":
        default:
            out = append(out, walker.Shape{Kind: walker.ShapeUnsupported, Description: "unsupported element " + n.Local()})
        }
    }
    return out
}

func (b *builder) picture(n *ooxml.Node) walker.Shape {
    name := shapeName(n)
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

func graphicFrame(n *ooxml.Node) walker.Shape {
    name := shapeName(n)
    data := n.Find("graphicData")
    if data == nil {
        return walker.Shape{Kind: walker.ShapeUnsupported, Name: name, Description: "empty graphic frame"}
    }
    if tbl := data.Find("tbl"); tbl != nil {
        return walker.Shape{Kind: walker.ShapeTable, Name: name, Rows: tableRows(tbl)}
    }
    uri := data.Attr("uri")
    desc := "graphic frame"
    switch {
    case strings.Contains(uri, "/chart"):
        desc = "chart"
    case strings.Contains(uri, "/diagram"):
        desc = "SmartArt diagram"
    case strings.Contains(uri, "/ole"):
        desc = "OLE object"
    }
    return walker.Shape{Kind: walker.ShapeUnsupported, Name: name, Description: desc}
}

func tableRows(tbl *ooxml.Node) [][]string {
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
            text := ""
            if body := tc.Child("txBody"); body != nil {
                text = bodyText(body, " ")
            }
            row = append(row, text)
        }
        rows = append(rows, row)
    }
    return rows
}

// bodyText joins the paragraphs of a text body with sep.
func bodyText(body *ooxml.Node, sep string) string {
    var paras []string
    for i := range body.Nodes {
        p := &body.Nodes[i]
        if p.Local() != "p" {
            continue
        }
        var sb strings.Builder
        for j := range p.Nodes {
            switch r := &p.Nodes[j]; r.Local() {
            case "r", "fld":
                sb.WriteString(r.Text("t"))
            case "br":
                sb.WriteString("\n")
            }
        }
        paras = append(paras, sb.String())
    }
    return strings.TrimSpace(strings.Join(paras, sep))
}

func shapeName(n *ooxml.Node) string {
    if pr := n.Find("cNvPr"); pr != nil {
        return pr.Attr("name")
    }
    return ""
}
