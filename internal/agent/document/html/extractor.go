// Package html extracts block text, tables and inline images from HTML pages.
package html

import (
    "bytes"
    "context"
    "encoding/base64"
    "fmt"
    "net/url"
    "strings"

    "golang.org/x/net/html"
    "golang.org/x/net/html/atom"

    "github.com/feichai0017/document-extractor/internal/agent/document"
    "github.com/feichai0017/document-extractor/internal/agent/document/walker"
    "github.com/feichai0017/document-extractor/internal/models"
    "github.com/feichai0017/document-extractor/pkg/logger"
)

// maxDOMDepth stops the block scan on pathologically nested markup.
const maxDOMDepth = 512

type Extractor struct {
    logger logger.Logger
}

func NewExtractor(log logger.Logger) *Extractor {
    return &Extractor{logger: log.Named("html")}
}

func (e *Extractor) Kind() models.DocumentKind { return models.KindHTML }

func (e *Extractor) Open(ctx context.Context, data []byte) (document.Container, error) {
    root, err := html.Parse(bytes.NewReader(data))
    if err != nil {
        return nil, fmt.Errorf("%w: %v", models.ErrCorruptContainer, err)
    }
    return &container{root: root}, nil
}

type container struct {
    root *html.Node
}

func (c *container) UnitCount() int { return 1 }

func (c *container) UnitKind(int) models.UnitKind { return models.UnitBody }

func (c *container) Close() error { return nil }

func (c *container) ProcessUnit(ctx context.Context, index int, env *document.Env) (models.Unit, error) {
    unit := document.NewUnit(index, models.UnitBody)
    return document.Settle(unit, walker.Walk(ctx, env, &unit, scan(c.root, nil)))
}

// Resolver returns a loader for a non-data image source, or nil when the
// source cannot be read.
type Resolver func(src string) func() ([]byte, error)

// Shapes parses data as HTML and returns its normalized shapes. Image
// sources that are not data URIs go through resolve when it is set.
func Shapes(data []byte, resolve Resolver) ([]walker.Shape, error) {
    root, err := html.Parse(bytes.NewReader(data))
    if err != nil {
        return nil, fmt.Errorf("%w: %v", models.ErrUnitParse, err)
    }
    return scan(root, resolve), nil
}

func scan(root *html.Node, resolve Resolver) []walker.Shape {
    s := &scanner{resolve: resolve}
    s.visit(root, 0)
    s.flush()
    return s.shapes
}

var blockAtoms = map[atom.Atom]bool{
    atom.P: true, atom.Div: true, atom.Li: true, atom.Pre: true, atom.Blockquote: true,
    atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
    atom.Section: true, atom.Article: true, atom.Header: true, atom.Footer: true, atom.Main: true,
    atom.Aside: true, atom.Nav: true, atom.Ul: true, atom.Ol: true, atom.Dl: true, atom.Dt: true,
    atom.Dd: true, atom.Figure: true, atom.Figcaption: true, atom.Title: true, atom.Address: true,
    atom.Form: true, atom.Fieldset: true, atom.Hr: true, atom.Br: true, atom.Body: true,
}

var skipAtoms = map[atom.Atom]bool{
    atom.Script: true, atom.Style: true, atom.Noscript: true, atom.Template: true,
    atom.Svg: true, atom.Iframe: true, atom.Object: true,
}

// scanner collects shapes in document order, flushing running text at every
// block boundary.
type scanner struct {
    shapes  []walker.Shape
    buf     strings.Builder
    resolve Resolver
}

func (s *scanner) flush() {
    text := collapse(s.buf.String())
    s.buf.Reset()
    if text != "" {
        s.shapes = append(s.shapes, walker.Shape{Kind: walker.ShapeText, Text: text, Origin: models.UnitParagraph})
    }
}

func (s *scanner) visit(n *html.Node, depth int) {
    if depth > maxDOMDepth {
        s.flush()
        s.shapes = append(s.shapes, walker.Shape{Kind: walker.ShapeUnsupported, Description: "markup nested too deeply"})
        return
    }
    switch n.Type {
    case html.TextNode:
        s.buf.WriteString(n.Data)
        return
    case html.ElementNode:
        if skipAtoms[n.DataAtom] {
            return
        }
        switch n.DataAtom {
        case atom.Table:
            s.flush()
            var extras []walker.Shape
            s.shapes = append(s.shapes, walker.Shape{Kind: walker.ShapeTable, Rows: s.tableRows(n, &extras)})
            s.shapes = append(s.shapes, extras...)
            return
        case atom.Img:
            s.flush()
            s.shapes = append(s.shapes, s.image(n))
            return
        case atom.Pre:
            s.flush()
            if text := strings.Trim(rawText(n), "\r\n"); strings.TrimSpace(text) != "" {
                s.shapes = append(s.shapes, walker.Shape{Kind: walker.ShapeText, Text: text, Origin: models.UnitParagraph})
            }
            return
        }
    }

    block := n.Type == html.ElementNode && blockAtoms[n.DataAtom]
    if block {
        s.flush()
    }
    for c := n.FirstChild; c != nil; c = c.NextSibling {
        s.visit(c, depth+1)
    }
    if block {
        s.flush()
    }
}

func (s *scanner) image(n *html.Node) walker.Shape {
    src := attr(n, "src")
    name := attr(n, "alt")
    if !strings.HasPrefix(src, "data:") {
        if s.resolve != nil {
            if load := s.resolve(src); load != nil {
                return walker.Shape{Kind: walker.ShapeRaster, Name: name, Load: load}
            }
        }
        return walker.Shape{Kind: walker.ShapeUnsupported, Name: name, Description: "external image reference"}
    }
    return walker.Shape{
        Kind: walker.ShapeRaster,
        Name: name,
        Load: func() ([]byte, error) { return decodeDataURI(src) },
    }
}

// decodeDataURI returns the payload of a data: URI.
func decodeDataURI(uri string) ([]byte, error) {
    meta, payload, ok := strings.Cut(strings.TrimPrefix(uri, "data:"), ",")
    if !ok {
        return nil, fmt.Errorf("malformed data uri")
    }
    if strings.HasSuffix(meta, ";base64") {
        data, err := base64.StdEncoding.DecodeString(strings.Join(strings.Fields(payload), ""))
        if err != nil {
            return nil, fmt.Errorf("failed to decode data uri: %w", err)
        }
        return data, nil
    }
    text, err := url.PathUnescape(payload)
    if err != nil {
        return nil, fmt.Errorf("failed to unescape data uri: %w", err)
    }
    return []byte(text), nil
}

// tableRows reads the cell text of tbl. Images in cells go to extras in
// row-major order.
func (s *scanner) tableRows(tbl *html.Node, extras *[]walker.Shape) [][]string {
    var rows [][]string
    var walk func(n *html.Node)
    walk = func(n *html.Node) {
        for c := n.FirstChild; c != nil; c = c.NextSibling {
            if c.Type != html.ElementNode {
                continue
            }
            switch c.DataAtom {
            case atom.Tr:
                var row []string
                for cell := c.FirstChild; cell != nil; cell = cell.NextSibling {
                    if cell.Type == html.ElementNode && (cell.DataAtom == atom.Td || cell.DataAtom == atom.Th) {
                        row = append(row, collapse(s.textContent(cell, extras)))
                    }
                }
                rows = append(rows, row)
            default:
                walk(c)
            }
        }
    }
    walk(tbl)
    return rows
}

func (s *scanner) textContent(n *html.Node, extras *[]walker.Shape) string {
    var sb strings.Builder
    var walk func(*html.Node)
    walk = func(n *html.Node) {
        if n.Type == html.TextNode {
            sb.WriteString(n.Data)
            sb.WriteByte(' ')
            return
        }
        if n.Type == html.ElementNode {
            if skipAtoms[n.DataAtom] {
                return
            }
            if n.DataAtom == atom.Img {
                *extras = append(*extras, s.image(n))
                return
            }
        }
        for c := n.FirstChild; c != nil; c = c.NextSibling {
            walk(c)
        }
    }
    walk(n)
    return sb.String()
}

// rawText returns the text under n with whitespace intact.
func rawText(n *html.Node) string {
    var sb strings.Builder
    var walk func(*html.Node)
    walk = func(n *html.Node) {
        if n.Type == html.TextNode {
            sb.WriteString(n.Data)
            return
        }
        for c := n.FirstChild; c != nil; c = c.NextSibling {
            walk(c)
        }
    }
    walk(n)
    return sb.String()
}

func attr(n *html.Node, key string) string {
    for _, a := range n.Attr {
        if a.Key == key {
            return a.Val
        }
    }
    return ""
}

// collapse folds whitespace runs to single spaces.
func collapse(s string) string {
    return strings.Join(strings.Fields(s), " ")
}
