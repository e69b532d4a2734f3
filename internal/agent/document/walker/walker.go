// Package walker converts a normalized shape tree into content nodes. Every
// container family resolves its native structure into Shape values once, at
// the boundary, and the walker handles the rest.
package walker

import (
    "context"
    "fmt"
    "strings"

    "github.com/feichai0017/document-extractor/internal/agent/document"
    "github.com/feichai0017/document-extractor/internal/models"
)

// ShapeKind is the closed set of shapes the walker understands.
type ShapeKind int

const (
    ShapeText ShapeKind = iota
    ShapeTable
    ShapeGroup
    ShapeRaster
    ShapeUnsupported
)

func (k ShapeKind) String() string {
    switch k {
    case ShapeText:
        return "text"
    case ShapeTable:
        return "table"
    case ShapeGroup:
        return "group"
    case ShapeRaster:
        return "raster"
    case ShapeUnsupported:
        return "unsupported"
    default:
        return fmt.Sprintf("shape(%d)", int(k))
    }
}

// Shape is one normalized element of a unit's structure tree.
type Shape struct {
    Kind ShapeKind
    Name string
    // Text is the content of a text shape, or a group's own text.
    Text string
    Rows [][]string
    // Children of a group, in document order.
    Children []Shape
    // Load returns the raw bytes of a raster.
    Load func() ([]byte, error)
    // Description explains an unsupported shape.
    Description string
    // Origin overrides the unit kind recorded in node provenance.
    Origin models.UnitKind
}

// Walk appends the nodes for shapes to unit in depth-first pre-order. The
// returned error is non-nil only for timeouts and cancellation.
func Walk(ctx context.Context, env *document.Env, unit *models.Unit, shapes []Shape) error {
    w := &walker{env: env, unit: unit, max: env.MaxDepth()}
    for _, s := range shapes {
        node, err := w.visit(ctx, s, 0)
        if err != nil {
            return err
        }
        if node != nil {
            unit.Nodes = append(unit.Nodes, node)
        }
    }
    return nil
}

type walker struct {
    env  *document.Env
    unit *models.Unit
    max  int
}

func (w *walker) provenance(s Shape) models.Provenance {
    kind := s.Origin
    if kind == "" {
        kind = w.unit.Kind
    }
    return models.Provenance{UnitIndex: w.unit.Index, UnitKind: kind, Source: models.SourceNative}
}

func (w *walker) visit(ctx context.Context, s Shape, depth int) (*models.ContentNode, error) {
    if err := ctx.Err(); err != nil {
        return nil, err
    }
    prov := w.provenance(s)

    if depth > w.max {
        msg := fmt.Sprintf("group depth exceeded (%d > %d)", depth, w.max)
        w.unit.RecordFailure(models.FailureDepthExceeded, msg)
        w.unit.Diagnostics.UnsupportedShapes++
        return &models.ContentNode{Kind: models.NodeUnsupported, Provenance: prov, Diagnostic: msg}, nil
    }

    switch s.Kind {
    case ShapeText:
        text := strings.TrimSpace(s.Text)
        if text == "" {
            return nil, nil
        }
        return &models.ContentNode{Kind: models.NodeText, Text: text, Provenance: prov}, nil

    case ShapeTable:
        rows := trimRows(s.Rows)
        if len(rows) == 0 {
            return nil, nil
        }
        return &models.ContentNode{Kind: models.NodeTable, TableRows: rows, Provenance: prov}, nil

    case ShapeGroup:
        node := &models.ContentNode{
            Kind:       models.NodeGroup,
            Text:       strings.TrimSpace(s.Text),
            Provenance: prov,
            Children:   make([]*models.ContentNode, 0, len(s.Children)),
        }
        for _, child := range s.Children {
            c, err := w.visit(ctx, child, depth+1)
            if err != nil {
                return nil, err
            }
            if c != nil {
                node.Children = append(node.Children, c)
            }
        }
        if node.Text == "" && len(node.Children) == 0 {
            return nil, nil
        }
        return node, nil

    case ShapeRaster:
        return document.EmbeddedRaster(ctx, w.env, w.unit, s.Name, s.Load, prov)

    default:
        desc := s.Description
        if desc == "" {
            desc = "unsupported shape"
        }
        if s.Name != "" {
            desc = fmt.Sprintf("%s %q", desc, s.Name)
        }
        w.unit.Diagnostics.UnsupportedShapes++
        return &models.ContentNode{Kind: models.NodeUnsupported, Provenance: prov, Diagnostic: desc}, nil
    }
}

// trimRows trims every cell and drops rows that are entirely empty.
func trimRows(rows [][]string) [][]string {
    out := make([][]string, 0, len(rows))
    for _, row := range rows {
        cells := make([]string, len(row))
        empty := true
        for i, c := range row {
            cells[i] = strings.TrimSpace(c)
            if cells[i] != "" {
                empty = false
            }
        }
        if !empty {
            out = append(out, cells)
        }
    }
    return out
}
