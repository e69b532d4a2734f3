package ooxml

import (
    "bytes"
    "encoding/xml"
    "fmt"
    "strings"

    "github.com/feichai0017/document-extractor/internal/models"
)

// Node is a generic XML element that keeps its children in document order.
// Elements are matched by local name; OOXML prefixes are stable enough that
// the namespace rarely matters.
type Node struct {
    XMLName xml.Name
    Attrs   []xml.Attr `xml:",any,attr"`
    Content string     `xml:",chardata"`
    Nodes   []Node     `xml:",any"`
}

// Parse decodes an XML part. Malformed XML wraps models.ErrUnitParse.
func Parse(data []byte) (*Node, error) {
    var n Node
    dec := xml.NewDecoder(bytes.NewReader(data))
    dec.Strict = true
    if err := dec.Decode(&n); err != nil {
        return nil, fmt.Errorf("%w: %v", models.ErrUnitParse, err)
    }
    return &n, nil
}

func (n *Node) Local() string { return n.XMLName.Local }

// Attr returns the value of the first attribute with the given local name.
func (n *Node) Attr(local string) string {
    for _, a := range n.Attrs {
        if a.Name.Local == local {
            return a.Value
        }
    }
    return ""
}

// AttrNS returns the value of the attribute with the given namespace and
// local name.
func (n *Node) AttrNS(space, local string) string {
    for _, a := range n.Attrs {
        if a.Name.Space == space && a.Name.Local == local {
            return a.Value
        }
    }
    return ""
}

// Child returns the first direct child named local.
func (n *Node) Child(local string) *Node {
    for i := range n.Nodes {
        if n.Nodes[i].XMLName.Local == local {
            return &n.Nodes[i]
        }
    }
    return nil
}

// Path follows a chain of direct children.
func (n *Node) Path(locals ...string) *Node {
    cur := n
    for _, l := range locals {
        if cur = cur.Child(l); cur == nil {
            return nil
        }
    }
    return cur
}

// Find returns the first descendant named local, depth-first.
func (n *Node) Find(local string) *Node {
    for i := range n.Nodes {
        c := &n.Nodes[i]
        if c.XMLName.Local == local {
            return c
        }
        if f := c.Find(local); f != nil {
            return f
        }
    }
    return nil
}

// FindAll returns every descendant named local without descending into
// matches.
func (n *Node) FindAll(local string) []*Node {
    var out []*Node
    for i := range n.Nodes {
        c := &n.Nodes[i]
        if c.XMLName.Local == local {
            out = append(out, c)
            continue
        }
        out = append(out, c.FindAll(local)...)
    }
    return out
}

// Text concatenates the content of every descendant named local in order.
func (n *Node) Text(local string) string {
    var sb strings.Builder
    n.collect(local, &sb)
    return sb.String()
}

func (n *Node) collect(local string, sb *strings.Builder) {
    for i := range n.Nodes {
        c := &n.Nodes[i]
        if c.XMLName.Local == local {
            sb.WriteString(c.Content)
            continue
        }
        c.collect(local, sb)
    }
}
