package odf

import (
    "bytes"
    "encoding/xml"
    "fmt"
    "io"
    "strings"

    "github.com/feichai0017/document-extractor/internal/models"
)

// element is an XML element whose character data and child elements stay
// interleaved. Text runs are elements with an empty name.
type element struct {
    name     string
    attrs    []xml.Attr
    children []*element
    text     string
}

// parse decodes an ODF XML part. Malformed XML wraps models.ErrUnitParse.
func parse(data []byte) (*element, error) {
    dec := xml.NewDecoder(bytes.NewReader(data))
    dec.Strict = true

    doc := &element{}
    stack := []*element{doc}
    for {
        tok, err := dec.Token()
        if err == io.EOF {
            break
        }
        if err != nil {
            return nil, fmt.Errorf("%w: %v", models.ErrUnitParse, err)
        }
        top := stack[len(stack)-1]
        switch t := tok.(type) {
        case xml.StartElement:
            e := &element{name: t.Name.Local, attrs: t.Attr}
            top.children = append(top.children, e)
            stack = append(stack, e)
        case xml.EndElement:
            stack = stack[:len(stack)-1]
        case xml.CharData:
            top.children = append(top.children, &element{text: string(t)})
        }
    }
    for _, c := range doc.children {
        if c.name != "" {
            return c, nil
        }
    }
    return nil, fmt.Errorf("%w: no root element", models.ErrUnitParse)
}

func (e *element) attr(local string) string {
    for _, a := range e.attrs {
        if a.Name.Local == local {
            return a.Value
        }
    }
    return ""
}

func (e *element) child(local string) *element {
    for _, c := range e.children {
        if c.name == local {
            return c
        }
    }
    return nil
}

func (e *element) path(locals ...string) *element {
    cur := e
    for _, l := range locals {
        if cur = cur.child(l); cur == nil {
            return nil
        }
    }
    return cur
}

// findAll returns every descendant named local without descending into
// matches.
func (e *element) findAll(local string) []*element {
    var out []*element
    for _, c := range e.children {
        if c.name == local {
            out = append(out, c)
            continue
        }
        out = append(out, c.findAll(local)...)
    }
    return out
}

// whitespace folds runs of XML whitespace to one space.
func whitespace(s string) string {
    var sb strings.Builder
    space := false
    for _, r := range s {
        if r == ' ' || r == '\t' || r == '\n' || r == '\r' {
            if !space {
                sb.WriteByte(' ')
            }
            space = true
            continue
        }
        space = false
        sb.WriteRune(r)
    }
    return sb.String()
}
