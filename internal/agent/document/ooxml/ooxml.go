// Package ooxml reads the zip packaging and XML parts shared by the Office
// Open XML formats. OpenDocument and EPUB packages use the same archive
// reader.
package ooxml

import (
    "archive/zip"
    "bytes"
    "encoding/xml"
    "fmt"
    "io"
    "path"
    "sort"
    "strconv"
    "strings"

    "github.com/feichai0017/document-extractor/internal/models"
)

const (
    // RelationshipNS is the namespace of r:id and r:embed attributes.
    RelationshipNS = "http://schemas.openxmlformats.org/officeDocument/2006/relationships"

    // MaxPartSize caps the decompressed size of a single part.
    MaxPartSize = 256 << 20
)

// Archive is an opened OOXML package.
type Archive struct {
    files map[string]*zip.File
    names []string
}

// Open reads the zip directory of data. A broken directory is a corrupt
// container.
func Open(data []byte) (*Archive, error) {
    zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
    if err != nil {
        return nil, fmt.Errorf("%w: %v", models.ErrCorruptContainer, err)
    }
    a := &Archive{files: make(map[string]*zip.File, len(zr.File))}
    for _, f := range zr.File {
        name := strings.TrimPrefix(f.Name, "/")
        a.files[name] = f
        a.names = append(a.names, name)
    }
    sort.Strings(a.names)
    return a, nil
}

func (a *Archive) Has(name string) bool {
    _, ok := a.files[name]
    return ok
}

// Names returns the part names matching prefix and suffix, in natural order
// so that slide10 sorts after slide9.
func (a *Archive) Names(prefix, suffix string) []string {
    var out []string
    for _, n := range a.names {
        if strings.HasPrefix(n, prefix) && strings.HasSuffix(n, suffix) {
            out = append(out, n)
        }
    }
    sort.SliceStable(out, func(i, j int) bool { return NaturalLess(out[i], out[j]) })
    return out
}

// Read returns the decompressed content of a part.
func (a *Archive) Read(name string) ([]byte, error) {
    f, ok := a.files[name]
    if !ok {
        return nil, fmt.Errorf("part %s not found", name)
    }
    if f.UncompressedSize64 > MaxPartSize {
        return nil, fmt.Errorf("%w: part %s is %d bytes", models.ErrResourceExceeded, name, f.UncompressedSize64)
    }
    rc, err := f.Open()
    if err != nil {
        return nil, fmt.Errorf("failed to open part %s: %w", name, err)
    }
    defer rc.Close()

    data, err := io.ReadAll(io.LimitReader(rc, MaxPartSize+1))
    if err != nil {
        return nil, fmt.Errorf("failed to read part %s: %w", name, err)
    }
    if len(data) > MaxPartSize {
        return nil, fmt.Errorf("%w: part %s exceeds %d bytes", models.ErrResourceExceeded, name, MaxPartSize)
    }
    return data, nil
}

// ReadXML reads and parses a part.
func (a *Archive) ReadXML(name string) (*Node, error) {
    data, err := a.Read(name)
    if err != nil {
        return nil, err
    }
    return Parse(data)
}

// Relationship is one entry of a .rels part.
type Relationship struct {
    ID         string `xml:"Id,attr"`
    Type       string `xml:"Type,attr"`
    Target     string `xml:"Target,attr"`
    TargetMode string `xml:"TargetMode,attr"`
}

// External reports whether the target lives outside the package.
func (r Relationship) External() bool {
    return strings.EqualFold(r.TargetMode, "External")
}

// Rels loads the relationships of part, keyed by id. A part without a rels
// file has no relationships.
func (a *Archive) Rels(part string) (map[string]Relationship, error) {
    relsName := path.Join(path.Dir(part), "_rels", path.Base(part)+".rels")
    if !a.Has(relsName) {
        return map[string]Relationship{}, nil
    }
    data, err := a.Read(relsName)
    if err != nil {
        return nil, err
    }
    var doc struct {
        Relationships []Relationship `xml:"Relationship"`
    }
    if err := xml.Unmarshal(data, &doc); err != nil {
        return nil, fmt.Errorf("failed to parse %s: %w", relsName, err)
    }
    out := make(map[string]Relationship, len(doc.Relationships))
    for _, r := range doc.Relationships {
        out[r.ID] = r
    }
    return out, nil
}

// ResolveTarget turns a relationship target into a part name relative to
// the package root.
func ResolveTarget(part, target string) string {
    if strings.HasPrefix(target, "/") {
        return strings.TrimPrefix(path.Clean(target), "/")
    }
    return path.Clean(path.Join(path.Dir(part), target))
}

// Loader returns a function that reads the part referenced by relationship
// id from part's rels, or nil when the id is empty.
func (a *Archive) Loader(part string, rels map[string]Relationship, id string) func() ([]byte, error) {
    if id == "" {
        return nil
    }
    return func() ([]byte, error) {
        rel, ok := rels[id]
        if !ok {
            return nil, fmt.Errorf("relationship %s not found in %s", id, part)
        }
        if rel.External() {
            return nil, fmt.Errorf("linked image %s is outside the package", rel.Target)
        }
        return a.Read(ResolveTarget(part, rel.Target))
    }
}

// NaturalLess compares strings treating digit runs as numbers.
func NaturalLess(a, b string) bool {
    for a != "" && b != "" {
        ad, bd := digitPrefix(a), digitPrefix(b)
        if ad != "" && bd != "" {
            an, _ := strconv.Atoi(ad)
            bn, _ := strconv.Atoi(bd)
            if an != bn {
                return an < bn
            }
            a, b = a[len(ad):], b[len(bd):]
            continue
        }
        if a[0] != b[0] {
            return a[0] < b[0]
        }
        a, b = a[1:], b[1:]
    }
    return len(a) < len(b)
}

func digitPrefix(s string) string {
    i := 0
    for i < len(s) && i < 9 && s[i] >= '0' && s[i] <= '9' {
        i++
    }
    return s[:i]
}
