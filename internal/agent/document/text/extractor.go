// Package text extracts paragraphs from plain-text files.
package text

import (
    "context"
    "fmt"
    "strings"
    "unicode/utf8"

    "golang.org/x/text/encoding/unicode"
    "golang.org/x/text/transform"

    "github.com/feichai0017/document-extractor/internal/agent/document"
    "github.com/feichai0017/document-extractor/internal/agent/document/walker"
    "github.com/feichai0017/document-extractor/internal/models"
    "github.com/feichai0017/document-extractor/pkg/logger"
)

type Extractor struct {
    logger logger.Logger
}

func NewExtractor(log logger.Logger) *Extractor {
    return &Extractor{logger: log.Named("text")}
}

func (e *Extractor) Kind() models.DocumentKind { return models.KindText }

// Open decodes data as UTF-8, honouring a UTF-8 or UTF-16 byte order mark.
// Invalid sequences are replaced rather than rejected.
func (e *Extractor) Open(ctx context.Context, data []byte) (document.Container, error) {
    decoded, _, err := transform.Bytes(unicode.BOMOverride(unicode.UTF8.NewDecoder()), data)
    if err != nil {
        return nil, fmt.Errorf("%w: %v", models.ErrCorruptContainer, err)
    }
    s := string(decoded)
    if !utf8.ValidString(s) {
        e.logger.Debug("Replacing invalid UTF-8 sequences")
        s = strings.ToValidUTF8(s, "�")
    }
    return &container{paragraphs: Paragraphs(s)}, nil
}

// Paragraphs splits s on blank lines.
func Paragraphs(s string) []string {
    s = strings.ReplaceAll(s, "\r\n", "\n")
    s = strings.ReplaceAll(s, "\r", "\n")

    var (
        out []string
        cur []string
    )
    flush := func() {
        if p := strings.TrimSpace(strings.Join(cur, "\n")); p != "" {
            out = append(out, p)
        }
        cur = cur[:0]
    }
    for _, line := range strings.Split(s, "\n") {
        if strings.TrimSpace(line) == "" {
            flush()
            continue
        }
        cur = append(cur, strings.TrimRight(line, " \t"))
    }
    flush()
    return out
}

type container struct {
    paragraphs []string
}

func (c *container) UnitCount() int { return 1 }

func (c *container) UnitKind(int) models.UnitKind { return models.UnitBody }

func (c *container) Close() error { return nil }

func (c *container) ProcessUnit(ctx context.Context, index int, env *document.Env) (models.Unit, error) {
    unit := document.NewUnit(index, models.UnitBody)
    shapes := make([]walker.Shape, len(c.paragraphs))
    for i, p := range c.paragraphs {
        shapes[i] = walker.Shape{Kind: walker.ShapeText, Text: p, Origin: models.UnitParagraph}
    }
    return document.Settle(unit, walker.Walk(ctx, env, &unit, shapes))
}
