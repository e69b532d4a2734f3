package odf

import (
    "context"
    "fmt"

    "github.com/feichai0017/document-extractor/internal/agent/document"
    "github.com/feichai0017/document-extractor/internal/agent/document/ooxml"
    "github.com/feichai0017/document-extractor/internal/agent/document/walker"
    "github.com/feichai0017/document-extractor/internal/models"
    "github.com/feichai0017/document-extractor/pkg/logger"
)

// TextExtractor reads OpenDocument text files: the body first, then the
// headers and footers of each master page.
type TextExtractor struct {
    logger logger.Logger
}

func NewTextExtractor(log logger.Logger) *TextExtractor {
    return &TextExtractor{logger: log.Named("odt")}
}

func (e *TextExtractor) Kind() models.DocumentKind { return models.KindODT }

type textPart struct {
    kind    models.UnitKind
    content *element
    err     error
}

var (
    headerElements = map[string]bool{"header": true, "header-left": true, "header-first": true}
    footerElements = map[string]bool{"footer": true, "footer-left": true, "footer-first": true}
)

func (e *TextExtractor) Open(ctx context.Context, data []byte) (document.Container, error) {
    archive, err := ooxml.Open(data)
    if err != nil {
        return nil, err
    }
    if !archive.Has(contentPart) {
        return nil, fmt.Errorf("%w: missing %s", models.ErrCorruptContainer, contentPart)
    }

    parts := []textPart{{kind: models.UnitBody}}
    if archive.Has(stylesPart) {
        parts = append(parts, e.masterParts(archive)...)
    }
    e.logger.Debug("Opened text document", logger.Int("parts", len(parts)))
    return &textContainer{archive: archive, parts: parts, logger: e.logger}, nil
}

// masterParts lists the header and footer elements of every master page,
// headers first. An unreadable styles part becomes one failed header unit.
func (e *TextExtractor) masterParts(archive *ooxml.Archive) []textPart {
    data, err := archive.Read(stylesPart)
    var root *element
    if err == nil {
        root, err = parse(data)
    }
    if err != nil {
        e.logger.Warn("Styles part unreadable, headers and footers lost", logger.Error(err))
        return []textPart{{kind: models.UnitHeader, err: fmt.Errorf("%s: %w", stylesPart, err)}}
    }

    var headers, footers []textPart
    for _, page := range root.findAll("master-page") {
        for _, c := range page.children {
            switch {
            case headerElements[c.name]:
                headers = append(headers, textPart{kind: models.UnitHeader, content: c})
            case footerElements[c.name]:
                footers = append(footers, textPart{kind: models.UnitFooter, content: c})
            }
        }
    }
    return append(headers, footers...)
}

type textContainer struct {
    archive *ooxml.Archive
    parts   []textPart
    logger  logger.Logger
}

func (c *textContainer) UnitCount() int { return len(c.parts) }

func (c *textContainer) UnitKind(index int) models.UnitKind { return c.parts[index].kind }

func (c *textContainer) Close() error { return nil }

func (c *textContainer) ProcessUnit(ctx context.Context, index int, env *document.Env) (models.Unit, error) {
    p := c.parts[index]
    unit := document.NewUnit(index, p.kind)
    if p.err != nil {
        return document.Settle(unit, p.err)
    }

    content := p.content
    if p.kind == models.UnitBody {
        body, err := c.body()
        if err != nil {
            c.logger.Warn("Document content could not be parsed", logger.Error(err))
            return document.Settle(unit, fmt.Errorf("%s: %w", contentPart, err))
        }
        if content = body; content == nil {
            return unit, nil
        }
    }

    b := builder{archive: c.archive}
    shapes := b.blocks(content.children)
    if b.err != nil {
        return document.Settle(unit, b.err)
    }
    return document.Settle(unit, walker.Walk(ctx, env, &unit, shapes))
}

func (c *textContainer) body() (*element, error) {
    data, err := c.archive.Read(contentPart)
    if err != nil {
        return nil, err
    }
    root, err := parse(data)
    if err != nil {
        return nil, err
    }
    return root.path("body", "text"), nil
}
