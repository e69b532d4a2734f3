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

// openBody reads content.xml and returns the office:body child named kind.
// Presentations and spreadsheets need it at open time to count their units.
func openBody(data []byte, kind string) (*ooxml.Archive, *element, error) {
    archive, err := ooxml.Open(data)
    if err != nil {
        return nil, nil, err
    }
    if !archive.Has(contentPart) {
        return nil, nil, fmt.Errorf("%w: missing %s", models.ErrCorruptContainer, contentPart)
    }
    raw, err := archive.Read(contentPart)
    if err != nil {
        return nil, nil, err
    }
    root, err := parse(raw)
    if err != nil {
        return nil, nil, fmt.Errorf("%w: %s: %v", models.ErrCorruptContainer, contentPart, err)
    }
    body := root.path("body", kind)
    if body == nil {
        return nil, nil, fmt.Errorf("%w: %s has no %s body", models.ErrCorruptContainer, contentPart, kind)
    }
    return archive, body, nil
}

// PresentationExtractor reads OpenDocument presentations, one unit per
// draw:page.
type PresentationExtractor struct {
    logger logger.Logger
}

func NewPresentationExtractor(log logger.Logger) *PresentationExtractor {
    return &PresentationExtractor{logger: log.Named("odp")}
}

func (e *PresentationExtractor) Kind() models.DocumentKind { return models.KindODP }

func (e *PresentationExtractor) Open(ctx context.Context, data []byte) (document.Container, error) {
    archive, body, err := openBody(data, "presentation")
    if err != nil {
        return nil, err
    }
    var pages []*element
    for _, c := range body.children {
        if c.name == "page" {
            pages = append(pages, c)
        }
    }
    e.logger.Debug("Opened presentation", logger.Int("slides", len(pages)))
    return &slideContainer{archive: archive, pages: pages}, nil
}

type slideContainer struct {
    archive *ooxml.Archive
    pages   []*element
}

func (c *slideContainer) UnitCount() int { return len(c.pages) }

func (c *slideContainer) UnitKind(int) models.UnitKind { return models.UnitSlide }

func (c *slideContainer) Close() error { return nil }

// ProcessUnit walks the page's frames and shapes. Speaker notes are not
// part of the slide.
func (c *slideContainer) ProcessUnit(ctx context.Context, index int, env *document.Env) (models.Unit, error) {
    unit := document.NewUnit(index, models.UnitSlide)
    b := builder{archive: c.archive}
    shapes := b.blocks(c.pages[index].children)
    if b.err != nil {
        return document.Settle(unit, b.err)
    }
    return document.Settle(unit, walker.Walk(ctx, env, &unit, shapes))
}
