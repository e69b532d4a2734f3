// Package image extracts text from standalone raster images.
package image

import (
    "context"
    "errors"
    "fmt"
    stdimage "image"

    "github.com/feichai0017/document-extractor/internal/agent/document"
    "github.com/feichai0017/document-extractor/internal/agent/ocr"
    "github.com/feichai0017/document-extractor/internal/models"
    "github.com/feichai0017/document-extractor/pkg/logger"
)

type Processor struct {
    logger logger.Logger
}

func NewProcessor(log logger.Logger) *Processor {
    return &Processor{logger: log.Named("image")}
}

func (p *Processor) Kind() models.DocumentKind { return models.KindImage }

// Open decodes the image up front; an undecodable image is a corrupt
// container.
func (p *Processor) Open(ctx context.Context, data []byte) (document.Container, error) {
    img, format, err := document.DecodeImage(data)
    if err != nil {
        if errors.Is(err, models.ErrResourceExceeded) {
            return nil, err
        }
        return nil, fmt.Errorf("%w: %v", models.ErrCorruptContainer, err)
    }
    b := img.Bounds()
    p.logger.Debug("Decoded image",
        logger.String("format", format),
        logger.Int("width", b.Dx()),
        logger.Int("height", b.Dy()),
    )
    return &container{img: img}, nil
}

type container struct {
    img stdimage.Image
}

func (c *container) UnitCount() int { return 1 }

func (c *container) UnitKind(int) models.UnitKind { return models.UnitImage }

func (c *container) Close() error { return nil }

func (c *container) ProcessUnit(ctx context.Context, index int, env *document.Env) (models.Unit, error) {
    unit := document.NewUnit(index, models.UnitImage)
    unit.Diagnostics.ImagesDetected++
    prov := models.Provenance{UnitIndex: index, UnitKind: models.UnitImage, Source: models.SourceNative}

    node, err := document.RecognizeImage(ctx, env, &unit.Diagnostics, c.img, ocr.SignalImage, prov)
    if err != nil {
        return document.Settle(unit, err)
    }
    unit.Source = node.Provenance.Source
    unit.Nodes = append(unit.Nodes, node)
    return unit, nil
}
