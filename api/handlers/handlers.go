package handlers

import (
    "github.com/feichai0017/document-extractor/internal/service/document"
    "github.com/feichai0017/document-extractor/internal/service/extract"
    "github.com/feichai0017/document-extractor/pkg/logger"
)

type Handlers struct {
    Document *DocumentHandler
    Extract  *ExtractHandler
    Health   *HealthHandler
}

// NewHandlers builds every handler. documentService may be nil, in which
// case the asynchronous routes are not registered.
func NewHandlers(
    documentService document.DocumentProcessor,
    extractor document.Extractor,
    opts extract.Options,
    engineName string,
    logger logger.Logger,
) *Handlers {
    h := &Handlers{
        Extract: NewExtractHandler(extractor, opts, logger),
        Health:  NewHealthHandler(engineName, documentService != nil),
    }
    if documentService != nil {
        h.Document = NewDocumentHandler(documentService, logger)
    }
    return h
}
