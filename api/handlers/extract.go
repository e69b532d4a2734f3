package handlers

import (
    "io"
    "net/http"
    "path/filepath"
    "strconv"
    "strings"
    "time"

    "github.com/gin-gonic/gin"

    "github.com/feichai0017/document-extractor/internal/models"
    "github.com/feichai0017/document-extractor/internal/service/document"
    "github.com/feichai0017/document-extractor/internal/service/extract"
    "github.com/feichai0017/document-extractor/pkg/converters"
    "github.com/feichai0017/document-extractor/pkg/logger"
)

// Result headers let text and csv clients see that units failed or that the
// extraction was interrupted.
const (
    HeaderDegraded     = "X-Extraction-Degraded"
    HeaderUnitFailures = "X-Unit-Failures"
    HeaderPartial      = "X-Extraction-Partial"
)

func setResultHeaders(c *gin.Context, res *models.ExtractionResult) {
    c.Header(HeaderDegraded, strconv.FormatBool(res.Degraded()))
    c.Header(HeaderUnitFailures, strconv.Itoa(len(res.Diagnostics.UnitFailures)))
    if res.Partial {
        c.Header(HeaderPartial, "true")
    }
}

// ExtractHandler extracts an upload within the request.
type ExtractHandler struct {
    extractor document.Extractor
    opts      extract.Options
    logger    logger.ContextLogger
}

func NewExtractHandler(extractor document.Extractor, opts extract.Options, log logger.Logger) *ExtractHandler {
    return &ExtractHandler{
        extractor: extractor,
        opts:      opts,
        logger:    logger.NewContextLogger(log.Named("extract-api")),
    }
}

func (h *ExtractHandler) Extract(c *gin.Context) {
    start := time.Now()
    log := h.logger.FromContext(c.Request.Context())
    format := strings.ToLower(c.DefaultQuery("format", converters.FormatJSON))
    if err := checkFormat(format); err != nil {
        handleError(c, log, http.StatusBadRequest, "Invalid format", err)
        return
    }

    overrides, err := parseOverrides(c)
    if err != nil {
        handleError(c, log, http.StatusBadRequest, "Invalid options", err)
        return
    }
    opts := overrides.Apply(h.opts)

    file, header, err := c.Request.FormFile("file")
    if err != nil {
        handleError(c, log, http.StatusBadRequest, "Invalid file upload", err)
        return
    }
    defer file.Close()

    limit := opts.MaxInputBytes
    if limit <= 0 {
        limit = extract.DefaultMaxInputBytes
    }
    // One byte past the limit lets the extractor report the overflow.
    data, err := io.ReadAll(io.LimitReader(file, limit+1))
    if err != nil {
        handleError(c, log, http.StatusBadRequest, "Failed to read upload", err)
        return
    }

    res, err := h.extractor.Extract(c.Request.Context(), extract.Input{Name: header.Filename, Data: data}, opts)
    if err != nil {
        handleError(c, log, statusFor(err), "Extraction failed", err)
        return
    }

    body, contentType, err := converters.Export(format, res, converters.DocumentMetadata{
        FileName:     header.Filename,
        FileType:     filepath.Ext(header.Filename),
        FileSize:     header.Size,
        ProcessingMs: time.Since(start).Milliseconds(),
    })
    if err != nil {
        handleError(c, log, http.StatusInternalServerError, "Failed to export result", err)
        return
    }
    if res.Degraded() {
        log.Warn("Extraction degraded",
            logger.String("file", header.Filename),
            logger.Int("unitFailures", len(res.Diagnostics.UnitFailures)),
        )
    }
    setResultHeaders(c, res)
    c.Data(http.StatusOK, contentType, body)
}
