package agent

import (
    "archive/zip"
    "fmt"
    "io"
    "path/filepath"
    "strings"

    "github.com/gabriel-vasile/mimetype"

    "github.com/feichai0017/document-extractor/internal/agent/document"
    "github.com/feichai0017/document-extractor/internal/models"
    "github.com/feichai0017/document-extractor/pkg/logger"
)

// HeaderSize is the number of leading bytes the router inspects.
const HeaderSize = 3072

var extensionKinds = map[string]models.DocumentKind{
    ".pdf":   models.KindPDF,
    ".pptx":  models.KindPPTX,
    ".docx":  models.KindDOCX,
    ".xlsx":  models.KindXLSX,
    ".xlsm":  models.KindXLSX,
    ".odt":   models.KindODT,
    ".odp":   models.KindODP,
    ".ods":   models.KindODS,
    ".epub":  models.KindEPUB,
    ".csv":   models.KindCSV,
    ".tsv":   models.KindCSV,
    ".png":   models.KindImage,
    ".jpg":   models.KindImage,
    ".jpeg":  models.KindImage,
    ".gif":   models.KindImage,
    ".tif":   models.KindImage,
    ".tiff":  models.KindImage,
    ".bmp":   models.KindImage,
    ".webp":  models.KindImage,
    ".html":  models.KindHTML,
    ".htm":   models.KindHTML,
    ".xhtml": models.KindHTML,
    ".txt":   models.KindText,
    ".text":  models.KindText,
    ".md":    models.KindText,
    ".log":   models.KindText,
}

// legacyFormats maps binary Office extensions to the format to convert to.
var legacyFormats = map[string]string{
    ".doc": "DOCX",
    ".ppt": "PPTX",
    ".xls": "XLSX",
}

// signatures are checked from the most specific detected type outwards.
var signatures = []struct {
    mime string
    kind models.DocumentKind
}{
    {"application/pdf", models.KindPDF},
    {"application/vnd.openxmlformats-officedocument.wordprocessingml.document", models.KindDOCX},
    {"application/vnd.openxmlformats-officedocument.presentationml.presentation", models.KindPPTX},
    {"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", models.KindXLSX},
    {"application/vnd.oasis.opendocument.text", models.KindODT},
    {"application/vnd.oasis.opendocument.presentation", models.KindODP},
    {"application/vnd.oasis.opendocument.spreadsheet", models.KindODS},
    {"application/epub+zip", models.KindEPUB},
    {"image/png", models.KindImage},
    {"image/jpeg", models.KindImage},
    {"image/gif", models.KindImage},
    {"image/tiff", models.KindImage},
    {"image/bmp", models.KindImage},
    {"image/webp", models.KindImage},
    {"text/html", models.KindHTML},
    {"text/csv", models.KindCSV},
    {"text/tab-separated-values", models.KindCSV},
    {"text/plain", models.KindText},
}

// Router selects an extractor from the file name and leading bytes.
type Router struct {
    extractors map[models.DocumentKind]document.Extractor
    logger     logger.Logger
}

func NewRouter(log logger.Logger, extractors ...document.Extractor) *Router {
    r := &Router{
        extractors: make(map[models.DocumentKind]document.Extractor, len(extractors)),
        logger:     log.Named("router"),
    }
    for _, e := range extractors {
        r.extractors[e.Kind()] = e
    }
    return r
}

// Route classifies an input. A recognized binary signature wins over a
// conflicting extension; text signatures never override a known extension
// and are only trusted on names without an extension.
// body is only read when the header shows a plain zip archive.
func (r *Router) Route(name string, header []byte, body io.ReaderAt, size int64) (document.Extractor, models.DocumentKind, error) {
    ext := strings.ToLower(filepath.Ext(name))
    if target, ok := legacyFormats[ext]; ok {
        return nil, "", fmt.Errorf("%w: %s is a legacy binary format, convert to %s", models.ErrUnsupportedFormat, ext, target)
    }
    extKind, extOK := extensionKinds[ext]

    if len(header) > HeaderSize {
        header = header[:HeaderSize]
    }
    mtype := mimetype.Detect(header)
    if inChain(mtype, "application/x-ole-storage") {
        return nil, "", fmt.Errorf("%w: %s is a legacy binary Office file, convert to DOCX/PPTX/XLSX", models.ErrUnsupportedFormat, mtype.String())
    }

    sigKind, sigOK, textual := classify(mtype)
    if !sigOK && inChain(mtype, "application/zip") {
        kind, err := zipKind(body, size)
        switch {
        case err == nil:
            sigKind, sigOK = kind, true
        case extOK:
            r.logger.Debug("Zip listing failed, trusting extension",
                logger.String("name", name),
                logger.Error(err),
            )
        default:
            return nil, "", fmt.Errorf("%w: %s: %v", models.ErrUnsupportedFormat, name, err)
        }
    }

    var kind models.DocumentKind
    switch {
    case sigOK && !textual:
        if extOK && extKind != sigKind {
            r.logger.Warn("Signature overrides extension",
                logger.String("name", name),
                logger.String("extension", string(extKind)),
                logger.String("signature", string(sigKind)),
            )
        }
        kind = sigKind
    case extOK:
        kind = extKind
    case sigOK && textual && ext != "":
        return nil, "", fmt.Errorf("%w: %q has an unrecognized extension (content sniffed as %s)", models.ErrUnsupportedFormat, name, mtype.String())
    case sigOK:
        kind = sigKind
    default:
        return nil, "", fmt.Errorf("%w: %q (detected %s)", models.ErrUnsupportedFormat, name, mtype.String())
    }

    e, ok := r.extractors[kind]
    if !ok {
        return nil, "", fmt.Errorf("%w: no extractor registered for %s", models.ErrUnsupportedFormat, kind)
    }
    r.logger.Debug("Routed input",
        logger.String("name", name),
        logger.String("kind", string(kind)),
        logger.String("mime", mtype.String()),
    )
    return e, kind, nil
}

// classify maps a detected type to a document kind. textual reports whether
// the match came from a text sniff rather than a binary signature.
func classify(m *mimetype.MIME) (kind models.DocumentKind, ok bool, textual bool) {
    for cur := m; cur != nil; cur = cur.Parent() {
        for _, s := range signatures {
            if cur.Is(s.mime) {
                return s.kind, true, strings.HasPrefix(s.mime, "text/")
            }
        }
    }
    return "", false, false
}

func inChain(m *mimetype.MIME, mime string) bool {
    for cur := m; cur != nil; cur = cur.Parent() {
        if cur.Is(mime) {
            return true
        }
    }
    return false
}

// packageTypes maps the content of an OpenDocument or EPUB mimetype entry.
var packageTypes = map[string]models.DocumentKind{
    "application/vnd.oasis.opendocument.text":         models.KindODT,
    "application/vnd.oasis.opendocument.presentation": models.KindODP,
    "application/vnd.oasis.opendocument.spreadsheet":  models.KindODS,
    "application/epub+zip":                            models.KindEPUB,
}

// zipKind lists a zip archive to find the package family, either from a
// main Office part or from the mimetype entry.
func zipKind(body io.ReaderAt, size int64) (models.DocumentKind, error) {
    if body == nil {
        return "", fmt.Errorf("zip archive without body")
    }
    zr, err := zip.NewReader(body, size)
    if err != nil {
        return "", fmt.Errorf("unreadable zip archive: %w", err)
    }
    for _, f := range zr.File {
        switch strings.TrimPrefix(f.Name, "/") {
        case "word/document.xml":
            return models.KindDOCX, nil
        case "ppt/presentation.xml":
            return models.KindPPTX, nil
        case "xl/workbook.xml":
            return models.KindXLSX, nil
        case "mimetype":
            if kind, ok := packageTypes[readMimetype(f)]; ok {
                return kind, nil
            }
        }
    }
    return "", fmt.Errorf("zip archive without a document part")
}

func readMimetype(f *zip.File) string {
    rc, err := f.Open()
    if err != nil {
        return ""
    }
    defer rc.Close()
    data, err := io.ReadAll(io.LimitReader(rc, 128))
    if err != nil {
        return ""
    }
    return strings.TrimSpace(string(data))
}
