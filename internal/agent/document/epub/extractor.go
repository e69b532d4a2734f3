// Package epub extracts e-books, one unit per reading-order document.
package epub

import (
    "context"
    "fmt"
    "net/url"
    "path"
    "strings"

    "github.com/feichai0017/document-extractor/internal/agent/document"
    "github.com/feichai0017/document-extractor/internal/agent/document/html"
    "github.com/feichai0017/document-extractor/internal/agent/document/ooxml"
    "github.com/feichai0017/document-extractor/internal/agent/document/walker"
    "github.com/feichai0017/document-extractor/internal/models"
    "github.com/feichai0017/document-extractor/pkg/logger"
)

const (
    containerPart  = "META-INF/container.xml"
    rightsPart     = "META-INF/rights.xml"
    encryptionPart = "META-INF/encryption.xml"
)

type Extractor struct {
    logger logger.Logger
}

func NewExtractor(log logger.Logger) *Extractor {
    return &Extractor{logger: log.Named("epub")}
}

func (e *Extractor) Kind() models.DocumentKind { return models.KindEPUB }

// Open resolves the package document and lists its spine. Books whose
// content documents are encrypted are rejected as unsupported.
func (e *Extractor) Open(ctx context.Context, data []byte) (document.Container, error) {
    archive, err := ooxml.Open(data)
    if err != nil {
        return nil, err
    }
    if err := checkDRM(archive); err != nil {
        return nil, err
    }

    opfPath, err := packagePath(archive)
    if err != nil {
        return nil, err
    }
    opf, err := archive.ReadXML(opfPath)
    if err != nil {
        return nil, fmt.Errorf("%w: %s: %v", models.ErrCorruptContainer, opfPath, err)
    }

    manifest := map[string]*ooxml.Node{}
    if m := opf.Child("manifest"); m != nil {
        for _, item := range m.FindAll("item") {
            manifest[item.Attr("id")] = item
        }
    }

    base := path.Dir(opfPath)
    var chapters []string
    if spine := opf.Child("spine"); spine != nil {
        for _, ref := range spine.FindAll("itemref") {
            item, ok := manifest[ref.Attr("idref")]
            if !ok {
                e.logger.Warn("Spine item missing from manifest", logger.String("idref", ref.Attr("idref")))
                continue
            }
            if mt := item.Attr("media-type"); mt != "application/xhtml+xml" && mt != "text/html" {
                e.logger.Debug("Skipping non-document spine item", logger.String("mediaType", mt))
                continue
            }
            chapters = append(chapters, resolve(base, item.Attr("href")))
        }
    }

    e.logger.Debug("Opened book", logger.String("package", opfPath), logger.Int("chapters", len(chapters)))
    return &container{archive: archive, chapters: chapters, logger: e.logger}, nil
}

// packagePath reads the rootfile path from container.xml.
func packagePath(archive *ooxml.Archive) (string, error) {
    root, err := archive.ReadXML(containerPart)
    if err != nil {
        return "", fmt.Errorf("%w: %s: %v", models.ErrCorruptContainer, containerPart, err)
    }
    for _, rf := range root.FindAll("rootfile") {
        if p := rf.Attr("full-path"); p != "" {
            return strings.TrimPrefix(p, "/"), nil
        }
    }
    return "", fmt.Errorf("%w: %s names no package document", models.ErrCorruptContainer, containerPart)
}

// checkDRM rejects books under a rights management scheme. Font
// obfuscation in encryption.xml is allowed.
func checkDRM(archive *ooxml.Archive) error {
    if archive.Has(rightsPart) {
        return fmt.Errorf("%w: e-book is DRM protected", models.ErrUnsupportedFormat)
    }
    if !archive.Has(encryptionPart) {
        return nil
    }
    enc, err := archive.ReadXML(encryptionPart)
    if err != nil {
        return fmt.Errorf("%w: %s: %v", models.ErrCorruptContainer, encryptionPart, err)
    }
    for _, data := range enc.FindAll("EncryptedData") {
        algo := ""
        if m := data.Child("EncryptionMethod"); m != nil {
            algo = m.Attr("Algorithm")
        }
        if strings.Contains(algo, "obfuscation") {
            continue
        }
        uri := ""
        if ref := data.Find("CipherReference"); ref != nil {
            uri = strings.ToLower(ref.Attr("URI"))
        }
        switch path.Ext(uri) {
        case ".xhtml", ".html", ".htm", ".xml", ".css":
            return fmt.Errorf("%w: e-book content is encrypted", models.ErrUnsupportedFormat)
        }
    }
    return nil
}

// resolve joins an href to the directory of the document that holds it.
func resolve(base, href string) string {
    href, _, _ = strings.Cut(href, "#")
    if decoded, err := url.PathUnescape(href); err == nil {
        href = decoded
    }
    return strings.TrimPrefix(path.Clean(path.Join(base, href)), "/")
}

type container struct {
    archive  *ooxml.Archive
    chapters []string
    logger   logger.Logger
}

func (c *container) UnitCount() int { return len(c.chapters) }

func (c *container) UnitKind(int) models.UnitKind { return models.UnitChapter }

func (c *container) Close() error { return nil }

func (c *container) ProcessUnit(ctx context.Context, index int, env *document.Env) (models.Unit, error) {
    name := c.chapters[index]
    unit := document.NewUnit(index, models.UnitChapter)

    data, err := c.archive.Read(name)
    if err != nil {
        c.logger.Warn("Chapter unreadable", logger.String("part", name), logger.Error(err))
        return document.Settle(unit, fmt.Errorf("%w: %v", models.ErrUnitParse, err))
    }
    shapes, err := html.Shapes(data, c.images(name))
    if err != nil {
        return document.Settle(unit, fmt.Errorf("%s: %w", name, err))
    }
    return document.Settle(unit, walker.Walk(ctx, env, &unit, shapes))
}

// images resolves image sources relative to the chapter.
func (c *container) images(chapter string) html.Resolver {
    dir := path.Dir(chapter)
    return func(src string) func() ([]byte, error) {
        if src == "" || strings.Contains(src, "://") {
            return nil
        }
        part := resolve(dir, src)
        if !c.archive.Has(part) {
            return nil
        }
        return func() ([]byte, error) { return c.archive.Read(part) }
    }
}
