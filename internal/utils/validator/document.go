// Package validator checks uploads before they are queued for extraction.
package validator

import (
    "crypto/sha256"
    "encoding/hex"
    "fmt"
    "image"
    _ "image/gif"
    _ "image/jpeg"
    _ "image/png"
    "io"
    "mime/multipart"
    "path/filepath"
    "strings"
    "sync"

    "github.com/gabriel-vasile/mimetype"
    "github.com/ledongthuc/pdf"
    _ "golang.org/x/image/bmp"
    _ "golang.org/x/image/tiff"
    _ "golang.org/x/image/webp"

    "github.com/feichai0017/document-extractor/pkg/logger"
)

// DocumentValidator checks size, extension and content signature.
type DocumentValidator struct {
    logger logger.Logger
    config *ValidatorConfig
}

type ValidatorConfig struct {
    MaxFileSize int64
    // AllowedTypes maps an extension to the detected types accepted for it.
    // A detected type matches when it or any of its parents is listed.
    AllowedTypes map[string][]string
    MinDimension int
    MaxDimension int
    MaxPageCount int
}

type ValidationResult struct {
    IsValid  bool              `json:"isValid"`
    Errors   []ValidationError `json:"errors,omitempty"`
    FileInfo FileInfo          `json:"fileInfo"`
}

type ValidationError struct {
    Code    string `json:"code"`
    Message string `json:"message"`
    Field   string `json:"field,omitempty"`
}

type FileInfo struct {
    Filename  string                 `json:"filename"`
    Size      int64                  `json:"size"`
    MimeType  string                 `json:"mimeType"`
    Extension string                 `json:"extension"`
    Hash      string                 `json:"hash"`
    Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

const (
    CodeFileTooLarge    = "FILE_TOO_LARGE"
    CodeInvalidFileType = "INVALID_FILE_TYPE"
    CodeLegacyFormat    = "LEGACY_FORMAT"
    CodeInvalidMimeType = "INVALID_MIME_TYPE"
    CodeInvalidImage    = "INVALID_IMAGE"
    CodeInvalidPDF      = "INVALID_PDF"
)

var legacyExtensions = map[string]string{
    ".doc": "DOCX",
    ".ppt": "PPTX",
    ".xls": "XLSX",
}

func DefaultConfig() *ValidatorConfig {
    return &ValidatorConfig{
        MaxFileSize: 50 * 1024 * 1024,
        AllowedTypes: map[string][]string{
            ".pdf":  {"application/pdf"},
            ".docx": {"application/vnd.openxmlformats-officedocument.wordprocessingml.document", "application/zip"},
            ".pptx": {"application/vnd.openxmlformats-officedocument.presentationml.presentation", "application/zip"},
            ".xlsx": {"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", "application/zip"},
            ".xlsm": {"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", "application/zip"},
            ".odt":  {"application/vnd.oasis.opendocument.text", "application/zip"},
            ".odp":  {"application/vnd.oasis.opendocument.presentation", "application/zip"},
            ".ods":  {"application/vnd.oasis.opendocument.spreadsheet", "application/zip"},
            ".epub": {"application/epub+zip", "application/zip"},
            ".csv":  {"text/csv", "text/plain"},
            ".tsv":  {"text/tab-separated-values", "text/plain"},
            ".jpg":  {"image/jpeg"},
            ".jpeg": {"image/jpeg"},
            ".png":  {"image/png"},
            ".gif":  {"image/gif"},
            ".tif":  {"image/tiff"},
            ".tiff": {"image/tiff"},
            ".bmp":  {"image/bmp"},
            ".webp": {"image/webp"},
            ".html": {"text/html", "text/plain"},
            ".htm":  {"text/html", "text/plain"},
            ".txt":  {"text/plain"},
            ".md":   {"text/plain"},
        },
        MinDimension: 8,
        MaxDimension: 20000,
        MaxPageCount: 5000,
    }
}

func NewDocumentValidator(log logger.Logger, config *ValidatorConfig) *DocumentValidator {
    if config == nil {
        config = DefaultConfig()
    }
    return &DocumentValidator{
        logger: log.Named("validator"),
        config: config,
    }
}

// AllowedExtensions lists the accepted extensions in no particular order.
func (v *DocumentValidator) AllowedExtensions() []string {
    out := make([]string, 0, len(v.config.AllowedTypes))
    for ext := range v.config.AllowedTypes {
        out = append(out, ext)
    }
    return out
}

func (v *DocumentValidator) ValidateFile(file *multipart.FileHeader) (*ValidationResult, error) {
    f, err := file.Open()
    if err != nil {
        return nil, fmt.Errorf("failed to open file: %w", err)
    }
    defer f.Close()
    return v.Validate(file.Filename, f, file.Size)
}

// Validate inspects r, which must support random access for PDF checks.
// The returned error is reserved for I/O failures; rule violations are
// reported in the result.
func (v *DocumentValidator) Validate(filename string, r io.ReadSeeker, size int64) (*ValidationResult, error) {
    result := &ValidationResult{
        IsValid: true,
        Errors:  make([]ValidationError, 0),
        FileInfo: FileInfo{
            Filename:  filename,
            Size:      size,
            Extension: strings.ToLower(filepath.Ext(filename)),
            Metadata:  make(map[string]interface{}),
        },
    }

    hash, err := calculateHash(r)
    if err != nil {
        return nil, fmt.Errorf("failed to calculate hash: %w", err)
    }
    result.FileInfo.Hash = hash

    if errs := v.performBasicValidation(result.FileInfo); len(errs) > 0 {
        result.fail(errs...)
        // No point sniffing a file we would reject anyway.
        return result, nil
    }

    if _, err := r.Seek(0, io.SeekStart); err != nil {
        return nil, fmt.Errorf("failed to reset file pointer: %w", err)
    }
    mtype, err := mimetype.DetectReader(r)
    if err != nil {
        return nil, fmt.Errorf("failed to detect mime type: %w", err)
    }
    result.FileInfo.MimeType = mtype.String()

    if errs := v.validateMimeType(mtype, result.FileInfo); len(errs) > 0 {
        result.fail(errs...)
        return result, nil
    }

    if _, err := r.Seek(0, io.SeekStart); err != nil {
        return nil, fmt.Errorf("failed to reset file pointer: %w", err)
    }
    if errs := v.performTypeSpecificValidation(r, &result.FileInfo); len(errs) > 0 {
        result.fail(errs...)
    }

    if !result.IsValid {
        v.logger.Debug("File rejected",
            logger.String("filename", filename),
            logger.Any("errors", result.Errors),
        )
    }
    return result, nil
}

// ValidateFiles validates files concurrently, keeping their order.
func (v *DocumentValidator) ValidateFiles(files []*multipart.FileHeader) ([]*ValidationResult, error) {
    results := make([]*ValidationResult, len(files))
    var wg sync.WaitGroup
    errCh := make(chan error, len(files))

    for i, file := range files {
        wg.Add(1)
        go func(index int, file *multipart.FileHeader) {
            defer wg.Done()

            result, err := v.ValidateFile(file)
            if err != nil {
                errCh <- fmt.Errorf("%s: %w", file.Filename, err)
                return
            }
            results[index] = result
        }(i, file)
    }

    wg.Wait()
    close(errCh)

    if err := <-errCh; err != nil {
        return nil, err
    }
    return results, nil
}

func (r *ValidationResult) fail(errs ...ValidationError) {
    r.IsValid = false
    r.Errors = append(r.Errors, errs...)
}

func (v *DocumentValidator) performBasicValidation(info FileInfo) []ValidationError {
    var errors []ValidationError

    if info.Size > v.config.MaxFileSize {
        errors = append(errors, ValidationError{
            Code:    CodeFileTooLarge,
            Message: fmt.Sprintf("File size exceeds maximum limit of %d bytes", v.config.MaxFileSize),
            Field:   "size",
        })
    }

    if target, ok := legacyExtensions[info.Extension]; ok {
        errors = append(errors, ValidationError{
            Code:    CodeLegacyFormat,
            Message: fmt.Sprintf("Legacy %s files are not supported, convert to %s", info.Extension, target),
            Field:   "extension",
        })
    } else if _, ok := v.config.AllowedTypes[info.Extension]; !ok {
        errors = append(errors, ValidationError{
            Code:    CodeInvalidFileType,
            Message: fmt.Sprintf("File type %s is not allowed", info.Extension),
            Field:   "extension",
        })
    }

    return errors
}

func (v *DocumentValidator) validateMimeType(mtype *mimetype.MIME, info FileInfo) []ValidationError {
    for _, allowed := range v.config.AllowedTypes[info.Extension] {
        for m := mtype; m != nil; m = m.Parent() {
            if m.Is(allowed) {
                return nil
            }
        }
    }
    return []ValidationError{{
        Code:    CodeInvalidMimeType,
        Message: fmt.Sprintf("Invalid MIME type %s for extension %s", info.MimeType, info.Extension),
        Field:   "mimeType",
    }}
}

func (v *DocumentValidator) performTypeSpecificValidation(r io.ReadSeeker, info *FileInfo) []ValidationError {
    switch info.Extension {
    case ".pdf":
        return v.validatePDF(r, info)
    case ".jpg", ".jpeg", ".png", ".gif", ".tif", ".tiff", ".bmp", ".webp":
        return v.validateImage(r, info)
    }
    return nil
}

func (v *DocumentValidator) validateImage(r io.Reader, info *FileInfo) []ValidationError {
    cfg, format, err := image.DecodeConfig(r)
    if err != nil {
        return []ValidationError{{
            Code:    CodeInvalidImage,
            Message: fmt.Sprintf("Unreadable image: %v", err),
        }}
    }
    info.Metadata["format"] = format
    info.Metadata["width"] = cfg.Width
    info.Metadata["height"] = cfg.Height

    short, long := cfg.Width, cfg.Height
    if short > long {
        short, long = long, short
    }
    if short < v.config.MinDimension || long > v.config.MaxDimension {
        return []ValidationError{{
            Code: CodeInvalidImage,
            Message: fmt.Sprintf("Image dimensions %dx%d outside %d..%d",
                cfg.Width, cfg.Height, v.config.MinDimension, v.config.MaxDimension),
            Field: "dimensions",
        }}
    }
    return nil
}

func (v *DocumentValidator) validatePDF(r io.ReadSeeker, info *FileInfo) (errs []ValidationError) {
    ra, ok := r.(io.ReaderAt)
    if !ok {
        return nil
    }
    defer func() {
        if p := recover(); p != nil {
            errs = []ValidationError{{Code: CodeInvalidPDF, Message: fmt.Sprintf("Unreadable PDF: %v", p)}}
        }
    }()

    doc, err := pdf.NewReader(ra, info.Size)
    if err != nil {
        return []ValidationError{{Code: CodeInvalidPDF, Message: fmt.Sprintf("Unreadable PDF: %v", err)}}
    }
    pages := doc.NumPage()
    info.Metadata["pageCount"] = pages
    if v.config.MaxPageCount > 0 && pages > v.config.MaxPageCount {
        return []ValidationError{{
            Code:    CodeInvalidPDF,
            Message: fmt.Sprintf("PDF has %d pages, limit is %d", pages, v.config.MaxPageCount),
            Field:   "pageCount",
        }}
    }
    return nil
}

func calculateHash(r io.Reader) (string, error) {
    hash := sha256.New()
    if _, err := io.Copy(hash, r); err != nil {
        return "", err
    }
    return hex.EncodeToString(hash.Sum(nil)), nil
}
