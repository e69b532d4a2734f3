package validator

import (
    "bytes"
    "image"
    "image/png"
    "testing"

    "codeberg.org/go-pdf/fpdf"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/feichai0017/document-extractor/pkg/logger"
)

func pngBytes(t *testing.T, w, h int) []byte {
    t.Helper()
    var buf bytes.Buffer
    require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, w, h))))
    return buf.Bytes()
}

func pdfBytes(t *testing.T, pages int) []byte {
    t.Helper()
    doc := fpdf.New("P", "mm", "A4", "")
    doc.SetFont("Helvetica", "", 11)
    for i := 0; i < pages; i++ {
        doc.AddPage()
        doc.Text(20, 20, "page")
    }
    var buf bytes.Buffer
    require.NoError(t, doc.Output(&buf))
    return buf.Bytes()
}

func TestValidate(t *testing.T) {
    cfg := DefaultConfig()
    cfg.MaxPageCount = 2
    v := NewDocumentValidator(logger.NewTestLogger(), cfg)

    tests := []struct {
        name     string
        filename string
        data     []byte
        code     string
    }{
        {"valid png", "scan.png", pngBytes(t, 64, 32), ""},
        {"valid pdf", "doc.pdf", pdfBytes(t, 2), ""},
        {"valid text", "notes.txt", []byte("plain words\n"), ""},
        {"valid csv", "rates.csv", []byte("code,rate\nEUR,1.08\nGBP,1.27\n"), ""},
        {"legacy word", "old.doc", []byte("anything"), CodeLegacyFormat},
        {"legacy excel", "old.xls", []byte("anything"), CodeLegacyFormat},
        {"unknown extension", "tool.exe", []byte("MZ"), CodeInvalidFileType},
        {"png named pdf", "fake.pdf", pngBytes(t, 64, 64), CodeInvalidMimeType},
        {"tiny image", "dot.png", pngBytes(t, 2, 2), CodeInvalidImage},
        {"too many pages", "long.pdf", pdfBytes(t, 3), CodeInvalidPDF},
    }
    for _, tt := range tests {
        t.Run(tt.name, func(t *testing.T) {
            res, err := v.Validate(tt.filename, bytes.NewReader(tt.data), int64(len(tt.data)))
            require.NoError(t, err)
            assert.Len(t, res.FileInfo.Hash, 64)
            if tt.code == "" {
                assert.True(t, res.IsValid, "%+v", res.Errors)
                return
            }
            assert.False(t, res.IsValid)
            require.NotEmpty(t, res.Errors)
            assert.Equal(t, tt.code, res.Errors[0].Code)
        })
    }
}

func TestValidateRecordsMetadata(t *testing.T) {
    v := NewDocumentValidator(logger.NewTestLogger(), nil)

    data := pngBytes(t, 40, 30)
    res, err := v.Validate("a.png", bytes.NewReader(data), int64(len(data)))
    require.NoError(t, err)
    assert.Equal(t, "image/png", res.FileInfo.MimeType)
    assert.Equal(t, 40, res.FileInfo.Metadata["width"])

    data = pdfBytes(t, 1)
    res, err = v.Validate("a.pdf", bytes.NewReader(data), int64(len(data)))
    require.NoError(t, err)
    assert.Equal(t, 1, res.FileInfo.Metadata["pageCount"])
}

func TestValidateFileTooLarge(t *testing.T) {
    cfg := DefaultConfig()
    cfg.MaxFileSize = 10
    v := NewDocumentValidator(logger.NewTestLogger(), cfg)

    data := []byte("more than ten bytes of text")
    res, err := v.Validate("a.txt", bytes.NewReader(data), int64(len(data)))
    require.NoError(t, err)
    assert.False(t, res.IsValid)
    assert.Equal(t, CodeFileTooLarge, res.Errors[0].Code)
}
