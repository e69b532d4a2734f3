package text

import (
    "context"
    "testing"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/feichai0017/document-extractor/internal/agent/document"
    "github.com/feichai0017/document-extractor/internal/models"
    "github.com/feichai0017/document-extractor/pkg/logger"
)

func extract(t *testing.T, data []byte) []string {
    t.Helper()
    c, err := NewExtractor(logger.NewTestLogger()).Open(context.Background(), data)
    require.NoError(t, err)
    u, err := c.ProcessUnit(context.Background(), 0, &document.Env{Logger: logger.NewTestLogger()})
    require.NoError(t, err)
    assert.Equal(t, models.UnitBody, u.Kind)

    var out []string
    for _, n := range u.Nodes {
        out = append(out, n.Text)
    }
    return out
}

func TestParagraphs(t *testing.T) {
    got := extract(t, []byte("First line\r\nstill first  \r\n\r\n\r\nSecond\n \t\nThird"))
    assert.Equal(t, []string{"First line\nstill first", "Second", "Third"}, got)
}

func TestByteOrderMarks(t *testing.T) {
    tests := []struct {
        name string
        data []byte
    }{
        {"utf8 bom", append([]byte{0xEF, 0xBB, 0xBF}, []byte("Grüße")...)},
        {"utf16 le", []byte{0xFF, 0xFE, 'G', 0, 0xFC, 0, 'e', 0}},
        {"utf16 be", []byte{0xFE, 0xFF, 0, 'G', 0, 0xFC, 0, 'e'}},
    }
    want := map[string]string{"utf8 bom": "Grüße", "utf16 le": "Güe", "utf16 be": "Güe"}
    for _, tt := range tests {
        t.Run(tt.name, func(t *testing.T) {
            assert.Equal(t, []string{want[tt.name]}, extract(t, tt.data))
        })
    }
}

func TestInvalidUTF8Replaced(t *testing.T) {
    got := extract(t, []byte("ok \xff\xfe bytes"))
    require.Len(t, got, 1)
    assert.Contains(t, got[0], "�")
}

func TestEmpty(t *testing.T) {
    assert.Empty(t, extract(t, nil))
}
