package logger

import (
    "context"
    "os"
    "path/filepath"
    "testing"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
)

func TestNewLoggerWritesFiles(t *testing.T) {
    dir := t.TempDir()
    appLog := filepath.Join(dir, "app.log")
    errLog := filepath.Join(dir, "nested", "error.log")

    log, err := NewLogger(
        WithLevel("debug"),
        WithEncoding("json"),
        WithOutputPaths([]string{appLog}),
        WithErrorPaths([]string{errLog}),
        WithInitialFields(map[string]interface{}{"service": "extractor"}),
    )
    require.NoError(t, err)

    log.Named("router").Info("routed", String("kind", "pdf"))
    log.Error("unit failed", Int("unit", 2))
    require.NoError(t, log.Sync())

    app, err := os.ReadFile(appLog)
    require.NoError(t, err)
    assert.Contains(t, string(app), `"message":"routed"`)
    assert.Contains(t, string(app), `"logger":"router"`)
    assert.Contains(t, string(app), `"service":"extractor"`)

    errs, err := os.ReadFile(errLog)
    require.NoError(t, err)
    assert.Contains(t, string(errs), "unit failed")
    assert.NotContains(t, string(errs), "routed")
}

func TestNewLoggerRejectsBadLevel(t *testing.T) {
    _, err := NewLogger(WithLevel("loud"), WithOutputPaths([]string{"stdout"}), WithErrorPaths(nil))
    assert.Error(t, err)
}

func TestTestLoggerSharesEntries(t *testing.T) {
    log := NewTestLogger()
    child := log.Named("ocr").With(String("engine", "fake"))
    child.Warn("engine unavailable")
    log.Info("done")

    entries := log.GetEntries()
    require.Len(t, entries, 2)
    assert.Equal(t, "ocr", entries[0].Logger)
    assert.Len(t, entries[0].Fields, 1)
    assert.Equal(t, []string{"engine unavailable"}, log.Messages("WARN"))
    assert.NoError(t, child.Sync())
}

func TestContextLoggerAddsIDs(t *testing.T) {
    base := NewTestLogger()
    cl := NewContextLogger(base)

    ctx := WithTaskID(WithRequestID(context.Background(), "req-1"), "task-9")
    cl.FromContext(ctx).Info("hello")

    entries := base.GetEntries()
    require.Len(t, entries, 1)
    assert.Len(t, entries[0].Fields, 2)
}
