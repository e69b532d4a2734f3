// Command extract prints the text of documents given on the command line.
package main

import (
    "context"
    "errors"
    "flag"
    "fmt"
    "io"
    "os"
    "os/signal"
    "path/filepath"
    "strings"
    "syscall"
    "time"

    "github.com/feichai0017/document-extractor/config"
    "github.com/feichai0017/document-extractor/internal/app"
    "github.com/feichai0017/document-extractor/internal/models"
    "github.com/feichai0017/document-extractor/internal/service/extract"
    "github.com/feichai0017/document-extractor/pkg/converters"
    "github.com/feichai0017/document-extractor/pkg/logger"
)

func main() {
    ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
    code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
    stop()
    os.Exit(code)
}

type cliOptions struct {
    format     string
    outDir     string
    configPath string
    language   string
    noOCR      bool
    timeout    time.Duration
    workers    int
    logLevel   string
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
    var o cliOptions
    fs := flag.NewFlagSet("extract", flag.ContinueOnError)
    fs.SetOutput(stderr)
    fs.StringVar(&o.format, "format", converters.FormatText, "output format: text, json or csv")
    fs.StringVar(&o.outDir, "out", "", "write one file per input into this directory instead of stdout")
    fs.StringVar(&o.configPath, "config", "config/extractor.yaml", "extractor configuration file")
    fs.StringVar(&o.language, "lang", "", "OCR language, overrides the configuration")
    fs.BoolVar(&o.noOCR, "no-ocr", false, "disable OCR fallback")
    fs.DurationVar(&o.timeout, "unit-timeout", 0, "per-unit timeout, overrides the configuration")
    fs.IntVar(&o.workers, "workers", 0, "units processed in parallel, overrides the configuration")
    fs.StringVar(&o.logLevel, "log-level", "warn", "log level")
    fs.Usage = func() {
        fmt.Fprintf(stderr, "usage: extract [flags] file...\n")
        fs.PrintDefaults()
    }
    if err := fs.Parse(args); err != nil {
        return 2
    }
    if fs.NArg() == 0 {
        fs.Usage()
        return 2
    }

    log, err := logger.NewLogger(
        logger.WithLevel(o.logLevel),
        logger.WithEncoding("console"),
        logger.WithOutputPaths([]string{"stderr"}),
    )
    if err != nil {
        fmt.Fprintf(stderr, "extract: %v\n", err)
        return 2
    }
    defer log.Sync()

    cfg, err := config.LoadExtractorConfig(o.configPath)
    if err != nil {
        fmt.Fprintf(stderr, "extract: %v\n", err)
        return 2
    }
    // The CLI has no Redis; analytics go to the log at most.
    if cfg.Analytics.Backend == "redis" {
        cfg.Analytics.Backend = "log"
    }
    opts := o.apply(cfg.Extraction)

    ex, err := app.NewExtraction(ctx, cfg, nil, log)
    if err != nil {
        fmt.Fprintf(stderr, "extract: %v\n", err)
        return 1
    }

    failed := 0
    for _, path := range fs.Args() {
        if err := extractOne(ctx, ex.Service, path, opts, o, stdout, stderr); err != nil {
            fmt.Fprintf(stderr, "extract: %s: %v\n", path, err)
            failed++
        }
        if ctx.Err() != nil {
            break
        }
    }
    if failed > 0 {
        return 1
    }
    return 0
}

func (o cliOptions) apply(opts extract.Options) extract.Options {
    if o.noOCR {
        opts.OCREnabled = false
    }
    if o.language != "" {
        opts.Language = o.language
    }
    if o.timeout > 0 {
        opts.UnitTimeout = o.timeout
    }
    if o.workers > 0 {
        opts.MaxWorkers = o.workers
    }
    return opts
}

// errPartial reports an extraction interrupted before every unit finished.
// Whatever was extracted has already been written.
var errPartial = errors.New("interrupted, partial result written")

func extractOne(ctx context.Context, svc *extract.Service, path string, opts extract.Options, o cliOptions, stdout, stderr io.Writer) error {
    start := time.Now()
    res, err := svc.Extract(ctx, extract.Input{Path: path}, opts)
    if err != nil {
        return err
    }

    var size int64
    if info, err := os.Stat(path); err == nil {
        size = info.Size()
    }
    data, _, err := converters.Export(o.format, res, converters.DocumentMetadata{
        FileName:     filepath.Base(path),
        FileType:     filepath.Ext(path),
        FileSize:     size,
        ProcessingMs: time.Since(start).Milliseconds(),
    })
    if err != nil {
        return err
    }

    if err := write(path, data, o, stdout); err != nil {
        return err
    }
    reportFailures(stderr, path, res)
    if res.Partial {
        return errPartial
    }
    return nil
}

func write(path string, data []byte, o cliOptions, stdout io.Writer) error {
    if o.outDir == "" {
        if _, err := stdout.Write(data); err != nil {
            return err
        }
        if len(data) > 0 && data[len(data)-1] != '\n' {
            _, err := io.WriteString(stdout, "\n")
            return err
        }
        return nil
    }

    name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)) + "." + outputExt(o.format)
    if err := os.MkdirAll(o.outDir, 0o755); err != nil {
        return err
    }
    return os.WriteFile(filepath.Join(o.outDir, name), data, 0o644)
}

// reportFailures lists the units that failed or lost content, one per line.
func reportFailures(w io.Writer, path string, res *models.ExtractionResult) {
    if !res.Degraded() {
        return
    }
    fmt.Fprintf(w, "extract: %s: %d unit failure(s), output is incomplete\n", path, len(res.Diagnostics.UnitFailures))
    for _, f := range res.Diagnostics.UnitFailures {
        fmt.Fprintf(w, "extract: %s: %s %d: %s: %s\n", path, f.UnitKind, f.UnitIndex+1, f.Kind, f.Message)
    }
}

func outputExt(format string) string {
    switch strings.ToLower(format) {
    case converters.FormatJSON:
        return "json"
    case converters.FormatCSV:
        return "csv"
    default:
        return "txt"
    }
}
