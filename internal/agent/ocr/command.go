package ocr

import (
    "bufio"
    "bytes"
    "context"
    "errors"
    "fmt"
    "image"
    "image/png"
    "os/exec"
    "strconv"
    "strings"

    "github.com/feichai0017/document-extractor/internal/models"
    "github.com/feichai0017/document-extractor/pkg/logger"
)

// CommandEngine runs the tesseract executable as an external process, feeding
// the image on stdin and reading TSV output so that word confidences survive.
type CommandEngine struct {
    binary   string
    psm      int
    tessdata string
    logger   logger.Logger
    lookPath func(string) (string, error)
}

func NewCommandEngine(cfg TesseractConfig, log logger.Logger) *CommandEngine {
    binary := cfg.Binary
    if binary == "" {
        binary = "tesseract"
    }
    return &CommandEngine{
        binary:   binary,
        psm:      cfg.PageSegMode,
        tessdata: cfg.TessdataDir,
        logger:   log.Named("tesseract-cli"),
        lookPath: exec.LookPath,
    }
}

func (e *CommandEngine) Name() string { return EngineTesseractCLI }

func (e *CommandEngine) Recognize(ctx context.Context, img image.Image, language string) (Recognition, error) {
    path, err := e.lookPath(e.binary)
    if err != nil {
        return Recognition{}, fmt.Errorf("%w: %s not found: %v", models.ErrEngineUnavailable, e.binary, err)
    }
    if err := ctx.Err(); err != nil {
        return Recognition{}, ContextError(ctx)
    }

    buf := new(bytes.Buffer)
    if err := png.Encode(buf, img); err != nil {
        return Recognition{}, fmt.Errorf("failed to encode image: %w", err)
    }

    args := []string{"stdin", "stdout", "-l", language}
    if e.psm > 0 {
        args = append(args, "--psm", strconv.Itoa(e.psm))
    }
    if e.tessdata != "" {
        args = append(args, "--tessdata-dir", e.tessdata)
    }
    args = append(args, "tsv")

    cmd := exec.CommandContext(ctx, path, args...)
    cmd.Stdin = buf
    var stderr bytes.Buffer
    cmd.Stderr = &stderr

    out, err := cmd.Output()
    if ctx.Err() != nil {
        return Recognition{}, ContextError(ctx)
    }
    if err != nil {
        msg := strings.TrimSpace(stderr.String())
        var exitErr *exec.ExitError
        if errors.As(err, &exitErr) && strings.Contains(msg, "Failed loading language") {
            return Recognition{}, fmt.Errorf("%w: %s", models.ErrEngineUnavailable, msg)
        }
        return Recognition{}, fmt.Errorf("tesseract failed: %w: %s", err, msg)
    }

    return parseTSV(out)
}

// parseTSV rebuilds text from tesseract TSV output. Words on the same line
// are joined by spaces, lines by newlines and paragraphs by a blank line.
// Confidence is the mean over recognized words.
func parseTSV(data []byte) (Recognition, error) {
    type lineKey struct{ page, block, par, line int }

    var (
        sb       strings.Builder
        prev     *lineKey
        total    float64
        words    int
        header   = true
        scanner  = bufio.NewScanner(bytes.NewReader(data))
        lineOpen bool
    )
    scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

    for scanner.Scan() {
        row := scanner.Text()
        if header {
            header = false
            if strings.HasPrefix(row, "level") {
                continue
            }
        }
        cols := strings.Split(row, "\t")
        if len(cols) < 12 || cols[0] != "5" {
            continue
        }
        word := strings.TrimSpace(strings.Join(cols[11:], "\t"))
        if word == "" {
            continue
        }
        nums := make([]int, 5)
        for i := range nums {
            n, err := strconv.Atoi(cols[i+1])
            if err != nil {
                return Recognition{}, fmt.Errorf("malformed tsv row %q: %w", row, err)
            }
            nums[i] = n
        }
        key := lineKey{nums[0], nums[1], nums[2], nums[3]}
        switch {
        case prev == nil:
        case prev.page != key.page || prev.block != key.block || prev.par != key.par:
            sb.WriteString("\n\n")
            lineOpen = false
        case prev.line != key.line:
            sb.WriteString("\n")
            lineOpen = false
        }
        if lineOpen {
            sb.WriteByte(' ')
        }
        sb.WriteString(word)
        lineOpen = true
        prev = &key

        if conf, err := strconv.ParseFloat(cols[10], 64); err == nil && conf >= 0 {
            total += conf
            words++
        }
    }
    if err := scanner.Err(); err != nil {
        return Recognition{}, fmt.Errorf("failed to read tsv: %w", err)
    }

    rec := Recognition{Text: sb.String()}
    if words > 0 {
        rec.Confidence = total / float64(words)
        rec.Scored = true
    }
    return rec, nil
}
