package ocr

import (
    "bytes"
    "context"
    "fmt"
    "image"
    "image/png"
    "strings"

    "github.com/aws/aws-sdk-go-v2/config"
    "github.com/aws/aws-sdk-go-v2/credentials"
    "github.com/aws/aws-sdk-go-v2/service/textract"
    "github.com/aws/aws-sdk-go-v2/service/textract/types"

    "github.com/feichai0017/document-extractor/internal/models"
    "github.com/feichai0017/document-extractor/pkg/logger"
)

type TextractConfig struct {
    Region    string `yaml:"region" json:"region"`
    Endpoint  string `yaml:"endpoint" json:"endpoint"`
    AccessKey string `yaml:"access_key" json:"-"`
    SecretKey string `yaml:"secret_key" json:"-"`
    // MinLineConfidence drops LINE blocks scored below it (0-100).
    MinLineConfidence float32 `yaml:"min_line_confidence" json:"minLineConfidence"`
}

// textractAPI is the subset of the Textract client the engine calls.
type textractAPI interface {
    DetectDocumentText(ctx context.Context, params *textract.DetectDocumentTextInput, optFns ...func(*textract.Options)) (*textract.DetectDocumentTextOutput, error)
}

// TextractEngine sends each image to AWS Textract synchronously. The
// language hint is ignored; Textract detects the script itself.
type TextractEngine struct {
    client textractAPI
    cfg    TextractConfig
    logger logger.Logger
}

func NewTextractEngine(ctx context.Context, cfg TextractConfig, log logger.Logger) (*TextractEngine, error) {
    if cfg.Region == "" {
        return nil, fmt.Errorf("textract region is not configured")
    }

    opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
    if cfg.AccessKey != "" && cfg.SecretKey != "" {
        opts = append(opts, config.WithCredentialsProvider(
            credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
        ))
    }
    awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
    if err != nil {
        return nil, fmt.Errorf("unable to load AWS config: %w", err)
    }

    client := textract.NewFromConfig(awsCfg, func(o *textract.Options) {
        if cfg.Endpoint != "" {
            o.BaseEndpoint = &cfg.Endpoint
        }
    })
    return newTextractEngine(client, cfg, log), nil
}

func newTextractEngine(client textractAPI, cfg TextractConfig, log logger.Logger) *TextractEngine {
    return &TextractEngine{client: client, cfg: cfg, logger: log.Named("textract")}
}

func (e *TextractEngine) Name() string { return EngineTextract }

func (e *TextractEngine) Recognize(ctx context.Context, img image.Image, language string) (Recognition, error) {
    buf := new(bytes.Buffer)
    if err := png.Encode(buf, img); err != nil {
        return Recognition{}, fmt.Errorf("failed to encode image: %w", err)
    }

    out, err := e.client.DetectDocumentText(ctx, &textract.DetectDocumentTextInput{
        Document: &types.Document{Bytes: buf.Bytes()},
    })
    if err != nil {
        if ctx.Err() != nil {
            return Recognition{}, ContextError(ctx)
        }
        return Recognition{}, fmt.Errorf("%w: textract: %w", models.ErrEngineUnavailable, err)
    }

    lines, confidence, scored := e.processBlocks(out.Blocks)
    return Recognition{
        Text:       strings.Join(lines, "\n"),
        Confidence: confidence,
        Scored:     scored,
    }, nil
}

// processBlocks keeps LINE blocks in reading order.
func (e *TextractEngine) processBlocks(blocks []types.Block) ([]string, float64, bool) {
    var (
        lines []string
        total float64
        n     int
    )
    for _, block := range blocks {
        if block.BlockType != types.BlockTypeLine || block.Text == nil {
            continue
        }
        if block.Confidence != nil {
            if *block.Confidence < e.cfg.MinLineConfidence {
                continue
            }
            total += float64(*block.Confidence)
            n++
        }
        lines = append(lines, *block.Text)
    }
    if n == 0 {
        return lines, 0, false
    }
    return lines, total / float64(n), true
}
