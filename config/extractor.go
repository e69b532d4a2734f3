package config

import (
    "bytes"
    "errors"
    "fmt"
    "io"
    "os"
    "strconv"
    "time"

    "gopkg.in/yaml.v3"

    "github.com/feichai0017/document-extractor/internal/agent/document/pdf"
    "github.com/feichai0017/document-extractor/internal/agent/ocr"
    "github.com/feichai0017/document-extractor/internal/agent/preprocess"
    "github.com/feichai0017/document-extractor/internal/service/extract"
)

// ExtractorConfig is the YAML configuration of the extraction pipeline.
type ExtractorConfig struct {
    Extraction extract.Options      `yaml:"extraction"`
    OCR        ocr.Config           `yaml:"ocr"`
    Preprocess preprocess.Config    `yaml:"preprocess"`
    Rasterizer pdf.RasterizerConfig `yaml:"rasterizer"`
    Analytics  AnalyticsConfig      `yaml:"analytics"`
}

type AnalyticsConfig struct {
    // Backend is "log", "redis" or "none".
    Backend string `yaml:"backend"`
    Key     string `yaml:"key"`
    MaxLen  int64  `yaml:"max_len"`
}

func DefaultExtractorConfig() *ExtractorConfig {
    opts := extract.DefaultOptions()
    return &ExtractorConfig{
        Extraction: opts,
        OCR:        ocr.DefaultConfig(),
        Preprocess: opts.Preprocess,
        Rasterizer: pdf.DefaultRasterizerConfig(),
        Analytics:  AnalyticsConfig{Backend: "log"},
    }
}

// LoadExtractorConfig reads path over the defaults and applies EXTRACTOR_*
// environment overrides. A missing file leaves the defaults in place.
func LoadExtractorConfig(path string) (*ExtractorConfig, error) {
    loadEnv()
    cfg := DefaultExtractorConfig()

    if path != "" {
        data, err := os.ReadFile(path)
        switch {
        case errors.Is(err, os.ErrNotExist):
        case err != nil:
            return nil, fmt.Errorf("failed to read extractor config: %w", err)
        default:
            if err := decodeYAML(data, cfg); err != nil {
                return nil, fmt.Errorf("failed to parse extractor config %s: %w", path, err)
            }
        }
    }

    if err := cfg.applyEnv(); err != nil {
        return nil, err
    }
    cfg.Extraction.Preprocess = cfg.Preprocess
    cfg.fillTextract(GetTextractConfig())
    return cfg, nil
}

func decodeYAML(data []byte, cfg *ExtractorConfig) error {
    dec := yaml.NewDecoder(bytes.NewReader(data))
    dec.KnownFields(true)
    if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
        return err
    }
    return nil
}

func (c *ExtractorConfig) applyEnv() error {
    if v := os.Getenv("EXTRACTOR_OCR_ENABLED"); v != "" {
        enabled, err := strconv.ParseBool(v)
        if err != nil {
            return fmt.Errorf("invalid EXTRACTOR_OCR_ENABLED %q: %w", v, err)
        }
        c.Extraction.OCREnabled = enabled
    }
    if v := os.Getenv("EXTRACTOR_LANGUAGE"); v != "" {
        c.Extraction.Language = v
    }
    c.OCR.Engines = getEnvList("EXTRACTOR_OCR_ENGINES", c.OCR.Engines)
    if v := os.Getenv("EXTRACTOR_MAX_CONCURRENT_OCR"); v != "" {
        n, err := strconv.Atoi(v)
        if err != nil || n <= 0 {
            return fmt.Errorf("invalid EXTRACTOR_MAX_CONCURRENT_OCR %q", v)
        }
        c.Extraction.MaxConcurrentOCR = n
    }
    if v := os.Getenv("EXTRACTOR_UNIT_TIMEOUT"); v != "" {
        d, err := time.ParseDuration(v)
        if err != nil || d <= 0 {
            return fmt.Errorf("invalid EXTRACTOR_UNIT_TIMEOUT %q", v)
        }
        c.Extraction.UnitTimeout = d
    }
    return nil
}

func (c *ExtractorConfig) fillTextract(env *TextractConfig) {
    t := &c.OCR.Textract
    if t.Region == "" {
        t.Region = env.Region
    }
    if t.Endpoint == "" {
        t.Endpoint = env.Endpoint
    }
    if t.AccessKey == "" && t.SecretKey == "" {
        t.AccessKey, t.SecretKey = env.AccessKey, env.SecretKey
    }
}
