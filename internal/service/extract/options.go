package extract

import (
    "runtime"
    "time"

    "github.com/feichai0017/document-extractor/internal/agent/document"
    "github.com/feichai0017/document-extractor/internal/agent/ocr"
    "github.com/feichai0017/document-extractor/internal/agent/preprocess"
)

// Options tunes one extraction. Start from DefaultOptions; zero numeric
// fields fall back to their defaults.
type Options struct {
    OCREnabled       bool          `yaml:"ocr_enabled" json:"ocrEnabled"`
    Language         string        `yaml:"language" json:"language"`
    MaxConcurrentOCR int           `yaml:"max_concurrent_ocr" json:"maxConcurrentOcr"`
    UnitTimeout      time.Duration `yaml:"unit_timeout" json:"unitTimeout"`
    MaxGroupDepth    int           `yaml:"max_group_depth" json:"maxGroupDepth"`
    ConfidenceFloor  float64       `yaml:"confidence_floor" json:"confidenceFloor"`

    MaxWorkers     int  `yaml:"max_workers" json:"maxWorkers"`
    MinNativeChars int  `yaml:"min_native_chars" json:"minNativeChars"`
    DefaultDPI     int  `yaml:"default_dpi" json:"defaultDpi"`
    SparseDPI      int  `yaml:"sparse_dpi" json:"sparseDpi"`
    EmbeddedOCR    bool `yaml:"embedded_ocr" json:"embeddedOcr"`
    // EmbeddedConfidenceFloor defaults to ConfidenceFloor when nil.
    EmbeddedConfidenceFloor *float64 `yaml:"embedded_confidence_floor" json:"embeddedConfidenceFloor,omitempty"`
    MaxInputBytes           int64    `yaml:"max_input_bytes" json:"maxInputBytes"`
    MaxUnits                int      `yaml:"max_units" json:"maxUnits"`

    Preprocess preprocess.Config `yaml:"-" json:"preprocess"`
}

const (
    DefaultLanguage         = "eng"
    DefaultMaxConcurrentOCR = 2
    DefaultUnitTimeout      = 60 * time.Second
    DefaultConfidenceFloor  = 60
    DefaultDPI              = 300
    DefaultSparseDPI        = 400
    DefaultMaxInputBytes    = 200 << 20
    DefaultMaxUnits         = 5000
)

func DefaultOptions() Options {
    return Options{
        OCREnabled:       true,
        Language:         DefaultLanguage,
        MaxConcurrentOCR: DefaultMaxConcurrentOCR,
        UnitTimeout:      DefaultUnitTimeout,
        MaxGroupDepth:    document.DefaultMaxGroupDepth,
        ConfidenceFloor:  DefaultConfidenceFloor,
        MaxWorkers:       runtime.NumCPU(),
        MinNativeChars:   document.DefaultMinNativeChars,
        DefaultDPI:       DefaultDPI,
        SparseDPI:        DefaultSparseDPI,
        EmbeddedOCR:      true,
        MaxInputBytes:    DefaultMaxInputBytes,
        MaxUnits:         DefaultMaxUnits,
        Preprocess:       preprocess.DefaultConfig(),
    }
}

func (o Options) withDefaults() Options {
    d := DefaultOptions()
    if o.Language == "" {
        o.Language = d.Language
    }
    if o.MaxConcurrentOCR <= 0 {
        o.MaxConcurrentOCR = d.MaxConcurrentOCR
    }
    if o.UnitTimeout <= 0 {
        o.UnitTimeout = d.UnitTimeout
    }
    if o.MaxGroupDepth <= 0 {
        o.MaxGroupDepth = d.MaxGroupDepth
    }
    if o.MaxWorkers <= 0 {
        o.MaxWorkers = d.MaxWorkers
    }
    if o.MinNativeChars <= 0 {
        o.MinNativeChars = d.MinNativeChars
    }
    if o.DefaultDPI <= 0 {
        o.DefaultDPI = d.DefaultDPI
    }
    if o.SparseDPI <= 0 {
        o.SparseDPI = d.SparseDPI
    }
    if o.MaxInputBytes <= 0 {
        o.MaxInputBytes = d.MaxInputBytes
    }
    if o.MaxUnits <= 0 {
        o.MaxUnits = d.MaxUnits
    }
    return o
}

// Policy derives the OCR fallback policy.
func (o Options) Policy() ocr.Policy {
    return ocr.Policy{
        Enabled:                 o.OCREnabled,
        EmbeddedEnabled:         o.EmbeddedOCR,
        DefaultDPI:              o.DefaultDPI,
        SparseDPI:               o.SparseDPI,
        ConfidenceFloor:         o.ConfidenceFloor,
        EmbeddedConfidenceFloor: o.EmbeddedConfidenceFloor,
    }
}
