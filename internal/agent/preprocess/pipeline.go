// Package preprocess normalizes raster images before recognition.
package preprocess

import (
    "fmt"
    "image"
)

// Config toggles and tunes each stage. Stages run in the order grayscale,
// deskew, binarize, denoise.
type Config struct {
    Grayscale         bool    `yaml:"grayscale" json:"grayscale"`
    Deskew            bool    `yaml:"deskew" json:"deskew"`
    Binarize          bool    `yaml:"binarize" json:"binarize"`
    Denoise           bool    `yaml:"denoise" json:"denoise"`
    AdaptiveBlockSize int     `yaml:"adaptive_block_size" json:"adaptiveBlockSize"`
    AdaptiveConstant  float64 `yaml:"adaptive_constant" json:"adaptiveConstant"`
    DeskewAngleLimit  float64 `yaml:"deskew_angle_limit" json:"deskewAngleLimit"`
    DeskewStep        float64 `yaml:"deskew_step" json:"deskewStep"`
}

// DefaultConfig enables every stage.
func DefaultConfig() Config {
    return Config{
        Grayscale:         true,
        Deskew:            true,
        Binarize:          true,
        Denoise:           true,
        AdaptiveBlockSize: 11,
        AdaptiveConstant:  2,
        DeskewAngleLimit:  5,
        DeskewStep:        0.5,
    }
}

// Pipeline applies the enabled stages in order.
type Pipeline struct {
    stages []ImagePreprocessor
}

func NewPipeline(cfg Config) *Pipeline {
    var stages []ImagePreprocessor
    if cfg.Grayscale {
        stages = append(stages, NewGrayscaleProcessor())
    }
    if cfg.Deskew {
        stages = append(stages, NewDeskewProcessor(cfg.DeskewAngleLimit, cfg.DeskewStep))
    }
    if cfg.Binarize {
        stages = append(stages, NewAdaptiveThresholdProcessor(cfg.AdaptiveBlockSize, cfg.AdaptiveConstant))
    }
    if cfg.Denoise {
        stages = append(stages, NewDenoiseProcessor())
    }
    return &Pipeline{stages: stages}
}

// Stages returns the names of the enabled stages.
func (p *Pipeline) Stages() []string {
    names := make([]string, len(p.stages))
    for i, s := range p.stages {
        names[i] = s.Name()
    }
    return names
}

func (p *Pipeline) Process(img image.Image) (image.Image, error) {
    if img == nil {
        return nil, fmt.Errorf("input image is nil")
    }
    result := img
    for _, stage := range p.stages {
        var err error
        result, err = stage.Process(result)
        if err != nil {
            return nil, fmt.Errorf("preprocessing stage %s failed: %w", stage.Name(), err)
        }
        if result == nil {
            return nil, fmt.Errorf("preprocessing stage %s returned nil image", stage.Name())
        }
    }
    return result, nil
}
