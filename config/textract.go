package config

import (
    "sync"
)

var (
    textractOnce   sync.Once
    textractConfig *TextractConfig
)

// TextractConfig holds the AWS credentials used by the textract OCR backend
// when the extractor YAML leaves them empty.
type TextractConfig struct {
    Region    string
    Endpoint  string
    AccessKey string
    SecretKey string
}

func GetTextractConfig() *TextractConfig {
    textractOnce.Do(func() {
        loadEnv()
        textractConfig = &TextractConfig{
            Region:    getEnv("AWS_REGION", ""),
            Endpoint:  getEnv("AWS_TEXTRACT_ENDPOINT", getEnv("AWS_ENDPOINT", "")),
            AccessKey: getEnv("AWS_ACCESS_KEY", ""),
            SecretKey: getEnv("AWS_SECRET_KEY", ""),
        }
    })
    return textractConfig
}
