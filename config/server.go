package config

import (
    "sync"
    "time"
)

var (
    serverOnce   sync.Once
    serverConfig *ServerConfig
)

type ServerConfig struct {
    Port           string
    Mode           string
    AllowedOrigins []string
    // StorageType selects the object store: "s3", "minio" or "memory".
    StorageType string
    // AsyncEnabled registers the queue-backed document routes.
    AsyncEnabled    bool
    RetentionPeriod time.Duration
    // ExtractorConfigPath points at the YAML read by LoadExtractorConfig.
    ExtractorConfigPath string
    LogLevel            string
}

func GetServerConfig() *ServerConfig {
    serverOnce.Do(func() {
        loadEnv()
        serverConfig = &ServerConfig{
            Port:                getEnv("SERVER_PORT", "8080"),
            Mode:                getEnv("GIN_MODE", "release"),
            AllowedOrigins:      getEnvList("CORS_ALLOWED_ORIGINS", []string{"*"}),
            StorageType:         getEnv("STORAGE_TYPE", "s3"),
            AsyncEnabled:        getEnvBool("ASYNC_ENABLED", true),
            RetentionPeriod:     time.Duration(getEnvInt("RETENTION_HOURS", 24)) * time.Hour,
            ExtractorConfigPath: getEnv("EXTRACTOR_CONFIG", "config/extractor.yaml"),
            LogLevel:            getEnv("LOG_LEVEL", "info"),
        }
    })
    return serverConfig
}
