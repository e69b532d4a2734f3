// Package config loads deployment settings from .env, the process
// environment and an optional YAML file.
package config

import (
    "log"
    "os"
    "path/filepath"
    "runtime"
    "strconv"
    "strings"
    "sync"

    "github.com/joho/godotenv"
)

var envOnce sync.Once

// loadEnv reads the .env file at the project root once. Variables already
// set in the process environment win.
func loadEnv() {
    envOnce.Do(func() {
        _, filename, _, _ := runtime.Caller(0)
        rootDir := filepath.Dir(filepath.Dir(filename))
        envPath := filepath.Join(rootDir, ".env")

        if err := godotenv.Load(envPath); err != nil {
            log.Printf("Warning: .env file not found at %s, falling back to environment variables", envPath)
        }
    })
}

func getEnv(key, fallback string) string {
    if v, ok := os.LookupEnv(key); ok && v != "" {
        return v
    }
    return fallback
}

func getEnvInt(key string, fallback int) int {
    if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
        return v
    }
    return fallback
}

func getEnvBool(key string, fallback bool) bool {
    if v, err := strconv.ParseBool(os.Getenv(key)); err == nil {
        return v
    }
    return fallback
}

func getEnvList(key string, fallback []string) []string {
    v := os.Getenv(key)
    if v == "" {
        return fallback
    }
    var out []string
    for _, s := range strings.Split(v, ",") {
        if s = strings.TrimSpace(s); s != "" {
            out = append(out, s)
        }
    }
    return out
}
